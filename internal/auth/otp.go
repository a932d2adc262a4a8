package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	otpCodeLength      = 6
	otpKeyPrefix       = "otp:"
	otpSentAtSuffix    = ":sent_at"
	otpGrantSuffix     = ":grant"
	defaultOTPTTL      = 5 * time.Minute
	defaultOTPCooldown = time.Minute
	defaultGrantTTL    = 10 * time.Minute
)

var (
	// ErrOTPCooldown indicates a code was requested again too soon.
	ErrOTPCooldown = errors.New("please wait before requesting a new code")
	// ErrOTPNotFound indicates no pending code exists for the email.
	ErrOTPNotFound = errors.New("code expired or not found")
	// ErrOTPMismatch indicates the supplied code does not match.
	ErrOTPMismatch = errors.New("invalid code")
	// ErrNoResetGrant indicates no verified code backs the reset attempt.
	ErrNoResetGrant = errors.New("code verification required")
)

// CodeSender delivers a one-time code to the user. Email delivery lives
// outside this service; the default implementation only logs.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogCodeSender writes codes to the application log instead of sending email.
type LogCodeSender struct {
	Logger *zap.Logger
}

// SendCode implements CodeSender.
func (s LogCodeSender) SendCode(_ context.Context, email, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("one-time code issued", zap.String("email", email), zap.String("code", code))
	return nil
}

// OTPStoreConfig configures the Redis-backed one-time code store.
type OTPStoreConfig struct {
	Client   *redis.Client
	Sender   CodeSender
	TTL      time.Duration
	Cooldown time.Duration
	GrantTTL time.Duration
	Clock    func() time.Time
}

// OTPStore issues and verifies one-time codes for registration and password
// reset. Codes are bcrypt-hashed at rest and expire via Redis TTL.
type OTPStore struct {
	client   *redis.Client
	sender   CodeSender
	ttl      time.Duration
	cooldown time.Duration
	grantTTL time.Duration
	clock    func() time.Time
}

// NewOTPStore constructs an OTPStore with sane defaults.
func NewOTPStore(cfg OTPStoreConfig) (*OTPStore, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	sender := cfg.Sender
	if sender == nil {
		sender = LogCodeSender{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultOTPTTL
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultOTPCooldown
	}
	grantTTL := cfg.GrantTTL
	if grantTTL <= 0 {
		grantTTL = defaultGrantTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &OTPStore{
		client:   cfg.Client,
		sender:   sender,
		ttl:      ttl,
		cooldown: cooldown,
		grantTTL: grantTTL,
		clock:    clock,
	}, nil
}

// Send issues a fresh code for the email, replacing any pending one, and
// hands it to the configured sender. A cooldown guards against resend abuse.
func (s *OTPStore) Send(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return errors.New("email is required")
	}

	sentAtKey := otpKeyPrefix + email + otpSentAtSuffix
	exists, err := s.client.Exists(ctx, sentAtKey).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrOTPCooldown
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, otpKeyPrefix+email, string(hashed), s.ttl).Err(); err != nil {
		return err
	}
	if err := s.client.Set(ctx, sentAtKey, "1", s.cooldown).Err(); err != nil {
		return err
	}

	return s.sender.SendCode(ctx, email, code)
}

// Verify checks the submitted code and deletes it on success so a code can
// be consumed at most once. Success leaves behind a short-lived reset grant
// that ConsumeResetGrant redeems.
func (s *OTPStore) Verify(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	stored, err := s.client.Get(ctx, otpKeyPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return ErrOTPNotFound
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte(code)) != nil {
		return ErrOTPMismatch
	}
	if err := s.client.Del(ctx, otpKeyPrefix+email).Err(); err != nil {
		return err
	}
	return s.client.Set(ctx, otpKeyPrefix+email+otpGrantSuffix, "1", s.grantTTL).Err()
}

// ConsumeResetGrant redeems the single-use grant left by a successful
// Verify. Each password reset must be backed by its own verified code.
func (s *OTPStore) ConsumeResetGrant(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	err := s.client.GetDel(ctx, otpKeyPrefix+email+otpGrantSuffix).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNoResetGrant
	}
	return err
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for range otpCodeLength {
		max.Mul(max, big.NewInt(10))
	}
	value, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpCodeLength, value), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
