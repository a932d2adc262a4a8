package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/buto-labs/buto-backend/internal/auth"
)

var (
	// ErrEmailTaken indicates the email already belongs to an account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates the email/password pair does not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrNotFound indicates no account exists for the identifier.
	ErrNotFound = errors.New("users: not found")

	errMissingDatabase = errors.New("users: database connection required")
)

const minPasswordLength = 6

// ServiceConfig describes the dependencies for the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages user accounts.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Register creates an account with a bcrypt-hashed password. A duplicate
// email surfaces as ErrEmailTaken, never a silent overwrite.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("users: invalid email %q", email)
	}
	if len(password) < minPasswordLength {
		return User{}, fmt.Errorf("users: password must be at least %d characters", minPasswordLength)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies the email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// FindByEmail looks up an account by its normalized email.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByID looks up an account by id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListOthers returns every account except the given one, for the
// collaborator picker.
func (s *Service) ListOthers(ctx context.Context, excludeUserID string) ([]Public, error) {
	var all []User
	if err := s.db.WithContext(ctx).
		Where("id <> ?", excludeUserID).
		Order("email ASC").
		Find(&all).Error; err != nil {
		return nil, err
	}
	result := make([]Public, 0, len(all))
	for _, user := range all {
		result = append(result, user.Public())
	}
	return result, nil
}

// MarkVerified records that the account's email passed OTP verification.
func (s *Service) MarkVerified(ctx context.Context, email string) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("email = ?", normalizeEmail(email)).
		Update("verified", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetPassword replaces the account's credential hash.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("users: password must be at least %d characters", minPasswordLength)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("email = ?", normalizeEmail(email)).
		Update("password_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
