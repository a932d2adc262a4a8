package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks logged-out tokens until their natural expiry.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RedisTokenRevoker stores revoked tokens in Redis with a TTL matching the
// token lifetime, so entries disappear once the token would be rejected anyway.
type RedisTokenRevoker struct {
	client *redis.Client
}

// NewRedisTokenRevoker builds a Redis-backed revoker on an existing client.
func NewRedisTokenRevoker(client *redis.Client) *RedisTokenRevoker {
	return &RedisTokenRevoker{client: client}
}

// Revoke marks a token as revoked for the given duration.
func (r *RedisTokenRevoker) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revocationKey(token), "1", ttl).Err()
}

// IsRevoked reports whether the token is on the revocation list.
func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, token string) (bool, error) {
	count, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func revocationKey(token string) string {
	return "revoked:" + token
}

// MemoryTokenRevoker keeps revoked tokens in process memory. Suitable for
// tests and single-instance deployments without Redis.
type MemoryTokenRevoker struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	clock  func() time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens: make(map[string]time.Time),
		clock:  time.Now,
	}
}

// Revoke marks a token as revoked for the given duration.
func (r *MemoryTokenRevoker) Revoke(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[token] = r.clock().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked reports whether the token is on the revocation list.
func (r *MemoryTokenRevoker) IsRevoked(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[token]
	if !ok {
		return false, nil
	}
	if r.clock().After(expiry) {
		delete(r.tokens, token)
		return false, nil
	}
	return true, nil
}
