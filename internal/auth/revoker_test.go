package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, server
}

func TestRedisTokenRevokerTracksRevocation(t *testing.T) {
	client, server := newTestRedisClient(t)
	revoker := NewRedisTokenRevoker(client)
	ctx := context.Background()

	revoked, err := revoker.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected fresh token to be accepted")
	}

	if err := revoker.Revoke(ctx, "token-1", time.Hour); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}

	revoked, err = revoker.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected revoked token to be reported")
	}

	server.FastForward(2 * time.Hour)

	revoked, err = revoker.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected revocation entry to expire with the token")
	}
}

func TestRedisTokenRevokerIgnoresNonPositiveTTL(t *testing.T) {
	client, _ := newTestRedisClient(t)
	revoker := NewRedisTokenRevoker(client)
	ctx := context.Background()

	if err := revoker.Revoke(ctx, "token-1", 0); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}

	revoked, err := revoker.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected zero ttl revocation to be a no-op")
	}
}

func TestMemoryTokenRevokerExpiresEntries(t *testing.T) {
	current := time.Unix(1700000000, 0).UTC()
	revoker := NewMemoryTokenRevoker()
	revoker.clock = func() time.Time { return current }
	ctx := context.Background()

	if err := revoker.Revoke(ctx, "token-1", time.Minute); err != nil {
		t.Fatalf("unexpected revoke error: %v", err)
	}

	revoked, err := revoker.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected revoked token to be reported")
	}

	current = current.Add(2 * time.Minute)

	revoked, err = revoker.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected entry to expire")
	}
}
