package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/freight/recognition/internal/infrastructure/auth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryTokenBlacklist_Revocation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		revoke  string
		ttl     time.Duration
		wait    time.Duration
		check   string
		revoked bool
	}{
		{name: "revoked token", revoke: "jti-posting-clerk", ttl: time.Hour, check: "jti-posting-clerk", revoked: true},
		{name: "other token", revoke: "jti-posting-clerk", ttl: time.Hour, check: "jti-controller"},
		{name: "entry past its ttl", revoke: "jti-short", ttl: time.Millisecond, wait: 10 * time.Millisecond, check: "jti-short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blacklist := auth.NewInMemoryTokenBlacklist()
			require.NoError(t, blacklist.AddToBlacklist(ctx, tt.revoke, tt.ttl))
			time.Sleep(tt.wait)

			revoked, err := blacklist.IsBlacklisted(ctx, tt.check)
			require.NoError(t, err)
			assert.Equal(t, tt.revoked, revoked)
		})
	}
}

func TestInMemoryTokenBlacklist_UserRevocation(t *testing.T) {
	ctx := context.Background()
	blacklist := auth.NewInMemoryTokenBlacklist()
	before := time.Now().Add(-time.Minute)

	invalid, err := blacklist.IsUserTokenInvalidated(ctx, "clerk-1", before)
	require.NoError(t, err)
	assert.False(t, invalid, "nothing revoked yet")

	require.NoError(t, blacklist.AddUserTokensToBlacklist(ctx, "clerk-1", time.Hour))

	invalid, err = blacklist.IsUserTokenInvalidated(ctx, "clerk-1", before)
	require.NoError(t, err)
	assert.True(t, invalid, "issued before the revocation")

	invalid, err = blacklist.IsUserTokenInvalidated(ctx, "clerk-1", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.False(t, invalid, "issued after the revocation")

	invalid, err = blacklist.IsUserTokenInvalidated(ctx, "clerk-2", before)
	require.NoError(t, err)
	assert.False(t, invalid, "other users keep their tokens")
}

func TestRedisTokenBlacklist_ReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	blacklist := auth.NewRedisTokenBlacklist(client, "")
	ctx := context.Background()

	_, err := blacklist.IsBlacklisted(ctx, "jti")
	assert.ErrorContains(t, err, "failed to check token blacklist")

	_, err = blacklist.IsUserTokenInvalidated(ctx, "clerk-1", time.Now())
	assert.ErrorContains(t, err, "failed to check user token invalidation")
}
