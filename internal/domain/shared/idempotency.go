package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys that were already acted on, such as the
// event id of a JobStatusChanged that closed a ledger
type IdempotencyStore interface {
	// MarkProcessed reports true when key was not yet marked
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unmark releases key after a failed attempt so a redelivery can retry
	Unmark(ctx context.Context, key string) error
	IsProcessed(ctx context.Context, key string) (bool, error)
	Close() error
}

// IdempotencyConfig controls event deduplication in handlers
type IdempotencyConfig struct {
	TTL     time.Duration
	Enabled bool
}

// DefaultIdempotencyConfig keeps keys for a day
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{TTL: 24 * time.Hour, Enabled: true}
}
