package cache

import (
	"context"
	"fmt"
	"time"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backends are the coordination services shared by the recognition services
type Backends struct {
	Idempotency shared.IdempotencyStore
	Locker      apprec.JobLocker
	// Redis is nil when running on in-process backends
	Redis *redis.Client
}

// Close releases the store and the Redis client
func (b *Backends) Close() error {
	if err := b.Idempotency.Close(); err != nil {
		return err
	}
	if b.Redis != nil {
		return b.Redis.Close()
	}
	return nil
}

// Factory builds Backends from configuration
type Factory struct {
	redisConfig           config.RedisConfig
	lockConfig            LockConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to
// in-process backends instead of failing. Default true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// WithLockConfig overrides the job lock settings
func WithLockConfig(cfg LockConfig) FactoryOption {
	return func(f *Factory) {
		f.lockConfig = cfg
	}
}

// NewFactory creates a new factory
func NewFactory(cfg config.RedisConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           cfg,
		lockConfig:            DefaultLockConfig(),
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewRedisClient connects to Redis and pings it
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// Build returns Redis backends when Redis is configured and reachable,
// in-process ones otherwise
func (f *Factory) Build(ctx context.Context) (*Backends, error) {
	if f.redisConfig.Addr() == "" {
		f.logger.Info("Redis not configured, using in-process idempotency store and job locks")
		return f.inMemory(), nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig)
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis required but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-process backends. "+
			"Instances will not share idempotency keys or job locks.",
			zap.Error(err),
		)
		return f.inMemory(), nil
	}

	f.logger.Info("Using Redis idempotency store and job locks", zap.String("addr", f.redisConfig.Addr()))
	return &Backends{
		Idempotency: NewRedisIdempotencyStore(client, DefaultIdempotencyPrefix),
		Locker:      NewRedisJobLocker(client, f.lockConfig),
		Redis:       client,
	}, nil
}

func (f *Factory) inMemory() *Backends {
	return &Backends{
		Idempotency: NewInMemoryIdempotencyStore(),
		Locker:      NewLocalJobLocker(f.lockConfig),
	}
}

var (
	_ apprec.JobLocker = (*RedisJobLocker)(nil)
	_ apprec.JobLocker = (*LocalJobLocker)(nil)
)
