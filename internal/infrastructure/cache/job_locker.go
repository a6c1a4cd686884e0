package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/freight/recognition/internal/domain/shared"
)

// LockConfig controls how long a job lock lives and how hard Lock tries
type LockConfig struct {
	TTL          time.Duration
	RetryCount   int
	RetryBackoff time.Duration
}

// DefaultLockConfig returns a 30s lock with three retries 100ms apart
func DefaultLockConfig() LockConfig {
	return LockConfig{TTL: 30 * time.Second, RetryCount: 3, RetryBackoff: 100 * time.Millisecond}
}

// RedisJobLocker takes per-job locks in Redis so that instances do not post
// for the same job at once
type RedisJobLocker struct {
	client *redislock.Client
	cfg    LockConfig
}

// NewRedisJobLocker creates a locker on client
func NewRedisJobLocker(client redislock.RedisClient, cfg LockConfig) *RedisJobLocker {
	return &RedisJobLocker{client: redislock.New(client), cfg: cfg}
}

// Lock obtains key or returns shared.ErrLockNotObtained once retries are used up
func (l *RedisJobLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	opts := &redislock.Options{}
	if l.cfg.RetryCount > 0 {
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(l.cfg.RetryBackoff), l.cfg.RetryCount)
	}

	lock, err := l.client.Obtain(ctx, key, l.cfg.TTL, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, shared.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %q: %w", key, err)
	}

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("lock %q expired before release", key)
		}
		return err
	}, nil
}

// LocalJobLocker is the single-instance locker used when Redis is not configured
type LocalJobLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
	cfg  LockConfig
}

// NewLocalJobLocker creates an in-process locker. TTL is ignored; locks live until released.
func NewLocalJobLocker(cfg LockConfig) *LocalJobLocker {
	return &LocalJobLocker{held: make(map[string]struct{}), cfg: cfg}
}

// Lock obtains key or returns shared.ErrLockNotObtained once retries are used up
func (l *LocalJobLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	for attempt := 0; ; attempt++ {
		if l.tryLock(key) {
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() { l.unlock(key) })
				return nil
			}, nil
		}
		if attempt >= l.cfg.RetryCount {
			return nil, shared.ErrLockNotObtained
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.cfg.RetryBackoff):
		}
	}
}

func (l *LocalJobLocker) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *LocalJobLocker) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
