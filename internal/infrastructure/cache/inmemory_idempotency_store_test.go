package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		ttl            time.Duration
		wait           time.Duration
		secondNew      bool
		processedAfter bool
	}{
		{name: "redelivered event is a repeat", ttl: time.Hour, secondNew: false, processedAfter: true},
		{name: "expired key can be processed again", ttl: 10 * time.Millisecond, wait: 20 * time.Millisecond, secondNew: true, processedAfter: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryIdempotencyStore()
			defer store.Close()

			fresh, err := store.MarkProcessed(ctx, "job-status:evt-1", tt.ttl)
			require.NoError(t, err)
			assert.True(t, fresh)

			time.Sleep(tt.wait)
			fresh, err = store.MarkProcessed(ctx, "job-status:evt-1", tt.ttl)
			require.NoError(t, err)
			assert.Equal(t, tt.secondNew, fresh)

			processed, err := store.IsProcessed(ctx, "job-status:evt-1")
			require.NoError(t, err)
			assert.Equal(t, tt.processedAfter, processed)
		})
	}
}

func TestInMemoryIdempotencyStore_UnmarkAfterFailedClose(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	_, err := store.MarkProcessed(ctx, "job-status:evt-2", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Unmark(ctx, "job-status:evt-2"))

	processed, err := store.IsProcessed(ctx, "job-status:evt-2")
	require.NoError(t, err)
	assert.False(t, processed)

	fresh, err := store.MarkProcessed(ctx, "job-status:evt-2", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh, "the retry gets through")

	assert.NoError(t, store.Unmark(ctx, "never-marked"))
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	_, _ = store.MarkProcessed(ctx, "short", time.Millisecond)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 2, store.Size(), "expired keys stay until swept")

	store.cleanup()
	assert.Equal(t, 1, store.Size())
	processed, _ := store.IsProcessed(ctx, "long")
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_OneWinnerPerKey(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	const keys, workers = 20, 8
	var winners atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < keys; k++ {
				fresh, err := store.MarkProcessed(ctx, fmt.Sprintf("job-status:evt-%d", k), time.Hour)
				if err == nil && fresh {
					winners.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, keys, winners.Load())
}

func TestInMemoryIdempotencyStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
