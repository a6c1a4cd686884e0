package recognition

import (
	"context"

	"github.com/freight/recognition/internal/domain/recognition"
)

// JobLocker serialises recognition transitions per job across processes.
// Lock returns shared.ErrLockNotObtained when another holder owns the key.
type JobLocker interface {
	Lock(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// JobLockKey is the lock key of a job
func JobLockKey(ref recognition.JobRef) string {
	return "recognition:job:" + ref.String()
}

type noOpLocker struct{}

func (noOpLocker) Lock(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

// NoOpJobLocker never blocks. Row locks taken by FindByJobForUpdate and the
// ledger version check still prevent lost updates.
var NoOpJobLocker JobLocker = noOpLocker{}
