package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCloser struct {
	mu       sync.Mutex
	failures int
	calls    []string
}

func (f *fakeCloser) ProcessPeriod(_ context.Context, company string, periodEnd time.Time) (*recognition.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, company+"@"+periodEnd.Format(time.DateOnly))
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("database unavailable")
	}
	result := recognition.NewBatchResult(company, periodEnd)
	result.RunID = uuid.New()
	return result, nil
}

func (f *fakeCloser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(context.Context) error, error) {
	return nil, shared.ErrLockNotObtained
}

func testConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentJobs: 2,
		JobTimeout:        time.Second,
		RetryAttempts:     2,
		RetryDelay:        5 * time.Millisecond,
		QueueSize:         10,
	}
}

func startScheduler(t *testing.T, closer PeriodCloser, locker apprec.JobLocker) (*Scheduler, chan *Job) {
	t.Helper()
	s, err := NewScheduler(testConfig(), closer, locker, zap.NewNop())
	require.NoError(t, err)

	done := make(chan *Job, 10)
	s.OnJobDone(func(j *Job) { done <- j })
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, done
}

func waitJob(t *testing.T, done chan *Job) *Job {
	t.Helper()
	select {
	case j := <-done:
		return j
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
		return nil
	}
}

func TestScheduler_RunsPeriodCloseForEveryCompany(t *testing.T) {
	closer := &fakeCloser{}
	s, done := startScheduler(t, closer, nil)

	periodEnd := time.Date(2024, 3, 31, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.SchedulePeriodClose([]string{"ACME", "BETA"}, periodEnd))

	first, second := waitJob(t, done), waitJob(t, done)
	for _, j := range []*Job{first, second} {
		assert.Equal(t, JobStatusSuccess, j.Status)
		assert.NotEqual(t, uuid.Nil, j.RunID)
		assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), j.PeriodEnd)
	}
	assert.ElementsMatch(t, []string{"ACME@2024-03-31", "BETA@2024-03-31"}, closer.calls)
}

func TestScheduler_RetriesFailedJobs(t *testing.T) {
	closer := &fakeCloser{failures: 2}
	s, done := startScheduler(t, closer, nil)

	require.NoError(t, s.SubmitJob(NewJob("ACME", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 2)))

	j := waitJob(t, done)
	assert.Equal(t, JobStatusSuccess, j.Status)
	assert.Equal(t, 2, j.RetryCount)
	assert.Equal(t, 3, closer.callCount())
}

func TestScheduler_GivesUpAfterMaxRetries(t *testing.T) {
	closer := &fakeCloser{failures: 5}
	s, done := startScheduler(t, closer, nil)

	require.NoError(t, s.SubmitJob(NewJob("ACME", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 1)))

	j := waitJob(t, done)
	assert.Equal(t, JobStatusFailed, j.Status)
	assert.Contains(t, j.Error, "database unavailable")
	assert.Equal(t, 2, closer.callCount())
}

func TestScheduler_SkipsWhenPeriodLockedElsewhere(t *testing.T) {
	closer := &fakeCloser{}
	s, done := startScheduler(t, closer, busyLocker{})

	require.NoError(t, s.SubmitJob(NewJob("ACME", time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 3)))

	j := waitJob(t, done)
	assert.Equal(t, JobStatusSkipped, j.Status)
	assert.Zero(t, closer.callCount())
}

func TestScheduler_SubmitRequiresRunning(t *testing.T) {
	s, err := NewScheduler(testConfig(), &fakeCloser{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, s.IsRunning())

	err = s.SubmitJob(NewJob("ACME", time.Now(), 0))
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
}

func TestScheduler_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	s, err := NewScheduler(cfg, &fakeCloser{}, nil, zap.NewNop())
	require.NoError(t, err)

	// Mark running without workers so nothing drains the queue
	s.isRunning = true
	require.NoError(t, s.SubmitJob(NewJob("ACME", time.Now(), 0)))
	assert.ErrorIs(t, s.SubmitJob(NewJob("BETA", time.Now(), 0)), ErrJobQueueFull)
}

func TestSchedulerConfig_Validate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentJobs = 0
	_, err := NewScheduler(cfg, &fakeCloser{}, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.JobTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestJob_LockKey(t *testing.T) {
	j := NewJob("ACME", time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC), 0)
	assert.Equal(t, "recognition:period-close:ACME:2024-02-29", j.LockKey())
}
