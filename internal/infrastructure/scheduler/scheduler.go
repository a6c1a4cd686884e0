package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apprec "github.com/freight/recognition/internal/application/recognition"
	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled period-close job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
	JobStatusSkipped JobStatus = "SKIPPED"
)

// Job is one scheduled period close of a company
type Job struct {
	ID          uuid.UUID
	Company     string
	PeriodEnd   time.Time
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	RunID       uuid.UUID
}

// NewJob creates a pending job
func NewJob(company string, periodEnd time.Time, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New(),
		Company:    company,
		PeriodEnd:  recognition.DateOnly(periodEnd),
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
	}
}

// LockKey is the cluster-wide key guarding one company period
func (j *Job) LockKey() string {
	return "recognition:period-close:" + j.Company + ":" + j.PeriodEnd.Format(time.DateOnly)
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete(runID uuid.UUID) {
	now := time.Now()
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
	j.RunID = runID
}

// Skip marks the job as handled elsewhere
func (j *Job) Skip(reason string) {
	now := time.Now()
	j.Status = JobStatusSkipped
	j.CompletedAt = &now
	j.Error = reason
}

// Fail marks the job as failed
func (j *Job) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry
func (j *Job) ScheduleRetry(delay time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	nextRetry := time.Now().Add(delay)
	j.NextRetryAt = &nextRetry
	j.Error = ""
}

// PeriodCloser runs the period close of one company
type PeriodCloser interface {
	ProcessPeriod(ctx context.Context, company string, periodEnd time.Time) (*recognition.BatchResult, error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	QueueSize         int
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentJobs: 2,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        5 * time.Minute,
		QueueSize:         100,
	}
}

// Validate checks the configuration
func (c SchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("%w: max concurrent jobs must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Scheduler runs period-close jobs on a worker pool. A job whose period is
// already locked by another process is skipped, so several replicas can
// share one trigger schedule.
type Scheduler struct {
	config SchedulerConfig
	closer PeriodCloser
	locker apprec.JobLocker
	logger *zap.Logger

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	onDone    func(*Job)
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config SchedulerConfig, closer PeriodCloser, locker apprec.JobLocker, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultSchedulerConfig().QueueSize
	}
	if locker == nil {
		locker = apprec.NoOpJobLocker
	}
	return &Scheduler{
		config: config,
		closer: closer,
		locker: locker,
		logger: logger.Named("period-close-scheduler"),
		jobs:   make(chan *Job, config.QueueSize),
	}, nil
}

// OnJobDone registers a callback invoked when a job reaches a final state
func (s *Scheduler) OnJobDone(fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = fn
}

// Start starts the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("period-close scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels the workers and waits for them to return
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("period-close scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("period-close scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the worker pool is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitJob queues a job for execution
func (s *Scheduler) SubmitJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.logger.Debug("job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("company", job.Company),
			zap.String("period_end", job.PeriodEnd.Format(time.DateOnly)),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// SchedulePeriodClose queues a close of periodEnd for every company
func (s *Scheduler) SchedulePeriodClose(companies []string, periodEnd time.Time) error {
	var errs []error
	for _, company := range companies {
		if err := s.SubmitJob(NewJob(company, periodEnd, s.config.RetryAttempts)); err != nil {
			errs = append(errs, fmt.Errorf("company %s: %w", company, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	if job.NextRetryAt != nil {
		wait := time.Until(*job.NextRetryAt)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("company", job.Company),
		zap.String("period_end", job.PeriodEnd.Format(time.DateOnly)),
	)

	job.Start()
	log.Info("period close job started", zap.Int("attempt", job.RetryCount+1))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	result, err := s.execute(jobCtx, job)
	switch {
	case errors.Is(err, shared.ErrLockNotObtained):
		job.Skip("period is being closed by another process")
		log.Info("period close job skipped, lock held elsewhere")
	case err != nil:
		job.Fail(err.Error())
		log.Error("period close job failed", zap.Error(err))
		if job.ShouldRetry() && ctx.Err() == nil {
			job.ScheduleRetry(s.config.RetryDelay)
			log.Info("period close job scheduled for retry",
				zap.Int("retry_count", job.RetryCount),
				zap.Int("max_retries", job.MaxRetries),
			)
			s.requeue(job, log)
			return
		}
	default:
		job.Complete(result.RunID)
		log.Info("period close job completed",
			zap.String("run_id", result.RunID.String()),
			zap.Int("adjusted", len(result.Adjusted)),
			zap.Int("skipped", len(result.Skipped)),
			zap.Int("failed", len(result.Failed)),
		)
	}
	s.notify(job)
}

func (s *Scheduler) execute(ctx context.Context, job *Job) (*recognition.BatchResult, error) {
	release, err := s.locker.Lock(ctx, job.LockKey())
	if err != nil {
		return nil, err
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.Warn("failed to release period lock", zap.String("key", job.LockKey()), zap.Error(relErr))
		}
	}()
	return s.closer.ProcessPeriod(ctx, job.Company, job.PeriodEnd)
}

func (s *Scheduler) requeue(job *Job, log *zap.Logger) {
	select {
	case s.jobs <- job:
	default:
		job.Fail("retry dropped: queue full")
		log.Warn("failed to re-queue job for retry")
		s.notify(job)
	}
}

func (s *Scheduler) notify(job *Job) {
	s.mu.Lock()
	fn := s.onDone
	s.mu.Unlock()
	if fn != nil {
		fn(job)
	}
}
