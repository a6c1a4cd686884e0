package recognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// JobService receives job snapshots, status changes and actual amounts from
// the modules that own the job and invoice documents
type JobService struct {
	jobs      recognition.JobRepository
	actuals   recognition.ActualRepository
	publisher shared.EventPublisher
	logger    *zap.Logger
}

// NewJobService creates a new JobService
func NewJobService(jobs recognition.JobRepository, actuals recognition.ActualRepository, logger *zap.Logger) *JobService {
	return &JobService{jobs: jobs, actuals: actuals, logger: logger}
}

// SetEventPublisher sets the publisher for JobStatusChanged events
func (s *JobService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// UpsertJob stores a job snapshot. A status carried by the snapshot of an
// existing job is applied as a status change and raises JobStatusChanged.
func (s *JobService) UpsertJob(ctx context.Context, cmd UpsertJobCommand) (*JobView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "job", "upsert")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrJob, cmd.Job.String(),
		telemetry.SpanAttrCompany, cmd.Scope.Company,
	)

	job, err := s.jobs.GetJob(ctx, cmd.Job)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		job, err = recognition.NewJob(cmd.Job, cmd.Scope, cmd.Dates, cmd.ChargeLines, cmd.Overrides)
		if err != nil {
			return nil, err
		}
		if cmd.Status != "" {
			if !cmd.Status.IsValid() {
				return nil, shared.NewDomainError("INVALID_JOB_STATUS", fmt.Sprintf("Job status %q is not valid", cmd.Status))
			}
			job.Status = cmd.Status
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		s.logger.Info("job snapshot created",
			zap.String("job", job.Ref.String()),
			zap.String("company", job.Company),
		)
		return &JobView{Job: job, Estimate: toEstimateView(recognition.EstimateAmounts(job.ChargeLines)), Created: true}, nil

	case err != nil:
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	if err := job.Refresh(cmd.Scope, cmd.Dates, cmd.ChargeLines, cmd.Overrides); err != nil {
		return nil, err
	}
	if err := s.jobs.SaveWithLock(ctx, job); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	// The status change is saved separately; each save advances the version once.
	if cmd.Status != "" && cmd.Status != job.Status {
		if err := job.ChangeStatus(cmd.Status, "snapshot"); err != nil {
			return nil, err
		}
		if err := s.jobs.SaveWithLock(ctx, job); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to save job status: %w", err)
		}
		publishEvents(ctx, s.publisher, s.logger, job)
	}

	return &JobView{Job: job, Estimate: toEstimateView(recognition.EstimateAmounts(job.ChargeLines))}, nil
}

// GetJob returns a job snapshot with its current estimate
func (s *JobService) GetJob(ctx context.Context, ref recognition.JobRef) (*JobView, error) {
	job, err := s.jobs.GetJob(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &JobView{Job: job, Estimate: toEstimateView(recognition.EstimateAmounts(job.ChargeLines))}, nil
}

// ChangeStatus moves a job to a new status. Finishing a job closes its
// recognition through the JobStatusChanged handler.
func (s *JobService) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (*recognition.Job, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "job", "change_status")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrJob, cmd.Job.String(),
		"status", cmd.Status.String(),
	)

	job, err := s.jobs.GetJob(ctx, cmd.Job)
	if err != nil {
		return nil, err
	}
	version := job.Version
	if err := job.ChangeStatus(cmd.Status, cmd.Reason); err != nil {
		return nil, err
	}
	if job.Version == version {
		return job, nil
	}
	if err := s.jobs.SaveWithLock(ctx, job); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Info("job status changed",
		zap.String("job", job.Ref.String()),
		zap.String("status", job.Status.String()),
		zap.String("reason", cmd.Reason),
	)
	publishEvents(ctx, s.publisher, s.logger, job)
	return job, nil
}

// RecordActual stores an invoiced or billed amount for the period-close batch.
// Reporting the same source document twice is accepted and stored once.
func (s *JobService) RecordActual(ctx context.Context, cmd RecordActualCommand) (*RecordActualResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "job", "record_actual")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrJob, cmd.Job.String(),
		telemetry.SpanAttrSide, cmd.Side.String(),
		telemetry.SpanAttrAmount, cmd.Amount.String(),
	)

	job, err := s.jobs.GetJob(ctx, cmd.Job)
	if err != nil {
		return nil, err
	}
	entry, err := recognition.NewActualEntry(job.Company, job.Ref, cmd.Side, cmd.Amount, cmd.PostedOn, cmd.SourceDocument)
	if err != nil {
		return nil, err
	}
	recorded, err := s.actuals.Record(ctx, entry)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to record actual: %w", err)
	}
	if !recorded {
		s.logger.Debug("actual already recorded",
			zap.String("job", job.Ref.String()),
			zap.String("source_document", entry.SourceDocument),
		)
	}
	return &RecordActualResult{Entry: entry, Recorded: recorded}, nil
}
