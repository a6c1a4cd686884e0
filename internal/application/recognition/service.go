// Package recognition holds the use cases of the recognition engine: single-job
// transitions, period close, policy administration and job intake.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RecognitionService applies initial recognition, adjustment and closure to
// one job at a time. Every transition and its postings commit in a single
// transaction under a per-job lock.
type RecognitionService struct {
	jobs      recognition.JobSource
	policies  recognition.PolicyRepository
	ledgers   recognition.JobRecognitionRepository
	postings  recognition.PostingRepository
	txScope   TransactionScope
	locker    JobLocker
	publisher shared.EventPublisher
	metrics   *telemetry.RecognitionMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecognitionService creates a new RecognitionService
func NewRecognitionService(
	jobs recognition.JobSource,
	policies recognition.PolicyRepository,
	ledgers recognition.JobRecognitionRepository,
	postings recognition.PostingRepository,
	txScope TransactionScope,
	logger *zap.Logger,
) *RecognitionService {
	return &RecognitionService{
		jobs:     jobs,
		policies: policies,
		ledgers:  ledgers,
		postings: postings,
		txScope:  txScope,
		locker:   NoOpJobLocker,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetEventPublisher sets the publisher for domain events raised by transitions
func (s *RecognitionService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// SetJobLocker sets the per-job distributed lock
func (s *RecognitionService) SetJobLocker(locker JobLocker) {
	if locker != nil {
		s.locker = locker
	}
}

// SetMetrics sets the business metrics recorder
func (s *RecognitionService) SetMetrics(metrics *telemetry.RecognitionMetrics) {
	s.metrics = metrics
}

// RecognizeWIP performs initial WIP (revenue) recognition
func (s *RecognitionService) RecognizeWIP(ctx context.Context, cmd RecognizeCommand) (*PostingResult, error) {
	return s.recognize(ctx, recognition.SideWIP, cmd)
}

// RecognizeAccrual performs initial cost accrual
func (s *RecognitionService) RecognizeAccrual(ctx context.Context, cmd RecognizeCommand) (*PostingResult, error) {
	return s.recognize(ctx, recognition.SideAccrual, cmd)
}

// AdjustWIP reduces the WIP balance by an invoiced amount
func (s *RecognitionService) AdjustWIP(ctx context.Context, cmd AdjustCommand) (*PostingResult, error) {
	return s.adjust(ctx, recognition.SideWIP, cmd)
}

// AdjustAccrual reduces the accrual balance by a billed amount
func (s *RecognitionService) AdjustAccrual(ctx context.Context, cmd AdjustCommand) (*PostingResult, error) {
	return s.adjust(ctx, recognition.SideAccrual, cmd)
}

func (s *RecognitionService) recognize(ctx context.Context, side recognition.Side, cmd RecognizeCommand) (*PostingResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recognition", "recognize_"+strings.ToLower(side.String()))
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrJob, cmd.Job.String(),
		telemetry.SpanAttrSide, side.String(),
		telemetry.SpanAttrTrigger, cmd.TriggerID,
	)

	if _, err := recognition.NewJobRef(cmd.Job.Type, cmd.Job.ID); err != nil {
		return nil, err
	}
	if dup, err := s.findDuplicate(ctx, cmd.Job, recognition.InitialKind(side), cmd.TriggerID); dup != nil || err != nil {
		return dup, err
	}

	result := newPostingResult(cmd.Job)
	var ledger *recognition.JobRecognition
	persisted := false

	err := s.withJobLock(ctx, cmd.Job, func(ctx context.Context) error {
		job, err := s.jobs.GetJob(ctx, cmd.Job)
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", cmd.Job, err)
		}
		policies, err := s.policies.FindActiveByCompany(ctx, job.Company)
		if err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
		policy := recognition.ResolvePolicy(policies, job.Scope())
		est := recognition.EstimateAmounts(job.ChargeLines)
		for _, w := range est.Warnings {
			result.warn(w)
		}

		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			rec, isNew, err := s.loadLedger(ctx, repos, job)
			if err != nil {
				return err
			}
			ledger, persisted = rec, !isNew
			rec.SyncJob(job, est)

			state := rec.Side(side)
			switch {
			case state.IsClosed():
				return &recognition.RecognitionClosedError{Job: cmd.Job, Side: side}
			case state.IsOpen():
				result.Outcome = recognition.OutcomeAlreadyRecognized
				return nil
			case policy == nil:
				result.Outcome = recognition.OutcomePolicyNotFound
				result.notice(recognition.ErrPolicyNotFound)
				return nil
			case !job.SideEnabled(side, policy):
				result.Outcome = recognition.OutcomeDisabled
				result.notice(recognition.ErrRecognitionDisabled)
				return nil
			}
			telemetry.SetAttribute(span, telemetry.SpanAttrPolicyID, policy.ID.String())
			if err := job.CheckSideConfigured(side, policy); err != nil {
				return err
			}

			date, err := job.RecognitionDate(side, policy)
			if err != nil {
				return err
			}
			t, err := rec.Recognize(side, est.For(side), policy.Settings(side), policy.ID, date.Date, cmd.TriggerID)
			if err != nil {
				return err
			}
			result.Outcome = t.Outcome
			if t.Outcome == recognition.OutcomeBelowMinimum {
				result.notice(recognition.ErrBelowMinimumThreshold.WithMessage(fmt.Sprintf(
					"Estimated amount %s is below the minimum %s", est.For(side), policy.Settings(side).MinimumAmount)))
				return nil
			}
			result.addTransition(t)
			persisted = true
			return persistTransitions(ctx, repos, rec, isNew, t)
		})
	})
	if err != nil {
		return s.failed(ctx, span, cmd.Job, recognition.InitialKind(side), cmd.TriggerID, err)
	}

	s.finish(ctx, span, ledger, result, persisted)
	s.metrics.RecordOutcome(ctx, ledger.Company, side.String(), string(result.Outcome))
	return result, nil
}

func (s *RecognitionService) adjust(ctx context.Context, side recognition.Side, cmd AdjustCommand) (*PostingResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recognition", "adjust_"+strings.ToLower(side.String()))
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrJob, cmd.Job.String(),
		telemetry.SpanAttrSide, side.String(),
		telemetry.SpanAttrAmount, cmd.Amount.String(),
		telemetry.SpanAttrTrigger, cmd.TriggerID,
	)

	if !cmd.Amount.IsPositive() {
		return nil, recognition.ErrInvalidAmount.WithMessage("Adjustment amount must be greater than zero")
	}
	date := cmd.Date
	if date.IsZero() {
		date = s.now()
	}
	if dup, err := s.findDuplicate(ctx, cmd.Job, recognition.AdjustmentKind(side), cmd.TriggerID); dup != nil || err != nil {
		return dup, err
	}

	result := newPostingResult(cmd.Job)
	var ledger *recognition.JobRecognition

	err := s.withJobLock(ctx, cmd.Job, func(ctx context.Context) error {
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			rec, err := repos.Recognitions().FindByJobForUpdate(ctx, cmd.Job)
			if errors.Is(err, shared.ErrNotFound) {
				return recognition.ErrRecognitionNotOpen.WithMessage(
					fmt.Sprintf("%s has no open %s recognition", cmd.Job, side))
			}
			if err != nil {
				return fmt.Errorf("failed to load recognition: %w", err)
			}
			ledger = rec

			t, err := rec.Adjust(side, cmd.Amount, date, cmd.TriggerID)
			if err != nil {
				return err
			}
			result.Outcome = t.Outcome
			if t.Outcome == recognition.OutcomeDuplicate {
				return nil
			}
			result.addTransition(t)
			if t.Warning != nil {
				s.metrics.RecordOverAdjustment(ctx, rec.Company, side.String())
				s.logger.Warn("adjustment clamped to remaining balance",
					zap.String("job", cmd.Job.String()),
					zap.String("side", side.String()),
					zap.String("requested", t.Warning.Requested.String()),
					zap.String("excess", t.Warning.Excess.String()),
				)
			}
			return persistTransitions(ctx, repos, rec, false, t)
		})
	})
	if err != nil {
		return s.failed(ctx, span, cmd.Job, recognition.AdjustmentKind(side), cmd.TriggerID, err)
	}

	s.finish(ctx, span, ledger, result, true)
	s.metrics.RecordOutcome(ctx, ledger.Company, side.String(), string(result.Outcome))
	return result, nil
}

// CloseRecognition closes both sides of a job, posting any remaining balance.
// Closing an already closed job is a no-op with outcome ALREADY_CLOSED.
func (s *RecognitionService) CloseRecognition(ctx context.Context, cmd CloseCommand) (*PostingResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recognition", "close")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrJob, cmd.Job.String(),
		telemetry.SpanAttrTrigger, cmd.TriggerID,
	)

	if _, err := recognition.NewJobRef(cmd.Job.Type, cmd.Job.ID); err != nil {
		return nil, err
	}
	date := cmd.Date
	if date.IsZero() {
		date = s.now()
	}

	result := newPostingResult(cmd.Job)
	var ledger *recognition.JobRecognition
	persisted := false

	err := s.withJobLock(ctx, cmd.Job, func(ctx context.Context) error {
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			rec, isNew, err := s.loadLedgerForClose(ctx, repos, cmd.Job)
			if err != nil {
				return err
			}
			ledger, persisted = rec, !isNew

			transitions, err := closeSides(rec, date, cmd.TriggerID)
			if err != nil {
				return err
			}
			result.Outcome = recognition.OutcomeAlreadyClosed
			changed := false
			for _, t := range transitions {
				result.Sides = append(result.Sides, SideResult{Side: t.Side, Outcome: t.Outcome})
				result.addTransition(t)
				switch t.Outcome {
				case recognition.OutcomePosted:
					result.Outcome = recognition.OutcomePosted
					changed = true
				case recognition.OutcomeNothingToPost:
					if result.Outcome != recognition.OutcomePosted {
						result.Outcome = recognition.OutcomeNothingToPost
					}
					changed = true
				}
			}
			if !changed {
				return nil
			}
			persisted = true
			return persistTransitions(ctx, repos, rec, isNew, transitions...)
		})
	})
	if err != nil {
		if errors.Is(err, errDuplicatePosting) {
			return s.duplicateClose(ctx, cmd)
		}
		return s.failed(ctx, span, cmd.Job, "", "", err)
	}

	s.finish(ctx, span, ledger, result, persisted)
	for _, sr := range result.Sides {
		s.metrics.RecordOutcome(ctx, ledger.Company, sr.Side.String(), string(sr.Outcome))
	}
	return result, nil
}

func closeSides(rec *recognition.JobRecognition, date time.Time, triggerID string) ([]recognition.Transition, error) {
	transitions := make([]recognition.Transition, 0, len(recognition.Sides))
	for _, side := range recognition.Sides {
		t, err := rec.Close(side, date, triggerID)
		if err != nil {
			return nil, fmt.Errorf("failed to close %s: %w", side, err)
		}
		transitions = append(transitions, t)
	}
	return transitions, nil
}

// GetRecognitionStatus returns the ledger of a job. A job with a snapshot but
// no ledger yet is reported with both sides NOT_STARTED and fresh estimates.
func (s *RecognitionService) GetRecognitionStatus(ctx context.Context, ref recognition.JobRef) (*RecognitionStatus, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recognition", "get_status")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrJob, ref.String())

	rec, err := s.ledgers.FindByJob(ctx, ref)
	if err == nil {
		return toStatus(rec, true), nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load recognition: %w", err)
	}

	job, err := s.jobs.GetJob(ctx, ref)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	rec = recognition.NewJobRecognition(job)
	rec.SyncJob(job, recognition.EstimateAmounts(job.ChargeLines))
	return toStatus(rec, false), nil
}

// ListPostings returns the audit trail of a job in creation order
func (s *RecognitionService) ListPostings(ctx context.Context, ref recognition.JobRef) ([]recognition.Posting, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recognition", "list_postings")
	defer span.End()

	postings, err := s.postings.FindByJob(ctx, ref)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	return postings, nil
}

// ListJournal returns the postings of a company for export
func (s *RecognitionService) ListJournal(ctx context.Context, filter recognition.PostingFilter) ([]recognition.Posting, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "recognition", "list_journal")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrCompany, filter.Company)

	if err := (recognition.Scope{Company: filter.Company}).Validate(); err != nil {
		return nil, err
	}
	postings, err := s.postings.FindAll(ctx, filter)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list journal: %w", err)
	}
	return postings, nil
}

// loadLedger returns the locked ledger of job, or a new one when none exists
func (s *RecognitionService) loadLedger(ctx context.Context, repos TransactionalRepositories, job *recognition.Job) (*recognition.JobRecognition, bool, error) {
	rec, err := repos.Recognitions().FindByJobForUpdate(ctx, job.Ref)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load recognition: %w", err)
	}
	return recognition.NewJobRecognition(job), true, nil
}

func (s *RecognitionService) loadLedgerForClose(ctx context.Context, repos TransactionalRepositories, ref recognition.JobRef) (*recognition.JobRecognition, bool, error) {
	rec, err := repos.Recognitions().FindByJobForUpdate(ctx, ref)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load recognition: %w", err)
	}
	job, err := s.jobs.GetJob(ctx, ref)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load job %s: %w", ref, err)
	}
	rec = recognition.NewJobRecognition(job)
	rec.SyncJob(job, recognition.EstimateAmounts(job.ChargeLines))
	return rec, true, nil
}

// persistTransitions writes the ledger first, then the postings it references.
// A posting whose key is taken aborts the transaction with errDuplicatePosting.
func persistTransitions(ctx context.Context, repos TransactionalRepositories, rec *recognition.JobRecognition, isNew bool, transitions ...recognition.Transition) error {
	if isNew {
		if err := repos.Recognitions().Create(ctx, rec); err != nil {
			if errors.Is(err, shared.ErrAlreadyExists) {
				return shared.ErrConcurrencyConflict
			}
			return fmt.Errorf("failed to create recognition: %w", err)
		}
	} else if err := repos.Recognitions().SaveWithLock(ctx, rec); err != nil {
		return fmt.Errorf("failed to save recognition: %w", err)
	}

	postings := make([]*recognition.Posting, 0, len(transitions))
	for _, t := range transitions {
		if t.Posting != nil {
			postings = append(postings, t.Posting)
		}
	}
	if len(postings) == 0 {
		return nil
	}
	if err := repos.Postings().Create(ctx, postings...); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return errDuplicatePosting
		}
		return fmt.Errorf("failed to save postings: %w", err)
	}
	return nil
}

// findDuplicate returns a DUPLICATE result when a posting with the
// caller-supplied trigger already exists
func (s *RecognitionService) findDuplicate(ctx context.Context, ref recognition.JobRef, kind recognition.PostingKind, triggerID string) (*PostingResult, error) {
	if triggerID == "" {
		return nil, nil
	}
	posting, err := s.postings.FindByIdempotencyKey(ctx, recognition.PostingKey(ref, kind, triggerID))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check posting key: %w", err)
	}
	return s.duplicateResult(ctx, ref, *posting), nil
}

func (s *RecognitionService) duplicateResult(ctx context.Context, ref recognition.JobRef, postings ...recognition.Posting) *PostingResult {
	result := newPostingResult(ref)
	result.Outcome = recognition.OutcomeDuplicate
	result.Postings = append(result.Postings, postings...)
	if rec, err := s.ledgers.FindByJob(ctx, ref); err == nil {
		result.State = toStatus(rec, true)
	}
	s.logger.Info("duplicate recognition request ignored",
		zap.String("job", ref.String()),
		zap.Int("postings", len(postings)),
	)
	return result
}

func (s *RecognitionService) duplicateClose(ctx context.Context, cmd CloseCommand) (*PostingResult, error) {
	var found []recognition.Posting
	for _, side := range recognition.Sides {
		p, err := s.postings.FindByIdempotencyKey(ctx, recognition.PostingKey(cmd.Job, recognition.ClosureKind(side), cmd.TriggerID))
		if err == nil {
			found = append(found, *p)
		}
	}
	return s.duplicateResult(ctx, cmd.Job, found...), nil
}

// failed converts a lost idempotency race into a DUPLICATE result and
// records anything else on the span
func (s *RecognitionService) failed(ctx context.Context, span trace.Span, ref recognition.JobRef, kind recognition.PostingKind, triggerID string, err error) (*PostingResult, error) {
	if errors.Is(err, errDuplicatePosting) && kind != "" && triggerID != "" {
		if dup, derr := s.findDuplicate(ctx, ref, kind, triggerID); dup != nil && derr == nil {
			return dup, nil
		}
	}
	telemetry.RecordError(span, err)
	if errors.Is(err, shared.ErrLockNotObtained) {
		s.metrics.RecordLockConflict(ctx, ref.Type.String())
	}
	s.logger.Warn("recognition operation failed",
		zap.String("job", ref.String()),
		zap.Error(err),
	)
	return nil, err
}

// finish publishes the events of a committed transition and records metrics
func (s *RecognitionService) finish(ctx context.Context, span trace.Span, rec *recognition.JobRecognition, result *PostingResult, persisted bool) {
	telemetry.SetAttributes(span,
		telemetry.SpanAttrCompany, rec.Company,
		telemetry.SpanAttrOutcome, string(result.Outcome),
	)
	result.State = toStatus(rec, persisted)

	for _, p := range result.Postings {
		s.metrics.RecordPosting(ctx, p.Company, p.Kind.String(), p.Amount)
		telemetry.AddEvent(span, "posting_emitted",
			"kind", p.Kind.String(),
			telemetry.SpanAttrAmount, p.Amount.String(),
		)
	}
	publishEvents(ctx, s.publisher, s.logger, rec)

	s.logger.Info("recognition operation completed",
		zap.String("job", rec.Job.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("postings", len(result.Postings)),
	)
}

// publishEvents publishes and clears the pending events of an aggregate.
// Publish failures are logged; the transition itself is already committed.
func publishEvents(ctx context.Context, publisher shared.EventPublisher, logger *zap.Logger, agg shared.AggregateRoot) {
	events := agg.GetDomainEvents()
	agg.ClearDomainEvents()
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events...); err != nil {
		logger.Error("failed to publish domain events",
			zap.Int("count", len(events)),
			zap.Error(err),
		)
	}
}

// withJobLock runs fn while holding the job's lock
func (s *RecognitionService) withJobLock(ctx context.Context, ref recognition.JobRef, fn func(context.Context) error) error {
	return withLock(ctx, s.locker, s.logger, JobLockKey(ref), fn)
}

func withLock(ctx context.Context, locker JobLocker, logger *zap.Logger, key string, fn func(context.Context) error) error {
	release, err := locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			logger.Warn("failed to release job lock", zap.String("key", key), zap.Error(rerr))
		}
	}()
	return fn(ctx)
}
