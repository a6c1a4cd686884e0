package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultPeriodPageSize is the batch page size used when none is configured
const DefaultPeriodPageSize = 100

// ReportArchiver stores the report of a finished period-close run and returns its location
type ReportArchiver interface {
	Archive(ctx context.Context, run *recognition.PeriodCloseRun) (string, error)
}

// PeriodCloseService reconciles open recognitions against actuals at period end
type PeriodCloseService struct {
	jobs      recognition.JobSource
	policies  recognition.PolicyRepository
	ledgers   recognition.JobRecognitionRepository
	actuals   recognition.ActualAmountProvider
	runs      recognition.PeriodCloseRunRepository
	txScope   TransactionScope
	locker    JobLocker
	archiver  ReportArchiver
	publisher shared.EventPublisher
	metrics   *telemetry.RecognitionMetrics
	pageSize  int
	logger    *zap.Logger
}

// NewPeriodCloseService creates a new PeriodCloseService
func NewPeriodCloseService(
	jobs recognition.JobSource,
	policies recognition.PolicyRepository,
	ledgers recognition.JobRecognitionRepository,
	actuals recognition.ActualAmountProvider,
	runs recognition.PeriodCloseRunRepository,
	txScope TransactionScope,
	pageSize int,
	logger *zap.Logger,
) *PeriodCloseService {
	if pageSize <= 0 {
		pageSize = DefaultPeriodPageSize
	}
	return &PeriodCloseService{
		jobs:     jobs,
		policies: policies,
		ledgers:  ledgers,
		actuals:  actuals,
		runs:     runs,
		txScope:  txScope,
		locker:   NoOpJobLocker,
		pageSize: pageSize,
		logger:   logger,
	}
}

// SetEventPublisher sets the publisher for ledger and run events
func (s *PeriodCloseService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// SetJobLocker sets the per-job distributed lock
func (s *PeriodCloseService) SetJobLocker(locker JobLocker) {
	if locker != nil {
		s.locker = locker
	}
}

// SetReportArchiver sets where finished run reports are archived
func (s *PeriodCloseService) SetReportArchiver(archiver ReportArchiver) {
	s.archiver = archiver
}

// SetMetrics sets the business metrics recorder
func (s *PeriodCloseService) SetMetrics(metrics *telemetry.RecognitionMetrics) {
	s.metrics = metrics
}

// ProcessPeriod walks every recognition of a company with an open side and
// brings it in line with the actuals posted up to periodEnd. Per-job failures
// are reported in the result; the error return is for failures that stop the
// run before or during traversal.
func (s *PeriodCloseService) ProcessPeriod(ctx context.Context, company string, periodEnd time.Time) (*recognition.BatchResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "period_close", "process_period")
	defer span.End()

	run, err := recognition.NewPeriodCloseRun(company, periodEnd)
	if err != nil {
		return nil, err
	}
	periodEnd = run.PeriodEnd
	telemetry.SetAttributes(span,
		telemetry.SpanAttrCompany, company,
		telemetry.SpanAttrPeriodEnd, periodEnd.Format(time.DateOnly),
		telemetry.SpanAttrRunID, run.ID.String(),
	)

	if err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		return repos.Runs().Create(ctx, run)
	}); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to create period-close run: %w", err)
	}

	started := time.Now()
	result := recognition.NewBatchResult(company, periodEnd)
	result.RunID = run.ID

	s.logger.Info("period close started",
		zap.String("company", company),
		zap.String("period_end", periodEnd.Format(time.DateOnly)),
		zap.String("run_id", run.ID.String()),
	)

	var traverseErr error
	telemetry.WithProfilingLabels(ctx, telemetry.OperationLabels("process_period", company), func(ctx context.Context) {
		traverseErr = s.traverse(ctx, company, periodEnd, result)
	})

	if traverseErr != nil {
		s.logger.Error("period close stopped",
			zap.String("run_id", run.ID.String()),
			zap.Int("visited", result.Total()),
			zap.Error(traverseErr),
		)
	}
	runErr := s.settle(ctx, run, result, traverseErr)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
	}

	s.metrics.RecordPeriodRun(ctx, telemetry.PeriodRunSummary{
		Company:  company,
		Status:   string(run.Status),
		Adjusted: len(result.Adjusted),
		Skipped:  len(result.Skipped),
		Failed:   len(result.Failed),
		Duration: time.Since(started),
	})
	telemetry.SetAttribute(span, "run_status", string(run.Status))

	s.logger.Info("period close finished",
		zap.String("run_id", run.ID.String()),
		zap.String("status", string(run.Status)),
		zap.Int("adjusted", len(result.Adjusted)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", time.Since(started)),
	)
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// settle finishes the run from the traversal outcome and persists it. A run
// that cannot be completed is failed and saved all the same, so the stored
// record never stays RUNNING.
func (s *PeriodCloseService) settle(ctx context.Context, run *recognition.PeriodCloseRun, result *recognition.BatchResult, traverseErr error) error {
	runErr := traverseErr
	if runErr == nil {
		runErr = run.Complete(result)
	}
	if runErr != nil {
		run.Fail(runErr)
	}
	s.archive(ctx, run)
	if err := s.saveRun(ctx, run); err != nil {
		s.logger.Error("failed to save period-close run", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	publishEvents(ctx, s.publisher, s.logger, run)
	return runErr
}

// traverse pages through the open recognitions by ID. Ledgers closed while
// the run progresses drop out of later pages without shifting the cursor.
func (s *PeriodCloseService) traverse(ctx context.Context, company string, periodEnd time.Time, result *recognition.BatchResult) error {
	policies, err := s.policies.FindActiveByCompany(ctx, company)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	cursor := shared.Cursor{Limit: s.pageSize}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.ledgers.FindOpenPage(ctx, company, periodEnd, cursor)
		if err != nil {
			return fmt.Errorf("failed to load open recognitions: %w", err)
		}
		for _, rec := range page {
			result.Add(s.processJob(ctx, rec.Job, policies, periodEnd))
		}
		if len(page) < cursor.Limit {
			return nil
		}
		cursor = cursor.Next(page[len(page)-1].ID)
	}
}

// processJob reconciles one job in its own lock and transaction
func (s *PeriodCloseService) processJob(ctx context.Context, ref recognition.JobRef, policies []*recognition.Policy, periodEnd time.Time) recognition.BatchItem {
	item := recognition.BatchItem{Job: ref, Disposition: recognition.DispositionSkipped}
	var ledger *recognition.JobRecognition

	err := withLock(ctx, s.locker, s.logger, JobLockKey(ref), func(ctx context.Context) error {
		job, err := s.jobs.GetJob(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", ref, err)
		}
		actuals, err := s.actuals.ActualsAsOf(ctx, ref, periodEnd)
		if err != nil {
			return fmt.Errorf("failed to load actuals: %w", err)
		}
		policy := recognition.ResolvePolicy(policies, job.Scope())

		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			rec, err := repos.Recognitions().FindByJobForUpdate(ctx, ref)
			if err != nil {
				return fmt.Errorf("failed to load recognition: %w", err)
			}
			trigger := fmt.Sprintf("period:%s:v%d", periodEnd.Format(time.DateOnly), rec.Version)

			sides, transitions, err := reconcile(rec, job, policy, actuals, periodEnd, trigger)
			if err != nil {
				return err
			}
			item.Sides = sides
			if len(transitions) == 0 {
				return nil
			}
			if err := persistTransitions(ctx, repos, rec, false, transitions...); err != nil {
				return err
			}
			ledger = rec
			if item.Posted() || closedAny(sides) {
				item.Disposition = recognition.DispositionAdjusted
			}
			return nil
		})
	})

	switch {
	case errors.Is(err, errDuplicatePosting):
		item.Disposition = recognition.DispositionSkipped
		item.Sides = []recognition.SideOutcome{{Reason: recognition.SkipDuplicate}}
	case err != nil:
		msg := messageOf(err)
		item.Disposition = recognition.DispositionFailed
		item.Sides = nil
		item.ErrorCode = msg.Code
		item.Error = msg.Message
		if errors.Is(err, shared.ErrLockNotObtained) {
			s.metrics.RecordLockConflict(ctx, ref.Type.String())
		}
		s.logger.Warn("period close failed for job", zap.String("job", ref.String()), zap.Error(err))
	case ledger != nil:
		for _, side := range item.Sides {
			if side.Warning != "" {
				s.metrics.RecordOverAdjustment(ctx, ledger.Company, side.Side.String())
			}
		}
		publishEvents(ctx, s.publisher, s.logger, ledger)
	}
	for _, side := range item.Sides {
		if side.Reason == recognition.SkipActualBelowRecognized {
			s.logger.Warn("actual fell below recognized amount",
				zap.String("job", ref.String()),
				zap.String("side", side.Side.String()),
				zap.String("shortfall", side.Amount.Neg().String()),
			)
		}
	}
	return item
}

// reconcile applies the period-end adjustments and closures to rec and
// reports what happened to each open side
func reconcile(
	rec *recognition.JobRecognition,
	job *recognition.Job,
	policy *recognition.Policy,
	actuals recognition.Actuals,
	periodEnd time.Time,
	trigger string,
) ([]recognition.SideOutcome, []recognition.Transition, error) {
	var outcomes []recognition.SideOutcome
	var transitions []recognition.Transition

	for _, side := range recognition.Sides {
		state := rec.Side(side)
		if !state.IsOpen() {
			continue
		}
		out := recognition.SideOutcome{Side: side, Amount: decimal.Zero}

		switch {
		case policy == nil:
			out.Reason = recognition.SkipPolicyNotFound
		case !job.SideEnabled(side, policy):
			out.Reason = recognition.SkipSideDisabled
		default:
			date, err := job.RecognitionDate(side, policy)
			if err != nil {
				return nil, nil, err
			}
			if date.Date.After(periodEnd) {
				out.Reason = recognition.SkipNotInPeriod
				break
			}
			// Overage holds actuals already seen beyond the balance
			delta := actuals.For(side).Sub(state.RecognizedToDate).Sub(state.Overage)
			switch delta.Sign() {
			case 0:
				out.Reason = recognition.SkipInBalance
			case -1:
				out.Reason = recognition.SkipActualBelowRecognized
				out.Amount = delta
			default:
				t, err := rec.Adjust(side, delta, periodEnd, trigger)
				if err != nil {
					return nil, nil, err
				}
				out.Action = t.Outcome
				if t.Posting != nil {
					out.Amount = t.Posting.Amount
					out.PostingIDs = append(out.PostingIDs, t.Posting.ID)
				}
				if t.Warning != nil {
					out.Warning = t.Warning.Error()
				}
				transitions = append(transitions, t)
			}
		}
		outcomes = append(outcomes, out)
	}

	if !job.Status.IsFinished() {
		return outcomes, transitions, nil
	}
	for _, side := range recognition.Sides {
		if rec.Side(side).IsClosed() {
			continue
		}
		t, err := rec.Close(side, periodEnd, trigger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to close %s: %w", side, err)
		}
		transitions = append(transitions, t)

		idx := outcomeIndex(outcomes, side)
		if idx < 0 {
			outcomes = append(outcomes, recognition.SideOutcome{Side: side, Amount: decimal.Zero})
			idx = len(outcomes) - 1
		}
		out := &outcomes[idx]
		out.Closed = true
		if t.Posting != nil {
			out.Action = recognition.OutcomePosted
			out.Amount = out.Amount.Add(t.Posting.Amount)
			out.PostingIDs = append(out.PostingIDs, t.Posting.ID)
		} else if out.Action == "" {
			out.Action = recognition.OutcomeNothingToPost
		}
	}
	return outcomes, transitions, nil
}

func closedAny(outcomes []recognition.SideOutcome) bool {
	for _, o := range outcomes {
		if o.Closed {
			return true
		}
	}
	return false
}

func outcomeIndex(outcomes []recognition.SideOutcome, side recognition.Side) int {
	for i := range outcomes {
		if outcomes[i].Side == side {
			return i
		}
	}
	return -1
}

// archive writes the run report when an archiver is configured. A failed
// upload leaves the run without a report location.
func (s *PeriodCloseService) archive(ctx context.Context, run *recognition.PeriodCloseRun) {
	if s.archiver == nil {
		return
	}
	location, err := s.archiver.Archive(ctx, run)
	if err != nil {
		s.logger.Warn("failed to archive period-close report",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
		return
	}
	run.SetReportLocation(location)
}

func (s *PeriodCloseService) saveRun(ctx context.Context, run *recognition.PeriodCloseRun) error {
	ctx = context.WithoutCancel(ctx)
	return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		return repos.Runs().Save(ctx, run)
	})
}

// ListRuns lists the period-close runs of a company, newest first
func (s *PeriodCloseService) ListRuns(ctx context.Context, company string, filter shared.Filter) ([]*recognition.PeriodCloseRun, int64, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "period_close", "list_runs")
	defer span.End()

	if err := (recognition.Scope{Company: company}).Validate(); err != nil {
		return nil, 0, err
	}
	runs, total, err := s.runs.FindByCompany(ctx, company, filter)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, 0, fmt.Errorf("failed to list period-close runs: %w", err)
	}
	return runs, total, nil
}

// GetRun returns one period-close run with its items
func (s *PeriodCloseService) GetRun(ctx context.Context, id uuid.UUID) (*recognition.PeriodCloseRun, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "period_close", "get_run")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrRunID, id.String())

	run, err := s.runs.FindByID(ctx, id)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return run, nil
}
