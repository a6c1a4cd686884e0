package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RecognitionMetrics records business metrics for postings and period-close
// runs. A nil *RecognitionMetrics is valid and records nothing.
type RecognitionMetrics struct {
	postings      *Counter
	postedAmount  *Histogram
	outcomes      *Counter
	overAdjusted  *Counter
	batchItems    *Counter
	runs          *Counter
	runDuration   *Histogram
	lockConflicts *Counter
	logger        *zap.Logger
}

// RecognitionMetricsConfig configures NewRecognitionMetrics.
type RecognitionMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewRecognitionMetrics creates the recognition instruments on cfg.Meter.
func NewRecognitionMetrics(cfg RecognitionMetricsConfig) (*RecognitionMetrics, error) {
	if cfg.Meter == nil {
		return nil, errors.New("NewRecognitionMetrics: meter cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &RecognitionMetrics{logger: logger}
	var err error

	if m.postings, err = NewCounter(cfg.Meter, "recognition_postings_total",
		"Number of journal postings emitted", "{posting}"); err != nil {
		return nil, err
	}
	if m.postedAmount, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "recognition_posting_amount",
		Description: "Distribution of posted amounts",
		Unit:        "{currency}",
		Boundaries:  []float64{10, 100, 500, 1000, 5000, 10000, 50000, 100000},
	}); err != nil {
		return nil, err
	}
	if m.outcomes, err = NewCounter(cfg.Meter, "recognition_outcomes_total",
		"Recognition operation outcomes", "{operation}"); err != nil {
		return nil, err
	}
	if m.overAdjusted, err = NewCounter(cfg.Meter, "recognition_over_adjustments_total",
		"Adjustments clamped to the remaining balance", "{adjustment}"); err != nil {
		return nil, err
	}
	if m.batchItems, err = NewCounter(cfg.Meter, "period_close_items_total",
		"Jobs processed by period-close runs", "{job}"); err != nil {
		return nil, err
	}
	if m.runs, err = NewCounter(cfg.Meter, "period_close_runs_total",
		"Period-close runs finished", "{run}"); err != nil {
		return nil, err
	}
	if m.runDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "period_close_run_duration_seconds",
		Description: "Wall time of period-close runs",
		Unit:        "s",
		Boundaries:  BatchDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.lockConflicts, err = NewCounter(cfg.Meter, "recognition_lock_conflicts_total",
		"Job locks that could not be obtained", "{lock}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOutcome counts one recognition operation outcome for a side.
func (m *RecognitionMetrics) RecordOutcome(ctx context.Context, company, side, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.Inc(ctx, AttrCompany.String(company), AttrSide.String(side), AttrOutcome.String(outcome))
}

// RecordPosting counts an emitted posting and its amount.
func (m *RecognitionMetrics) RecordPosting(ctx context.Context, company, kind string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.postings.Inc(ctx, AttrCompany.String(company), AttrKind.String(kind))
	m.postedAmount.Record(ctx, amount.InexactFloat64(), AttrKind.String(kind))
}

// RecordOverAdjustment counts a clamped adjustment.
func (m *RecognitionMetrics) RecordOverAdjustment(ctx context.Context, company, side string) {
	if m == nil {
		return
	}
	m.overAdjusted.Inc(ctx, AttrCompany.String(company), AttrSide.String(side))
}

// RecordLockConflict counts a job lock that was held elsewhere.
func (m *RecognitionMetrics) RecordLockConflict(ctx context.Context, jobType string) {
	if m == nil {
		return
	}
	m.lockConflicts.Inc(ctx, AttrJobType.String(jobType))
}

// PeriodRunSummary is what RecordPeriodRun needs from a finished run.
type PeriodRunSummary struct {
	Company  string
	Status   string
	Adjusted int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// RecordPeriodRun records a finished period-close run.
func (m *RecognitionMetrics) RecordPeriodRun(ctx context.Context, s PeriodRunSummary) {
	if m == nil {
		return
	}
	company := AttrCompany.String(s.Company)
	m.runs.Inc(ctx, company, AttrRunStatus.String(s.Status))
	m.runDuration.RecordDuration(ctx, s.Duration, company)
	m.batchItems.Add(ctx, int64(s.Adjusted), company, AttrDisposition.String("ADJUSTED"))
	m.batchItems.Add(ctx, int64(s.Skipped), company, AttrDisposition.String("SKIPPED"))
	m.batchItems.Add(ctx, int64(s.Failed), company, AttrDisposition.String("FAILED"))

	m.logger.Debug("Period run metrics recorded",
		zap.String("company", s.Company),
		zap.String("status", s.Status),
		zap.Duration("duration", s.Duration),
	)
}
