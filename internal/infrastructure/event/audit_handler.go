package event

import (
	"context"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"go.uber.org/zap"
)

// AuditLogHandler writes one structured log line per recognition event.
// Over-adjustments are logged at warn level since they need manual review.
type AuditLogHandler struct {
	logger *zap.Logger
}

// NewAuditLogHandler creates an audit log handler
func NewAuditLogHandler(logger *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: logger.Named("audit")}
}

// EventTypes subscribes to every recognition event
func (h *AuditLogHandler) EventTypes() []string {
	return []string{
		recognition.EventTypePolicyChanged,
		recognition.EventTypeJobStatusChanged,
		recognition.EventTypeRecognitionPosted,
		recognition.EventTypeOverAdjustmentFlagged,
		recognition.EventTypeRecognitionClosed,
		recognition.EventTypePeriodClosed,
	}
}

// Handle logs the event
func (h *AuditLogHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
		zap.String("company", event.Company()),
		zap.String("aggregate_id", event.AggregateID().String()),
	}

	switch e := event.(type) {
	case *recognition.PolicyChangedEvent:
		fields = append(fields, zap.String("policy", e.Name), zap.String("action", string(e.Action)))
	case *recognition.JobStatusChangedEvent:
		fields = append(fields,
			zap.String("job", e.Job.String()),
			zap.String("from", string(e.PreviousStatus)),
			zap.String("to", string(e.Status)),
		)
	case *recognition.RecognitionPostedEvent:
		fields = append(fields,
			zap.String("job", e.Job.String()),
			zap.String("kind", e.Kind.String()),
			zap.String("amount", e.Amount.StringFixed(2)),
			zap.Time("date", e.Date),
		)
	case *recognition.OverAdjustmentFlaggedEvent:
		h.logger.Warn("over-adjustment flagged", append(fields,
			zap.String("job", e.Job.String()),
			zap.String("side", e.Side.String()),
			zap.String("requested", e.Requested.StringFixed(2)),
			zap.String("applied", e.Applied.StringFixed(2)),
			zap.String("excess", e.Excess.StringFixed(2)),
		)...)
		return nil
	case *recognition.RecognitionClosedEvent:
		fields = append(fields, zap.String("job", e.Job.String()), zap.String("side", e.Side.String()))
	case *recognition.PeriodClosedEvent:
		fields = append(fields,
			zap.String("run_id", e.RunID.String()),
			zap.String("status", string(e.Status)),
			zap.Int("adjusted", e.Adjusted),
			zap.Int("skipped", e.Skipped),
			zap.Int("failed", e.Failed),
		)
	}

	h.logger.Info("recognition event", fields...)
	return nil
}
