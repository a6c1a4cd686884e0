package recognition

import (
	"context"
	"fmt"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"go.uber.org/zap"
)

// RecognitionCloser closes the recognition of a job
type RecognitionCloser interface {
	CloseRecognition(ctx context.Context, cmd CloseCommand) (*PostingResult, error)
}

// JobStatusChangedHandler handles JobStatusChangedEvent
// and closes recognition when the job is completed, closed or cancelled
type JobStatusChangedHandler struct {
	closer      RecognitionCloser
	idempotency shared.IdempotencyStore
	ttl         time.Duration
	logger      *zap.Logger
}

// NewJobStatusChangedHandler creates a new handler for job status changes.
// idempotency may be nil, in which case redelivered events rely on the
// posting idempotency key alone.
func NewJobStatusChangedHandler(
	closer RecognitionCloser,
	idempotency shared.IdempotencyStore,
	cfg shared.IdempotencyConfig,
	logger *zap.Logger,
) *JobStatusChangedHandler {
	if !cfg.Enabled {
		idempotency = nil
	}
	return &JobStatusChangedHandler{
		closer:      closer,
		idempotency: idempotency,
		ttl:         cfg.TTL,
		logger:      logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *JobStatusChangedHandler) EventTypes() []string {
	return []string{recognition.EventTypeJobStatusChanged}
}

// Handle closes both recognition sides of a finished job, using the event ID
// as the trigger so a redelivered event posts nothing new
func (h *JobStatusChangedHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	changed, ok := event.(*recognition.JobStatusChangedEvent)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", recognition.EventTypeJobStatusChanged),
			zap.String("actual", event.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s",
			recognition.EventTypeJobStatusChanged, event.EventType())
	}
	if !changed.Status.IsFinished() {
		return nil
	}

	key := "job-status:" + event.EventID().String()
	if h.idempotency != nil {
		fresh, err := h.idempotency.MarkProcessed(ctx, key, h.ttl)
		if err != nil {
			return fmt.Errorf("failed to check event idempotency: %w", err)
		}
		if !fresh {
			h.logger.Debug("job status event already processed", zap.String("event_id", event.EventID().String()))
			return nil
		}
	}

	h.logger.Info("closing recognition for finished job",
		zap.String("job", changed.Job.String()),
		zap.String("status", changed.Status.String()),
		zap.String("event_id", event.EventID().String()),
	)

	result, err := h.closer.CloseRecognition(ctx, CloseCommand{
		Job:       changed.Job,
		Date:      event.OccurredAt(),
		TriggerID: event.EventID().String(),
	})
	if err != nil {
		if h.idempotency != nil {
			if uerr := h.idempotency.Unmark(context.WithoutCancel(ctx), key); uerr != nil {
				h.logger.Warn("failed to unmark job status event", zap.String("key", key), zap.Error(uerr))
			}
		}
		h.logger.Error("failed to close recognition",
			zap.String("job", changed.Job.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to close recognition for %s: %w", changed.Job, err)
	}

	h.logger.Info("recognition closed for finished job",
		zap.String("job", changed.Job.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("postings", len(result.Postings)),
	)
	return nil
}

var _ shared.EventHandler = (*JobStatusChangedHandler)(nil)
var _ RecognitionCloser = (*RecognitionService)(nil)
