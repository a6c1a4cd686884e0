package recognition

import (
	"context"
	"testing"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJobService_UpsertCreatesThenRefreshes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref, err := recognition.NewJobRef(recognition.JobTypeAirShipment, "AIR-1")
	require.NoError(t, err)

	cmd := UpsertJobCommand{
		Job:   ref,
		Scope: acme,
		Dates: recognition.JobDates{CreatedAt: march5},
		ChargeLines: []recognition.ChargeLine{
			{LineNo: 1, Values: map[string]string{"amount": "120.50", "cost": "80"}},
			{LineNo: 2, Values: map[string]string{"selling_amount": "n/a"}},
		},
	}
	view, err := h.jobs.UpsertJob(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, view.Created)
	assert.Equal(t, recognition.JobStatusOpen, view.Job.Status)
	assert.True(t, view.Estimate.Revenue.Equal(d("120.50")))
	assert.True(t, view.Estimate.Cost.Equal(d("80")))
	require.Len(t, view.Estimate.Warnings, 1)
	assert.Equal(t, "INVALID_AMOUNT", view.Estimate.Warnings[0].Code)

	cmd.ChargeLines = cmd.ChargeLines[:1]
	cmd.Status = recognition.JobStatusCompleted
	view, err = h.jobs.UpsertJob(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, view.Created)
	assert.Equal(t, recognition.JobStatusCompleted, view.Job.Status)
	assert.Empty(t, view.Estimate.Warnings)
	assert.Contains(t, h.publisher.types(), recognition.EventTypeJobStatusChanged)

	stored, err := h.jobs.GetJob(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Job.Version, "refresh and status change each save once")
}

func TestJobService_UpsertRejectsCompanyChange(t *testing.T) {
	h := newHarness(t)
	ref := h.addJob(t, "SEA-400", acme, "100", "")

	_, err := h.jobs.UpsertJob(context.Background(), UpsertJobCommand{
		Job:   ref,
		Scope: recognition.Scope{Company: "OTHER"},
		Dates: recognition.JobDates{CreatedAt: march5},
	})
	assert.Error(t, err)
}

func TestJobService_ChangeStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref := h.addJob(t, "SEA-401", acme, "100", "")

	job, err := h.jobs.ChangeStatus(ctx, ChangeStatusCommand{Job: ref, Status: recognition.JobStatusCancelled, Reason: "customer cancelled"})
	require.NoError(t, err)
	assert.Equal(t, recognition.JobStatusCancelled, job.Status)

	_, err = h.jobs.ChangeStatus(ctx, ChangeStatusCommand{Job: ref, Status: recognition.JobStatusOpen})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	missing, _ := recognition.NewJobRef(recognition.JobTypeSeaShipment, "NOPE")
	_, err = h.jobs.ChangeStatus(ctx, ChangeStatusCommand{Job: missing, Status: recognition.JobStatusClosed})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestJobService_RecordActualIsIdempotentPerDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref := h.addJob(t, "SEA-402", acme, "100", "")
	cmd := RecordActualCommand{Job: ref, Side: recognition.SideWIP, Amount: d("40"), PostedOn: march5, SourceDocument: "INV-9"}

	first, err := h.jobs.RecordActual(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, first.Recorded)
	assert.Equal(t, "ACME", first.Entry.Company)

	second, err := h.jobs.RecordActual(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, second.Recorded)
	assert.Len(t, h.store.actuals, 1)

	cmd.Amount = d("0")
	_, err = h.jobs.RecordActual(ctx, cmd)
	assert.ErrorIs(t, err, recognition.ErrInvalidAmount)
}

// ==================== JobStatusChangedHandler Tests ====================

// MockRecognitionCloser is a mock implementation of RecognitionCloser
type MockRecognitionCloser struct {
	mock.Mock
}

func (m *MockRecognitionCloser) CloseRecognition(ctx context.Context, cmd CloseCommand) (*PostingResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PostingResult), args.Error(1)
}

// MockIdempotencyStore is a mock implementation of shared.IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Unmark(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Close() error {
	return m.Called().Error(0)
}

func statusEvent(t *testing.T, status recognition.JobStatus) *recognition.JobStatusChangedEvent {
	t.Helper()
	ref, err := recognition.NewJobRef(recognition.JobTypeSeaShipment, "SEA-500")
	require.NoError(t, err)
	job, err := recognition.NewJob(ref, acme, recognition.JobDates{CreatedAt: march5}, nil, recognition.JobOverrides{})
	require.NoError(t, err)
	require.NoError(t, job.ChangeStatus(status, "test"))
	return job.GetDomainEvents()[0].(*recognition.JobStatusChangedEvent)
}

func TestJobStatusChangedHandler_EventTypes(t *testing.T) {
	handler := NewJobStatusChangedHandler(nil, nil, shared.DefaultIdempotencyConfig(), zap.NewNop())
	assert.Equal(t, []string{recognition.EventTypeJobStatusChanged}, handler.EventTypes())
}

func TestJobStatusChangedHandler_ClosesFinishedJob(t *testing.T) {
	ctx := context.Background()
	event := statusEvent(t, recognition.JobStatusCancelled)
	key := "job-status:" + event.EventID().String()

	closer := new(MockRecognitionCloser)
	closer.On("CloseRecognition", ctx, mock.MatchedBy(func(cmd CloseCommand) bool {
		return cmd.Job == event.Job && cmd.TriggerID == event.EventID().String()
	})).Return(&PostingResult{Outcome: recognition.OutcomePosted}, nil).Once()

	store := new(MockIdempotencyStore)
	store.On("MarkProcessed", ctx, key, 24*time.Hour).Return(true, nil).Once()
	store.On("MarkProcessed", ctx, key, 24*time.Hour).Return(false, nil).Once()

	handler := NewJobStatusChangedHandler(closer, store, shared.DefaultIdempotencyConfig(), zap.NewNop())
	require.NoError(t, handler.Handle(ctx, event))
	require.NoError(t, handler.Handle(ctx, event), "redelivery is ignored")

	closer.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestJobStatusChangedHandler_IgnoresOpenStatus(t *testing.T) {
	closer := new(MockRecognitionCloser)
	handler := NewJobStatusChangedHandler(closer, nil, shared.DefaultIdempotencyConfig(), zap.NewNop())

	event := statusEvent(t, recognition.JobStatusCompleted)
	event.Status = recognition.JobStatusOpen
	require.NoError(t, handler.Handle(context.Background(), event))
	closer.AssertNotCalled(t, "CloseRecognition", mock.Anything, mock.Anything)
}

func TestJobStatusChangedHandler_FailureUnmarks(t *testing.T) {
	ctx := context.Background()
	event := statusEvent(t, recognition.JobStatusClosed)
	key := "job-status:" + event.EventID().String()

	closer := new(MockRecognitionCloser)
	closer.On("CloseRecognition", ctx, mock.Anything).Return(nil, errBoom)
	store := new(MockIdempotencyStore)
	store.On("MarkProcessed", ctx, key, mock.Anything).Return(true, nil)
	store.On("Unmark", mock.Anything, key).Return(nil)

	handler := NewJobStatusChangedHandler(closer, store, shared.DefaultIdempotencyConfig(), zap.NewNop())
	err := handler.Handle(ctx, event)
	assert.ErrorIs(t, err, errBoom)
	store.AssertCalled(t, "Unmark", mock.Anything, key)
}

func TestJobStatusChangedHandler_RejectsOtherEvents(t *testing.T) {
	handler := NewJobStatusChangedHandler(new(MockRecognitionCloser), nil, shared.DefaultIdempotencyConfig(), zap.NewNop())
	other := &recognition.PolicyChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(recognition.EventTypePolicyChanged, recognition.AggregateTypePolicy, uuid.New(), "ACME"),
	}
	assert.Error(t, handler.Handle(context.Background(), other))
}

// The handler drives the real service end to end
func TestJobStatusChangedHandler_WithRecognitionService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPolicy(t, "cc1", acme, 0, 0)
	ref := h.addJob(t, "SEA-501", acme, "500", "")
	_, err := h.recog.RecognizeWIP(ctx, RecognizeCommand{Job: ref})
	require.NoError(t, err)

	handler := NewJobStatusChangedHandler(h.recog, nil, shared.DefaultIdempotencyConfig(), zap.NewNop())
	job, err := h.jobs.ChangeStatus(ctx, ChangeStatusCommand{Job: ref, Status: recognition.JobStatusCompleted})
	require.NoError(t, err)

	var event shared.DomainEvent
	for _, e := range h.publisher.events {
		if e.EventType() == recognition.EventTypeJobStatusChanged && e.AggregateID() == job.ID {
			event = e
		}
	}
	require.NotNil(t, event)
	require.NoError(t, handler.Handle(ctx, event))
	require.NoError(t, handler.Handle(ctx, event))

	rec := h.ledger(t, ref)
	assert.True(t, rec.IsTerminal())
	assert.Equal(t, 2, h.postingCount(), "initial and one closure")
}
