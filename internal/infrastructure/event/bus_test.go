package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/freight/recognition/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testEvent implements DomainEvent for testing
type testEvent struct {
	shared.BaseDomainEvent
	Data string `json:"data"`
}

func newTestEvent(eventType, company string) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "TestAggregate", uuid.New(), company),
		Data:            "test data",
	}
}

// testHandler implements EventHandler for testing
type testHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	mu         sync.Mutex
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{
		eventTypes: eventTypes,
		handled:    make([]shared.DomainEvent, 0),
	}
}

func (h *testHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *testHandler) setError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	handler := newTestHandler("RecognitionPosted")
	bus.Subscribe(handler, "RecognitionPosted")

	event := newTestEvent("RecognitionPosted", "ACME")
	err := bus.Publish(context.Background(), event)

	require.NoError(t, err)
	assert.Len(t, handler.getHandled(), 1)
	assert.Equal(t, event, handler.getHandled()[0])
}

func TestInMemoryEventBus_Publish_MultipleEvents(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	handler := newTestHandler("RecognitionPosted")
	bus.Subscribe(handler, "RecognitionPosted")

	event1 := newTestEvent("RecognitionPosted", "ACME")
	event2 := newTestEvent("RecognitionPosted", "ACME")
	err := bus.Publish(context.Background(), event1, event2)

	require.NoError(t, err)
	assert.Len(t, handler.getHandled(), 2)
}

func TestInMemoryEventBus_Publish_MultipleHandlers(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	handler1 := newTestHandler("RecognitionPosted")
	handler2 := newTestHandler("RecognitionPosted")
	bus.Subscribe(handler1, "RecognitionPosted")
	bus.Subscribe(handler2, "RecognitionPosted")

	event := newTestEvent("RecognitionPosted", "ACME")
	err := bus.Publish(context.Background(), event)

	require.NoError(t, err)
	assert.Len(t, handler1.getHandled(), 1)
	assert.Len(t, handler2.getHandled(), 1)
}

func TestInMemoryEventBus_Publish_WildcardHandler(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	wildcardHandler := newTestHandler() // No event types = wildcard
	bus.Subscribe(wildcardHandler)

	event := newTestEvent("AnyEventType", "ACME")
	err := bus.Publish(context.Background(), event)

	require.NoError(t, err)
	assert.Len(t, wildcardHandler.getHandled(), 1)
}

func TestInMemoryEventBus_Publish_HandlerError(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	handler1 := newTestHandler("RecognitionPosted")
	handler1.setError(errors.New("handler error"))
	handler2 := newTestHandler("RecognitionPosted")
	bus.Subscribe(handler1, "RecognitionPosted")
	bus.Subscribe(handler2, "RecognitionPosted")

	event := newTestEvent("RecognitionPosted", "ACME")
	err := bus.Publish(context.Background(), event)

	// Should not return error, but continue with other handlers
	require.NoError(t, err)
	assert.Len(t, handler1.getHandled(), 1)
	assert.Len(t, handler2.getHandled(), 1)
}

func TestInMemoryEventBus_Publish_NoMatchingHandlers(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	handler := newTestHandler("PeriodClosed")
	bus.Subscribe(handler, "PeriodClosed")

	event := newTestEvent("RecognitionPosted", "ACME")
	err := bus.Publish(context.Background(), event)

	require.NoError(t, err)
	assert.Len(t, handler.getHandled(), 0)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	handler := newTestHandler("RecognitionPosted")
	bus.Subscribe(handler, "RecognitionPosted")

	event1 := newTestEvent("RecognitionPosted", "ACME")
	_ = bus.Publish(context.Background(), event1)
	assert.Len(t, handler.getHandled(), 1)

	bus.Unsubscribe(handler)

	event2 := newTestEvent("RecognitionPosted", "ACME")
	_ = bus.Publish(context.Background(), event2)
	assert.Len(t, handler.getHandled(), 1) // Still 1, not 2
}

func TestInMemoryEventBus_StartStop(t *testing.T) {
	logger := zap.NewNop()
	bus := NewInMemoryEventBus(logger)

	ctx := context.Background()
	err := bus.Start(ctx)
	require.NoError(t, err)

	// Can still publish after start
	handler := newTestHandler("RecognitionPosted")
	bus.Subscribe(handler, "RecognitionPosted")
	event := newTestEvent("RecognitionPosted", "ACME")
	err = bus.Publish(ctx, event)
	require.NoError(t, err)
	assert.Len(t, handler.getHandled(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = bus.Stop(ctx)
	require.NoError(t, err)
}

type panickingHandler struct{}

func (panickingHandler) Handle(context.Context, shared.DomainEvent) error { panic("boom") }
func (panickingHandler) EventTypes() []string                             { return nil }

func TestInMemoryEventBus_PanicIsContained(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	after := newTestHandler("RecognitionPosted")
	bus.Subscribe(&panickingHandler{}, "RecognitionPosted")
	bus.Subscribe(after, "RecognitionPosted")

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("RecognitionPosted", "ACME")))
	assert.Len(t, after.getHandled(), 1)

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(2), stats.Dispatched)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestInMemoryEventBus_SubscribeUsesHandlerEventTypes(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler("JobStatusChanged")
	bus.Subscribe(handler)
	bus.Subscribe(handler)

	_ = bus.Publish(context.Background(),
		newTestEvent("JobStatusChanged", "ACME"),
		newTestEvent("RecognitionPosted", "ACME"),
	)
	require.Len(t, handler.getHandled(), 1, "double subscription delivers once")
	assert.Equal(t, "JobStatusChanged", handler.getHandled()[0].EventType())
}

type blockingHandler struct {
	started chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Handle(context.Context, shared.DomainEvent) error {
	close(h.started)
	<-h.release
	return nil
}

func (h *blockingHandler) EventTypes() []string { return []string{"PeriodClosed"} }

func TestInMemoryEventBus_StopWaitsForInflight(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	require.NoError(t, bus.Start(context.Background()))
	assert.True(t, bus.IsRunning())

	handler := &blockingHandler{started: make(chan struct{}), release: make(chan struct{})}
	bus.Subscribe(handler)

	go func() { _ = bus.Publish(context.Background(), newTestEvent("PeriodClosed", "ACME")) }()
	<-handler.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Stop(ctx), context.DeadlineExceeded)

	close(handler.release)
	require.NoError(t, bus.Stop(context.Background()))
	assert.False(t, bus.IsRunning())
}
