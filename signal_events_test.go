package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unmatchedEvent struct {
	Payload string
}

type noSubscriberRecorder struct {
	events *[]NoSubscriberEvent
}

func (r *noSubscriberRecorder) OnNoSubscriberEvent(e NoSubscriberEvent) {
	*r.events = append(*r.events, e)
}

func TestNoSubscriberEventPosted(t *testing.T) {
	bus := newTestBus(t)

	var events []NoSubscriberEvent
	require.NoError(t, bus.Register(&noSubscriberRecorder{events: &events}))

	require.NoError(t, bus.Post(unmatchedEvent{Payload: "lost"}))

	require.Len(t, events, 1, "exactly one NoSubscriberEvent per unmatched post")
	assert.Equal(t, unmatchedEvent{Payload: "lost"}, events[0].Event)
	assert.Same(t, bus, events[0].Bus)
}

func TestNoSubscriberEventNotPostedForSignalEvents(t *testing.T) {
	bus := newTestBus(t)

	// Nothing subscribed at all: the unmatched NoSubscriberEvent must not
	// spawn another one, or this would never return.
	require.NoError(t, bus.Post(unmatchedEvent{Payload: "lost"}))
	assert.Equal(t, uint64(2), bus.Stats().NoSubscriberEvents,
		"the original event and its signal event are unmatched, nothing further")
}

func TestNoSubscriberEventDisabled(t *testing.T) {
	bus := newTestBus(t, WithSendNoSubscriberEvent(false))

	var events []NoSubscriberEvent
	require.NoError(t, bus.Register(&noSubscriberRecorder{events: &events}))

	require.NoError(t, bus.Post(unmatchedEvent{Payload: "lost"}))
	assert.Empty(t, events)
}

type failingEvent struct {
	ID int
}

var errHandlerBoom = errors.New("boom")

type failingSubscriber struct{}

func (s *failingSubscriber) OnFailingEvent(e failingEvent) error {
	return errHandlerBoom
}

type exceptionRecorder struct {
	events *[]SubscriberExceptionEvent
}

func (r *exceptionRecorder) OnSubscriberExceptionEvent(e SubscriberExceptionEvent) {
	*r.events = append(*r.events, e)
}

func TestSubscriberExceptionEventPosted(t *testing.T) {
	bus := newTestBus(t, WithLogSubscriberExceptions(false))

	failing := &failingSubscriber{}
	require.NoError(t, bus.Register(failing))
	var events []SubscriberExceptionEvent
	require.NoError(t, bus.Register(&exceptionRecorder{events: &events}))

	require.NoError(t, bus.Post(failingEvent{ID: 1}))

	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, errHandlerBoom)
	assert.Equal(t, failingEvent{ID: 1}, events[0].CausingEvent)
	assert.Same(t, failing, events[0].CausingSubscriber)
}

type panickingSubscriber struct{}

func (s *panickingSubscriber) OnFailingEvent(e failingEvent) {
	panic("handler exploded")
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := newTestBus(t, WithLogSubscriberExceptions(false))

	require.NoError(t, bus.Register(&panickingSubscriber{}))
	var events []SubscriberExceptionEvent
	require.NoError(t, bus.Register(&exceptionRecorder{events: &events}))

	require.NoError(t, bus.Post(failingEvent{ID: 1}))

	require.Len(t, events, 1)
	assert.Contains(t, events[0].Err.Error(), "handler exploded")
}

type failingExceptionRecorder struct {
	calls *int
}

func (r *failingExceptionRecorder) OnSubscriberExceptionEvent(e SubscriberExceptionEvent) error {
	*r.calls++
	return errHandlerBoom
}

func TestExceptionEventHandlerFailureDoesNotRecurse(t *testing.T) {
	bus := newTestBus(t, WithLogSubscriberExceptions(false))

	require.NoError(t, bus.Register(&failingSubscriber{}))
	var calls int
	require.NoError(t, bus.Register(&failingExceptionRecorder{calls: &calls}))

	require.NoError(t, bus.Post(failingEvent{ID: 1}))

	assert.Equal(t, 1, calls, "a failing SubscriberExceptionEvent handler is logged, never re-posted")
}

func TestThrowSubscriberException(t *testing.T) {
	bus := newTestBus(t,
		WithThrowSubscriberException(true),
		WithLogSubscriberExceptions(false),
	)

	require.NoError(t, bus.Register(&failingSubscriber{}))

	err := bus.Post(failingEvent{ID: 1})
	assert.ErrorIs(t, err, errHandlerBoom)
}

func TestStatsCounters(t *testing.T) {
	bus := newTestBus(t, WithSendNoSubscriberEvent(false), WithLogNoSubscriberEvents(false))

	var calls []string
	require.NoError(t, bus.Register(&priorityZeroSubscriber{calls: &calls}))

	require.NoError(t, bus.Post(orderEvent{Seq: 1}))
	require.NoError(t, bus.Post(unmatchedEvent{Payload: "x"}))

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.Posted)
	assert.Equal(t, uint64(1), stats.DeliveredInline)
	assert.Equal(t, uint64(1), stats.NoSubscriberEvents)
	assert.Zero(t, stats.HandlerFailures)
}
