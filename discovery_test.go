package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shapeEvent struct {
	N int
}

type allShapesSubscriber struct {
	calls *[]string
}

func (s *allShapesSubscriber) OnPlain(e shapeEvent) {
	*s.calls = append(*s.calls, "plain")
}

func (s *allShapesSubscriber) OnWithError(e shapeEvent) error {
	*s.calls = append(*s.calls, "error")
	return nil
}

func (s *allShapesSubscriber) OnWithContext(ctx context.Context, e shapeEvent) {
	*s.calls = append(*s.calls, "context")
}

func (s *allShapesSubscriber) OnWithContextAndError(ctx context.Context, e shapeEvent) error {
	*s.calls = append(*s.calls, "context-error")
	return nil
}

func TestDiscoveryAcceptsAllHandlerShapes(t *testing.T) {
	bus := newTestBus(t)

	var calls []string
	require.NoError(t, bus.Register(&allShapesSubscriber{calls: &calls}))
	require.NoError(t, bus.Post(shapeEvent{N: 1}))

	assert.ElementsMatch(t, []string{"plain", "error", "context", "context-error"}, calls)
}

type misshapenSubscriber struct {
	calls *[]string
}

func (s *misshapenSubscriber) OnGood(e shapeEvent) {
	*s.calls = append(*s.calls, "good")
}

// Wrong arity: no event parameter.
func (s *misshapenSubscriber) OnNothing() {}

func TestDiscoverySkipsMisshapenMethodsByDefault(t *testing.T) {
	bus := newTestBus(t)

	var calls []string
	require.NoError(t, bus.Register(&misshapenSubscriber{calls: &calls}))
	require.NoError(t, bus.Post(shapeEvent{N: 1}))
	assert.Equal(t, []string{"good"}, calls)
}

func TestStrictVerificationRejectsMisshapenMethods(t *testing.T) {
	bus := newTestBus(t, WithStrictMethodVerification(true))

	var calls []string
	err := bus.Register(&misshapenSubscriber{calls: &calls})
	require.ErrorIs(t, err, ErrInvalidHandlerMethod)
	assert.Contains(t, err.Error(), "OnNothing")
}

type customPrefixSubscriber struct {
	calls *[]string
}

func (s *customPrefixSubscriber) HandleShapeEvent(e shapeEvent) {
	*s.calls = append(*s.calls, "handle")
}

func TestCustomHandlerMethodPrefix(t *testing.T) {
	bus := newTestBus(t, WithHandlerMethodPrefix("Handle"))

	var calls []string
	require.NoError(t, bus.Register(&customPrefixSubscriber{calls: &calls}))
	require.NoError(t, bus.Post(shapeEvent{N: 1}))
	assert.Equal(t, []string{"handle"}, calls)
}

type embeddedBase struct {
	calls *[]string
}

func (b *embeddedBase) OnShapeEvent(e shapeEvent) {
	*b.calls = append(*b.calls, "base")
}

type embeddingSubscriber struct {
	embeddedBase
}

func TestPromotedHandlerMethodsAreDiscovered(t *testing.T) {
	bus := newTestBus(t)

	var calls []string
	sub := &embeddingSubscriber{embeddedBase{calls: &calls}}
	require.NoError(t, bus.Register(sub))
	require.NoError(t, bus.Post(shapeEvent{N: 1}))
	assert.Equal(t, []string{"base"}, calls)
}

type shadowingSubscriber struct {
	embeddedBase
}

func (s *shadowingSubscriber) OnShapeEvent(e shapeEvent) {
	*s.embeddedBase.calls = append(*s.embeddedBase.calls, "shadow")
}

func TestShadowingMethodWinsOnce(t *testing.T) {
	bus := newTestBus(t)

	var calls []string
	sub := &shadowingSubscriber{embeddedBase{calls: &calls}}
	require.NoError(t, bus.Register(sub))
	require.NoError(t, bus.Post(shapeEvent{N: 1}))
	assert.Equal(t, []string{"shadow"}, calls, "the shadowed base handler must not fire")
}

// indexedSubscriber's handler does not carry the "On" prefix, so only the
// index can find it.
type indexedSubscriber struct {
	calls *[]string
}

func (s *indexedSubscriber) HandleIndexed(e shapeEvent) {
	*s.calls = append(*s.calls, "indexed")
}

func newIndexedTable() *StaticIndex {
	return NewStaticIndex().Add(&DescriptorGroup{
		SubscriberType: typeOf[*indexedSubscriber](),
		Handlers: []IndexedHandler{{
			MethodName: "HandleIndexed",
			EventType:  typeOf[shapeEvent](),
			Options:    HandlerOptions{ThreadMode: Posting, Priority: 2},
		}},
	})
}

func TestIndexedDiscovery(t *testing.T) {
	bus := newTestBus(t, WithIndex(newIndexedTable()))

	var calls []string
	require.NoError(t, bus.Register(&indexedSubscriber{calls: &calls}))
	require.NoError(t, bus.Post(shapeEvent{N: 1}))
	assert.Equal(t, []string{"indexed"}, calls)
}

func TestIgnoreIndexesFallsBackToReflection(t *testing.T) {
	bus := newTestBus(t, WithIndex(newIndexedTable()), WithIgnoreIndexes(true))

	var calls []string
	err := bus.Register(&indexedSubscriber{calls: &calls})
	assert.ErrorIs(t, err, ErrNoHandlerMethods)
}

func TestIndexedDiscoveryRejectsStaleEntries(t *testing.T) {
	stale := NewStaticIndex().Add(&DescriptorGroup{
		SubscriberType: typeOf[*indexedSubscriber](),
		Handlers: []IndexedHandler{{
			MethodName: "HandleVanished",
			EventType:  typeOf[shapeEvent](),
		}},
	})
	bus := newTestBus(t, WithIndex(stale))

	var calls []string
	err := bus.Register(&indexedSubscriber{calls: &calls})
	assert.ErrorIs(t, err, ErrInternalState)
}

type optionedSubscriber struct {
	delivered int
}

func (s *optionedSubscriber) OnShapeEvent(e shapeEvent) {
	s.delivered++
}

func (s *optionedSubscriber) EventHandlerOptions() map[string]HandlerOptions {
	return map[string]HandlerOptions{
		"OnShapeEvent": {ThreadMode: Background, Priority: 7, Sticky: true},
	}
}

func TestHandlerOptionsProviderIsApplied(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.Register(&optionedSubscriber{}))
	infos := bus.Subscriptions()
	require.Len(t, infos, 1)
	assert.Equal(t, "background", infos[0].ThreadMode)
	assert.Equal(t, 7, infos[0].Priority)
	assert.True(t, infos[0].Sticky)
}

func TestDiscoveryCacheIsReusedAcrossInstances(t *testing.T) {
	bus := newTestBus(t)

	var first, second []string
	require.NoError(t, bus.Register(&allShapesSubscriber{calls: &first}))
	require.NoError(t, bus.Register(&allShapesSubscriber{calls: &second}))

	require.NoError(t, bus.Post(shapeEvent{N: 1}))
	assert.Len(t, first, 4)
	assert.Len(t, second, 4)

	bus.ClearCaches()
	require.NoError(t, bus.Register(&allShapesSubscriber{calls: &[]string{}}))
}
