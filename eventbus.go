// Package eventbus provides an in-process publish/subscribe event bus.
// Typed events posted by publishers are routed to handler methods
// discovered on registered subscriber objects, either through reflection
// over a method-name marker or through pre-computed handler indexes.
// Each handler declares a thread mode controlling whether it runs inline
// on the posting goroutine, on the host's main thread, on a serial
// background worker, or fully asynchronously.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// EventBus routes posted events to the handler methods of registered
// subscribers. Instances are safe for concurrent use by any number of
// posting and registering goroutines. Most programs use a single bus,
// either a process-wide Default() or one built with New.
type EventBus struct {
	logger     Logger
	mainThread MainThreadSupport
	executor   Executor
	discovery  *discovery

	// mu is the bus monitor guarding the registry's structural state.
	// Per-event-type subscription slices are copy-on-write so posting
	// snapshots them under the monitor and iterates outside it.
	mu                       sync.Mutex
	subscriptionsByEventType map[reflect.Type][]*subscription
	typesBySubscriber        map[any][]reflect.Type
	interfaceTypes           []reflect.Type

	stickyMu     sync.Mutex
	stickyEvents map[reflect.Type]any

	mainDispatcher       *mainThreadDispatcher
	backgroundDispatcher *backgroundDispatcher
	asyncDispatcher      *asyncDispatcher

	eventInheritance             bool
	logSubscriberExceptions      bool
	logNoSubscriberEvents        bool
	sendSubscriberExceptionEvent bool
	sendNoSubscriberEvent        bool
	throwSubscriberException     bool

	counters busCounters
}

// postingState is the per-drain bookkeeping attached to the posting
// context: the FIFO of events awaiting drainage, the re-entrance guard,
// the cached main-thread check, and the fields CancelEventDelivery
// inspects. States are pooled across posts.
type postingState struct {
	eventQueue   []any
	isPosting    bool
	isMainThread bool
	canceled     bool

	event        any
	subscription *subscription
}

func (st *postingState) reset() {
	st.eventQueue = st.eventQueue[:0]
	st.isPosting = false
	st.isMainThread = false
	st.canceled = false
	st.event = nil
	st.subscription = nil
}

var postingStatePool = sync.Pool{
	New: func() any { return &postingState{} },
}

type postingStateKey struct{}

func postingStateFrom(ctx context.Context) *postingState {
	st, _ := ctx.Value(postingStateKey{}).(*postingState)
	return st
}

// Register subscribes all handler methods of the given subscriber.
// The subscriber must be a pointer (or another comparable reference
// type); its handler set is resolved once per type and cached. Sticky
// handlers immediately receive the retained event of their type, routed
// through their regular thread mode.
//
// Registering a subscriber that is already registered for one of its
// event types fails with ErrSubscriberRegistered; a subscriber type
// without any handler methods fails with ErrNoHandlerMethods.
func (b *EventBus) Register(subscriber any) error {
	if subscriber == nil {
		return ErrSubscriberNil
	}
	descriptors, err := b.discovery.handlersFor(subscriber)
	if err != nil {
		return err
	}

	sv := reflect.ValueOf(subscriber)
	type stickyReplay struct {
		sub   *subscription
		event any
	}
	var replays []stickyReplay

	b.mu.Lock()
	for _, desc := range descriptors {
		sub, err := b.subscribeLocked(subscriber, sv, desc)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		if desc.sticky {
			for _, event := range b.stickyEventsFor(desc.eventType) {
				replays = append(replays, stickyReplay{sub: sub, event: event})
			}
		}
	}
	b.mu.Unlock()

	// Sticky replay runs outside the bus monitor so handlers may freely
	// post or register. It does not participate in any posting-thread
	// state, so CancelEventDelivery from a replayed handler fails with
	// ErrIllegalCancellation.
	for _, r := range replays {
		b.counters.stickyReplays.Add(1)
		if err := b.postToSubscription(context.Background(), r.sub, r.event, b.isMainThread()); err != nil {
			b.logger.Error("Sticky replay failed", "method", r.sub.descriptor.methodID(), "error", err)
		}
	}
	return nil
}

func (b *EventBus) subscribeLocked(subscriber any, sv reflect.Value, desc *handlerDescriptor) (*subscription, error) {
	sub := newSubscription(subscriber, sv, desc)
	if !sub.invoker.IsValid() {
		return nil, fmt.Errorf("%w: cannot bind method %s on %s", ErrInternalState, desc.methodName, reflect.TypeOf(subscriber))
	}

	list := b.subscriptionsByEventType[desc.eventType]
	for _, existing := range list {
		if existing.equals(sub) {
			return nil, fmt.Errorf("%w: %s already handles %s", ErrSubscriberRegistered, reflect.TypeOf(subscriber), desc.eventType)
		}
	}

	// Insertion sort by descending priority, stable for equal priorities.
	idx := len(list)
	for i, existing := range list {
		if desc.priority > existing.descriptor.priority {
			idx = i
			break
		}
	}
	updated := make([]*subscription, 0, len(list)+1)
	updated = append(updated, list[:idx]...)
	updated = append(updated, sub)
	updated = append(updated, list[idx:]...)
	b.subscriptionsByEventType[desc.eventType] = updated

	if desc.eventType.Kind() == reflect.Interface {
		known := false
		for _, it := range b.interfaceTypes {
			if it == desc.eventType {
				known = true
				break
			}
		}
		if !known {
			b.interfaceTypes = append(b.interfaceTypes, desc.eventType)
		}
	}

	b.typesBySubscriber[subscriber] = append(b.typesBySubscriber[subscriber], desc.eventType)
	return sub, nil
}

// stickyEventsFor returns the retained events a new subscription for the
// given handler event type should be seeded with. With event inheritance
// enabled every sticky entry whose type is delivered to that handler type
// qualifies; without it only the exact type.
func (b *EventBus) stickyEventsFor(handlerType reflect.Type) []any {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	if !b.eventInheritance {
		if event, ok := b.stickyEvents[handlerType]; ok {
			return []any{event}
		}
		return nil
	}
	var events []any
	for storedType, event := range b.stickyEvents {
		if eventTypeMatches(storedType, handlerType) {
			events = append(events, event)
		}
	}
	return events
}

// eventTypeMatches reports whether an event of concreteType is delivered
// to handlers declared for handlerType.
func eventTypeMatches(concreteType, handlerType reflect.Type) bool {
	if concreteType == handlerType {
		return true
	}
	if handlerType.Kind() == reflect.Interface {
		return concreteType.Implements(handlerType)
	}
	for _, t := range lookupEventTypes(concreteType) {
		if t == handlerType {
			return true
		}
	}
	return false
}

// Unregister removes all subscriptions of the given subscriber. Queued
// deliveries that already hold one of its subscriptions observe the
// cleared active flag and drop. Unregistering a subscriber that was never
// registered logs a warning and is otherwise a no-op.
func (b *EventBus) Unregister(subscriber any) error {
	if subscriber == nil {
		return ErrSubscriberNil
	}
	b.mu.Lock()
	types, ok := b.typesBySubscriber[subscriber]
	if !ok {
		b.mu.Unlock()
		b.logger.Warn("Subscriber to unregister was not registered", "subscriberType", reflect.TypeOf(subscriber).String())
		return nil
	}
	for _, eventType := range types {
		b.unsubscribeByEventTypeLocked(subscriber, eventType)
	}
	delete(b.typesBySubscriber, subscriber)
	b.mu.Unlock()
	return nil
}

func (b *EventBus) unsubscribeByEventTypeLocked(subscriber any, eventType reflect.Type) {
	list := b.subscriptionsByEventType[eventType]
	updated := make([]*subscription, 0, len(list))
	for _, sub := range list {
		if sub.subscriber == subscriber {
			sub.active.Store(false)
			continue
		}
		updated = append(updated, sub)
	}
	if len(updated) == 0 {
		delete(b.subscriptionsByEventType, eventType)
	} else {
		b.subscriptionsByEventType[eventType] = updated
	}
}

// IsRegistered reports whether the subscriber currently has any
// subscriptions on the bus.
func (b *EventBus) IsRegistered(subscriber any) bool {
	if subscriber == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.typesBySubscriber[subscriber]
	return ok
}

// Post publishes the event to all matching subscriptions.
// Equivalent to PostContext with a background context.
func (b *EventBus) Post(event any) error {
	return b.PostContext(context.Background(), event)
}

// PostContext publishes the event to all matching subscriptions.
//
// When called from inside an inline handler with that handler's context,
// the event is appended to the in-flight drain's FIFO and delivered after
// the current handler returns; otherwise the calling goroutine owns a new
// drain and all inline deliveries complete before PostContext returns.
//
// With the throw-subscriber-exception option enabled, the first inline
// handler failure aborts the drain and is returned.
func (b *EventBus) PostContext(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}

	if st := postingStateFrom(ctx); st != nil && st.isPosting {
		st.eventQueue = append(st.eventQueue, event)
		b.counters.posted.Add(1)
		return nil
	}

	st := postingStatePool.Get().(*postingState)
	if st.isPosting || st.canceled {
		postingStatePool.Put(&postingState{})
		return fmt.Errorf("%w: posting state was not reset", ErrInternalState)
	}
	st.eventQueue = append(st.eventQueue, event)
	st.isPosting = true
	st.isMainThread = b.isMainThread()
	b.counters.posted.Add(1)

	ctx = context.WithValue(ctx, postingStateKey{}, st)

	// The state is reset and returned on every exit path so an aborted
	// drain cannot leak posting flags into the pool.
	defer func() {
		st.reset()
		postingStatePool.Put(st)
	}()

	for len(st.eventQueue) > 0 {
		event := st.eventQueue[0]
		st.eventQueue = st.eventQueue[1:]
		if err := b.postSingleEvent(ctx, st, event); err != nil {
			return err
		}
	}
	return nil
}

// PostSticky retains the event as the sticky value of its type, then
// posts it. Equivalent to PostStickyContext with a background context.
func (b *EventBus) PostSticky(event any) error {
	return b.PostStickyContext(context.Background(), event)
}

// PostStickyContext retains the event as the sticky value of its type,
// then posts it with PostContext semantics.
func (b *EventBus) PostStickyContext(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	b.stickyMu.Lock()
	b.stickyEvents[reflect.TypeOf(event)] = event
	b.stickyMu.Unlock()
	// Posting after releasing the sticky monitor; a racing subscriber may
	// receive the event twice (replay plus delivery) but never miss it.
	return b.PostContext(ctx, event)
}

// CancelEventDelivery stops the fan-out of the event currently being
// delivered. It is only valid on the posting goroutine, with the context
// passed to the in-flight Posting-mode handler, for that handler's event;
// any other use fails with ErrIllegalCancellation. Events of
// non-comparable types cannot be matched and are likewise rejected.
func (b *EventBus) CancelEventDelivery(ctx context.Context, event any) error {
	st := postingStateFrom(ctx)
	if st == nil || !st.isPosting {
		return fmt.Errorf("%w: no event delivery in flight", ErrIllegalCancellation)
	}
	if event == nil || !sameEvent(st.event, event) {
		return fmt.Errorf("%w: only the currently handled event may be canceled", ErrIllegalCancellation)
	}
	if st.subscription == nil || st.subscription.descriptor.threadMode != Posting {
		return fmt.Errorf("%w: handler is not in posting mode", ErrIllegalCancellation)
	}
	st.canceled = true
	return nil
}

func sameEvent(a, c any) bool {
	if a == nil || c == nil {
		return false
	}
	ta, tc := reflect.TypeOf(a), reflect.TypeOf(c)
	if ta != tc || !ta.Comparable() {
		return false
	}
	return a == c
}

// GetStickyEvent returns the retained sticky event of the given type, or
// nil if there is none.
func (b *EventBus) GetStickyEvent(eventType reflect.Type) any {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	return b.stickyEvents[eventType]
}

// RemoveStickyEvent removes and returns the retained sticky event of the
// given type, or nil if there was none.
func (b *EventBus) RemoveStickyEvent(eventType reflect.Type) any {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	event, ok := b.stickyEvents[eventType]
	if ok {
		delete(b.stickyEvents, eventType)
	}
	return event
}

// RemoveStickyEventValue removes the retained sticky event equal to the
// given value. It reports whether the value was retained and removed;
// a different retained event of the same type is left in place.
func (b *EventBus) RemoveStickyEventValue(event any) bool {
	if event == nil {
		return false
	}
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	eventType := reflect.TypeOf(event)
	stored, ok := b.stickyEvents[eventType]
	if !ok || !sameEvent(stored, event) {
		return false
	}
	delete(b.stickyEvents, eventType)
	return true
}

// RemoveAllStickyEvents clears the sticky cache. Calling it on an empty
// cache is a no-op.
func (b *EventBus) RemoveAllStickyEvents() {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	clear(b.stickyEvents)
}

// StickyEvent returns the bus's retained sticky event of type T.
func StickyEvent[T any](b *EventBus) (T, bool) {
	event := b.GetStickyEvent(reflect.TypeOf((*T)(nil)).Elem())
	if event == nil {
		var zero T
		return zero, false
	}
	typed, ok := event.(T)
	return typed, ok
}

// RemoveSticky removes and returns the bus's retained sticky event of
// type T.
func RemoveSticky[T any](b *EventBus) (T, bool) {
	event := b.RemoveStickyEvent(reflect.TypeOf((*T)(nil)).Elem())
	if event == nil {
		var zero T
		return zero, false
	}
	typed, ok := event.(T)
	return typed, ok
}

// HasSubscriberForEvent reports whether posting an event of the given
// type would currently reach at least one subscription, honoring event
// inheritance when enabled.
func (b *EventBus) HasSubscriberForEvent(eventType reflect.Type) bool {
	if eventType == nil {
		return false
	}
	types := b.deliveryTypes(eventType)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		if len(b.subscriptionsByEventType[t]) > 0 {
			return true
		}
	}
	return false
}

// Subscriptions returns a snapshot of all current subscriptions, for
// debugging and administrative interfaces.
func (b *EventBus) Subscriptions() []SubscriptionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	var infos []SubscriptionInfo
	for _, list := range b.subscriptionsByEventType {
		for _, sub := range list {
			infos = append(infos, sub.info())
		}
	}
	return infos
}

// StickyEventTypes returns the type names of currently retained sticky
// events.
func (b *EventBus) StickyEventTypes() []string {
	b.stickyMu.Lock()
	defer b.stickyMu.Unlock()
	names := make([]string, 0, len(b.stickyEvents))
	for eventType := range b.stickyEvents {
		names = append(names, eventType.String())
	}
	return names
}

// ClearCaches drops the handler-discovery cache and the event-type
// closure cache. Test support; production code never needs it.
func (b *EventBus) ClearCaches() {
	b.discovery.clearCache()
	clearEventTypesCache()
}

// isMainThread treats hosts without main-thread support as always on the
// main thread, which collapses the routing table to its third column.
func (b *EventBus) isMainThread() bool {
	return b.mainThread == nil || b.mainThread.IsMainThread()
}

// deliveryTypes returns the event types an event of the given dynamic
// type is delivered under: the type itself when inheritance is disabled,
// otherwise its cached embedded closure plus every registered interface
// event type the event satisfies.
func (b *EventBus) deliveryTypes(eventType reflect.Type) []reflect.Type {
	if !b.eventInheritance {
		return []reflect.Type{eventType}
	}
	types := lookupEventTypes(eventType)

	b.mu.Lock()
	ifaces := b.interfaceTypes
	b.mu.Unlock()
	if len(ifaces) == 0 {
		return types
	}

	result := types
	extended := false
	for _, iface := range ifaces {
		if !eventType.Implements(iface) {
			continue
		}
		if !extended {
			result = append(make([]reflect.Type, 0, len(types)+2), types...)
			extended = true
		}
		result = append(result, iface)
	}
	return result
}

func (b *EventBus) postSingleEvent(ctx context.Context, st *postingState, event any) error {
	eventType := reflect.TypeOf(event)
	found := false
	for _, t := range b.deliveryTypes(eventType) {
		matched, err := b.postSingleEventForEventType(ctx, st, event, t)
		found = found || matched
		if err != nil {
			return err
		}
	}

	if !found {
		b.counters.noSubscriber.Add(1)
		if b.logNoSubscriberEvents {
			b.logger.Debug("No subscribers registered for event", "eventType", eventType.String())
		}
		switch event.(type) {
		case NoSubscriberEvent, SubscriberExceptionEvent:
		default:
			if b.sendNoSubscriberEvent {
				// Appended to this drain's FIFO: observers of the signal
				// event run after the current event completes.
				return b.PostContext(ctx, NoSubscriberEvent{Bus: b, Event: event})
			}
		}
	}
	return nil
}

func (b *EventBus) postSingleEventForEventType(ctx context.Context, st *postingState, event any, eventType reflect.Type) (bool, error) {
	b.mu.Lock()
	subscriptions := b.subscriptionsByEventType[eventType]
	b.mu.Unlock()
	if len(subscriptions) == 0 {
		return false, nil
	}

	for _, sub := range subscriptions {
		st.event = event
		st.subscription = sub
		err := b.postToSubscription(ctx, sub, event, st.isMainThread)
		// Cancellation is evaluated after the invocation; a canceled
		// fan-out skips the remaining subscriptions of this event type.
		aborted := st.canceled
		st.event = nil
		st.subscription = nil
		st.canceled = false
		if err != nil {
			return true, err
		}
		if aborted {
			break
		}
	}
	return true, nil
}

// postToSubscription applies the thread-mode routing table.
func (b *EventBus) postToSubscription(ctx context.Context, sub *subscription, event any, isMainThread bool) error {
	switch sub.descriptor.threadMode {
	case Posting:
		return b.invokeInline(ctx, sub, event)
	case Main:
		if b.mainThread == nil || isMainThread {
			return b.invokeInline(ctx, sub, event)
		}
		return b.mainDispatcher.enqueue(sub, event)
	case MainOrdered:
		if b.mainThread == nil {
			return b.invokeInline(ctx, sub, event)
		}
		return b.mainDispatcher.enqueue(sub, event)
	case Background:
		if b.mainThread == nil || isMainThread {
			return b.backgroundDispatcher.enqueue(sub, event)
		}
		return b.invokeInline(ctx, sub, event)
	case Async:
		return b.asyncDispatcher.enqueue(sub, event)
	default:
		return fmt.Errorf("%w: unknown thread mode %d", ErrInternalState, sub.descriptor.threadMode)
	}
}

// invokeInline runs the handler on the calling goroutine and routes any
// failure through the configured exception handling.
func (b *EventBus) invokeInline(ctx context.Context, sub *subscription, event any) error {
	if !sub.active.Load() {
		b.counters.dropped.Add(1)
		return nil
	}
	if err := b.callHandler(ctx, sub, event); err != nil {
		return b.handleHandlerError(ctx, sub, event, err)
	}
	b.counters.deliveredInline.Add(1)
	return nil
}

// invokePending runs a dequeued delivery on a dispatcher goroutine.
// Failures are handled but never propagate to the worker pool.
func (b *EventBus) invokePending(p *pendingPost) {
	sub, event := p.subscription, p.event
	releasePendingPost(p)
	if !sub.active.Load() {
		b.counters.dropped.Add(1)
		return
	}
	if err := b.callHandler(context.Background(), sub, event); err != nil {
		if herr := b.handleHandlerError(context.Background(), sub, event, err); herr != nil {
			b.logger.Error("Handler failed", "method", sub.descriptor.methodID(), "error", herr)
		}
		return
	}
	b.counters.countDelivered(sub.descriptor.threadMode)
}

// callHandler performs the bound method call, converting the event value
// to the handler's parameter type (embedded extraction for inherited
// struct types, plain assignment otherwise) and turning panics into
// errors.
func (b *EventBus) callHandler(ctx context.Context, sub *subscription, event any) (err error) {
	desc := sub.descriptor
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", desc.methodID(), r)
		}
	}()

	if !sub.invoker.IsValid() {
		return fmt.Errorf("%w: method %s is not invocable", ErrInternalState, desc.methodID())
	}
	arg, ok := eventArgument(event, desc.eventType)
	if !ok {
		return fmt.Errorf("%w: cannot convert %T to %s for %s", ErrInternalState, event, desc.eventType, desc.methodID())
	}

	var results []reflect.Value
	if desc.hasContext {
		results = sub.invoker.Call([]reflect.Value{reflect.ValueOf(ctx), arg})
	} else {
		results = sub.invoker.Call([]reflect.Value{arg})
	}
	if desc.returnsError && !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// eventArgument converts the posted event value into the handler's
// parameter type. Beyond plain assignability it supports delivering a
// pointer event to a value handler and extracting an embedded type when
// the handler was matched through the event's embedded closure.
func eventArgument(event any, target reflect.Type) (reflect.Value, bool) {
	ev := reflect.ValueOf(event)
	if ev.Type().AssignableTo(target) {
		return ev, true
	}
	if ev.Kind() == reflect.Pointer && !ev.IsNil() && ev.Elem().Type().AssignableTo(target) {
		return ev.Elem(), true
	}

	s := ev
	if s.Kind() == reflect.Pointer {
		if s.IsNil() {
			return reflect.Value{}, false
		}
		s = s.Elem()
	}
	if s.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	return findEmbeddedValue(s, target)
}

func findEmbeddedValue(s reflect.Value, target reflect.Type) (reflect.Value, bool) {
	t := s.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.Anonymous {
			continue
		}
		fv := s.Field(i)
		switch {
		case field.Type == target:
			return fv, true
		case target.Kind() == reflect.Pointer && field.Type == target.Elem() && fv.CanAddr():
			return fv.Addr(), true
		case field.Type.Kind() == reflect.Pointer && field.Type.Elem() == target && !fv.IsNil():
			return fv.Elem(), true
		}
	}
	// Second pass: recurse one level at a time, breadth before depth.
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.Anonymous {
			continue
		}
		fv := s.Field(i)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		if fv.Kind() != reflect.Struct {
			continue
		}
		if found, ok := findEmbeddedValue(fv, target); ok {
			return found, ok
		}
	}
	return reflect.Value{}, false
}

// handleHandlerError applies the configured combination of logging,
// signal-event posting and re-raising for a failed handler call. For a
// failure inside a handler of SubscriberExceptionEvent itself only
// logging happens, which breaks the recursion.
func (b *EventBus) handleHandlerError(ctx context.Context, sub *subscription, event any, err error) error {
	b.counters.handlerFailures.Add(1)

	if _, isExceptionEvent := event.(SubscriberExceptionEvent); isExceptionEvent {
		if b.logSubscriberExceptions {
			b.logger.Error("SubscriberExceptionEvent handler failed, not re-posting",
				"method", sub.descriptor.methodID(), "error", err)
		}
		return nil
	}

	if b.throwSubscriberException {
		return fmt.Errorf("invoking handler %s failed: %w", sub.descriptor.methodID(), err)
	}
	if b.logSubscriberExceptions {
		b.logger.Error("Handler failed",
			"method", sub.descriptor.methodID(),
			"eventType", reflect.TypeOf(event).String(),
			"error", err)
	}
	if b.sendSubscriberExceptionEvent {
		exceptionEvent := SubscriberExceptionEvent{
			Bus:               b,
			Err:               err,
			CausingEvent:      event,
			CausingSubscriber: sub.subscriber,
		}
		if postErr := b.PostContext(ctx, exceptionEvent); postErr != nil {
			b.logger.Error("Posting SubscriberExceptionEvent failed", "error", postErr)
		}
	}
	return nil
}
