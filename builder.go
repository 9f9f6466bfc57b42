package eventbus

import (
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Option represents a functional option for configuring an event bus.
type Option func(*Builder) error

// Builder accumulates configuration and constructs event buses.
// Zero or more options are applied on top of the documented defaults;
// Build may be called repeatedly, each call producing an independent bus.
type Builder struct {
	logger                       Logger
	executor                     Executor
	mainThread                   MainThreadSupport
	indexes                      []SubscriberIndex
	handlerMethodPrefix          string
	eventInheritance             bool
	ignoreIndexes                bool
	strictMethodVerification     bool
	logSubscriberExceptions      bool
	logNoSubscriberEvents        bool
	sendSubscriberExceptionEvent bool
	sendNoSubscriberEvent        bool
	throwSubscriberException     bool
	mainThreadSlice              time.Duration
	backgroundPollTimeout        time.Duration
}

// NewBuilder creates a builder with the default configuration: handler
// failures and unmatched events are logged and reported as signal events,
// event inheritance is on, discovery uses the "On" method prefix, and
// deliveries run on per-task goroutines with no main-thread support.
func NewBuilder() *Builder {
	return &Builder{
		handlerMethodPrefix:          DefaultHandlerMethodPrefix,
		eventInheritance:             true,
		logSubscriberExceptions:      true,
		logNoSubscriberEvents:        true,
		sendSubscriberExceptionEvent: true,
		sendNoSubscriberEvent:        true,
		mainThreadSlice:              defaultMainThreadSlice,
		backgroundPollTimeout:        defaultBackgroundPollTimeout,
	}
}

// New creates a new event bus with the provided options. This is the main
// entry point for embedding a bus:
//
//	bus, err := eventbus.New(
//	    eventbus.WithLogger(logger),
//	    eventbus.WithMainThreadSupport(loop),
//	)
func New(opts ...Option) (*EventBus, error) {
	builder := NewBuilder()
	for _, opt := range opts {
		if err := opt(builder); err != nil {
			return nil, err
		}
	}
	return builder.Build()
}

// Build constructs the configured event bus.
func (b *Builder) Build() (*EventBus, error) {
	logger := b.logger
	if logger == nil {
		logger = NewSlogLogger(slog.Default())
	}
	executor := b.executor
	if executor == nil {
		executor = goroutineExecutor{}
	}

	bus := &EventBus{
		logger:                       logger,
		mainThread:                   b.mainThread,
		executor:                     executor,
		discovery:                    newDiscovery(b.handlerMethodPrefix, b.strictMethodVerification, b.indexes, b.ignoreIndexes),
		subscriptionsByEventType:     make(map[reflect.Type][]*subscription),
		typesBySubscriber:            make(map[any][]reflect.Type),
		stickyEvents:                 make(map[reflect.Type]any),
		eventInheritance:             b.eventInheritance,
		logSubscriberExceptions:      b.logSubscriberExceptions,
		logNoSubscriberEvents:        b.logNoSubscriberEvents,
		sendSubscriberExceptionEvent: b.sendSubscriberExceptionEvent,
		sendNoSubscriberEvent:        b.sendNoSubscriberEvent,
		throwSubscriberException:     b.throwSubscriberException,
	}
	bus.mainDispatcher = newMainThreadDispatcher(bus, b.mainThread, b.mainThreadSlice)
	bus.backgroundDispatcher = newBackgroundDispatcher(bus, executor, b.backgroundPollTimeout)
	bus.asyncDispatcher = newAsyncDispatcher(bus, executor)
	return bus, nil
}

// WithLogger sets the logger for the bus.
func WithLogger(logger Logger) Option {
	return func(b *Builder) error {
		if logger == nil {
			return ErrLoggerNil
		}
		b.logger = logger
		return nil
	}
}

// WithExecutor sets the worker pool used by the background and async
// dispatchers. The default runs each task on its own goroutine.
func WithExecutor(executor Executor) Option {
	return func(b *Builder) error {
		b.executor = executor
		return nil
	}
}

// WithMainThreadSupport sets the host platform adapter for main-thread
// delivery. Without one, Main and MainOrdered handlers run inline.
func WithMainThreadSupport(mainThread MainThreadSupport) Option {
	return func(b *Builder) error {
		b.mainThread = mainThread
		return nil
	}
}

// WithIndex appends a subscriber index consulted by handler discovery
// before reflection. Indexes are consulted in the order added.
func WithIndex(index SubscriberIndex) Option {
	return func(b *Builder) error {
		b.indexes = append(b.indexes, index)
		return nil
	}
}

// WithIgnoreIndexes forces discovery to skip all added indexes and use
// reflection even for indexed subscriber types. Default false.
func WithIgnoreIndexes(ignore bool) Option {
	return func(b *Builder) error {
		b.ignoreIndexes = ignore
		return nil
	}
}

// WithEventInheritance controls whether an event is also delivered to
// handlers of its embedded types and of interfaces it implements.
// Default true.
func WithEventInheritance(enabled bool) Option {
	return func(b *Builder) error {
		b.eventInheritance = enabled
		return nil
	}
}

// WithStrictMethodVerification makes discovery fail registration when a
// method carrying the handler prefix has an invalid shape, instead of
// skipping it. Default false.
func WithStrictMethodVerification(strict bool) Option {
	return func(b *Builder) error {
		b.strictMethodVerification = strict
		return nil
	}
}

// WithHandlerMethodPrefix overrides the method-name marker used by
// reflective discovery. Default "On".
func WithHandlerMethodPrefix(prefix string) Option {
	return func(b *Builder) error {
		b.handlerMethodPrefix = prefix
		return nil
	}
}

// WithLogSubscriberExceptions controls logging of handler failures.
// Default true.
func WithLogSubscriberExceptions(enabled bool) Option {
	return func(b *Builder) error {
		b.logSubscriberExceptions = enabled
		return nil
	}
}

// WithLogNoSubscriberEvents controls logging of unmatched events.
// Default true.
func WithLogNoSubscriberEvents(enabled bool) Option {
	return func(b *Builder) error {
		b.logNoSubscriberEvents = enabled
		return nil
	}
}

// WithSendSubscriberExceptionEvent controls posting of
// SubscriberExceptionEvent on handler failure. Default true.
func WithSendSubscriberExceptionEvent(enabled bool) Option {
	return func(b *Builder) error {
		b.sendSubscriberExceptionEvent = enabled
		return nil
	}
}

// WithSendNoSubscriberEvent controls posting of NoSubscriberEvent on
// unmatched events. Default true.
func WithSendNoSubscriberEvent(enabled bool) Option {
	return func(b *Builder) error {
		b.sendNoSubscriberEvent = enabled
		return nil
	}
}

// WithThrowSubscriberException re-raises inline handler failures through
// Post instead of handling them. Intended for tests and strict hosts;
// default false.
func WithThrowSubscriberException(enabled bool) Option {
	return func(b *Builder) error {
		b.throwSubscriberException = enabled
		return nil
	}
}

// WithMainThreadSlice sets the cooperative time slice after which a
// main-thread drain callback yields and reschedules itself.
// Default 10ms.
func WithMainThreadSlice(slice time.Duration) Option {
	return func(b *Builder) error {
		b.mainThreadSlice = slice
		return nil
	}
}

// WithBackgroundPollTimeout sets how long the background drainer idles on
// an empty queue before releasing its worker. Default 1s.
func WithBackgroundPollTimeout(timeout time.Duration) Option {
	return func(b *Builder) error {
		b.backgroundPollTimeout = timeout
		return nil
	}
}

// The process-wide default bus. Built lazily with default options on
// first use, or installed explicitly once via InstallDefault.
var (
	defaultBusMu sync.Mutex
	defaultBus   *EventBus
)

// Default returns the process-wide default event bus, creating it with
// default options on first use.
func Default() *EventBus {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()
	if defaultBus == nil {
		bus, err := New()
		if err != nil {
			// Build with defaults cannot fail; keep the invariant visible.
			panic(err)
		}
		defaultBus = bus
	}
	return defaultBus
}

// InstallDefault makes the given bus the process-wide default. It must be
// called before the first use of Default; once a default bus exists a
// second install fails with ErrDefaultInstalled.
func InstallDefault(bus *EventBus) error {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()
	if defaultBus != nil {
		return ErrDefaultInstalled
	}
	defaultBus = bus
	return nil
}

// ResetDefault discards the process-wide default bus so the next Default
// or InstallDefault starts fresh. Test support.
func ResetDefault() {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()
	defaultBus = nil
}
