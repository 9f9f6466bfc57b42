package eventbus

import (
	"errors"
)

// Event bus errors
var (
	// Registration errors
	ErrSubscriberNil        = errors.New("subscriber is nil")
	ErrSubscriberRegistered = errors.New("subscriber already registered for event type")
	ErrNoHandlerMethods     = errors.New("subscriber and its embedded types have no handler methods")
	ErrInvalidHandlerMethod = errors.New("handler method has an invalid shape")

	// Posting errors
	ErrNilEvent            = errors.New("event is nil")
	ErrIllegalCancellation = errors.New("event delivery can only be canceled from a posting-mode handler for the in-flight event")

	// Dispatcher errors
	ErrMainThreadUnreachable = errors.New("main thread rejected the wake-up callback")
	ErrQueueInvariant        = errors.New("pending-post queue invariant violated")
	ErrInternalState         = errors.New("internal event bus state error")

	// Lifecycle errors
	ErrDefaultInstalled = errors.New("default event bus already installed")
	ErrLoggerNil        = errors.New("logger cannot be nil")

	// Executor errors
	ErrExecutorQueueFull       = errors.New("executor task queue is full")
	ErrExecutorNotStarted      = errors.New("executor not started")
	ErrExecutorShutdownTimeout = errors.New("executor shutdown timed out")

	// Main-thread run loop errors
	ErrRunLoopStopped = errors.New("main-thread run loop stopped")

	// Configuration errors
	ErrUnsupportedConfigFormat = errors.New("unsupported config file format")
	ErrWatcherStarted          = errors.New("config watcher already started")
)
