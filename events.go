package eventbus

// NoSubscriberEvent is posted back on the bus when an event found no
// matching subscription and the bus is configured to report that. The bus
// never posts a NoSubscriberEvent about one of its own signal events.
type NoSubscriberEvent struct {
	// Bus is the event bus the original event was posted on.
	Bus *EventBus

	// Event is the original event that went unmatched.
	Event any
}

// SubscriberExceptionEvent is posted when a handler fails, either by
// returning a non-nil error or by panicking, and the bus is configured to
// report that. A failure inside a handler of SubscriberExceptionEvent
// itself is only logged, never re-posted.
type SubscriberExceptionEvent struct {
	// Bus is the event bus the failure occurred on.
	Bus *EventBus

	// Err is the handler's error, or the recovered panic wrapped as one.
	Err error

	// CausingEvent is the event whose delivery failed.
	CausingEvent any

	// CausingSubscriber is the subscriber whose handler failed.
	CausingSubscriber any
}

// ConfigChangedEvent is posted by a ConfigWatcher when the watched bus
// configuration file changes and reloads cleanly.
type ConfigChangedEvent struct {
	// Path is the configuration file that changed.
	Path string

	// Config is the newly loaded configuration.
	Config *Config
}

// Event type constants for the CloudEvents bridge.
// Following CloudEvents specification reverse domain notation.
const (
	// Message events
	EventTypeMessagePosted = "com.eventbus.message.posted"

	// Signal events
	EventTypeNoSubscriber  = "com.eventbus.message.nosubscriber"
	EventTypeHandlerFailed = "com.eventbus.handler.failed"

	// Configuration events
	EventTypeConfigChanged = "com.eventbus.config.changed"
)
