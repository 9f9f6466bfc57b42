// CloudEvents integration for the event bus. Bus events stay plain Go
// values in-process; this file provides the envelope conversion used when
// events or bus signals are handed to external systems expecting the
// CloudEvents specification.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a new CloudEvent with the specified parameters.
// This is a convenience function for creating properly formatted
// CloudEvents.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID generates a unique identifier for CloudEvents using
// UUIDv7. UUIDv7 includes timestamp information which provides
// time-ordered uniqueness.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates that a CloudEvent conforms to the
// specification.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// ToCloudEvent wraps a bus event into a CloudEvents envelope. Bus signal
// events map to their dedicated event types; any other event becomes an
// EventTypeMessagePosted envelope carrying the event value as JSON data.
// The Go type of the original event is recorded in the "eventtype"
// extension (CloudEvents extension names permit lower-case alphanumerics
// only).
func ToCloudEvent(event any, source string) cloudevents.Event {
	switch e := event.(type) {
	case NoSubscriberEvent:
		return NewCloudEvent(EventTypeNoSubscriber, source, map[string]interface{}{
			"eventType": reflect.TypeOf(e.Event).String(),
		}, map[string]interface{}{
			"eventtype": reflect.TypeOf(e.Event).String(),
		})
	case SubscriberExceptionEvent:
		return NewCloudEvent(EventTypeHandlerFailed, source, map[string]interface{}{
			"eventType":      reflect.TypeOf(e.CausingEvent).String(),
			"subscriberType": reflect.TypeOf(e.CausingSubscriber).String(),
			"error":          e.Err.Error(),
		}, map[string]interface{}{
			"eventtype": reflect.TypeOf(e.CausingEvent).String(),
		})
	case ConfigChangedEvent:
		return NewCloudEvent(EventTypeConfigChanged, source, map[string]interface{}{
			"path": e.Path,
		}, nil)
	default:
		return NewCloudEvent(EventTypeMessagePosted, source, event, map[string]interface{}{
			"eventtype": reflect.TypeOf(event).String(),
		})
	}
}

// CloudEventSink receives converted CloudEvents from a forwarder.
type CloudEventSink func(ctx context.Context, event cloudevents.Event) error

// CloudEventForwarder is a bus subscriber that republishes the bus's
// signal events as CloudEvents to a sink, giving external observability
// pipelines a standardized view of unmatched events and handler
// failures. Register it like any other subscriber:
//
//	forwarder := eventbus.NewCloudEventForwarder("orders-bus", sink)
//	if err := bus.Register(forwarder); err != nil { ... }
type CloudEventForwarder struct {
	source string
	sink   CloudEventSink
	logger Logger
}

// NewCloudEventForwarder creates a forwarder emitting CloudEvents with
// the given source attribute.
func NewCloudEventForwarder(source string, sink CloudEventSink) *CloudEventForwarder {
	return &CloudEventForwarder{source: source, sink: sink}
}

// OnNoSubscriber forwards unmatched-event signals.
func (f *CloudEventForwarder) OnNoSubscriber(ctx context.Context, event NoSubscriberEvent) error {
	return f.sink(ctx, ToCloudEvent(event, f.source))
}

// OnSubscriberException forwards handler-failure signals.
func (f *CloudEventForwarder) OnSubscriberException(ctx context.Context, event SubscriberExceptionEvent) error {
	return f.sink(ctx, ToCloudEvent(event, f.source))
}
