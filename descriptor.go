package eventbus

import (
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HandlerOptions customizes delivery for a single handler method: the
// thread mode, the priority within that event type's delivery order
// (higher runs earlier, default 0) and whether the handler should receive
// the sticky event of its type upon registration.
type HandlerOptions struct {
	ThreadMode ThreadMode
	Priority   int
	Sticky     bool
}

// HandlerOptionsProvider is an optional interface subscriber types can
// implement to override delivery options for individual handler methods
// discovered by reflection. The returned map is keyed by method name;
// methods without an entry keep the defaults (Posting, priority 0,
// non-sticky).
//
// The provider is consulted once per subscriber type, on the first
// registration, and the result is cached with the type's descriptors.
// The returned options must therefore not depend on per-instance state.
type HandlerOptionsProvider interface {
	EventHandlerOptions() map[string]HandlerOptions
}

// handlerDescriptor is the immutable description of a single handler
// method on a subscriber type. Descriptors are built once per subscriber
// type by discovery and shared by all registrations of that type.
type handlerDescriptor struct {
	// targetType is the type the method was found on: for reflected
	// handlers the type whose method set was reflected (the registered
	// subscriber type, or an embedded type reached by the index walk), for
	// indexed handlers the declaring type.
	targetType reflect.Type

	methodName string
	eventType  reflect.Type
	threadMode ThreadMode
	priority   int
	sticky     bool

	// hasContext and returnsError record the method shape so invocation
	// can build the argument list and pick up the error result without
	// re-inspecting the method type.
	hasContext   bool
	returnsError bool

	// signature is methodName + ">" + eventType, used for de-duplication
	// across the embedded-type walk.
	signature string
}

func (d *handlerDescriptor) methodID() string {
	return d.targetType.String() + "." + d.methodName
}

// subscription binds a handler descriptor to a concrete subscriber
// instance. The active flag is true from registration until the owning
// subscriber is unregistered; queued deliveries that race with
// unregistration observe it and drop silently.
type subscription struct {
	id         string
	subscriber any
	descriptor *handlerDescriptor

	// invoker is the bound method value, resolved once at registration.
	invoker reflect.Value

	active    atomic.Bool
	createdAt time.Time
}

func newSubscription(subscriber any, sv reflect.Value, d *handlerDescriptor) *subscription {
	s := &subscription{
		id:         uuid.New().String(),
		subscriber: subscriber,
		descriptor: d,
		invoker:    sv.MethodByName(d.methodName),
		createdAt:  time.Now(),
	}
	s.active.Store(true)
	return s
}

// equals reports whether the other subscription binds the same subscriber
// instance to the same method signature. Subscriber comparison is by
// identity, which for the usual pointer subscribers is pointer equality.
func (s *subscription) equals(other *subscription) bool {
	return s.subscriber == other.subscriber && s.descriptor.signature == other.descriptor.signature
}

// SubscriptionInfo describes a registered subscription for debugging and
// administrative interfaces.
type SubscriptionInfo struct {
	// ID is the unique identifier assigned at registration
	ID string `json:"id"`

	// SubscriberType is the Go type of the registered subscriber
	SubscriberType string `json:"subscriberType"`

	// Method is the handler method name
	Method string `json:"method"`

	// EventType is the Go type of events the handler receives
	EventType string `json:"eventType"`

	// ThreadMode is the delivery mode for this handler
	ThreadMode string `json:"threadMode"`

	// Priority orders delivery within the event type
	Priority int `json:"priority"`

	// Sticky indicates the handler receives replayed sticky events
	Sticky bool `json:"sticky"`

	// RegisteredAt indicates when the subscription was created
	RegisteredAt time.Time `json:"registeredAt"`
}

func (s *subscription) info() SubscriptionInfo {
	return SubscriptionInfo{
		ID:             s.id,
		SubscriberType: reflect.TypeOf(s.subscriber).String(),
		Method:         s.descriptor.methodName,
		EventType:      s.descriptor.eventType.String(),
		ThreadMode:     s.descriptor.threadMode.String(),
		Priority:       s.descriptor.priority,
		Sticky:         s.descriptor.sticky,
		RegisteredAt:   s.createdAt,
	}
}
