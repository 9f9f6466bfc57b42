package eventbus

import (
	"reflect"
)

// IndexedHandler describes one handler method inside a DescriptorGroup.
// It mirrors the information discovery would otherwise extract by
// reflection. At registration the named method is still looked up on the
// subscriber type and its shape checked, so a stale entry fails
// registration.
type IndexedHandler struct {
	// MethodName is the exported handler method name on the subscriber.
	MethodName string

	// EventType is the type of the method's event parameter.
	EventType reflect.Type

	// Options carries thread mode, priority and sticky flag.
	Options HandlerOptions
}

// DescriptorGroup is the pre-computed handler table for one subscriber
// type. Groups form a chain through Parent so a type's handlers can be
// combined with those declared on its embedded types without walking the
// embedded fields at runtime.
type DescriptorGroup struct {
	// SubscriberType is the type the group describes, as registered
	// (usually a pointer type).
	SubscriberType reflect.Type

	// Handlers is the descriptor array for methods declared on this type.
	Handlers []IndexedHandler

	// Parent optionally points at the group of an embedded type whose
	// promoted handlers this type inherits.
	Parent *DescriptorGroup
}

// SubscriberIndex supplies pre-computed handler tables keyed by subscriber
// type. Indexes are consulted in the order they were added to the builder
// before discovery falls back to reflection, which lets generated or
// hand-written tables serve hosts where reflection is undesirable.
type SubscriberIndex interface {
	// HandlersFor returns the descriptor group for the given subscriber
	// type, or nil when the index has no entry for it.
	HandlersFor(subscriberType reflect.Type) *DescriptorGroup
}

// StaticIndex is a SubscriberIndex backed by a plain map. It is the
// building block for hand-written handler tables:
//
//	idx := eventbus.NewStaticIndex()
//	idx.Add(&eventbus.DescriptorGroup{
//	    SubscriberType: reflect.TypeOf(&AuditLog{}),
//	    Handlers: []eventbus.IndexedHandler{{
//	        MethodName: "OnOrderPlaced",
//	        EventType:  reflect.TypeOf(OrderPlaced{}),
//	        Options:    eventbus.HandlerOptions{ThreadMode: eventbus.Background},
//	    }},
//	})
type StaticIndex struct {
	groups map[reflect.Type]*DescriptorGroup
}

// NewStaticIndex creates an empty static index.
func NewStaticIndex() *StaticIndex {
	return &StaticIndex{groups: make(map[reflect.Type]*DescriptorGroup)}
}

// Add registers a descriptor group, replacing any previous group for the
// same subscriber type. Add is not safe for concurrent use with
// HandlersFor; populate the index before handing it to the builder.
func (i *StaticIndex) Add(group *DescriptorGroup) *StaticIndex {
	i.groups[group.SubscriberType] = group
	return i
}

// HandlersFor implements SubscriberIndex.
func (i *StaticIndex) HandlersFor(subscriberType reflect.Type) *DescriptorGroup {
	return i.groups[subscriberType]
}
