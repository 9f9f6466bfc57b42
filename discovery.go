package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// DefaultHandlerMethodPrefix is the method-name marker used by reflective
// handler discovery when the builder does not override it.
const DefaultHandlerMethodPrefix = "On"

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// discovery resolves subscriber types to their handler descriptor lists.
// Results are cached per subscriber type; cached lists are immutable after
// publication and shared by every registration of that type.
type discovery struct {
	prefix        string
	strict        bool
	indexes       []SubscriberIndex
	ignoreIndexes bool

	cache sync.Map // reflect.Type -> []*handlerDescriptor
}

func newDiscovery(prefix string, strict bool, indexes []SubscriberIndex, ignoreIndexes bool) *discovery {
	if prefix == "" {
		prefix = DefaultHandlerMethodPrefix
	}
	return &discovery{
		prefix:        prefix,
		strict:        strict,
		indexes:       indexes,
		ignoreIndexes: ignoreIndexes,
	}
}

// handlersFor returns the descriptor list for the subscriber's type.
// The subscriber instance is only consulted on a cache miss, to query an
// optional HandlerOptionsProvider implementation.
func (d *discovery) handlersFor(subscriber any) ([]*handlerDescriptor, error) {
	subscriberType := reflect.TypeOf(subscriber)
	if cached, ok := d.cache.Load(subscriberType); ok {
		return cached.([]*handlerDescriptor), nil
	}

	st := obtainFindState()
	defer releaseFindState(st)

	var err error
	if len(d.indexes) > 0 && !d.ignoreIndexes {
		err = d.findUsingIndex(st, subscriberType, subscriber)
	} else {
		err = d.findUsingReflection(st, subscriberType, subscriber)
	}
	if err != nil {
		return nil, err
	}
	if len(st.descriptors) == 0 {
		return nil, fmt.Errorf("%w: %s (method prefix %q)", ErrNoHandlerMethods, subscriberType, d.prefix)
	}

	descriptors := make([]*handlerDescriptor, len(st.descriptors))
	copy(descriptors, st.descriptors)
	d.cache.Store(subscriberType, descriptors)
	return descriptors, nil
}

func (d *discovery) clearCache() {
	d.cache.Range(func(key, _ any) bool {
		d.cache.Delete(key)
		return true
	})
}

// findUsingReflection enumerates the subscriber type's full method set.
// Go method sets already include promoted methods from embedded types with
// shadowing resolved by the language, so this is a single-level walk with
// supertypes skipped.
func (d *discovery) findUsingReflection(st *findState, subscriberType reflect.Type, subscriber any) error {
	return d.reflectMethodSet(st, subscriberType, subscriber)
}

func (d *discovery) reflectMethodSet(st *findState, typ reflect.Type, subscriber any) error {
	var optMap map[string]HandlerOptions
	if provider, ok := subscriber.(HandlerOptionsProvider); ok {
		optMap = provider.EventHandlerOptions()
	}

	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !strings.HasPrefix(method.Name, d.prefix) {
			continue
		}
		desc, err := d.buildReflectedDescriptor(typ, method, optMap)
		if err != nil {
			if d.strict {
				return err
			}
			continue
		}
		st.add(desc)
	}
	return nil
}

// buildReflectedDescriptor validates the method shape and produces a
// descriptor. Accepted shapes are:
//
//	func (s *S) OnX(e T)
//	func (s *S) OnX(e T) error
//	func (s *S) OnX(ctx context.Context, e T)
//	func (s *S) OnX(ctx context.Context, e T) error
func (d *discovery) buildReflectedDescriptor(typ reflect.Type, method reflect.Method, optMap map[string]HandlerOptions) (*handlerDescriptor, error) {
	mt := method.Type

	// In(0) is the receiver for methods obtained from a named type.
	numParams := mt.NumIn() - 1
	if numParams < 1 || numParams > 2 {
		return nil, fmt.Errorf("%w: %s.%s must take the event as its sole parameter, optionally preceded by a context.Context", ErrInvalidHandlerMethod, typ, method.Name)
	}
	hasContext := numParams == 2
	if hasContext && mt.In(1) != contextType {
		return nil, fmt.Errorf("%w: %s.%s first parameter must be context.Context", ErrInvalidHandlerMethod, typ, method.Name)
	}
	eventType := mt.In(mt.NumIn() - 1)
	if eventType == contextType {
		return nil, fmt.Errorf("%w: %s.%s is missing an event parameter", ErrInvalidHandlerMethod, typ, method.Name)
	}

	switch mt.NumOut() {
	case 0:
	case 1:
		if mt.Out(0) != errorType {
			return nil, fmt.Errorf("%w: %s.%s may only return error", ErrInvalidHandlerMethod, typ, method.Name)
		}
	default:
		return nil, fmt.Errorf("%w: %s.%s may only return error", ErrInvalidHandlerMethod, typ, method.Name)
	}

	opts := optMap[method.Name]
	return &handlerDescriptor{
		targetType:   typ,
		methodName:   method.Name,
		eventType:    eventType,
		threadMode:   opts.ThreadMode,
		priority:     opts.Priority,
		sticky:       opts.Sticky,
		hasContext:   hasContext,
		returnsError: mt.NumOut() == 1,
		signature:    method.Name + ">" + eventType.String(),
	}, nil
}

// findUsingIndex walks from the subscriber type through parent groups and
// embedded types, consulting the configured indexes in order for each
// type. A type without an index entry falls back to reflection: for the
// registered type itself the full promoted method set covers the whole
// hierarchy and the walk stops; for an embedded type only that type's own
// method set is inspected.
func (d *discovery) findUsingIndex(st *findState, subscriberType reflect.Type, subscriber any) error {
	queue := []reflect.Type{subscriberType}
	seen := map[reflect.Type]bool{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] || isSystemType(cur) {
			continue
		}
		seen[cur] = true

		group := d.groupFor(cur)
		if group == nil {
			if cur == subscriberType {
				return d.findUsingReflection(st, subscriberType, subscriber)
			}
			// Embedded interfaces carry no invocable declarations of their
			// own; only concrete embedded types are worth reflecting.
			if cur.Kind() != reflect.Interface {
				if err := d.reflectMethodSet(st, cur, subscriber); err != nil {
					return err
				}
			}
			queue = append(queue, embeddedTypes(cur)...)
			continue
		}

		for _, h := range group.Handlers {
			desc, err := d.buildIndexedDescriptor(subscriberType, group.SubscriberType, h)
			if err != nil {
				return err
			}
			st.add(desc)
		}
		if group.Parent != nil {
			queue = append(queue, group.Parent.SubscriberType)
		} else {
			queue = append(queue, embeddedTypes(cur)...)
		}
	}
	return nil
}

// buildIndexedDescriptor cross-checks an index entry against the actual
// method on the subscriber type, so a stale table fails registration
// instead of producing a descriptor that cannot be invoked.
func (d *discovery) buildIndexedDescriptor(subscriberType, declaring reflect.Type, h IndexedHandler) (*handlerDescriptor, error) {
	method, ok := subscriberType.MethodByName(h.MethodName)
	if !ok {
		return nil, fmt.Errorf("%w: indexed method %s.%s not found on %s", ErrInternalState, declaring, h.MethodName, subscriberType)
	}
	desc, err := d.buildReflectedDescriptor(subscriberType, method, nil)
	if err != nil {
		return nil, err
	}
	if desc.eventType != h.EventType {
		return nil, fmt.Errorf("%w: indexed method %s.%s handles %s, index declares %s", ErrInternalState, declaring, h.MethodName, desc.eventType, h.EventType)
	}
	desc.targetType = declaring
	desc.threadMode = h.Options.ThreadMode
	desc.priority = h.Options.Priority
	desc.sticky = h.Options.Sticky
	return desc, nil
}

func (d *discovery) groupFor(typ reflect.Type) *DescriptorGroup {
	for _, idx := range d.indexes {
		if group := idx.HandlersFor(typ); group != nil {
			return group
		}
		if typ.Kind() != reflect.Pointer {
			if group := idx.HandlersFor(reflect.PointerTo(typ)); group != nil {
				return group
			}
		}
	}
	return nil
}

// findState is the per-discovery scratch state: the accumulating
// descriptor list plus the two-level de-duplication maps. States are
// pooled to avoid re-allocating the maps on every registration.
type findState struct {
	descriptors    []*handlerDescriptor
	anyByEventType map[reflect.Type]any
	bySignature    map[string]reflect.Type
}

// collisionSentinel marks an event type that is handled by more than one
// method, which demotes further de-duplication for that type to the
// signature map.
type collisionSentinel struct{}

const findStatePoolSize = 4

var findStatePool = make(chan *findState, findStatePoolSize)

func obtainFindState() *findState {
	select {
	case st := <-findStatePool:
		return st
	default:
		return &findState{
			anyByEventType: make(map[reflect.Type]any),
			bySignature:    make(map[string]reflect.Type),
		}
	}
}

func releaseFindState(st *findState) {
	st.descriptors = nil
	clear(st.anyByEventType)
	clear(st.bySignature)
	select {
	case findStatePool <- st:
	default:
	}
}

func (st *findState) add(desc *handlerDescriptor) {
	if st.checkAdd(desc) {
		st.descriptors = append(st.descriptors, desc)
	}
}

// checkAdd implements two-level de-duplication. The first method seen for
// an event type is always accepted. On collision the signature map
// decides: a candidate is accepted only when its declaring type is (or
// embeds) the previously recorded one, so a handler promoted from an
// embedded type never duplicates the shadowing method that already
// accepted the same signature.
func (st *findState) checkAdd(desc *handlerDescriptor) bool {
	existing, ok := st.anyByEventType[desc.eventType]
	if !ok {
		st.anyByEventType[desc.eventType] = desc
		return true
	}
	if prev, isDesc := existing.(*handlerDescriptor); isDesc {
		if !st.checkAddWithSignature(prev) {
			return false
		}
		st.anyByEventType[desc.eventType] = collisionSentinel{}
	}
	return st.checkAddWithSignature(desc)
}

func (st *findState) checkAddWithSignature(desc *handlerDescriptor) bool {
	prev, ok := st.bySignature[desc.signature]
	if !ok || prev == desc.targetType || typeEmbeds(desc.targetType, prev) {
		st.bySignature[desc.signature] = desc.targetType
		return true
	}
	return false
}

// typeEmbeds reports whether outer transitively embeds inner as an
// anonymous field.
func typeEmbeds(outer, inner reflect.Type) bool {
	for _, ft := range embeddedTypes(outer) {
		if ft == inner || derefType(ft) == derefType(inner) {
			return true
		}
		if typeEmbeds(ft, inner) {
			return true
		}
	}
	return false
}

// embeddedTypes returns the types of the anonymous fields of the struct
// underlying typ, in declaration order. Struct results are normalized to
// pointer types so their full method sets stay visible; reserved (stdlib)
// types terminate the walk.
func embeddedTypes(typ reflect.Type) []reflect.Type {
	s := derefType(typ)
	if s.Kind() != reflect.Struct {
		return nil
	}
	var result []reflect.Type
	for i := 0; i < s.NumField(); i++ {
		field := s.Field(i)
		if !field.Anonymous {
			continue
		}
		ft := field.Type
		if isSystemType(ft) {
			continue
		}
		if derefType(ft).Kind() == reflect.Struct {
			ft = reflect.PointerTo(derefType(ft))
		}
		result = append(result, ft)
	}
	return result
}

func derefType(typ reflect.Type) reflect.Type {
	if typ.Kind() == reflect.Pointer {
		return typ.Elem()
	}
	return typ
}

// isSystemType reports whether typ belongs to the runtime's reserved
// namespace: unnamed types and anything from the standard library, whose
// import paths have no domain in their first element.
func isSystemType(typ reflect.Type) bool {
	pkg := derefType(typ).PkgPath()
	if pkg == "" {
		return true
	}
	first, _, _ := strings.Cut(pkg, "/")
	return !strings.Contains(first, ".")
}

// eventTypesCache memoizes the embedded-type closure used for event
// inheritance. Interface matches depend on the registry contents and are
// resolved by the bus on top of this closure.
var eventTypesCache sync.Map // reflect.Type -> []reflect.Type

// lookupEventTypes returns the event type first, then, for pointer
// events, the pointed-to type, then the embedded closure level by level
// in declaration order. No duplicates.
func lookupEventTypes(eventType reflect.Type) []reflect.Type {
	if cached, ok := eventTypesCache.Load(eventType); ok {
		return cached.([]reflect.Type)
	}

	types := []reflect.Type{eventType}
	seen := map[reflect.Type]bool{eventType: true}
	queue := []reflect.Type{eventType}

	if eventType.Kind() == reflect.Pointer && !seen[eventType.Elem()] {
		elem := eventType.Elem()
		types = append(types, elem)
		seen[elem] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		s := derefType(cur)
		if s.Kind() != reflect.Struct {
			continue
		}
		for i := 0; i < s.NumField(); i++ {
			field := s.Field(i)
			if !field.Anonymous {
				continue
			}
			ft := derefType(field.Type)
			if seen[ft] || isSystemType(ft) {
				continue
			}
			seen[ft] = true
			types = append(types, ft)
			queue = append(queue, ft)
		}
	}

	eventTypesCache.Store(eventType, types)
	return types
}

func clearEventTypesCache() {
	eventTypesCache.Range(func(key, _ any) bool {
		eventTypesCache.Delete(key)
		return true
	})
}
