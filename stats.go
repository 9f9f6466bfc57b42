package eventbus

import (
	"sync/atomic"
)

// BusStats is a point-in-time snapshot of delivery statistics, consumed
// by the Prometheus collector and the debug handler. Counters are
// cumulative since bus creation.
type BusStats struct {
	// Posted counts events accepted for delivery by the Post and
	// PostSticky variants, including nested posts and the bus's own
	// signal events.
	Posted uint64 `json:"posted"`

	// DeliveredInline counts handler invocations on the posting goroutine.
	DeliveredInline uint64 `json:"deliveredInline"`

	// DeliveredMain counts invocations via the main-thread dispatcher.
	DeliveredMain uint64 `json:"deliveredMain"`

	// DeliveredBackground counts invocations via the background dispatcher.
	DeliveredBackground uint64 `json:"deliveredBackground"`

	// DeliveredAsync counts invocations via the async dispatcher.
	DeliveredAsync uint64 `json:"deliveredAsync"`

	// Dropped counts deliveries, inline or queued, skipped because their
	// subscription became inactive before invocation.
	Dropped uint64 `json:"dropped"`

	// HandlerFailures counts handler errors and recovered panics.
	HandlerFailures uint64 `json:"handlerFailures"`

	// NoSubscriberEvents counts posts that matched no subscription.
	NoSubscriberEvents uint64 `json:"noSubscriberEvents"`

	// StickyReplays counts sticky events delivered during registration.
	StickyReplays uint64 `json:"stickyReplays"`

	// PendingMain, PendingBackground and PendingAsync are the current
	// dispatcher queue depths.
	PendingMain       int `json:"pendingMain"`
	PendingBackground int `json:"pendingBackground"`
	PendingAsync      int `json:"pendingAsync"`
}

// busCounters holds the hot-path atomics backing BusStats.
type busCounters struct {
	posted              atomic.Uint64
	deliveredInline     atomic.Uint64
	deliveredMain       atomic.Uint64
	deliveredBackground atomic.Uint64
	deliveredAsync      atomic.Uint64
	dropped             atomic.Uint64
	handlerFailures     atomic.Uint64
	noSubscriber        atomic.Uint64
	stickyReplays       atomic.Uint64
}

func (c *busCounters) countDelivered(mode ThreadMode) {
	switch mode {
	case Main, MainOrdered:
		c.deliveredMain.Add(1)
	case Background:
		c.deliveredBackground.Add(1)
	case Async:
		c.deliveredAsync.Add(1)
	default:
		c.deliveredInline.Add(1)
	}
}

// Stats returns a snapshot of the bus delivery statistics.
func (b *EventBus) Stats() BusStats {
	return BusStats{
		Posted:              b.counters.posted.Load(),
		DeliveredInline:     b.counters.deliveredInline.Load(),
		DeliveredMain:       b.counters.deliveredMain.Load(),
		DeliveredBackground: b.counters.deliveredBackground.Load(),
		DeliveredAsync:      b.counters.deliveredAsync.Load(),
		Dropped:             b.counters.dropped.Load(),
		HandlerFailures:     b.counters.handlerFailures.Load(),
		NoSubscriberEvents:  b.counters.noSubscriber.Load(),
		StickyReplays:       b.counters.stickyReplays.Load(),
		PendingMain:         b.mainDispatcher.queue.len(),
		PendingBackground:   b.backgroundDispatcher.queue.len(),
		PendingAsync:        b.asyncDispatcher.queue.len(),
	}
}
