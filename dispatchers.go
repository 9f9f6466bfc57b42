package eventbus

import (
	"fmt"
	"time"
)

// defaultMainThreadSlice bounds how long a single main-thread callback
// may keep invoking handlers before it yields and re-posts itself.
const defaultMainThreadSlice = 10 * time.Millisecond

// defaultBackgroundPollTimeout bounds how long the background drainer
// idles on an empty queue before releasing its worker.
const defaultBackgroundPollTimeout = time.Second

// mainThreadDispatcher drains pending posts on the host's main thread
// with a cooperative time slice. While its queue is non-empty exactly one
// wake-up callback is in flight, so main-thread occupancy stays bounded
// without delivery gaps.
type mainThreadDispatcher struct {
	bus   *EventBus
	host  MainThreadSupport
	queue *pendingPostQueue
	slice time.Duration

	// active is guarded by the queue mutex: enqueue and the drain callback
	// must agree on whether a wake-up token is in flight.
	active bool
}

func newMainThreadDispatcher(bus *EventBus, host MainThreadSupport, slice time.Duration) *mainThreadDispatcher {
	if slice <= 0 {
		slice = defaultMainThreadSlice
	}
	return &mainThreadDispatcher{
		bus:   bus,
		host:  host,
		queue: newPendingPostQueue(),
		slice: slice,
	}
}

func (d *mainThreadDispatcher) enqueue(sub *subscription, event any) error {
	p := obtainPendingPost(sub, event)
	d.queue.mu.Lock()
	if err := d.enqueueLocked(p); err != nil {
		d.queue.mu.Unlock()
		releasePendingPost(p)
		return err
	}
	if !d.active {
		d.active = true
		if err := d.host.PostToMain(d.run); err != nil {
			d.active = false
			d.queue.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrMainThreadUnreachable, err)
		}
	}
	d.queue.mu.Unlock()
	return nil
}

// enqueueLocked links the cell while the queue mutex is already held by
// enqueue; the wake-up hint is unnecessary because the main-thread token
// is the wake-up.
func (d *mainThreadDispatcher) enqueueLocked(p *pendingPost) error {
	switch {
	case d.queue.tail != nil:
		d.queue.tail.next = p
		d.queue.tail = p
	case d.queue.head == nil:
		d.queue.head = p
		d.queue.tail = p
	default:
		return ErrQueueInvariant
	}
	d.queue.length++
	return nil
}

// run is the main-thread callback. It drains until the queue empties or
// the time slice elapses; in the latter case a fresh token is posted and
// active stays set so the next callback continues seamlessly.
func (d *mainThreadDispatcher) run() {
	started := time.Now()
	for {
		p := d.queue.poll()
		if p == nil {
			d.queue.mu.Lock()
			p = d.queue.pollLocked()
			if p == nil {
				d.active = false
				d.queue.mu.Unlock()
				return
			}
			d.queue.mu.Unlock()
		}
		d.bus.invokePending(p)
		if time.Since(started) >= d.slice {
			if err := d.host.PostToMain(d.run); err != nil {
				d.bus.logger.Error("Main thread rejected continuation, abandoning drain", "pending", d.queue.len(), "error", err)
				d.queue.mu.Lock()
				d.active = false
				d.queue.mu.Unlock()
			}
			return
		}
	}
}

// backgroundDispatcher delivers events serially on one pool worker at a
// time. Events are handed over in strict enqueue order; which worker
// carries the drain is the executor's choice.
type backgroundDispatcher struct {
	bus         *EventBus
	executor    Executor
	queue       *pendingPostQueue
	pollTimeout time.Duration

	// running is guarded by the queue mutex.
	running bool
}

func newBackgroundDispatcher(bus *EventBus, executor Executor, pollTimeout time.Duration) *backgroundDispatcher {
	if pollTimeout <= 0 {
		pollTimeout = defaultBackgroundPollTimeout
	}
	return &backgroundDispatcher{
		bus:         bus,
		executor:    executor,
		queue:       newPendingPostQueue(),
		pollTimeout: pollTimeout,
	}
}

func (d *backgroundDispatcher) enqueue(sub *subscription, event any) error {
	p := obtainPendingPost(sub, event)
	if err := d.queue.enqueue(p); err != nil {
		releasePendingPost(p)
		return err
	}
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if !d.running {
		d.running = true
		if err := d.executor.Submit(d.run); err != nil {
			d.running = false
			return fmt.Errorf("submit background drain: %w", err)
		}
	}
	return nil
}

func (d *backgroundDispatcher) run() {
	defer func() {
		if r := recover(); r != nil {
			d.bus.logger.Error("Background drain panicked", "panic", r)
			d.queue.mu.Lock()
			d.running = false
			d.queue.mu.Unlock()
		}
	}()

	for {
		p := d.queue.pollWait(d.pollTimeout)
		if p == nil {
			d.queue.mu.Lock()
			p = d.queue.pollLocked()
			if p == nil {
				d.running = false
				d.queue.mu.Unlock()
				return
			}
			d.queue.mu.Unlock()
		}
		d.bus.invokePending(p)
	}
}

// asyncDispatcher pairs every enqueue with exactly one submitted task, so
// deliveries run concurrently and a task polling an empty queue indicates
// a broken pairing invariant.
type asyncDispatcher struct {
	bus      *EventBus
	executor Executor
	queue    *pendingPostQueue
}

func newAsyncDispatcher(bus *EventBus, executor Executor) *asyncDispatcher {
	return &asyncDispatcher{
		bus:      bus,
		executor: executor,
		queue:    newPendingPostQueue(),
	}
}

func (d *asyncDispatcher) enqueue(sub *subscription, event any) error {
	p := obtainPendingPost(sub, event)
	if err := d.queue.enqueue(p); err != nil {
		releasePendingPost(p)
		return err
	}
	if err := d.executor.Submit(d.run); err != nil {
		return fmt.Errorf("submit async delivery: %w", err)
	}
	return nil
}

func (d *asyncDispatcher) run() {
	defer func() {
		if r := recover(); r != nil {
			d.bus.logger.Error("Async delivery panicked", "panic", r)
		}
	}()

	p := d.queue.poll()
	if p == nil {
		d.bus.logger.Error("Async dispatcher invariant violated: no pending post for submitted task", "error", ErrQueueInvariant)
		return
	}
	d.bus.invokePending(p)
}
