package eventbus

import (
	"sync"
	"time"
)

// pendingPost is an intrusively-linked cell pairing an event with the
// subscription it is destined for. Cells are pooled to keep the dispatch
// hot path allocation-free.
type pendingPost struct {
	event        any
	subscription *subscription
	next         *pendingPost
}

const maxPooledPendingPosts = 10000

var pendingPostPool = struct {
	sync.Mutex
	head *pendingPost
	size int
}{}

// obtainPendingPost returns a pooled cell or allocates a fresh one.
func obtainPendingPost(sub *subscription, event any) *pendingPost {
	pendingPostPool.Lock()
	p := pendingPostPool.head
	if p != nil {
		pendingPostPool.head = p.next
		pendingPostPool.size--
	}
	pendingPostPool.Unlock()
	if p == nil {
		p = &pendingPost{}
	}
	p.event = event
	p.subscription = sub
	p.next = nil
	return p
}

// releasePendingPost nulls the cell's fields and returns it to the pool.
// Cells beyond the pool bound are simply dropped for the GC.
func releasePendingPost(p *pendingPost) {
	p.event = nil
	p.subscription = nil
	pendingPostPool.Lock()
	if pendingPostPool.size < maxPooledPendingPosts {
		p.next = pendingPostPool.head
		pendingPostPool.head = p
		pendingPostPool.size++
	}
	pendingPostPool.Unlock()
}

// pendingPostQueue is a singly-linked FIFO of pending posts shared between
// one producer side (enqueue) and one or more drainers. All structural
// access is serialized on the embedded mutex; notEmpty carries a buffered
// wake-up hint so an idle drainer can block with a timeout instead of
// busy-polling.
type pendingPostQueue struct {
	mu       sync.Mutex
	head     *pendingPost
	tail     *pendingPost
	length   int
	notEmpty chan struct{}
}

func newPendingPostQueue() *pendingPostQueue {
	return &pendingPostQueue{notEmpty: make(chan struct{}, 1)}
}

// enqueue links the cell at the tail and wakes a waiting drainer.
func (q *pendingPostQueue) enqueue(p *pendingPost) error {
	if p == nil {
		return ErrQueueInvariant
	}
	q.mu.Lock()
	switch {
	case q.tail != nil:
		q.tail.next = p
		q.tail = p
	case q.head == nil:
		q.head = p
		q.tail = p
	default:
		q.mu.Unlock()
		return ErrQueueInvariant
	}
	q.length++
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// poll detaches and returns the head cell, or nil when the queue is empty.
func (q *pendingPostQueue) poll() *pendingPost {
	q.mu.Lock()
	p := q.pollLocked()
	q.mu.Unlock()
	return p
}

func (q *pendingPostQueue) pollLocked() *pendingPost {
	p := q.head
	if p == nil {
		return nil
	}
	q.head = p.next
	p.next = nil
	if q.head == nil {
		q.tail = nil
	}
	q.length--
	return p
}

// pollWait behaves like poll but, when the queue is empty, waits up to the
// given duration for an enqueue before the final attempt. The wake-up is a
// hint rather than a per-item guarantee, so callers must treat a nil
// result as "still empty" and not as corruption.
func (q *pendingPostQueue) pollWait(timeout time.Duration) *pendingPost {
	if p := q.poll(); p != nil {
		return p
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.notEmpty:
	case <-timer.C:
	}
	return q.poll()
}

// len returns the current queue depth.
func (q *pendingPostQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}
