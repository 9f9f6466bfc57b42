package eventbus

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// MainThreadSupport is the host platform adapter for main-thread
// delivery. Hosts with a designated main goroutine (UI loops, game loops,
// single-threaded schedulers) implement it so Main and MainOrdered
// handlers run there; a bus built without one treats every caller as the
// main thread and delivers those modes inline.
type MainThreadSupport interface {
	// IsMainThread reports whether the calling goroutine is the host's
	// main thread.
	IsMainThread() bool

	// PostToMain hands a callback to the main thread for execution.
	// A non-nil error means the host rejected the callback and the
	// dispatcher's wake-up token is lost.
	PostToMain(callback func()) error
}

// RunLoopMainThread is a channel-driven MainThreadSupport: the goroutine
// that calls Run becomes the main thread and executes posted callbacks
// until Stop. It serves hosts that own a dedicated loop goroutine, and the
// package's own tests.
type RunLoopMainThread struct {
	callbacks chan func()
	quit      chan struct{}
	stopOnce  sync.Once
	mainID    atomic.Uint64
}

// NewRunLoopMainThread creates a run loop with the given callback buffer
// size. Values below 1 are clamped to 1.
func NewRunLoopMainThread(buffer int) *RunLoopMainThread {
	if buffer < 1 {
		buffer = 1
	}
	return &RunLoopMainThread{
		callbacks: make(chan func(), buffer),
		quit:      make(chan struct{}),
	}
}

// Run claims the calling goroutine as the main thread and processes
// callbacks until Stop is called. It is a blocking call.
func (r *RunLoopMainThread) Run() {
	r.mainID.Store(goroutineID())
	defer r.mainID.Store(0)
	for {
		select {
		case <-r.quit:
			return
		case callback := <-r.callbacks:
			callback()
		}
	}
}

// Stop terminates the run loop. Stop is idempotent.
func (r *RunLoopMainThread) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// IsMainThread implements MainThreadSupport. Before Run is entered no
// goroutine is the main thread.
func (r *RunLoopMainThread) IsMainThread() bool {
	id := r.mainID.Load()
	return id != 0 && id == goroutineID()
}

// PostToMain implements MainThreadSupport. The send blocks while the
// callback buffer is full; once the loop has been stopped the callback is
// rejected.
func (r *RunLoopMainThread) PostToMain(callback func()) error {
	select {
	case <-r.quit:
		return fmt.Errorf("post to main: %w", ErrRunLoopStopped)
	default:
	}
	select {
	case r.callbacks <- callback:
		return nil
	case <-r.quit:
		return fmt.Errorf("post to main: %w", ErrRunLoopStopped)
	}
}

// goroutineID extracts the numeric goroutine id from the runtime stack
// header ("goroutine 12 [running]:"). It runs on every IsMainThread call,
// which a bus with main-thread support makes at the start of each posting
// drain and before each sticky replay.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	idField, _, _ := strings.Cut(header, " ")
	id, err := strconv.ParseUint(idField, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
