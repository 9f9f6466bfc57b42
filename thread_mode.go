package eventbus

// ThreadMode controls on which goroutine a handler runs relative to the
// goroutine that posted the event.
type ThreadMode int

const (
	// Posting invokes the handler inline on the posting goroutine. This is
	// the default and the cheapest mode; handlers must return quickly to
	// avoid stalling the posting pipeline.
	Posting ThreadMode = iota

	// Main invokes the handler on the host's main thread. If the posting
	// goroutine already is the main thread the handler runs inline,
	// otherwise it is queued on the main-thread dispatcher. On hosts
	// without main-thread support the handler runs inline.
	Main

	// MainOrdered always queues the handler on the main-thread dispatcher,
	// even when posting from the main thread. This keeps delivery decoupled
	// from the in-flight post and preserves enqueue order. On hosts without
	// main-thread support the handler runs inline.
	MainOrdered

	// Background invokes the handler on a single serial background worker.
	// When posting from a non-main goroutine the handler runs inline
	// (the caller already is a background goroutine); when posting from the
	// main thread, or on hosts without main-thread support, it is queued on
	// the background dispatcher. Background delivery is strictly FIFO.
	Background

	// Async submits each delivery to the executor as an independent task.
	// Handlers run concurrently with the posting goroutine and with each
	// other; no ordering is guaranteed.
	Async
)

// String returns the human-readable name of the thread mode.
func (m ThreadMode) String() string {
	switch m {
	case Posting:
		return "posting"
	case Main:
		return "main"
	case MainOrdered:
		return "main_ordered"
	case Background:
		return "background"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}
