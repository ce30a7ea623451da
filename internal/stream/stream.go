package stream

import "context"

// Kind selects the execution path for a task.
type Kind string

const (
	// KindServer streams through the managed Huntly service, which performs
	// the AI call itself and relays results over a persistent connection.
	KindServer Kind = "server"
	// KindProvider streams directly against a configured AI provider.
	KindProvider Kind = "provider"
)

// Request carries everything a backend needs to start one streaming task.
type Request struct {
	TaskID      string
	TabID       string
	Title       string
	Content     string
	Instruction string
	Provider    string
	Model       string
}

// Callbacks receive stream events for one task. OnChunk fires zero or more
// times in arrival order, never after OnEnd or OnError; OnEnd and OnError
// each fire at most once and are mutually exclusive. After the task's handle
// is cancelled no callback fires at all.
//
// Callbacks must not invoke the task's cancellation handle synchronously;
// cancel from another goroutine instead.
type Callbacks struct {
	OnChunk func(delta, accumulated string)
	OnEnd   func(final string)
	OnError func(err error)
}

// Handle cancels one running stream. Idempotent, safe after completion.
type Handle interface {
	Cancel()
}

// Backend starts streams. Start must return the handle before any network
// I/O completes so the caller can register it ahead of the first possible
// cancel request. Synchronous validation failures (configuration) are
// returned directly and mean no stream was started; failures after that
// arrive through OnError.
type Backend interface {
	Kind() Kind
	Start(ctx context.Context, req Request, cb Callbacks) (Handle, error)
}
