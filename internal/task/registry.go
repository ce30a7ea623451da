package task

import (
	"sync"

	"github.com/wdonsong/huntly/internal/logging"
)

// Handle is the cancellation side of a running stream. Cancel is idempotent
// and safe to call after the stream already finished.
type Handle interface {
	Cancel()
}

// HandleFunc adapts a plain function to a Handle.
type HandleFunc func()

func (f HandleFunc) Cancel() { f() }

// Registry is the single source of truth for in-flight task cancellation
// handles, independent of which backend produced them. Entries are ephemeral:
// nothing survives a daemon restart, and tasks are not resumable.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
	logger  logging.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		handles: make(map[string]Handle),
		logger:  logging.OrNop(logger),
	}
}

// Register stores the cancellation handle for taskID. Callers must not reuse
// a live taskID; if one slips through, the previous handle is cancelled
// instead of silently leaking its stream.
func (r *Registry) Register(taskID string, handle Handle) {
	if handle == nil {
		return
	}
	r.mu.Lock()
	prev := r.handles[taskID]
	r.handles[taskID] = handle
	r.mu.Unlock()

	if prev != nil {
		r.logger.Warn("task %s re-registered while live, cancelling previous stream", taskID)
		prev.Cancel()
	}
}

// Cancel invokes and removes the handle for taskID. It returns false when no
// such task exists; a cancel racing a natural completion is expected and
// benign, never an error.
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	handle, ok := r.handles[taskID]
	if ok {
		delete(r.handles, taskID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	handle.Cancel()
	r.logger.Debug("task %s cancelled", taskID)
	return true
}

// Remove drops taskID without invoking its handle. Backends call this on
// natural completion or error; calling it again is a no-op.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	delete(r.handles, taskID)
	r.mu.Unlock()
}

// Contains reports whether taskID is currently registered.
func (r *Registry) Contains(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[taskID]
	return ok
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
