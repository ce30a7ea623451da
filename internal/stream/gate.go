package stream

import (
	"strings"
	"sync"

	huntlyerrors "github.com/wdonsong/huntly/internal/errors"
)

// gate serializes callback delivery for one task and enforces the contract:
// chunks in order, one terminal event, nothing after cancellation. Both
// backends funnel every event through a gate so the suppression rules live in
// exactly one place.
type gate struct {
	mu        sync.Mutex
	callbacks Callbacks
	acc       strings.Builder
	cancelled bool
	terminal  bool
}

func newGate(cb Callbacks) *gate {
	return &gate{callbacks: cb}
}

// Cancel suppresses all future callbacks. Any delivery already in flight
// finishes before Cancel returns.
func (g *gate) Cancel() {
	g.mu.Lock()
	g.cancelled = true
	g.mu.Unlock()
}

// Cancelled reports whether the task was cancelled. Backends poll this
// before forwarding each chunk.
func (g *gate) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// Chunk forwards one delta. Returns false when the chunk was dropped because
// the stream is cancelled or already terminal.
func (g *gate) Chunk(delta string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled || g.terminal || delta == "" {
		return false
	}
	g.acc.WriteString(delta)
	if g.callbacks.OnChunk != nil {
		g.callbacks.OnChunk(delta, g.acc.String())
	}
	return true
}

// End fires OnEnd with the accumulated text, once.
func (g *gate) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled || g.terminal {
		return
	}
	g.terminal = true
	if g.callbacks.OnEnd != nil {
		g.callbacks.OnEnd(g.acc.String())
	}
}

// Fail fires OnError, once. Cancellation is not a failure: errors caused by
// tearing the stream down on purpose are swallowed.
func (g *gate) Fail(err error) {
	if err == nil || huntlyerrors.IsCancellation(err) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled || g.terminal {
		return
	}
	g.terminal = true
	if g.callbacks.OnError != nil {
		g.callbacks.OnError(err)
	}
}
