package task

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdonsong/huntly/internal/logging"
)

type countingHandle struct {
	mu    sync.Mutex
	calls int
}

func (h *countingHandle) Cancel() {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
}

func (h *countingHandle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestRegistryCancelInvokesHandleOnce(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	handle := &countingHandle{}

	reg.Register("t1", handle)
	require.True(t, reg.Contains("t1"))

	assert.True(t, reg.Cancel("t1"))
	assert.Equal(t, 1, handle.Calls())
	assert.False(t, reg.Contains("t1"))

	// Second cancel races are benign: not found, handle untouched.
	assert.False(t, reg.Cancel("t1"))
	assert.Equal(t, 1, handle.Calls())
}

func TestRegistryCancelAfterNaturalCompletion(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	handle := &countingHandle{}

	reg.Register("t1", handle)
	reg.Remove("t1")

	assert.False(t, reg.Cancel("t1"))
	assert.Equal(t, 0, handle.Calls())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	reg.Register("t1", &countingHandle{})

	reg.Remove("t1")
	reg.Remove("t1")
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryReregisterCancelsPreviousHandle(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	first := &countingHandle{}
	second := &countingHandle{}

	reg.Register("t1", first)
	reg.Register("t1", second)

	assert.Equal(t, 1, first.Calls(), "previous handle must not leak")
	assert.Equal(t, 0, second.Calls())

	assert.True(t, reg.Cancel("t1"))
	assert.Equal(t, 1, second.Calls())
}

func TestRegistryConcurrentCancelAndRemove(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	handle := &countingHandle{}
	reg.Register("t1", handle)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Cancel("t1")
		}()
		go func() {
			defer wg.Done()
			reg.Remove("t1")
		}()
	}
	wg.Wait()

	assert.False(t, reg.Contains("t1"))
	assert.LessOrEqual(t, handle.Calls(), 1)
}
