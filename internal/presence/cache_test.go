package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdonsong/huntly/internal/logging"
)

type fakeLookup struct {
	mu    sync.Mutex
	calls int
	ids   map[string]int64
	err   error
}

func (f *fakeLookup) ExistsByURL(_ context.Context, rawURL string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.ids[rawURL], nil
}

func (f *fakeLookup) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newChecker(t *testing.T, lookup *fakeLookup) *Checker {
	t.Helper()
	checker, err := NewChecker(lookup, logging.Nop())
	require.NoError(t, err)
	return checker
}

func TestCheckCachesPerTabAndURL(t *testing.T) {
	lookup := &fakeLookup{ids: map[string]int64{"https://a.example": 5}}
	checker := newChecker(t, lookup)
	ctx := context.Background()

	state, err := checker.Check(ctx, "tab-1", "https://a.example", false)
	require.NoError(t, err)
	assert.Equal(t, StateSaved, state)
	assert.Equal(t, 1, lookup.Calls())

	// Same tab, same URL: cached, no remote call.
	state, err = checker.Check(ctx, "tab-1", "https://a.example", false)
	require.NoError(t, err)
	assert.Equal(t, StateSaved, state)
	assert.Equal(t, 1, lookup.Calls())

	// Navigation to a different URL forces a lookup even without force.
	state, err = checker.Check(ctx, "tab-1", "https://b.example", false)
	require.NoError(t, err)
	assert.Equal(t, StateNotSaved, state)
	assert.Equal(t, 2, lookup.Calls())
}

func TestCheckForceBypassesCache(t *testing.T) {
	lookup := &fakeLookup{ids: map[string]int64{"https://a.example": 1}}
	checker := newChecker(t, lookup)
	ctx := context.Background()

	_, err := checker.Check(ctx, "tab-1", "https://a.example", false)
	require.NoError(t, err)
	_, err = checker.Check(ctx, "tab-1", "https://a.example", true)
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.Calls())
}

func TestCheckNonHTTPShortCircuits(t *testing.T) {
	lookup := &fakeLookup{}
	checker := newChecker(t, lookup)

	state, err := checker.Check(context.Background(), "tab-1", "chrome://settings", false)
	require.NoError(t, err)
	assert.Equal(t, StateNotApplicable, state)
	assert.Equal(t, 0, lookup.Calls())
}

func TestCheckLookupFailureNotCached(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("service down")}
	checker := newChecker(t, lookup)
	ctx := context.Background()

	state, err := checker.Check(ctx, "tab-1", "https://a.example", false)
	require.Error(t, err)
	assert.Equal(t, StateNotSaved, state)

	// The failed decision must not be trusted: next check retries.
	lookup.err = nil
	lookup.ids = map[string]int64{"https://a.example": 9}
	state, err = checker.Check(ctx, "tab-1", "https://a.example", false)
	require.NoError(t, err)
	assert.Equal(t, StateSaved, state)
}

func TestEvictDropsDecision(t *testing.T) {
	lookup := &fakeLookup{ids: map[string]int64{"https://a.example": 1}}
	checker := newChecker(t, lookup)
	ctx := context.Background()

	_, err := checker.Check(ctx, "tab-1", "https://a.example", false)
	require.NoError(t, err)
	checker.Evict("tab-1")

	_, err = checker.Check(ctx, "tab-1", "https://a.example", false)
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.Calls())
}

func TestIsCheckable(t *testing.T) {
	assert.True(t, IsCheckable("https://example.com"))
	assert.True(t, IsCheckable("HTTP://example.com"))
	assert.False(t, IsCheckable("about:blank"))
	assert.False(t, IsCheckable("chrome-extension://abc"))
	assert.False(t, IsCheckable(""))
}
