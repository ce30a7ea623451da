package task

import "sync"

// Tracker maps a tab to the set of tasks currently streaming into it, so
// that closing a tab can tear every one of them down. A task belongs to at
// most one tab.
type Tracker struct {
	mu       sync.Mutex
	byTab    map[string]map[string]struct{}
	tabOf    map[string]string
	registry *Registry
}

// NewTracker builds a tracker that cancels through registry.
func NewTracker(registry *Registry) *Tracker {
	return &Tracker{
		byTab:    make(map[string]map[string]struct{}),
		tabOf:    make(map[string]string),
		registry: registry,
	}
}

// Associate records taskID as streaming into tabID. If the task was somehow
// associated elsewhere it moves, preserving the one-tab-per-task invariant.
func (t *Tracker) Associate(tabID, taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.tabOf[taskID]; ok && prev != tabID {
		delete(t.byTab[prev], taskID)
		if len(t.byTab[prev]) == 0 {
			delete(t.byTab, prev)
		}
	}
	set, ok := t.byTab[tabID]
	if !ok {
		set = make(map[string]struct{})
		t.byTab[tabID] = set
	}
	set[taskID] = struct{}{}
	t.tabOf[taskID] = tabID
}

// Disassociate removes taskID from whichever tab holds it. Called at task
// end regardless of cause; unknown ids are a no-op.
func (t *Tracker) Disassociate(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tabID, ok := t.tabOf[taskID]
	if !ok {
		return
	}
	delete(t.tabOf, taskID)
	delete(t.byTab[tabID], taskID)
	if len(t.byTab[tabID]) == 0 {
		delete(t.byTab, tabID)
	}
}

// CancelAllForTab cancels every task associated with tabID through the
// registry, clears the association set, and returns how many tasks were
// actually cancelled. Used when a tab closes so no stream keeps producing
// into a destroyed destination.
func (t *Tracker) CancelAllForTab(tabID string) int {
	t.mu.Lock()
	ids := make([]string, 0, len(t.byTab[tabID]))
	for taskID := range t.byTab[tabID] {
		ids = append(ids, taskID)
		delete(t.tabOf, taskID)
	}
	delete(t.byTab, tabID)
	t.mu.Unlock()

	cancelled := 0
	for _, taskID := range ids {
		if t.registry.Cancel(taskID) {
			cancelled++
		}
	}
	return cancelled
}

// TabOf returns the tab a task is associated with, if any.
func (t *Tracker) TabOf(taskID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tabID, ok := t.tabOf[taskID]
	return tabID, ok
}

// TaskCount returns the number of live associations for tabID.
func (t *Tracker) TaskCount(tabID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byTab[tabID])
}
