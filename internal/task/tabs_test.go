package task

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wdonsong/huntly/internal/logging"
)

func TestTrackerCancelAllForTab(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	tracker := NewTracker(reg)

	handles := make([]*countingHandle, 3)
	for i := range handles {
		handles[i] = &countingHandle{}
		taskID := fmt.Sprintf("t%d", i)
		reg.Register(taskID, handles[i])
		tracker.Associate("tab-1", taskID)
	}
	// A task on another tab must not be touched.
	other := &countingHandle{}
	reg.Register("other", other)
	tracker.Associate("tab-2", "other")

	assert.Equal(t, 3, tracker.CancelAllForTab("tab-1"))
	for _, h := range handles {
		assert.Equal(t, 1, h.Calls())
	}
	assert.Equal(t, 0, tracker.TaskCount("tab-1"))
	assert.Equal(t, 0, other.Calls())
	assert.True(t, reg.Contains("other"))
}

func TestTrackerCancelAllCountsOnlyLiveTasks(t *testing.T) {
	reg := NewRegistry(logging.Nop())
	tracker := NewTracker(reg)

	reg.Register("live", &countingHandle{})
	tracker.Associate("tab-1", "live")
	// Completed naturally but the association was not yet cleaned up.
	tracker.Associate("tab-1", "done")

	assert.Equal(t, 1, tracker.CancelAllForTab("tab-1"))
}

func TestTrackerDisassociate(t *testing.T) {
	tracker := NewTracker(NewRegistry(logging.Nop()))

	tracker.Associate("tab-1", "t1")
	tracker.Disassociate("t1")
	tracker.Disassociate("t1")

	assert.Equal(t, 0, tracker.TaskCount("tab-1"))
	_, ok := tracker.TabOf("t1")
	assert.False(t, ok)
}

func TestTrackerTaskBelongsToOneTab(t *testing.T) {
	tracker := NewTracker(NewRegistry(logging.Nop()))

	tracker.Associate("tab-1", "t1")
	tracker.Associate("tab-2", "t1")

	tabID, ok := tracker.TabOf("t1")
	assert.True(t, ok)
	assert.Equal(t, "tab-2", tabID)
	assert.Equal(t, 0, tracker.TaskCount("tab-1"))
	assert.Equal(t, 1, tracker.TaskCount("tab-2"))
}

func TestTrackerCancelAllForUnknownTab(t *testing.T) {
	tracker := NewTracker(NewRegistry(logging.Nop()))
	assert.Equal(t, 0, tracker.CancelAllForTab("nope"))
}
