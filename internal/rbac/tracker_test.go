package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerCountsWithinWindow(t *testing.T) {
	tracker := NewTracker(time.Minute)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		tracker.Record("user-1", now.Add(time.Duration(-i)*time.Second))
	}

	assert.Equal(t, 3, tracker.CountRecent("user-1", now))
	assert.Equal(t, 0, tracker.CountRecent("user-2", now))
}

func TestTrackerAgesOutOldEntries(t *testing.T) {
	tracker := NewTracker(time.Minute)
	now := time.Now().UTC()

	tracker.Record("user-1", now.Add(-2*time.Minute))
	tracker.Record("user-1", now.Add(-61*time.Second))
	tracker.Record("user-1", now.Add(-30*time.Second))

	assert.Equal(t, 1, tracker.CountRecent("user-1", now))
}

func TestTrackerSweepDropsIdleUsers(t *testing.T) {
	tracker := NewTracker(time.Minute)
	now := time.Now().UTC()

	tracker.Record("user-idle", now.Add(-5*time.Minute))
	tracker.Record("user-live", now)
	tracker.Sweep(now)

	tracker.mu.Lock()
	_, idleKept := tracker.recent["user-idle"]
	_, liveKept := tracker.recent["user-live"]
	tracker.mu.Unlock()

	assert.False(t, idleKept)
	assert.True(t, liveKept)
}
