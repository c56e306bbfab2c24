package rbac

import (
	"sync"
	"time"
)

// Tracker counts each user's recently admitted orders in process, so the
// per-user order rate check never blocks on a store. The count is advisory:
// a burst racing the admission pipeline may briefly overshoot by one or two,
// which risk checking tolerates.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	recent map[string][]time.Time
}

func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		window: window,
		recent: make(map[string][]time.Time),
	}
}

// Record notes an admitted order for the user at the given time.
func (t *Tracker) Record(userID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recent[userID] = append(t.prune(userID, at), at)
}

// CountRecent returns how many of the user's orders fall inside the window
// ending at now.
func (t *Tracker) CountRecent(userID string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.prune(userID, now)
	if len(kept) == 0 {
		delete(t.recent, userID)
	} else {
		t.recent[userID] = kept
	}
	return len(kept)
}

// RetryIn reports how long until the user's oldest in-window order ages
// out, freeing a slot. Zero when the user has no recent orders.
func (t *Tracker) RetryIn(userID string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.prune(userID, now)
	if len(kept) == 0 {
		delete(t.recent, userID)
		return 0
	}
	t.recent[userID] = kept
	return kept[0].Add(t.window).Sub(now)
}

// prune drops entries older than the window. Caller holds the lock.
func (t *Tracker) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-t.window)
	kept := t.recent[userID][:0]
	for _, at := range t.recent[userID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

// Sweep drops users whose every entry has aged out.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID := range t.recent {
		kept := t.prune(userID, now)
		if len(kept) == 0 {
			delete(t.recent, userID)
		} else {
			t.recent[userID] = kept
		}
	}
}
