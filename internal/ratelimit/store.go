package ratelimit

import (
	"context"
	"time"
)

// Store is the sliding-window backend. Small over- or under-counting under
// concurrent access is tolerated; the dedup layer, not the limiter, carries
// the exactly-once guarantee.
type Store interface {
	// CountAndAppend records an attempt at now and returns how many attempts
	// fall inside the window ending at now (including this one) together
	// with the oldest in-window attempt time.
	CountAndAppend(ctx context.Context, key, scope string, now time.Time, window time.Duration) (int, time.Time, error)

	// ActiveBlock reports a live block for the client and scope and when it
	// expires.
	ActiveBlock(ctx context.Context, key, scope string, now time.Time) (time.Time, bool, error)

	// CreateBlock records a block lasting until the given time.
	CreateBlock(ctx context.Context, key, scope string, until time.Time) error

	// DeleteExpired drops attempts that have aged out of the window and
	// blocks that have lapsed, returning how many rows went away.
	DeleteExpired(ctx context.Context, now time.Time, window time.Duration) (int64, error)
}
