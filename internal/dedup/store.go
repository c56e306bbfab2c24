package dedup

import (
	"context"
	"time"
)

// Store is the reservation backend. Reserve must be atomic: of any number
// of concurrent calls with the same hash, exactly one returns true.
type Store interface {
	// Reserve claims hash for orderID with the given TTL. It returns false
	// without error when a live reservation already holds the hash.
	Reserve(ctx context.Context, hash, orderID string, ttl time.Duration) (bool, error)

	// Lookup returns the order ID holding a live reservation on hash, or
	// the empty string when there is none.
	Lookup(ctx context.Context, hash string) (string, error)

	// Release drops the reservation on hash, live or not.
	Release(ctx context.Context, hash string) error

	// DeleteExpired removes reservations whose TTL has passed and reports
	// how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
