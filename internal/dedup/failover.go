package dedup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/order-gateway/pkg/metrics"
)

// FailoverStore serves reservations from the shared store and degrades to a
// process-local fallback when the shared store errors or times out. In the
// degraded state dedup is only correct within this instance; the gauge and
// warn logs make that visible.
type FailoverStore struct {
	primary  Store
	fallback Store
	timeout  time.Duration
	logger   zerolog.Logger
	degraded atomic.Bool
}

func NewFailoverStore(primary, fallback Store, timeout time.Duration) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		logger:   log.With().Str("component", "dedup_store").Logger(),
	}
}

// Degraded reports whether the store is currently serving from the fallback.
func (f *FailoverStore) Degraded() bool {
	return f.degraded.Load()
}

func (f *FailoverStore) Reserve(ctx context.Context, hash, orderID string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	reserved, err := f.primary.Reserve(cctx, hash, orderID, ttl)
	if err == nil {
		f.markHealthy()
		return reserved, nil
	}
	f.markDegraded(err)
	return f.fallback.Reserve(ctx, hash, orderID, ttl)
}

func (f *FailoverStore) Lookup(ctx context.Context, hash string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	orderID, err := f.primary.Lookup(cctx, hash)
	if err == nil {
		f.markHealthy()
		return orderID, nil
	}
	f.markDegraded(err)
	return f.fallback.Lookup(ctx, hash)
}

func (f *FailoverStore) Release(ctx context.Context, hash string) error {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := f.primary.Release(cctx, hash)
	if err == nil {
		f.markHealthy()
		// Drop any shadow reservation taken while degraded.
		return f.fallback.Release(ctx, hash)
	}
	f.markDegraded(err)
	return f.fallback.Release(ctx, hash)
}

func (f *FailoverStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if _, err := f.fallback.DeleteExpired(ctx, now); err != nil {
		f.logger.Error().Err(err).Msg("failed to sweep fallback reservations")
	}

	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	deleted, err := f.primary.DeleteExpired(cctx, now)
	if err == nil {
		f.markHealthy()
		return deleted, nil
	}
	f.markDegraded(err)
	return 0, err
}

func (f *FailoverStore) markDegraded(err error) {
	f.logger.Warn().Err(err).Msg("shared dedup store unavailable, serving from local fallback")
	if f.degraded.CompareAndSwap(false, true) {
		metrics.StoreDegraded.WithLabelValues("dedup").Set(1)
	}
}

func (f *FailoverStore) markHealthy() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info().Msg("shared dedup store recovered")
		metrics.StoreDegraded.WithLabelValues("dedup").Set(0)
	}
}
