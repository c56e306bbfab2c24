package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/order-gateway/pkg/metrics"
)

// FailoverStore serves the window from the shared store and degrades to a
// process-local fallback when the shared store errors or times out. While
// degraded each instance counts only its own traffic, so the fleet may
// under-block; it never refuses traffic it would otherwise have admitted.
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
		logger:   log.With().Str("component", "ratelimit_store").Logger(),
	}
}

// Degraded reports whether the store is currently serving from the fallback.
func (f *FailoverStore) Degraded() bool {
	return f.degraded.Load()
}

func (f *FailoverStore) CountAndAppend(ctx context.Context, key, scope string, now time.Time, window time.Duration) (int, time.Time, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	count, oldest, err := f.primary.CountAndAppend(cctx, key, scope, now, window)
	if err == nil {
		f.markHealthy()
		return count, oldest, nil
	}
	f.markDegraded(err)
	return f.fallback.CountAndAppend(ctx, key, scope, now, window)
}

func (f *FailoverStore) ActiveBlock(ctx context.Context, key, scope string, now time.Time) (time.Time, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	until, blocked, err := f.primary.ActiveBlock(cctx, key, scope, now)
	if err == nil {
		f.markHealthy()
		return until, blocked, nil
	}
	f.markDegraded(err)
	return f.fallback.ActiveBlock(ctx, key, scope, now)
}

func (f *FailoverStore) CreateBlock(ctx context.Context, key, scope string, until time.Time) error {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := f.primary.CreateBlock(cctx, key, scope, until)
	if err == nil {
		f.markHealthy()
		return nil
	}
	f.markDegraded(err)
	return f.fallback.CreateBlock(ctx, key, scope, until)
}

func (f *FailoverStore) DeleteExpired(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	if _, err := f.fallback.DeleteExpired(ctx, now, window); err != nil {
		f.logger.Error().Err(err).Msg("failed to prune fallback rate limit state")
	}

	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	deleted, err := f.primary.DeleteExpired(cctx, now, window)
	if err == nil {
		f.markHealthy()
		return deleted, nil
	}
	f.markDegraded(err)
	return 0, err
}

func (f *FailoverStore) markDegraded(err error) {
	f.logger.Warn().Err(err).Msg("shared rate limit store unavailable, serving from local fallback")
	if f.degraded.CompareAndSwap(false, true) {
		metrics.StoreDegraded.WithLabelValues("ratelimit").Set(1)
	}
}

func (f *FailoverStore) markHealthy() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info().Msg("shared rate limit store recovered")
		metrics.StoreDegraded.WithLabelValues("ratelimit").Set(0)
	}
}
