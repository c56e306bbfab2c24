// Package dedup rejects duplicate order submissions. Every order is reduced
// to a canonical fingerprint; a fingerprint can hold at most one live
// reservation per time window, and the reservation is taken atomically so
// concurrent identical submissions admit exactly one order.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/order-gateway/internal/types"
	"github.com/quantdesk/order-gateway/pkg/metrics"
)

type Service struct {
	store         Store
	window        time.Duration
	sweepInterval time.Duration
	logger        zerolog.Logger
}

func NewService(store Store, window, sweepInterval time.Duration) *Service {
	return &Service{
		store:         store,
		window:        window,
		sweepInterval: sweepInterval,
		logger:        log.With().Str("service", "dedup").Logger(),
	}
}

// CheckAndReserve fingerprints the order and claims the fingerprint for the
// current window. A duplicate comes back as a DUPLICATE_ORDER denial naming
// the original order when it can be found; the lookup is best effort, the
// duplicate verdict itself rests entirely on the atomic reserve.
func (s *Service) CheckAndReserve(ctx context.Context, order *types.Order) (string, error) {
	hash := Fingerprint(order, TimeBucket(time.Now().UTC(), s.window))

	reserved, err := s.store.Reserve(ctx, hash, order.OrderID, s.window)
	if err != nil {
		return "", fmt.Errorf("failed to reserve fingerprint: %w", err)
	}

	if !reserved {
		metrics.DedupReservations.WithLabelValues("duplicate").Inc()
		message := fmt.Sprintf("duplicate order: an identical order was already submitted in the last %s", s.window)
		if original, lerr := s.store.Lookup(ctx, hash); lerr == nil && original != "" {
			message = fmt.Sprintf("duplicate order: identical to order %s submitted in the last %s", original, s.window)
		}
		s.logger.Info().
			Str("order_id", order.OrderID).
			Str("fingerprint", hash).
			Msg("duplicate order rejected")
		return hash, &types.DenialError{Code: types.ReasonDuplicateOrder, Message: message}
	}

	metrics.DedupReservations.WithLabelValues("reserved").Inc()
	return hash, nil
}

// Release frees a reservation after a failed downstream submission so the
// caller can retry without waiting out the window.
func (s *Service) Release(ctx context.Context, hash string) error {
	if err := s.store.Release(ctx, hash); err != nil {
		return fmt.Errorf("failed to release fingerprint: %w", err)
	}
	metrics.DedupReservations.WithLabelValues("released").Inc()
	return nil
}

// RunSweeper deletes expired reservations on a fixed interval until ctx is
// cancelled. Expiry is also enforced at reserve time; the sweeper only keeps
// the table from growing.
func (s *Service) RunSweeper(ctx context.Context) {
	logger := log.With().Str("component", "dedup_sweeper").Logger()
	logger.Info().Dur("interval", s.sweepInterval).Msg("starting dedup sweeper")

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down dedup sweeper")
			return
		case <-ticker.C:
			deleted, err := s.store.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				logger.Error().Err(err).Msg("failed to delete expired reservations")
				continue
			}
			if deleted > 0 {
				metrics.DedupReservations.WithLabelValues("expired").Add(float64(deleted))
				logger.Debug().Int64("deleted", deleted).Msg("swept expired reservations")
			}
		}
	}
}
