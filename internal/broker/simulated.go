package broker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/quantdesk/order-gateway/internal/types"
	"github.com/quantdesk/order-gateway/pkg/metrics"
)

// Options tunes the simulated broker. A non-positive ThrottleRPS disables
// outbound throttling.
type Options struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
	ThrottleRPS float64
	Burst       int
}

// SimulatedBroker stands in for the downstream broker connection. It
// throttles outbound submissions, injects network latency, and fails a
// configurable fraction of orders so the release path stays exercised.
type SimulatedBroker struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	failureRate float64
	throttle    *rate.Limiter
	logger      zerolog.Logger
}

func NewSimulatedBroker(opts Options) *SimulatedBroker {
	limit := rate.Inf
	burst := opts.Burst
	if opts.ThrottleRPS > 0 {
		limit = rate.Limit(opts.ThrottleRPS)
		if burst < 1 {
			burst = 1
		}
	}

	return &SimulatedBroker{
		minLatency:  opts.MinLatency,
		maxLatency:  opts.MaxLatency,
		failureRate: opts.FailureRate,
		throttle:    rate.NewLimiter(limit, burst),
		logger:      log.With().Str("service", "broker").Logger(),
	}
}

// Submit pushes an order downstream. The call waits for throttle capacity,
// sleeps through simulated network latency, then either acknowledges the
// order or rejects it per the configured failure rate.
func (b *SimulatedBroker) Submit(ctx context.Context, order *types.Order) (*SubmissionReceipt, error) {
	logger := b.logger.With().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Int64("quantity", order.Quantity).
		Logger()

	start := time.Now()
	if err := b.throttle.Wait(ctx); err != nil {
		metrics.BrokerSubmissions.WithLabelValues("cancelled").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	latency := b.minLatency
	if span := b.maxLatency - b.minLatency; span > 0 {
		latency += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if latency > 0 {
		select {
		case <-ctx.Done():
			metrics.BrokerSubmissions.WithLabelValues("cancelled").Inc()
			return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, ctx.Err())
		case <-time.After(latency):
		}
	}

	if rand.Float64() < b.failureRate {
		metrics.BrokerSubmissions.WithLabelValues("rejected").Inc()
		metrics.BrokerLatency.Observe(time.Since(start).Seconds())
		logger.Warn().Msg("broker rejected order")
		return nil, fmt.Errorf("%w: venue rejected order %s", ErrSubmissionFailed, order.OrderID)
	}

	receipt := &SubmissionReceipt{
		BrokerOrderID: fmt.Sprintf("BRK-%s", uuid.New().String()),
		SubmittedAt:   time.Now().UTC(),
	}

	metrics.BrokerSubmissions.WithLabelValues("accepted").Inc()
	metrics.BrokerLatency.Observe(time.Since(start).Seconds())
	logger.Info().
		Str("broker_order_id", receipt.BrokerOrderID).
		Dur("latency", time.Since(start)).
		Msg("order submitted to broker")

	return receipt, nil
}
