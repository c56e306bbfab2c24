// Package ratelimit enforces per-client sliding-window request limits with
// burst escalation. A client that exceeds the sustained limit is denied; a
// client that keeps hammering past the burst threshold is blocked outright
// for a fixed penalty period.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/order-gateway/internal/types"
	"github.com/quantdesk/order-gateway/pkg/metrics"
)

// Scopes partition the window so traffic against one endpoint group never
// consumes another group's budget.
const (
	ScopeAuth   = "auth"
	ScopeOrders = "orders"
	ScopeStatus = "status"
)

type Verdict string

const (
	VerdictAllowed Verdict = "ALLOWED"
	VerdictDenied  Verdict = "DENIED"
	VerdictBlocked Verdict = "BLOCKED"
)

// Decision is the limiter's verdict for one request, with everything the
// transport needs for the X-RateLimit headers and Retry-After.
type Decision struct {
	Verdict    Verdict
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Duration
}

// Denial converts a non-allowed decision into its denial error. It returns
// nil for allowed decisions.
func (d *Decision) Denial() *types.DenialError {
	switch d.Verdict {
	case VerdictDenied:
		return &types.DenialError{
			Code:       types.ReasonRateLimited,
			Message:    fmt.Sprintf("rate limit exceeded: retry in %ds", ceilSeconds(d.RetryAfter)),
			RetryAfter: d.RetryAfter,
		}
	case VerdictBlocked:
		return &types.DenialError{
			Code:       types.ReasonBlocked,
			Message:    fmt.Sprintf("temporarily blocked after repeated rate limit violations: retry in %ds", ceilSeconds(d.RetryAfter)),
			RetryAfter: d.RetryAfter,
		}
	default:
		return nil
	}
}

// Info returns the header view of the decision, or nil for unlimited scopes.
func (d *Decision) Info() *types.RateLimitInfo {
	if d.Limit <= 0 {
		return nil
	}
	return &types.RateLimitInfo{
		Limit:        d.Limit,
		Remaining:    d.Remaining,
		ResetSeconds: ceilSeconds(d.Reset),
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Config carries the limiter tuning. Limits maps scope to the sustained
// per-window cap; scopes without an entry are unlimited.
type Config struct {
	Window             time.Duration
	Limits             map[string]int
	BurstMultiplier    float64
	BlockDuration      time.Duration
	PruneInterval      time.Duration
	ExemptCIDRs        []string
	ExemptPathPrefixes []string
}

type Limiter struct {
	store           Store
	window          time.Duration
	limits          map[string]int
	burstMultiplier float64
	blockDuration   time.Duration
	pruneInterval   time.Duration
	exemptNets      []*net.IPNet
	exemptPaths     []string
	logger          zerolog.Logger
}

func NewLimiter(store Store, cfg Config) (*Limiter, error) {
	nets := make([]*net.IPNet, 0, len(cfg.ExemptCIDRs))
	for _, cidr := range cfg.ExemptCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid exempt CIDR %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}

	return &Limiter{
		store:           store,
		window:          cfg.Window,
		limits:          cfg.Limits,
		burstMultiplier: cfg.BurstMultiplier,
		blockDuration:   cfg.BlockDuration,
		pruneInterval:   cfg.PruneInterval,
		exemptNets:      nets,
		exemptPaths:     cfg.ExemptPathPrefixes,
		logger:          log.With().Str("service", "ratelimit").Logger(),
	}, nil
}

// Check runs the sliding-window algorithm for one request. Every non-blocked
// attempt is recorded, including attempts that end up denied: a client
// retrying into a closed window keeps feeding the window, which is what lets
// sustained abuse cross the burst threshold and escalate to a block.
func (l *Limiter) Check(ctx context.Context, key, scope string) (*Decision, error) {
	limit, limited := l.limits[scope]
	if !limited || limit <= 0 {
		return &Decision{Verdict: VerdictAllowed}, nil
	}

	now := time.Now().UTC()

	until, blocked, err := l.store.ActiveBlock(ctx, key, scope, now)
	if err != nil {
		return nil, fmt.Errorf("failed to check block state: %w", err)
	}
	if blocked {
		metrics.RateLimitDecisions.WithLabelValues(scope, "blocked").Inc()
		remaining := until.Sub(now)
		return &Decision{
			Verdict:    VerdictBlocked,
			Limit:      limit,
			RetryAfter: remaining,
			Reset:      remaining,
		}, nil
	}

	count, oldest, err := l.store.CountAndAppend(ctx, key, scope, now, l.window)
	if err != nil {
		return nil, fmt.Errorf("failed to advance window: %w", err)
	}

	burstLimit := int(float64(limit) * l.burstMultiplier)
	if count > burstLimit {
		blockUntil := now.Add(l.blockDuration)
		if err := l.store.CreateBlock(ctx, key, scope, blockUntil); err != nil {
			return nil, fmt.Errorf("failed to create block: %w", err)
		}
		l.logger.Warn().
			Str("key", key).
			Str("scope", scope).
			Int("count", count).
			Int("burst_limit", burstLimit).
			Dur("block_duration", l.blockDuration).
			Msg("burst threshold exceeded, blocking client")
		metrics.RateLimitDecisions.WithLabelValues(scope, "block_created").Inc()
		return &Decision{
			Verdict:    VerdictBlocked,
			Limit:      limit,
			RetryAfter: l.blockDuration,
			Reset:      l.blockDuration,
		}, nil
	}

	reset := oldest.Add(l.window).Sub(now)
	if reset < 0 {
		reset = 0
	}

	if count > limit {
		metrics.RateLimitDecisions.WithLabelValues(scope, "denied").Inc()
		return &Decision{
			Verdict:    VerdictDenied,
			Limit:      limit,
			RetryAfter: reset,
			Reset:      reset,
		}, nil
	}

	metrics.RateLimitDecisions.WithLabelValues(scope, "allowed").Inc()
	return &Decision{
		Verdict:   VerdictAllowed,
		Limit:     limit,
		Remaining: limit - count,
		Reset:     reset,
	}, nil
}

// ExemptIP reports whether the client address falls inside an exempt range.
func (l *Limiter) ExemptIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range l.exemptNets {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

// ExemptPath reports whether the request path is exempt from limiting.
func (l *Limiter) ExemptPath(path string) bool {
	for _, prefix := range l.exemptPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RunPruner trims aged-out window entries and lapsed blocks on a fixed
// interval until ctx is cancelled.
func (l *Limiter) RunPruner(ctx context.Context) {
	logger := log.With().Str("component", "ratelimit_pruner").Logger()
	logger.Info().Dur("interval", l.pruneInterval).Msg("starting rate limit pruner")

	ticker := time.NewTicker(l.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down rate limit pruner")
			return
		case <-ticker.C:
			deleted, err := l.store.DeleteExpired(ctx, time.Now().UTC(), l.window)
			if err != nil {
				logger.Error().Err(err).Msg("failed to prune rate limit state")
				continue
			}
			if deleted > 0 {
				logger.Debug().Int64("deleted", deleted).Msg("pruned rate limit state")
			}
		}
	}
}
