// Package rbac decides whether a user may place an order. Validation runs a
// fixed sequence of checks and stops at the first failure: account standing,
// permission, order value, daily loss, then order rate. Each failure maps to
// one stable denial code.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quantdesk/order-gateway/internal/types"
)

type Service struct {
	db      *Database
	tracker *Tracker
	logger  zerolog.Logger
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		tracker: NewTracker(time.Minute),
		logger:  log.With().Str("service", "rbac").Logger(),
	}
}

// limits is the effective set after per-user overrides are folded into the
// role defaults. Zero means unlimited.
type limits struct {
	maxOrderValue      float64
	maxOrdersPerMinute int
	dailyLossLimit     float64
}

func effectiveLimits(cfg *UserConfig, policy Policy) limits {
	l := limits{
		maxOrderValue:      policy.MaxOrderValue,
		maxOrdersPerMinute: policy.MaxOrdersPerMinute,
		dailyLossLimit:     policy.DailyLossLimit,
	}
	if cfg.MaxOrderValue > 0 {
		l.maxOrderValue = cfg.MaxOrderValue
	}
	if cfg.MaxOrdersPerMinute > 0 {
		l.maxOrdersPerMinute = cfg.MaxOrdersPerMinute
	}
	if cfg.DailyLossLimit > 0 {
		l.dailyLossLimit = cfg.DailyLossLimit
	}
	return l
}

// ValidateOrder runs the admission risk checks in order and returns the
// first failure as a denial. A nil return means the order passed every
// check.
func (s *Service) ValidateOrder(ctx context.Context, order *types.Order) error {
	// Check 1: the user must exist and be active.
	cfg, err := s.db.GetUserConfig(ctx, order.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.DenialError{
			Code:    types.ReasonInactiveUser,
			Message: fmt.Sprintf("user %s is not registered", order.UserID),
		}
	}
	if err != nil {
		return fmt.Errorf("failed to load user config: %w", err)
	}
	if !cfg.Active {
		return &types.DenialError{
			Code:    types.ReasonInactiveUser,
			Message: fmt.Sprintf("user %s is deactivated", order.UserID),
		}
	}

	// Check 2: the role or an explicit override must grant order placement.
	policy, _ := PolicyFor(cfg.Role)
	if !cfg.Grants(PermPlaceOrder) {
		return &types.DenialError{
			Code:    types.ReasonPermissionDenied,
			Message: fmt.Sprintf("role %s may not place orders", cfg.Role),
		}
	}

	eff := effectiveLimits(cfg, policy)

	// Check 3: notional value against the order value cap.
	if eff.maxOrderValue > 0 {
		value := decimal.NewFromInt(order.Quantity).Mul(decimal.NewFromFloat(order.Price))
		maxValue := decimal.NewFromFloat(eff.maxOrderValue)
		if value.GreaterThan(maxValue) {
			return &types.DenialError{
				Code: types.ReasonOrderValueExceeded,
				Message: fmt.Sprintf("order value %s exceeds limit %s",
					value.StringFixed(2), maxValue.StringFixed(2)),
			}
		}
	}

	// Check 4: the day's realized loss against the loss limit. A missing
	// stats row means no trading today, so nothing to check.
	if eff.dailyLossLimit > 0 {
		stats, serr := s.db.GetTradingStats(ctx, order.UserID)
		if serr != nil && !errors.Is(serr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load trading stats: %w", serr)
		}
		if serr == nil && stats.TradingDate == TradingDateOf(time.Now()) {
			pnl := decimal.NewFromFloat(stats.RealizedPnL)
			limit := decimal.NewFromFloat(eff.dailyLossLimit)
			if pnl.LessThanOrEqual(limit.Neg()) {
				return &types.DenialError{
					Code: types.ReasonDailyLossLimit,
					Message: fmt.Sprintf("daily loss %s has reached the limit %s",
						pnl.Neg().StringFixed(2), limit.StringFixed(2)),
				}
			}
		}
	}

	// Check 5: orders placed in the last minute against the rate cap.
	if eff.maxOrdersPerMinute > 0 {
		now := time.Now().UTC()
		recent := s.tracker.CountRecent(order.UserID, now)
		if recent >= eff.maxOrdersPerMinute {
			return &types.DenialError{
				Code: types.ReasonOrderRateExceeded,
				Message: fmt.Sprintf("order rate limit of %d orders per minute reached",
					eff.maxOrdersPerMinute),
				RetryAfter: s.tracker.RetryIn(order.UserID, now),
			}
		}
	}

	return nil
}

// RecordAdmission notes an order that passed admission. The in-process
// window feeds check 5; the stats row feeds reporting.
func (s *Service) RecordAdmission(ctx context.Context, userID string) {
	s.tracker.Record(userID, time.Now().UTC())
	if err := s.db.IncrementOrdersSubmitted(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to record admission")
	}
}

// RecordRejection notes a denied order in the user's stats.
func (s *Service) RecordRejection(ctx context.Context, userID string) {
	if err := s.db.IncrementOrdersRejected(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to record rejection")
	}
}

// RecordPnL applies a realized profit or loss delta to the user's day.
func (s *Service) RecordPnL(ctx context.Context, userID string, delta float64) error {
	return s.db.AddRealizedPnL(ctx, userID, delta)
}

// GetStats returns the user's stats for the current trading day. A row from
// an earlier day reads as all zeros.
func (s *Service) GetStats(ctx context.Context, userID string) (*UserTradingStats, error) {
	stats, err := s.db.GetTradingStats(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &UserTradingStats{
			UserID:      userID,
			TradingDate: TradingDateOf(time.Now()),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if stats.TradingDate != TradingDateOf(time.Now()) {
		return &UserTradingStats{
			UserID:      userID,
			TradingDate: TradingDateOf(time.Now()),
		}, nil
	}
	return stats, nil
}

// validateOverrides rejects permission names outside the defined set.
func validateOverrides(cfg *UserConfig) error {
	for _, perm := range cfg.OverridePermissions() {
		if !ValidPermission(perm) {
			return &types.DenialError{Code: types.ReasonValidation, Message: fmt.Sprintf("unknown permission %q", perm)}
		}
	}
	return nil
}

// CreateUser registers a new user.
func (s *Service) CreateUser(ctx context.Context, cfg *UserConfig) error {
	if cfg.UserID == "" {
		return &types.DenialError{Code: types.ReasonValidation, Message: "user_id is required"}
	}
	if !ValidRole(cfg.Role) {
		return &types.DenialError{Code: types.ReasonValidation, Message: fmt.Sprintf("unknown role %q", cfg.Role)}
	}
	if err := validateOverrides(cfg); err != nil {
		return err
	}
	if err := s.db.CreateUserConfig(ctx, cfg); err != nil {
		return err
	}
	s.logger.Info().
		Str("user_id", cfg.UserID).
		Str("role", string(cfg.Role)).
		Msg("user registered")
	return nil
}

// UpdateUser applies changes to an existing user's role, standing, or
// limit overrides.
func (s *Service) UpdateUser(ctx context.Context, userID string, apply func(cfg *UserConfig)) (*UserConfig, error) {
	cfg, err := s.db.GetUserConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	apply(cfg)
	if !ValidRole(cfg.Role) {
		return nil, &types.DenialError{Code: types.ReasonValidation, Message: fmt.Sprintf("unknown role %q", cfg.Role)}
	}
	if err := validateOverrides(cfg); err != nil {
		return nil, err
	}
	if err := s.db.UpdateUserConfig(ctx, cfg); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Msg("user updated")
	return cfg, nil
}

// GetUser returns a user's account record.
func (s *Service) GetUser(ctx context.Context, userID string) (*UserConfig, error) {
	return s.db.GetUserConfig(ctx, userID)
}

// UserCan reports whether an active user's role or overrides grant the
// permission. Unknown and deactivated users hold no permissions.
func (s *Service) UserCan(ctx context.Context, userID string, perm Permission) (bool, error) {
	cfg, err := s.db.GetUserConfig(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cfg.Active {
		return false, nil
	}
	return cfg.Grants(perm), nil
}

// PermissionSnapshot returns the names of the permissions the user's role
// and overrides grant right now. Unknown and deactivated users get an empty
// snapshot.
func (s *Service) PermissionSnapshot(ctx context.Context, userID string) []string {
	cfg, err := s.db.GetUserConfig(ctx, userID)
	if err != nil || !cfg.Active {
		return nil
	}
	policy, _ := PolicyFor(cfg.Role)
	names := make([]string, 0, len(policy.Permissions))
	for _, perm := range policy.Permissions {
		names = append(names, string(perm))
	}
	for _, perm := range cfg.OverridePermissions() {
		if !policy.Can(perm) {
			names = append(names, string(perm))
		}
	}
	return names
}

// ListUsers returns every account record.
func (s *Service) ListUsers(ctx context.Context) ([]UserConfig, error) {
	return s.db.ListUserConfigs(ctx)
}

// RunDailyReset rolls stale stats rows onto the current trading day on a
// fixed interval until ctx is cancelled, and sweeps the in-process order
// windows while it is at it.
func (s *Service) RunDailyReset(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "stats_reset").Logger()
	logger.Info().Dur("interval", interval).Msg("starting daily stats reset")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down daily stats reset")
			return
		case <-ticker.C:
			s.tracker.Sweep(time.Now().UTC())
			rolled, err := s.db.ResetStaleStats(ctx, TradingDateOf(time.Now()))
			if err != nil {
				logger.Error().Err(err).Msg("failed to reset trading stats")
				continue
			}
			if rolled > 0 {
				logger.Info().Int64("users", rolled).Msg("rolled trading stats to new day")
			}
		}
	}
}
