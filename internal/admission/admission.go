// Package admission runs an order through the gateway's checks in a fixed
// order: structural validation, risk checks, rate limiting, duplicate
// reservation, then broker submission. The order of stages is load-bearing:
// cheap local checks run before anything that consumes shared state, and the
// dedup reservation is taken last so a denied order never burns a
// fingerprint.
package admission

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/quantdesk/order-gateway/internal/broker"
	"github.com/quantdesk/order-gateway/internal/dedup"
	"github.com/quantdesk/order-gateway/internal/ratelimit"
	"github.com/quantdesk/order-gateway/internal/rbac"
	"github.com/quantdesk/order-gateway/internal/types"
	"github.com/quantdesk/order-gateway/pkg/metrics"
)

// Service is the admission pipeline.
type Service struct {
	db      *Database
	rbac    *rbac.Service
	limiter *ratelimit.Limiter
	dedup   *dedup.Service
	broker  broker.BrokerClient
	logger  zerolog.Logger
}

func NewService(gormDB *gorm.DB, rbacSvc *rbac.Service, limiter *ratelimit.Limiter, dedupSvc *dedup.Service, brokerClient broker.BrokerClient) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		rbac:    rbacSvc,
		limiter: limiter,
		dedup:   dedupSvc,
		broker:  brokerClient,
		logger:  log.With().Str("service", "admission").Logger(),
	}
}

// SubmitRequest carries the order attributes a client proposes. Field-level
// problems are reported through the admission result, not binding errors,
// so denial codes stay uniform.
type SubmitRequest struct {
	Symbol    string          `json:"symbol"`
	Side      types.Side      `json:"side"`
	OrderType types.OrderType `json:"order_type"`
	Quantity  int64           `json:"quantity"`
	Price     float64         `json:"price"`
}

// Submit runs one order through the pipeline. The returned result is always
// usable: approved or denied, it carries the reason and whatever rate limit
// standing is known. A non-nil error means the gateway itself failed, not
// that the order was denied.
func (s *Service) Submit(ctx context.Context, userID string, req SubmitRequest) (*types.AdmissionResult, error) {
	order := &types.Order{
		OrderID:   uuid.New().String(),
		UserID:    userID,
		Symbol:    strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:      req.Side,
		OrderType: req.OrderType,
		Quantity:  req.Quantity,
		Price:     req.Price,
	}
	result := &types.AdmissionResult{OrderID: order.OrderID}

	logger := s.logger.With().
		Str("order_id", order.OrderID).
		Str("user_id", userID).
		Str("symbol", order.Symbol).
		Logger()
	logger.Info().
		Str("side", string(order.Side)).
		Int64("quantity", order.Quantity).
		Float64("price", order.Price).
		Msg("order received")

	// Stage 1: structural validation.
	if err := order.Validate(); err != nil {
		return s.deny(ctx, order, result, err)
	}

	// Stage 2: account, permission, and risk checks.
	if err := s.rbac.ValidateOrder(ctx, order); err != nil {
		return s.deny(ctx, order, result, err)
	}

	// Stage 3: per-user order rate against the sliding window.
	decision, err := s.limiter.Check(ctx, userID, ratelimit.ScopeOrders)
	if err != nil {
		return result, fmt.Errorf("rate limit check failed: %w", err)
	}
	result.RateLimit = decision.Info()
	if denial := decision.Denial(); denial != nil {
		return s.deny(ctx, order, result, denial)
	}

	// Stage 4: duplicate fingerprint reservation. From here on the order
	// holds shared state that must be released if submission fails.
	fingerprint, err := s.dedup.CheckAndReserve(ctx, order)
	if err != nil {
		if _, ok := types.AsDenial(err); ok {
			return s.deny(ctx, order, result, err)
		}
		return result, err
	}
	logger.Debug().Str("fingerprint", fingerprint).Msg("fingerprint reserved")

	submission := &types.OrderSubmission{
		OrderID:         order.OrderID,
		FingerprintHash: fingerprint,
		UserID:          userID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		OrderType:       order.OrderType,
		Quantity:        order.Quantity,
		Price:           order.Price,
		Status:          types.StatusPending,
		SubmittedAt:     time.Now().UTC(),
	}
	if err := s.db.CreateSubmission(ctx, submission); err != nil {
		s.releaseQuietly(ctx, fingerprint, order.OrderID)
		return result, err
	}

	// Stage 5: broker submission. Failure releases the reservation so the
	// client can retry immediately instead of waiting out the dedup window.
	receipt, err := s.broker.Submit(ctx, order)
	if err != nil {
		logger.Warn().Err(err).Msg("broker submission failed, releasing reservation")
		s.releaseQuietly(ctx, fingerprint, order.OrderID)

		submission.Status = types.StatusRejected
		submission.RejectionReason = types.ReasonBrokerFailed
		if uerr := s.db.UpdateSubmission(ctx, submission); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to record broker rejection")
		}

		return s.deny(ctx, order, result, &types.DenialError{
			Code:    types.ReasonBrokerFailed,
			Message: "broker submission failed, the order may be retried",
		})
	}

	submission.Status = types.StatusSubmitted
	submission.BrokerOrderID = receipt.BrokerOrderID
	if uerr := s.db.UpdateSubmission(ctx, submission); uerr != nil {
		logger.Error().Err(uerr).Msg("failed to record broker acknowledgement")
	}

	// Stats and the per-user order window move only once the broker has the
	// order; a failed submission leaves no trace a retry would trip over.
	s.rbac.RecordAdmission(ctx, userID)

	result.Approved = true
	metrics.AdmissionsTotal.WithLabelValues("approved", "").Inc()
	logger.Info().
		Str("broker_order_id", receipt.BrokerOrderID).
		Msg("order admitted")

	return result, nil
}

// deny finalizes a denied result. Denials for known users are recorded in
// their daily stats; validation failures and unknown users are not, so a
// ghost user never grows a stats row. Broker failures are not either: the
// order was admitted on its merits and the caller is invited to retry.
func (s *Service) deny(ctx context.Context, order *types.Order, result *types.AdmissionResult, err error) (*types.AdmissionResult, error) {
	denial, ok := types.AsDenial(err)
	if !ok {
		return result, err
	}

	result.Approved = false
	result.Reason = denial.Code
	result.Message = denial.Message
	if denial.RetryAfter > 0 {
		result.RetryAfterSeconds = int(math.Ceil(denial.RetryAfter.Seconds()))
	}

	metrics.AdmissionsTotal.WithLabelValues("denied", denial.Code).Inc()
	switch denial.Code {
	case types.ReasonValidation, types.ReasonInactiveUser, types.ReasonBrokerFailed:
	default:
		s.rbac.RecordRejection(ctx, order.UserID)
	}

	s.logger.Info().
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("reason", denial.Code).
		Msg("order denied")

	return result, nil
}

func (s *Service) releaseQuietly(ctx context.Context, fingerprint, orderID string) {
	if err := s.dedup.Release(ctx, fingerprint); err != nil {
		s.logger.Error().
			Err(err).
			Str("order_id", orderID).
			Str("fingerprint", fingerprint).
			Msg("failed to release reservation, duplicate retries will be refused until it expires")
	}
}

// GetOrder returns a user's submission by order ID.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*types.OrderSubmission, error) {
	return s.db.GetSubmissionForUser(ctx, orderID, userID)
}

// ListOrders returns a user's most recent submissions.
func (s *Service) ListOrders(ctx context.Context, userID string, limit int) ([]types.OrderSubmission, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.db.ListSubmissionsForUser(ctx, userID, limit)
}
