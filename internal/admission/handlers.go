package admission

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantdesk/order-gateway/internal/auth"
	"github.com/quantdesk/order-gateway/internal/types"
	"github.com/quantdesk/order-gateway/pkg/response"
)

// GinHandlers contains HTTP handlers for order admission endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SubmitOrderHandler handles POST requests to submit orders through the
// admission pipeline. The user comes from the authenticated session, never
// from the payload.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := auth.SessionFromContext(c)
		if !ok {
			response.Unauthorized(c, "Missing session")
			return
		}

		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.service.Submit(c.Request.Context(), session.UserID, req)
		if err != nil {
			response.InternalError(c, "An unexpected error occurred")
			return
		}

		response.SetRateLimitHeaders(c, result.RateLimit)
		if !result.Approved {
			response.Denial(c, &types.DenialError{
				Code:       result.Reason,
				Message:    result.Message,
				RetryAfter: time.Duration(result.RetryAfterSeconds) * time.Second,
			})
			return
		}
		response.Success(c, result)
	}
}

// GetOrderHandler handles GET requests for a single order submission
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := auth.SessionFromContext(c)
		if !ok {
			response.Unauthorized(c, "Missing session")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		submission, err := h.service.GetOrder(c.Request.Context(), orderID, session.UserID)
		if err != nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Success(c, submission)
	}
}

// ListOrdersHandler handles GET requests for the caller's recent orders
// Query parameter: limit (optional)
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := auth.SessionFromContext(c)
		if !ok {
			response.Unauthorized(c, "Missing session")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		submissions, err := h.service.ListOrders(c.Request.Context(), session.UserID, limit)
		response.Handle(c, submissions, err)
	}
}
