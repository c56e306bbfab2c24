package rbac

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/quantdesk/order-gateway/pkg/response"
)

// GinHandlers contains the internal user-administration endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateUserRequest is the payload for registering a user. Active defaults
// to true when omitted; zero limits inherit the role defaults; Permissions
// grants named permissions on top of the role's set.
type CreateUserRequest struct {
	UserID             string   `json:"user_id" binding:"required"`
	Role               Role     `json:"role" binding:"required"`
	Active             *bool    `json:"active"`
	MaxOrderValue      float64  `json:"max_order_value"`
	MaxOrdersPerMinute int      `json:"max_orders_per_minute"`
	DailyLossLimit     float64  `json:"daily_loss_limit"`
	Permissions        []string `json:"permissions"`
}

// UpdateUserRequest carries partial changes; nil fields keep their value.
// An empty Permissions array clears the user's permission overrides.
type UpdateUserRequest struct {
	Role               *Role     `json:"role"`
	Active             *bool     `json:"active"`
	MaxOrderValue      *float64  `json:"max_order_value"`
	MaxOrdersPerMinute *int      `json:"max_orders_per_minute"`
	DailyLossLimit     *float64  `json:"daily_loss_limit"`
	Permissions        *[]string `json:"permissions"`
}

// RecordPnLRequest applies a realized profit or loss delta to a user's day.
type RecordPnLRequest struct {
	Delta float64 `json:"delta" binding:"required"`
}

// CreateUserHandler handles POST requests to register users
func (h *GinHandlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		active := true
		if req.Active != nil {
			active = *req.Active
		}
		cfg := &UserConfig{
			UserID:             req.UserID,
			Role:               req.Role,
			Active:             active,
			MaxOrderValue:      req.MaxOrderValue,
			MaxOrdersPerMinute: req.MaxOrdersPerMinute,
			DailyLossLimit:     req.DailyLossLimit,
		}
		if len(req.Permissions) > 0 {
			raw, _ := json.Marshal(req.Permissions)
			cfg.PermissionOverrides = string(raw)
		}

		if err := h.service.CreateUser(c.Request.Context(), cfg); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, cfg)
	}
}

// UpdateUserHandler handles PUT requests to change a user's role, standing,
// or limit overrides
func (h *GinHandlers) UpdateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		var req UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		cfg, err := h.service.UpdateUser(c.Request.Context(), userID, func(cfg *UserConfig) {
			if req.Role != nil {
				cfg.Role = *req.Role
			}
			if req.Active != nil {
				cfg.Active = *req.Active
			}
			if req.MaxOrderValue != nil {
				cfg.MaxOrderValue = *req.MaxOrderValue
			}
			if req.MaxOrdersPerMinute != nil {
				cfg.MaxOrdersPerMinute = *req.MaxOrdersPerMinute
			}
			if req.DailyLossLimit != nil {
				cfg.DailyLossLimit = *req.DailyLossLimit
			}
			if req.Permissions != nil {
				cfg.PermissionOverrides = ""
				if len(*req.Permissions) > 0 {
					raw, _ := json.Marshal(*req.Permissions)
					cfg.PermissionOverrides = string(raw)
				}
			}
		})
		response.Handle(c, cfg, err)
	}
}

// GetUserHandler handles GET requests for a single user record
func (h *GinHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := h.service.GetUser(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, cfg, err)
	}
}

// ListUsersHandler handles GET requests for all user records
func (h *GinHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := h.service.ListUsers(c.Request.Context())
		response.Handle(c, users, err)
	}
}

// RecordPnLHandler handles POST requests that report a user's realized
// profit or loss
func (h *GinHandlers) RecordPnLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")

		var req RecordPnLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.RecordPnL(c.Request.Context(), userID, req.Delta); err != nil {
			response.Handle(c, nil, err)
			return
		}

		stats, err := h.service.GetStats(c.Request.Context(), userID)
		response.Handle(c, stats, err)
	}
}

// GetStatsHandler handles GET requests for a user's current-day stats
func (h *GinHandlers) GetStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.GetStats(c.Request.Context(), c.Param("user_id"))
		response.Handle(c, stats, err)
	}
}
