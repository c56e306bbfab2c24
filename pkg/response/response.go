package response

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/quantdesk/order-gateway/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
)

// denialStatus maps admission denial codes to HTTP status codes. Unknown
// codes fall through to 500.
var denialStatus = map[string]int{
	types.ReasonValidation:         http.StatusBadRequest,
	types.ReasonInvalidSession:     http.StatusUnauthorized,
	types.ReasonInactiveUser:       http.StatusForbidden,
	types.ReasonPermissionDenied:   http.StatusForbidden,
	types.ReasonOrderValueExceeded: http.StatusForbidden,
	types.ReasonDailyLossLimit:     http.StatusForbidden,
	types.ReasonOrderRateExceeded:  http.StatusTooManyRequests,
	types.ReasonRateLimited:        http.StatusTooManyRequests,
	types.ReasonBlocked:            http.StatusTooManyRequests,
	types.ReasonDuplicateOrder:     http.StatusConflict,
	types.ReasonBrokerFailed:       http.StatusBadGateway,
}

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	if d, ok := types.AsDenial(err); ok {
		Denial(c, d)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Denial sends the response for a rejected admission: the denial code and
// message go out verbatim, with Retry-After set for rate denials and the
// block expiry surfaced for blocked clients.
func Denial(c *gin.Context, d *types.DenialError) {
	status, ok := denialStatus[d.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if d.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
	if d.Code == types.ReasonBlocked && d.RetryAfter > 0 {
		c.Header("X-RateLimit-Block-Expires", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    d.Code,
			Message: d.Message,
		},
	})
}

// SetRateLimitHeaders writes the standard X-RateLimit headers on the
// response. They accompany both approved and denied requests.
func SetRateLimitHeaders(c *gin.Context, info *types.RateLimitInfo) {
	if info == nil {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(info.ResetSeconds))
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeDuplicateResource,
			Message: message,
		},
	})
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, code, message string) {
	c.JSON(http.StatusTooManyRequests, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
