package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/order-gateway/internal/auth"
	"github.com/quantdesk/order-gateway/internal/ratelimit"
	"github.com/quantdesk/order-gateway/internal/rbac"
	"github.com/quantdesk/order-gateway/internal/types"
	"github.com/quantdesk/order-gateway/pkg/response"
)

// scopeFor maps a route to the limit scope that governs it at the transport
// edge. Order submission gets no scope here: its check runs inside the
// admission pipeline, where the verdict also feeds the admission result.
func scopeFor(method, path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return ratelimit.ScopeAuth
	case method == http.MethodPost && strings.HasPrefix(path, "/api/v1/orders"):
		return ""
	case strings.HasPrefix(path, "/api/v1/orders"):
		return ratelimit.ScopeStatus
	default:
		return ""
	}
}

// clientKey identifies the caller for rate limiting: the authenticated user
// when a session is present, the client IP otherwise.
func clientKey(c *gin.Context) string {
	if session, ok := auth.SessionFromContext(c); ok {
		return session.UserID
	}
	return c.ClientIP()
}

// RateLimit enforces the transport-edge sliding window. Exempt callers and
// operational paths pass straight through; everything else gets
// X-RateLimit headers on the way out.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if limiter.ExemptPath(path) || limiter.ExemptIP(c.ClientIP()) {
			c.Next()
			return
		}

		scope := scopeFor(c.Request.Method, path)
		if scope == "" {
			c.Next()
			return
		}

		decision, err := limiter.Check(c.Request.Context(), clientKey(c), scope)
		if err != nil {
			// Fail open: a broken limiter must not take the gateway down.
			log.Warn().Err(err).Str("path", path).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		response.SetRateLimitHeaders(c, decision.Info())
		if denial := decision.Denial(); denial != nil {
			response.Denial(c, denial)
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and attaches the session it names.
// The session row is the source of truth: a revoked or reaped session
// kills the token before its own expiry.
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := validateSession(c, authService)
		if !ok {
			return
		}

		c.Set("session", session)
		c.Next()
	}
}

// InternalAuth guards the operator surface: a valid session whose user
// holds the manage-users permission.
func InternalAuth(authService *auth.Service, rbacService *rbac.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := validateSession(c, authService)
		if !ok {
			return
		}

		allowed, err := rbacService.UserCan(c.Request.Context(), session.UserID, rbac.PermManageUsers)
		if err != nil {
			response.InternalError(c, "Failed to check permissions")
			c.Abort()
			return
		}
		if !allowed {
			response.Denial(c, &types.DenialError{
				Code:    types.ReasonPermissionDenied,
				Message: "user management requires the manage_users permission",
			})
			c.Abort()
			return
		}

		c.Set("session", session)
		c.Next()
	}
}

func validateSession(c *gin.Context, authService *auth.Service) (*auth.UserSession, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		denyUnauthorized(c, "authorization header required")
		return nil, false
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
		denyUnauthorized(c, "invalid authorization header format")
		return nil, false
	}

	session, err := authService.ValidateSession(c.Request.Context(), bearerToken[1])
	if err != nil {
		denyUnauthorized(c, "invalid or expired session")
		return nil, false
	}

	return session, true
}

func denyUnauthorized(c *gin.Context, message string) {
	response.Denial(c, &types.DenialError{
		Code:    types.ReasonInvalidSession,
		Message: message,
	})
	c.Abort()
}
