package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantdesk/order-gateway/internal/auth"
	"github.com/quantdesk/order-gateway/internal/ratelimit"
	"github.com/quantdesk/order-gateway/internal/rbac"
	"github.com/quantdesk/order-gateway/internal/types"
)

type envelope struct {
	Success bool `json:"success"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&auth.UserSession{}, &rbac.UserConfig{}, &rbac.UserTradingStats{}))
	return db
}

func newAuthService(t *testing.T, db *gorm.DB) *auth.Service {
	t.Helper()
	svc := auth.NewService(db, "test-secret", time.Hour)
	svc.RegisterAPICredentials("trader-key", "trader-secret", "trader-1")
	svc.RegisterAPICredentials("admin-key", "admin-secret", "admin-1")
	return svc
}

func issueToken(t *testing.T, svc *auth.Service, apiKey, apiSecret string) *auth.TokenResponse {
	t.Helper()
	token, err := svc.GenerateToken(context.Background(), auth.Credentials{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	require.NoError(t, err)
	return token
}

func newLimiter(t *testing.T, limits map[string]int, exemptCIDRs, exemptPaths []string) *ratelimit.Limiter {
	t.Helper()
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.Config{
		Window:             time.Minute,
		Limits:             limits,
		BurstMultiplier:    2.0,
		BlockDuration:      5 * time.Minute,
		PruneInterval:      time.Minute,
		ExemptCIDRs:        exemptCIDRs,
		ExemptPathPrefixes: exemptPaths,
	})
	require.NoError(t, err)
	return limiter
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func TestJWTAuthRejectsMissingOrMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openDB(t)
	authSvc := newAuthService(t, db)

	router := gin.New()
	router.GET("/orders", JWTAuth(authSvc), okHandler)

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Token abc"},
		{"no token", "Bearer"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, types.ReasonInvalidSession, env.Error.Code)
		})
	}
}

func TestJWTAuthAttachesSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openDB(t)
	authSvc := newAuthService(t, db)
	token := issueToken(t, authSvc, "trader-key", "trader-secret")

	var seenUser string
	router := gin.New()
	router.GET("/orders", JWTAuth(authSvc), func(c *gin.Context) {
		session, ok := auth.SessionFromContext(c)
		require.True(t, ok)
		seenUser = session.UserID
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trader-1", seenUser)
}

func TestJWTAuthRejectsRevokedSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openDB(t)
	authSvc := newAuthService(t, db)
	token := issueToken(t, authSvc, "trader-key", "trader-secret")
	require.NoError(t, authSvc.RevokeSession(context.Background(), token.SessionID))

	router := gin.New()
	router.GET("/orders", JWTAuth(authSvc), okHandler)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitEnforcesAuthScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newLimiter(t, map[string]int{ratelimit.ScopeAuth: 2}, nil, nil)

	router := gin.New()
	router.POST("/api/v1/auth/token", RateLimit(limiter), okHandler)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	second := send()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := send()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	env := decodeEnvelope(t, third)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.ReasonRateLimited, env.Error.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
}

func TestRateLimitSkipsOrderSubmission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newLimiter(t, map[string]int{
		ratelimit.ScopeOrders: 1,
		ratelimit.ScopeStatus: 1,
	}, nil, nil)

	router := gin.New()
	router.POST("/api/v1/orders", RateLimit(limiter), okHandler)

	// The submission limit lives in the admission pipeline; the edge never
	// counts these requests.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitKeysStatusReadsByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openDB(t)
	authSvc := newAuthService(t, db)
	token := issueToken(t, authSvc, "trader-key", "trader-secret")
	limiter := newLimiter(t, map[string]int{ratelimit.ScopeStatus: 1}, nil, nil)

	router := gin.New()
	router.GET("/api/v1/orders", JWTAuth(authSvc), RateLimit(limiter), okHandler)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token.Token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	denied := send()
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
}

func TestRateLimitExemptIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newLimiter(t, map[string]int{ratelimit.ScopeAuth: 1}, []string{"10.0.0.0/8"}, nil)

	router := gin.New()
	router.POST("/api/v1/auth/token", RateLimit(limiter), okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitExemptPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := newLimiter(t, map[string]int{ratelimit.ScopeAuth: 1}, nil, []string{"/api/v1/auth"})

	router := gin.New()
	router.POST("/api/v1/auth/token", RateLimit(limiter), okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestInternalAuthRequiresManageUsers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openDB(t)
	authSvc := newAuthService(t, db)
	rbacSvc := rbac.NewService(db)
	ctx := context.Background()
	require.NoError(t, rbacSvc.CreateUser(ctx, &rbac.UserConfig{UserID: "admin-1", Role: rbac.RoleAdmin, Active: true}))
	require.NoError(t, rbacSvc.CreateUser(ctx, &rbac.UserConfig{UserID: "trader-1", Role: rbac.RoleTrader, Active: true}))

	router := gin.New()
	router.GET("/api/v1/internal/users", InternalAuth(authSvc, rbacSvc), okHandler)

	adminToken := issueToken(t, authSvc, "admin-key", "admin-secret")
	traderToken := issueToken(t, authSvc, "trader-key", "trader-secret")

	send := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/internal/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	denied := send(traderToken.Token)
	assert.Equal(t, http.StatusForbidden, denied.Code)
	env := decodeEnvelope(t, denied)
	require.NotNil(t, env.Error)
	assert.Equal(t, types.ReasonPermissionDenied, env.Error.Code)

	assert.Equal(t, http.StatusOK, send(adminToken.Token).Code)
}
