package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/quantdesk/order-gateway/internal/admission"
	"github.com/quantdesk/order-gateway/internal/auth"
	"github.com/quantdesk/order-gateway/internal/broker"
	"github.com/quantdesk/order-gateway/internal/config"
	"github.com/quantdesk/order-gateway/internal/database"
	"github.com/quantdesk/order-gateway/internal/dedup"
	"github.com/quantdesk/order-gateway/internal/ratelimit"
	"github.com/quantdesk/order-gateway/internal/rbac"
	"github.com/quantdesk/order-gateway/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the order admission gateway with graceful
// shutdown support. It sets up the database, the durable stores with their
// in-process fallbacks, all services, API routes, and the background
// maintenance loops.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Durable stores wrapped with in-process fallbacks: when the database
	// misbehaves the gateway degrades to local enforcement instead of
	// refusing orders.
	dedupStore := dedup.NewFailoverStore(dedup.NewDatabase(db), dedup.NewMemoryStore(), cfg.StoreTimeout)
	rateStore := ratelimit.NewFailoverStore(ratelimit.NewDatabase(db), ratelimit.NewMemoryStore(), cfg.StoreTimeout)

	limiter, err := ratelimit.NewLimiter(rateStore, ratelimit.Config{
		Window: cfg.RateLimitWindow,
		Limits: map[string]int{
			ratelimit.ScopeAuth:   cfg.AuthLimit,
			ratelimit.ScopeOrders: cfg.OrderLimit,
			ratelimit.ScopeStatus: cfg.StatusLimit,
		},
		BurstMultiplier:    cfg.BurstMultiplier,
		BlockDuration:      cfg.BlockDuration,
		PruneInterval:      cfg.RatePruneInterval,
		ExemptCIDRs:        cfg.ExemptCIDRs,
		ExemptPathPrefixes: cfg.ExemptPathPrefixes,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to build rate limiter")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(db, cfg.JWTSecret, cfg.SessionTTL)
	authHandlers := auth.NewGinHandlers(authService)
	// Register demo credentials
	authService.RegisterAPICredentials(auth.DemoAdminAPIKey, auth.DemoAdminAPISecret, auth.DemoAdminUserID)
	authService.RegisterAPICredentials(auth.DemoTraderAPIKey, auth.DemoTraderAPISecret, auth.DemoTraderUserID)

	rbacService := rbac.NewService(db)
	rbacHandlers := rbac.NewGinHandlers(rbacService)
	authService.SetPermissionsSnapshotter(rbacService.PermissionSnapshot)

	dedupService := dedup.NewService(dedupStore, cfg.DedupWindow, cfg.DedupSweepInterval)

	brokerClient := broker.NewSimulatedBroker(broker.Options{
		MinLatency:  cfg.BrokerMinLatency,
		MaxLatency:  cfg.BrokerMaxLatency,
		FailureRate: cfg.BrokerFailureRate,
		ThrottleRPS: cfg.BrokerThrottleRPS,
		Burst:       cfg.BrokerBurst,
	})

	admissionService := admission.NewService(db, rbacService, limiter, dedupService, brokerClient)
	admissionHandlers := admission.NewGinHandlers(admissionService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedDemoUsers(ctx, rbacService)

	// Start background maintenance
	go dedupService.RunSweeper(ctx)
	go limiter.RunPruner(ctx)
	go rbacService.RunDailyReset(ctx, cfg.StatsResetInterval)
	go authService.RunSessionReaper(ctx, cfg.SessionSweepInterval)

	// Setup API routes
	setupRoutes(router, limiter, authService, rbacService, authHandlers, admissionHandlers, rbacHandlers)

	// Operational endpoints sit outside the API groups: they are exempt
	// from rate limiting and authentication.
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":              "ok",
			"dedup_degraded":      dedupStore.Degraded(),
			"rate_limit_degraded": rateStore.Degraded(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Create server
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop background maintenance, then give outstanding requests 5
	// seconds to complete
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// seedDemoUsers provisions accounts for the demo credentials if they do not
// exist yet. Reboots leave existing accounts untouched.
func seedDemoUsers(ctx context.Context, rbacService *rbac.Service) {
	demo := []rbac.UserConfig{
		{UserID: auth.DemoAdminUserID, Role: rbac.RoleAdmin, Active: true},
		{UserID: auth.DemoTraderUserID, Role: rbac.RoleTrader, Active: true},
	}
	for _, cfg := range demo {
		if _, err := rbacService.GetUser(ctx, cfg.UserID); err == nil {
			continue
		}
		if err := rbacService.CreateUser(ctx, &cfg); err != nil {
			zlog.Warn().Err(err).Str("user_id", cfg.UserID).Msg("Failed to seed demo user")
		}
	}
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for token issuance, rate limited by client
// - Order routes: Protected by JWT authentication; reads rate limited per user
// - Internal routes: Protected by the manage-users permission
// Parameters:
//   - router: The main Gin router instance
//   - limiter: The shared sliding-window rate limiter
//   - authService: Session validation for the auth middleware
//   - rbacService: Permission checks for the internal middleware
//   - authHandlers: Handlers for authentication endpoints
//   - admissionHandlers: Handlers for order submission and lookup
//   - rbacHandlers: Handlers for user management and trading stats
func setupRoutes(
	router *gin.Engine,
	limiter *ratelimit.Limiter,
	authService *auth.Service,
	rbacService *rbac.Service,
	authHandlers *auth.GinHandlers,
	admissionHandlers *admission.GinHandlers,
	rbacHandlers *rbac.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		authGroup.Use(middleware.RateLimit(limiter))
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
			authGroup.POST("/logout", middleware.JWTAuth(authService), authHandlers.LogoutHandler())
		}

		// Order routes. JWTAuth runs before RateLimit so status reads are
		// limited per user rather than per IP; submission itself is rate
		// checked inside the admission pipeline.
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(authService), middleware.RateLimit(limiter))
		{
			orders.POST("", admissionHandlers.SubmitOrderHandler())
			orders.GET("", admissionHandlers.ListOrdersHandler())
			orders.GET("/:order_id", admissionHandlers.GetOrderHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(authService, rbacService))
		{
			internal.POST("/users", rbacHandlers.CreateUserHandler())
			internal.GET("/users", rbacHandlers.ListUsersHandler())
			internal.GET("/users/:user_id", rbacHandlers.GetUserHandler())
			internal.PUT("/users/:user_id", rbacHandlers.UpdateUserHandler())
			internal.POST("/users/:user_id/pnl", rbacHandlers.RecordPnLHandler())
			internal.GET("/users/:user_id/stats", rbacHandlers.GetStatsHandler())
		}
	}
}
