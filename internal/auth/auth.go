package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/quantdesk/order-gateway/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
)

// Demo credentials, registered at startup so the gateway works out of the
// box. Deployments provision real credentials instead.
var (
	DemoAdminAPIKey     = "demo-admin-key"
	DemoAdminAPISecret  = "demo-admin-secret"
	DemoAdminUserID     = "admin-demo"
	DemoTraderAPIKey    = "demo-trader-key"
	DemoTraderAPISecret = "demo-trader-secret"
	DemoTraderUserID    = "trader-demo"
)

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	SessionID  string    `json:"session_id"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure. The token only names the
// session; user standing and permissions are re-resolved on every request,
// never trusted from the token.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type credential struct {
	secret string
	userID string
}

// Snapshotter supplies the permission names recorded on a new session. The
// snapshot is audit state, never consulted for authorization.
type Snapshotter func(ctx context.Context, userID string) []string

// Service handles authentication and session management
type Service struct {
	jwtSecret  []byte
	sessionTTL time.Duration
	db         *Database
	snapshot   Snapshotter
	logger     zerolog.Logger

	mu             sync.RWMutex
	apiCredentials map[string]credential // map[APIKey]credential
}

// NewService creates a new authentication service with the given JWT secret
func NewService(gormDB *gorm.DB, jwtSecret string, sessionTTL time.Duration) *Service {
	return &Service{
		jwtSecret:      []byte(jwtSecret),
		sessionTTL:     sessionTTL,
		db:             NewDatabase(gormDB),
		apiCredentials: make(map[string]credential),
		logger:         log.With().Str("service", "auth").Logger(),
	}
}

// RegisterAPICredentials registers API credentials for a user.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiCredentials[apiKey] = credential{secret: apiSecret, userID: userID}
}

// SetPermissionsSnapshotter installs the source of the audit snapshot
// written on each new session.
func (s *Service) SetPermissionsSnapshotter(fn Snapshotter) {
	s.snapshot = fn
}

// GenerateToken verifies API credentials, opens a session, and returns a
// JWT bound to it. Token and session expire together.
func (s *Service) GenerateToken(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	userID, ok := s.validateCredentials(creds)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	session := &UserSession{
		SessionID:  uuid.New().String(),
		UserID:     userID,
		ExpiresAt:  now.Add(s.sessionTTL),
		LastSeenAt: now,
	}
	if s.snapshot != nil {
		if perms := s.snapshot(ctx, userID); len(perms) > 0 {
			raw, merr := json.Marshal(perms)
			if merr == nil {
				session.Permissions = string(raw)
			}
		}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		SessionID: session.SessionID,
		UserID:    userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}
	session.Token = tokenString

	if err := s.db.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("session_id", session.SessionID).
		Msg("session opened")

	return &TokenResponse{
		Token:      tokenString,
		SessionID:  session.SessionID,
		Expiration: session.ExpiresAt,
	}, nil
}

// ValidateSession verifies the token signature, then checks the session row
// it names is still live, touching it on success.
func (s *Service) ValidateSession(ctx context.Context, tokenString string) (*UserSession, error) {
	claims, err := s.parseToken(tokenString)
	if err != nil {
		return nil, err
	}

	session, err := s.db.GetSession(ctx, claims.SessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !session.ExpiresAt.After(now) {
		return nil, ErrSessionExpired
	}

	if terr := s.db.TouchSession(ctx, session.SessionID, now); terr != nil {
		s.logger.Error().Err(terr).Str("session_id", session.SessionID).Msg("failed to touch session")
	}
	session.LastSeenAt = now

	return session, nil
}

// RevokeSession closes a session. Any token naming it stops working.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if err := s.db.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info().Str("session_id", sessionID).Msg("session revoked")
	return nil
}

func (s *Service) parseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func (s *Service) validateCredentials(creds Credentials) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, exists := s.apiCredentials[creds.APIKey]
	if !exists || cred.secret != creds.APISecret {
		return "", false
	}
	return cred.userID, true
}

// RunSessionReaper deletes expired sessions on a fixed interval until ctx
// is cancelled.
func (s *Service) RunSessionReaper(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "session_reaper").Logger()
	logger.Info().Dur("interval", interval).Msg("starting session reaper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down session reaper")
			return
		case <-ticker.C:
			deleted, err := s.db.DeleteExpiredSessions(ctx, time.Now().UTC())
			if err != nil {
				logger.Error().Err(err).Msg("failed to delete expired sessions")
				continue
			}
			if deleted > 0 {
				logger.Debug().Int64("deleted", deleted).Msg("reaped expired sessions")
			}
		}
	}
}

// SessionFromContext returns the session the auth middleware attached to
// the request.
func SessionFromContext(c *gin.Context) (*UserSession, bool) {
	v, ok := c.Get("session")
	if !ok {
		return nil, false
	}
	session, ok := v.(*UserSession)
	return session, ok
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
// Request body should contain API credentials
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(c.Request.Context(), creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// LogoutHandler handles POST requests to close the calling session
func (h *GinHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		if !ok {
			response.Unauthorized(c, "Missing session")
			return
		}
		if err := h.service.RevokeSession(c.Request.Context(), session.SessionID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"session_id": session.SessionID, "revoked": true})
	}
}
