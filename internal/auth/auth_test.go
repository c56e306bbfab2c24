package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&UserSession{}))

	svc := NewService(db, "test-secret", ttl)
	svc.RegisterAPICredentials("key-1", "secret-1", "user-1")
	return svc
}

func TestGenerateTokenRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t, time.Hour)

	_, err := svc.GenerateToken(context.Background(), Credentials{APIKey: "key-1", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(context.Background(), Credentials{APIKey: "unknown", APISecret: "secret-1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestGenerateAndValidateSession(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.NotEmpty(t, token.SessionID)

	session, err := svc.ValidateSession(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, token.SessionID, session.SessionID)
	assert.Equal(t, token.Token, session.Token, "issued token is kept on the session row")
	assert.False(t, session.LastSeenAt.IsZero())
}

func TestGenerateTokenRecordsPermissionSnapshot(t *testing.T) {
	svc := newTestService(t, time.Hour)
	svc.SetPermissionsSnapshotter(func(_ context.Context, userID string) []string {
		require.Equal(t, "user-1", userID)
		return []string{"place_order", "view_orders"}
	})
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	session, err := svc.ValidateSession(ctx, token.Token)
	require.NoError(t, err)
	assert.JSONEq(t, `["place_order","view_orders"]`, session.Permissions)
}

func TestValidateSessionRejectsGarbageToken(t *testing.T) {
	svc := newTestService(t, time.Hour)

	_, err := svc.ValidateSession(context.Background(), "not-a-jwt")
	assert.Error(t, err)
}

func TestValidateSessionRejectsForeignSignature(t *testing.T) {
	svc := newTestService(t, time.Hour)
	other := newTestService(t, time.Hour)
	other.jwtSecret = []byte("different-secret")

	token, err := svc.GenerateToken(context.Background(), Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	_, err = other.ValidateSession(context.Background(), token.Token)
	assert.Error(t, err)
}

func TestValidateSessionRejectsRevokedSession(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(ctx, token.SessionID))

	_, err = svc.ValidateSession(ctx, token.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidateSessionRejectsExpiredSession(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	token, err := svc.GenerateToken(ctx, Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	// Age the session row past its expiry; the JWT itself is still valid.
	require.NoError(t, svc.db.db.Model(&UserSession{}).
		Where("session_id = ?", token.SessionID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err = svc.ValidateSession(ctx, token.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestDeleteExpiredSessions(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	live, err := svc.GenerateToken(ctx, Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)
	stale, err := svc.GenerateToken(ctx, Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	require.NoError(t, svc.db.db.Model(&UserSession{}).
		Where("session_id = ?", stale.SessionID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	deleted, err := svc.db.DeleteExpiredSessions(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = svc.ValidateSession(ctx, live.Token)
	assert.NoError(t, err)
}

func TestRunSessionReaperStopsOnCancel(t *testing.T) {
	svc := newTestService(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunSessionReaper(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session reaper did not stop on context cancellation")
	}
}
