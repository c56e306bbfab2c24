package auth

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateSession persists a new session row.
func (d *Database) CreateSession(ctx context.Context, session *UserSession) error {
	if err := d.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by its ID.
func (d *Database) GetSession(ctx context.Context, sessionID string) (*UserSession, error) {
	var session UserSession
	if err := d.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// TouchSession records activity on a session.
func (d *Database) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	if err := d.db.WithContext(ctx).Model(&UserSession{}).
		Where("session_id = ?", sessionID).
		Update("last_seen_at", at).Error; err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeleteSession removes a session row.
func (d *Database) DeleteSession(ctx context.Context, sessionID string) error {
	if err := d.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Unscoped().Delete(&UserSession{}).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry.
func (d *Database) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Unscoped().Delete(&UserSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
