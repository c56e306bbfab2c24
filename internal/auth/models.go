package auth

import (
	"time"

	"gorm.io/gorm"
)

// UserSession is a persisted login session. The JWT a client holds names a
// session row; the row, not the token, is the source of truth, so revoking
// the row invalidates the token immediately. The signed token is kept on
// the row for audit and never serialized back out. Permissions holds the
// JSON snapshot taken at issuance, kept for audit only: authorization
// re-resolves the user's current role on every request.
type UserSession struct {
	gorm.Model  `json:"-"`
	SessionID   string    `gorm:"uniqueIndex" json:"session_id"`
	UserID      string    `gorm:"index" json:"user_id"`
	Token       string    `json:"-"`
	Permissions string    `json:"permissions,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
