package migrations

import (
	"github.com/quantdesk/order-gateway/internal/auth"
	"github.com/quantdesk/order-gateway/internal/types"
	"gorm.io/gorm"
)

// AddSubmissionIndexes creates the submission and session tables and the
// indexes their read paths depend on
func AddSubmissionIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.OrderSubmission{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&auth.UserSession{}); err != nil {
		return err
	}

	indexes := []string{
		// Composite index for per-user order history (newest first)
		`CREATE INDEX IF NOT EXISTS idx_order_submissions_user_created
		 ON order_submissions(user_id, created_at)`,

		// Index for the session reaper's expiry scan
		`CREATE INDEX IF NOT EXISTS idx_user_sessions_expires_at
		 ON user_sessions(expires_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
