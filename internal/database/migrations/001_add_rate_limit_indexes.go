package migrations

import (
	"github.com/quantdesk/order-gateway/internal/ratelimit"
	"gorm.io/gorm"
)

// AddRateLimitIndexes creates the rate limiter tables and required indexes
func AddRateLimitIndexes(db *gorm.DB) error {
	// Create the window and block tables
	if err := db.AutoMigrate(&ratelimit.Entry{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&ratelimit.Block{}); err != nil {
		return err
	}

	// Add indexes for better query performance
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Standalone timestamp index: the pruner deletes by age across all
		// clients, which the composite lookup index cannot serve
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_entries_at
		 ON rate_limit_entries(at)`,

		// Composite index for active block lookups
		`CREATE INDEX IF NOT EXISTS idx_rate_limit_blocks_active
		 ON rate_limit_blocks(client_key, scope, expires_at)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
