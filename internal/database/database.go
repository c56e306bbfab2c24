package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quantdesk/order-gateway/internal/database/migrations"
	"github.com/quantdesk/order-gateway/internal/dedup"
	"github.com/quantdesk/order-gateway/internal/rbac"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddRateLimitIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddSubmissionIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&dedup.Reservation{},
		&rbac.UserConfig{},
		&rbac.UserTradingStats{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
