package rbac

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

// GetUserConfig retrieves a user's account record.
func (d *Database) GetUserConfig(ctx context.Context, userID string) (*UserConfig, error) {
	var cfg UserConfig
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateUserConfig creates a user's account record.
func (d *Database) CreateUserConfig(ctx context.Context, cfg *UserConfig) error {
	if err := d.db.WithContext(ctx).Create(cfg).Error; err != nil {
		return fmt.Errorf("failed to create user config: %w", err)
	}
	return nil
}

// UpdateUserConfig saves changes to a user's account record.
func (d *Database) UpdateUserConfig(ctx context.Context, cfg *UserConfig) error {
	if err := d.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("failed to update user config: %w", err)
	}
	return nil
}

// ListUserConfigs returns all account records.
func (d *Database) ListUserConfigs(ctx context.Context) ([]UserConfig, error) {
	var configs []UserConfig
	if err := d.db.WithContext(ctx).Order("user_id ASC").Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to list user configs: %w", err)
	}
	return configs, nil
}

// GetTradingStats retrieves a user's stats row.
func (d *Database) GetTradingStats(ctx context.Context, userID string) (*UserTradingStats, error) {
	var stats UserTradingStats
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// touchStats makes sure a current-day stats row exists for the user,
// zeroing it first when it still carries a previous trading day.
func (d *Database) touchStats(ctx context.Context, userID, today string) error {
	var stats UserTradingStats
	err := d.db.WithContext(ctx).
		Where(UserTradingStats{UserID: userID}).
		Attrs(UserTradingStats{TradingDate: today}).
		FirstOrCreate(&stats).Error
	if err != nil {
		return fmt.Errorf("failed to ensure stats row: %w", err)
	}

	if stats.TradingDate != today {
		err = d.db.WithContext(ctx).Model(&UserTradingStats{}).
			Where("user_id = ?", userID).
			Updates(map[string]interface{}{
				"trading_date":     today,
				"realized_pnl":     0,
				"orders_submitted": 0,
				"orders_rejected":  0,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to roll stats to current day: %w", err)
		}
	}
	return nil
}

// AddRealizedPnL applies a realized profit or loss delta to the user's
// current-day stats.
func (d *Database) AddRealizedPnL(ctx context.Context, userID string, delta float64) error {
	today := TradingDateOf(time.Now())
	if err := d.touchStats(ctx, userID, today); err != nil {
		return err
	}
	err := d.db.WithContext(ctx).Model(&UserTradingStats{}).
		Where("user_id = ?", userID).
		Update("realized_pnl", gorm.Expr("realized_pnl + ?", delta)).Error
	if err != nil {
		return fmt.Errorf("failed to record realized pnl: %w", err)
	}
	return nil
}

// IncrementOrdersSubmitted bumps the user's current-day submission count.
func (d *Database) IncrementOrdersSubmitted(ctx context.Context, userID string) error {
	today := TradingDateOf(time.Now())
	if err := d.touchStats(ctx, userID, today); err != nil {
		return err
	}
	err := d.db.WithContext(ctx).Model(&UserTradingStats{}).
		Where("user_id = ?", userID).
		Update("orders_submitted", gorm.Expr("orders_submitted + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// IncrementOrdersRejected bumps the user's current-day rejection count.
func (d *Database) IncrementOrdersRejected(ctx context.Context, userID string) error {
	today := TradingDateOf(time.Now())
	if err := d.touchStats(ctx, userID, today); err != nil {
		return err
	}
	err := d.db.WithContext(ctx).Model(&UserTradingStats{}).
		Where("user_id = ?", userID).
		Update("orders_rejected", gorm.Expr("orders_rejected + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("failed to record rejection: %w", err)
	}
	return nil
}

// ResetStaleStats zeroes every stats row still carrying a previous trading
// day and reports how many rows rolled over.
func (d *Database) ResetStaleStats(ctx context.Context, today string) (int64, error) {
	result := d.db.WithContext(ctx).Model(&UserTradingStats{}).
		Where("trading_date <> ?", today).
		Updates(map[string]interface{}{
			"trading_date":     today,
			"realized_pnl":     0,
			"orders_submitted": 0,
			"orders_rejected":  0,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset stale stats: %w", result.Error)
	}
	return result.RowsAffected, nil
}
