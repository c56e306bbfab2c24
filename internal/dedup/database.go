package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database is the shared reservation store backed by the gateway database.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Reserve claims the fingerprint in a single conditional write. The insert
// either creates the row or, on conflict, takes over a reservation whose TTL
// has passed. A live reservation leaves the row untouched and reports zero
// rows affected, which is the duplicate signal. There is no read-then-write
// gap for a concurrent caller to slip through.
func (d *Database) Reserve(ctx context.Context, hash, orderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	row := Reservation{
		FingerprintHash: hash,
		OrderID:         orderID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}

	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint_hash"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"order_id":   orderID,
			"created_at": now,
			"expires_at": now.Add(ttl),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Name: "expires_at"}, Value: now},
		}},
	}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("failed to reserve fingerprint: %w", result.Error)
	}

	return result.RowsAffected == 1, nil
}

// Lookup returns the order holding a live reservation on hash.
func (d *Database) Lookup(ctx context.Context, hash string) (string, error) {
	var r Reservation
	err := d.db.WithContext(ctx).
		Where("fingerprint_hash = ? AND expires_at > ?", hash, time.Now().UTC()).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up reservation: %w", err)
	}
	return r.OrderID, nil
}

// Release drops the reservation on hash.
func (d *Database) Release(ctx context.Context, hash string) error {
	if err := d.db.WithContext(ctx).
		Where("fingerprint_hash = ?", hash).
		Delete(&Reservation{}).Error; err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	return nil
}

// DeleteExpired removes reservations past their TTL.
func (d *Database) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&Reservation{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired reservations: %w", result.Error)
	}
	return result.RowsAffected, nil
}
