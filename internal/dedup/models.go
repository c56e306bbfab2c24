package dedup

import (
	"time"
)

// Reservation is a live claim on an order fingerprint. Rows are transient:
// released on broker failure, hard-deleted by the sweeper once expired, or
// overwritten in place by the next reservation after expiry.
type Reservation struct {
	ID              uint   `gorm:"primarykey"`
	FingerprintHash string `gorm:"uniqueIndex;size:64"`
	OrderID         string
	CreatedAt       time.Time
	ExpiresAt       time.Time `gorm:"index"`
}
