package types

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// SubmissionStatus is the lifecycle state of an order submission.
type SubmissionStatus string

const (
	StatusPending   SubmissionStatus = "PENDING"
	StatusSubmitted SubmissionStatus = "SUBMITTED"
	StatusRejected  SubmissionStatus = "REJECTED"
)

// Order carries the attributes of a proposed trade through the admission
// pipeline. It is the unit the fingerprint is derived from.
type Order struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`       // BUY or SELL
	OrderType OrderType `json:"order_type"` // MARKET or LIMIT
	Quantity  int64     `json:"quantity"`
	Price     float64   `json:"price"`
}

// Validate checks the order for structural defects. Structural failures are
// fatal and reject the order before any admission check runs.
func (o *Order) Validate() error {
	if o.UserID == "" {
		return &DenialError{Code: ReasonValidation, Message: "user_id is required"}
	}
	if o.Symbol == "" {
		return &DenialError{Code: ReasonValidation, Message: "symbol is required"}
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return &DenialError{Code: ReasonValidation, Message: fmt.Sprintf("side must be BUY or SELL, got %q", o.Side)}
	}
	if o.OrderType != OrderTypeMarket && o.OrderType != OrderTypeLimit {
		return &DenialError{Code: ReasonValidation, Message: fmt.Sprintf("order_type must be MARKET or LIMIT, got %q", o.OrderType)}
	}
	if o.Quantity <= 0 {
		return &DenialError{Code: ReasonValidation, Message: "quantity must be a positive integer"}
	}
	if o.Price < 0 {
		return &DenialError{Code: ReasonValidation, Message: "price must not be negative"}
	}
	if o.OrderType == OrderTypeLimit && o.Price == 0 {
		return &DenialError{Code: ReasonValidation, Message: "price is required for LIMIT orders"}
	}
	return nil
}

// Value is the notional order value (quantity × price) the risk validator
// checks against max_order_value.
func (o *Order) Value() float64 {
	return float64(o.Quantity) * o.Price
}

// OrderSubmission is the persisted record of an admitted order. Rows are
// never deleted; the dedup reservation that shadows them expires separately.
type OrderSubmission struct {
	gorm.Model      `json:"-"`
	OrderID         string           `gorm:"uniqueIndex" json:"order_id"`
	FingerprintHash string           `gorm:"index" json:"-"`
	UserID          string           `gorm:"index" json:"user_id"`
	Symbol          string           `json:"symbol"`
	Side            Side             `json:"side"`
	OrderType       OrderType        `json:"order_type"`
	Quantity        int64            `json:"quantity"`
	Price           float64          `json:"price"`
	Status          SubmissionStatus `json:"status"` // PENDING, SUBMITTED, REJECTED
	BrokerOrderID   string           `json:"broker_order_id,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
