// Package broker is the gateway's downstream seam. The admission pipeline
// talks to the broker through the one interface here and knows nothing else
// about it.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/quantdesk/order-gateway/internal/types"
)

// ErrSubmissionFailed wraps every downstream rejection so callers can treat
// broker failures uniformly.
var ErrSubmissionFailed = errors.New("broker submission failed")

// SubmissionReceipt is the broker's acknowledgement of an accepted order.
type SubmissionReceipt struct {
	BrokerOrderID string    `json:"broker_order_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// BrokerClient submits admitted orders downstream. Implementations must
// honor ctx cancellation: an abandoned admission must not leave a
// submission in flight longer than necessary.
type BrokerClient interface {
	Submit(ctx context.Context, order *types.Order) (*SubmissionReceipt, error)
}
