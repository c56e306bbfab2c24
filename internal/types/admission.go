package types

import (
	"errors"
	"time"
)

// Machine-readable denial reason codes returned to callers. These are part
// of the external contract and must stay stable.
const (
	ReasonValidation         = "VALIDATION_ERROR"
	ReasonInvalidSession     = "INVALID_SESSION"
	ReasonInactiveUser       = "INACTIVE_USER"
	ReasonPermissionDenied   = "PERMISSION_DENIED"
	ReasonOrderValueExceeded = "ORDER_VALUE_EXCEEDED"
	ReasonDailyLossLimit     = "DAILY_LOSS_LIMIT"
	ReasonOrderRateExceeded  = "ORDER_RATE_EXCEEDED"
	ReasonDuplicateOrder     = "DUPLICATE_ORDER"
	ReasonRateLimited        = "RATE_LIMITED"
	ReasonBlocked            = "BLOCKED"
	ReasonBrokerFailed       = "BROKER_SUBMISSION_FAILED"
)

// DenialError is a rejection carrying a stable reason code. Callers get the
// code and message verbatim; RetryAfter is surfaced for rate denials.
type DenialError struct {
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *DenialError) Error() string {
	return e.Message
}

// AsDenial unwraps err into a *DenialError if it is one.
func AsDenial(err error) (*DenialError, bool) {
	var d *DenialError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// RateLimitInfo reports the caller's current standing against the sustained
// limit. It accompanies every admission result, approved or not, and feeds
// the X-RateLimit response headers.
type RateLimitInfo struct {
	Limit        int `json:"limit"`
	Remaining    int `json:"remaining"`
	ResetSeconds int `json:"reset_seconds"`
}

// AdmissionResult is the outcome returned to the order-submission caller.
type AdmissionResult struct {
	Approved          bool           `json:"approved"`
	OrderID           string         `json:"order_id,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Message           string         `json:"message,omitempty"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
	RateLimit         *RateLimitInfo `json:"rate_limit,omitempty"`
}
