package rbac

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// UserConfig is a user's account record: role, active flag, and per-user
// overrides. A zero limit override inherits the role default; the role's own
// zero means unlimited. PermissionOverrides is a JSON array of permission
// names granted on top of the role's set.
type UserConfig struct {
	gorm.Model          `json:"-"`
	UserID              string    `gorm:"uniqueIndex" json:"user_id"`
	Role                Role      `json:"role"`
	Active              bool      `json:"active"`
	MaxOrderValue       float64   `json:"max_order_value"`
	MaxOrdersPerMinute  int       `json:"max_orders_per_minute"`
	DailyLossLimit      float64   `json:"daily_loss_limit"`
	PermissionOverrides string    `json:"permission_overrides,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// OverridePermissions parses the PermissionOverrides column. Malformed JSON
// grants nothing.
func (c *UserConfig) OverridePermissions() []Permission {
	if c.PermissionOverrides == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(c.PermissionOverrides), &names); err != nil {
		return nil
	}
	perms := make([]Permission, 0, len(names))
	for _, name := range names {
		perms = append(perms, Permission(name))
	}
	return perms
}

// Grants reports whether the user's role or permission overrides include
// the permission.
func (c *UserConfig) Grants(perm Permission) bool {
	policy, _ := PolicyFor(c.Role)
	if policy.Can(perm) {
		return true
	}
	for _, granted := range c.OverridePermissions() {
		if granted == perm {
			return true
		}
	}
	return false
}

// UserTradingStats accumulates a user's activity for the current UTC
// trading day. The daily reset task zeroes rows when the date rolls over.
type UserTradingStats struct {
	gorm.Model      `json:"-"`
	UserID          string    `gorm:"uniqueIndex" json:"user_id"`
	TradingDate     string    `json:"trading_date"`
	RealizedPnL     float64   `json:"realized_pnl"`
	OrdersSubmitted int64     `json:"orders_submitted"`
	OrdersRejected  int64     `json:"orders_rejected"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TradingDateOf formats t as a UTC trading-day key.
func TradingDateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
