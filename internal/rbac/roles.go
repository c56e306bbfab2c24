package rbac

// Permission is a single named capability a role can grant.
type Permission string

const (
	PermPlaceOrder  Permission = "place_order"
	PermCancelOrder Permission = "cancel_order"
	PermViewOrders  Permission = "view_orders"
	PermManageUsers Permission = "manage_users"
)

// Role is a named permission bundle with default trading limits.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleTrader        Role = "trader"
	RoleLimitedTrader Role = "limited_trader"
	RoleViewer        Role = "viewer"
)

// Policy holds a role's permissions and default limits. A zero limit means
// unlimited.
type Policy struct {
	Permissions        []Permission
	MaxOrderValue      float64
	MaxOrdersPerMinute int
	DailyLossLimit     float64
}

// Can reports whether the policy grants the permission.
func (p Policy) Can(perm Permission) bool {
	for _, granted := range p.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

var rolePolicies = map[Role]Policy{
	RoleAdmin: {
		Permissions: []Permission{PermPlaceOrder, PermCancelOrder, PermViewOrders, PermManageUsers},
	},
	RoleTrader: {
		Permissions:        []Permission{PermPlaceOrder, PermCancelOrder, PermViewOrders},
		MaxOrderValue:      50000,
		MaxOrdersPerMinute: 10,
		DailyLossLimit:     10000,
	},
	RoleLimitedTrader: {
		Permissions:        []Permission{PermPlaceOrder, PermViewOrders},
		MaxOrderValue:      5000,
		MaxOrdersPerMinute: 5,
		DailyLossLimit:     1000,
	},
	RoleViewer: {
		Permissions: []Permission{PermViewOrders},
	},
}

// PolicyFor returns the policy for a role. Unknown roles get an empty
// policy, which grants nothing.
func PolicyFor(role Role) (Policy, bool) {
	p, ok := rolePolicies[role]
	return p, ok
}

// ValidRole reports whether the role is one of the defined roles.
func ValidRole(role Role) bool {
	_, ok := rolePolicies[role]
	return ok
}

// ValidPermission reports whether the permission is one of the defined
// permissions.
func ValidPermission(perm Permission) bool {
	switch perm {
	case PermPlaceOrder, PermCancelOrder, PermViewOrders, PermManageUsers:
		return true
	}
	return false
}
