package rbac

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantdesk/order-gateway/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&UserConfig{}, &UserTradingStats{}))
	return NewService(db)
}

func registerUser(t *testing.T, svc *Service, userID string, role Role) {
	t.Helper()
	require.NoError(t, svc.CreateUser(context.Background(), &UserConfig{
		UserID: userID,
		Role:   role,
		Active: true,
	}))
}

func traderOrder(userID string, quantity int64, price float64) *types.Order {
	return &types.Order{
		OrderID:   "ord-1",
		UserID:    userID,
		Symbol:    "AAPL",
		Side:      types.SideBuy,
		OrderType: types.OrderTypeLimit,
		Quantity:  quantity,
		Price:     price,
	}
}

func requireDenial(t *testing.T, err error, code string) *types.DenialError {
	t.Helper()
	require.Error(t, err)
	denial, ok := types.AsDenial(err)
	require.True(t, ok, "expected a denial, got %v", err)
	assert.Equal(t, code, denial.Code)
	return denial
}

func TestValidateOrderUnknownUser(t *testing.T) {
	svc := newTestService(t)
	err := svc.ValidateOrder(context.Background(), traderOrder("ghost", 1, 10))
	requireDenial(t, err, types.ReasonInactiveUser)
}

func TestValidateOrderDeactivatedUser(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.CreateUser(context.Background(), &UserConfig{
		UserID: "user-1",
		Role:   RoleTrader,
		Active: false,
	}))

	err := svc.ValidateOrder(context.Background(), traderOrder("user-1", 1, 10))
	requireDenial(t, err, types.ReasonInactiveUser)
}

func TestValidateOrderViewerCannotPlace(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "viewer-1", RoleViewer)

	err := svc.ValidateOrder(context.Background(), traderOrder("viewer-1", 1, 10))
	requireDenial(t, err, types.ReasonPermissionDenied)
}

func TestValidateOrderValueCap(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "trader-1", RoleTrader)
	ctx := context.Background()

	// Trader cap is 50000: exactly at the cap passes, over it is denied.
	require.NoError(t, svc.ValidateOrder(ctx, traderOrder("trader-1", 100, 400)))
	require.NoError(t, svc.ValidateOrder(ctx, traderOrder("trader-1", 100, 500)))

	err := svc.ValidateOrder(ctx, traderOrder("trader-1", 100, 600))
	denial := requireDenial(t, err, types.ReasonOrderValueExceeded)
	assert.Contains(t, denial.Message, "50000.00")
}

func TestValidateOrderPerUserOverride(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.CreateUser(context.Background(), &UserConfig{
		UserID:        "capped",
		Role:          RoleTrader,
		Active:        true,
		MaxOrderValue: 1000,
	}))

	err := svc.ValidateOrder(context.Background(), traderOrder("capped", 10, 150))
	requireDenial(t, err, types.ReasonOrderValueExceeded)

	require.NoError(t, svc.ValidateOrder(context.Background(), traderOrder("capped", 10, 99)))
}

func TestValidateOrderAdminUnlimited(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "admin-1", RoleAdmin)

	require.NoError(t, svc.ValidateOrder(context.Background(), traderOrder("admin-1", 1_000_000, 9999)))
}

func TestValidateOrderDailyLossLimit(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "trader-1", RoleTrader)
	ctx := context.Background()

	require.NoError(t, svc.RecordPnL(ctx, "trader-1", -9999))
	require.NoError(t, svc.ValidateOrder(ctx, traderOrder("trader-1", 1, 10)))

	require.NoError(t, svc.RecordPnL(ctx, "trader-1", -1))
	err := svc.ValidateOrder(ctx, traderOrder("trader-1", 1, 10))
	requireDenial(t, err, types.ReasonDailyLossLimit)
}

func TestValidateOrderRateCap(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "trader-1", RoleTrader)
	ctx := context.Background()

	// Trader cap is 10 orders per minute.
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.ValidateOrder(ctx, traderOrder("trader-1", 1, 10)))
		svc.RecordAdmission(ctx, "trader-1")
	}

	err := svc.ValidateOrder(ctx, traderOrder("trader-1", 1, 10))
	denial := requireDenial(t, err, types.ReasonOrderRateExceeded)
	assert.Greater(t, denial.RetryAfter, time.Duration(0), "denial must say when a slot frees up")
}

func TestValidateOrderChecksShortCircuitInOrder(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.CreateUser(context.Background(), &UserConfig{
		UserID: "frozen",
		Role:   RoleViewer,
		Active: false,
	}))

	// Deactivated viewer with an oversized order: standing is checked first.
	err := svc.ValidateOrder(context.Background(), traderOrder("frozen", 1_000_000, 9999))
	requireDenial(t, err, types.ReasonInactiveUser)
}

func TestRecordAdmissionUpdatesStats(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "trader-1", RoleTrader)
	ctx := context.Background()

	svc.RecordAdmission(ctx, "trader-1")
	svc.RecordAdmission(ctx, "trader-1")
	svc.RecordRejection(ctx, "trader-1")

	stats, err := svc.GetStats(ctx, "trader-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.OrdersSubmitted)
	assert.EqualValues(t, 1, stats.OrdersRejected)
}

func TestGetStatsIgnoresStaleDay(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "trader-1", RoleTrader)
	ctx := context.Background()

	require.NoError(t, svc.RecordPnL(ctx, "trader-1", -500))

	// Age the row onto a previous trading day.
	yesterday := TradingDateOf(time.Now().Add(-24 * time.Hour))
	require.NoError(t, svc.db.db.Model(&UserTradingStats{}).
		Where("user_id = ?", "trader-1").
		Update("trading_date", yesterday).Error)

	stats, err := svc.GetStats(ctx, "trader-1")
	require.NoError(t, err)
	assert.Zero(t, stats.RealizedPnL)
	assert.Equal(t, TradingDateOf(time.Now()), stats.TradingDate)

	// A stale loss must not trip the daily loss check either.
	require.NoError(t, svc.db.db.Model(&UserTradingStats{}).
		Where("user_id = ?", "trader-1").
		Updates(map[string]interface{}{"trading_date": yesterday, "realized_pnl": -99999}).Error)
	require.NoError(t, svc.ValidateOrder(ctx, traderOrder("trader-1", 1, 10)))
}

func TestResetStaleStats(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "trader-1", RoleTrader)
	ctx := context.Background()

	require.NoError(t, svc.RecordPnL(ctx, "trader-1", -500))
	yesterday := TradingDateOf(time.Now().Add(-24 * time.Hour))
	require.NoError(t, svc.db.db.Model(&UserTradingStats{}).
		Where("user_id = ?", "trader-1").
		Update("trading_date", yesterday).Error)

	rolled, err := svc.db.ResetStaleStats(ctx, TradingDateOf(time.Now()))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rolled)

	stats, err := svc.db.GetTradingStats(ctx, "trader-1")
	require.NoError(t, err)
	assert.Zero(t, stats.RealizedPnL)
	assert.Equal(t, TradingDateOf(time.Now()), stats.TradingDate)
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	svc := newTestService(t)
	err := svc.CreateUser(context.Background(), &UserConfig{
		UserID: "user-1",
		Role:   Role("root"),
		Active: true,
	})
	requireDenial(t, err, types.ReasonValidation)
}

func TestUpdateUser(t *testing.T) {
	svc := newTestService(t)
	registerUser(t, svc, "user-1", RoleTrader)

	updated, err := svc.UpdateUser(context.Background(), "user-1", func(cfg *UserConfig) {
		cfg.Active = false
		cfg.MaxOrderValue = 2500
	})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, float64(2500), updated.MaxOrderValue)

	err = svc.ValidateOrder(context.Background(), traderOrder("user-1", 1, 10))
	requireDenial(t, err, types.ReasonInactiveUser)
}

func TestUserCan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "admin-1", RoleAdmin)
	registerUser(t, svc, "trader-1", RoleTrader)

	ok, err := svc.UserCan(ctx, "admin-1", PermManageUsers)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.UserCan(ctx, "trader-1", PermManageUsers)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.UserCan(ctx, "ghost", PermViewOrders)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.UpdateUser(ctx, "admin-1", func(cfg *UserConfig) { cfg.Active = false })
	require.NoError(t, err)
	ok, err = svc.UserCan(ctx, "admin-1", PermManageUsers)
	require.NoError(t, err)
	assert.False(t, ok, "deactivated users hold no permissions")
}

func TestPermissionSnapshot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registerUser(t, svc, "viewer-1", RoleViewer)

	assert.Equal(t, []string{"view_orders"}, svc.PermissionSnapshot(ctx, "viewer-1"))
	assert.Empty(t, svc.PermissionSnapshot(ctx, "ghost"))
}

func TestPermissionOverridesGrantBeyondRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateUser(ctx, &UserConfig{
		UserID:              "ops-1",
		Role:                RoleTrader,
		Active:              true,
		PermissionOverrides: `["manage_users"]`,
	}))

	ok, err := svc.UserCan(ctx, "ops-1", PermManageUsers)
	require.NoError(t, err)
	assert.True(t, ok, "override must grant beyond the role")

	snapshot := svc.PermissionSnapshot(ctx, "ops-1")
	assert.Contains(t, snapshot, "manage_users")
	assert.Contains(t, snapshot, "place_order")

	// A viewer granted place_order clears the permission check too.
	require.NoError(t, svc.CreateUser(ctx, &UserConfig{
		UserID:              "desk-viewer",
		Role:                RoleViewer,
		Active:              true,
		PermissionOverrides: `["place_order"]`,
	}))
	require.NoError(t, svc.ValidateOrder(ctx, traderOrder("desk-viewer", 1, 10)))
}

func TestCreateUserRejectsUnknownPermissionOverride(t *testing.T) {
	svc := newTestService(t)

	err := svc.CreateUser(context.Background(), &UserConfig{
		UserID:              "ops-2",
		Role:                RoleTrader,
		Active:              true,
		PermissionOverrides: `["launch_orders"]`,
	})
	requireDenial(t, err, types.ReasonValidation)
}
