package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/order-gateway/internal/types"
)

func TestCheckAndReserveDeniesDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 5*time.Minute, time.Minute)

	first := baseOrder()
	hash, err := svc.CheckAndReserve(ctx, first)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	second := baseOrder()
	second.OrderID = "ord-2"
	_, err = svc.CheckAndReserve(ctx, second)
	require.Error(t, err)

	denial, ok := types.AsDenial(err)
	require.True(t, ok)
	assert.Equal(t, types.ReasonDuplicateOrder, denial.Code)
	assert.Contains(t, denial.Message, first.OrderID)
}

func TestCheckAndReserveDistinctOrdersBothPass(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 5*time.Minute, time.Minute)

	first := baseOrder()
	_, err := svc.CheckAndReserve(ctx, first)
	require.NoError(t, err)

	second := baseOrder()
	second.OrderID = "ord-2"
	second.Quantity = first.Quantity + 1
	_, err = svc.CheckAndReserve(ctx, second)
	require.NoError(t, err)
}

func TestReleaseAllowsImmediateRetry(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 5*time.Minute, time.Minute)

	order := baseOrder()
	hash, err := svc.CheckAndReserve(ctx, order)
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, hash))

	retry := baseOrder()
	retry.OrderID = "ord-retry"
	_, err = svc.CheckAndReserve(ctx, retry)
	require.NoError(t, err, "released fingerprint must admit a retry")
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	svc := NewService(NewMemoryStore(), 5*time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunSweeper(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
