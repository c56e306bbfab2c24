package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/quantdesk/order-gateway/internal/types"
)

func baseOrder() *types.Order {
	return &types.Order{
		OrderID:   "ord-1",
		UserID:    "user-1",
		Symbol:    "AAPL",
		Side:      types.SideBuy,
		OrderType: types.OrderTypeLimit,
		Quantity:  100,
		Price:     150.25,
	}
}

func TestFingerprintIgnoresOrderID(t *testing.T) {
	a := baseOrder()
	b := baseOrder()
	b.OrderID = "ord-2"

	assert.Equal(t, Fingerprint(a, 1), Fingerprint(b, 1))
}

func TestFingerprintNormalizesSymbolCase(t *testing.T) {
	a := baseOrder()
	b := baseOrder()
	b.Symbol = "aapl"

	assert.Equal(t, Fingerprint(a, 1), Fingerprint(b, 1))
}

func TestFingerprintPriceCanonicalForm(t *testing.T) {
	a := baseOrder()
	a.Price = 150.5
	b := baseOrder()
	b.Price = 150.50

	assert.Equal(t, Fingerprint(a, 1), Fingerprint(b, 1))
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(baseOrder(), 1)

	mutations := map[string]func(o *types.Order){
		"user":     func(o *types.Order) { o.UserID = "user-2" },
		"symbol":   func(o *types.Order) { o.Symbol = "MSFT" },
		"side":     func(o *types.Order) { o.Side = types.SideSell },
		"type":     func(o *types.Order) { o.OrderType = types.OrderTypeMarket },
		"quantity": func(o *types.Order) { o.Quantity = 101 },
		"price":    func(o *types.Order) { o.Price = 150.26 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			o := baseOrder()
			mutate(o)
			assert.NotEqual(t, base, Fingerprint(o, 1))
		})
	}

	t.Run("bucket", func(t *testing.T) {
		assert.NotEqual(t, base, Fingerprint(baseOrder(), 2))
	})
}

func TestTimeBucketBoundaries(t *testing.T) {
	window := 5 * time.Minute
	start := time.Unix(3000, 0)

	assert.Equal(t, TimeBucket(start, window), TimeBucket(start.Add(299*time.Second), window))
	assert.NotEqual(t, TimeBucket(start, window), TimeBucket(start.Add(300*time.Second), window))
}

func TestFingerprintDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		o := &types.Order{
			UserID:    rapid.StringMatching(`user-[0-9]{1,4}`).Draw(t, "user"),
			Symbol:    rapid.SampledFrom([]string{"AAPL", "MSFT", "GOOG", "TSLA"}).Draw(t, "symbol"),
			Side:      rapid.SampledFrom([]types.Side{types.SideBuy, types.SideSell}).Draw(t, "side"),
			OrderType: rapid.SampledFrom([]types.OrderType{types.OrderTypeMarket, types.OrderTypeLimit}).Draw(t, "type"),
			Quantity:  rapid.Int64Range(1, 1_000_000).Draw(t, "quantity"),
			Price:     float64(rapid.Int64Range(1, 1_000_000).Draw(t, "price_cents")) / 100,
		}
		bucket := rapid.Int64Range(0, 1<<40).Draw(t, "bucket")

		first := Fingerprint(o, bucket)
		second := Fingerprint(o, bucket)
		if first != second {
			t.Fatalf("fingerprint not deterministic: %s != %s", first, second)
		}
		if len(first) != 64 {
			t.Fatalf("expected 64 hex chars, got %d", len(first))
		}
	})
}
