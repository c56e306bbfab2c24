package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/quantdesk/order-gateway/internal/types"
)

// TimeBucket returns the dedup bucket t falls into for the given window.
// Orders in different buckets never collide, so a resubmission becomes
// legitimate once the window rolls over.
func TimeBucket(t time.Time, window time.Duration) int64 {
	return t.Unix() / int64(window.Seconds())
}

// Fingerprint derives the canonical SHA-256 identity of an order within a
// time bucket. Two submissions hash identically only when every material
// attribute matches: user, symbol, side, type, quantity, price, bucket.
// The price is formatted with trailing zeros stripped so 10.50 and 10.5
// produce the same hash.
func Fingerprint(o *types.Order, bucket int64) string {
	canonical := strings.Join([]string{
		o.UserID,
		strings.ToUpper(o.Symbol),
		string(o.Side),
		string(o.OrderType),
		strconv.FormatInt(o.Quantity, 10),
		strconv.FormatFloat(o.Price, 'f', -1, 64),
		strconv.FormatInt(bucket, 10),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
