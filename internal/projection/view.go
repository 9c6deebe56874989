package projection

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

// order_status:{id} is a hash so each concern writes its own fields.
const (
	fieldOrderID    = "order_id"
	fieldStatus     = "status"
	fieldStatusDate = "status_date"
	fieldStatusTS   = "status_ts" // unix micros, compared in Lua
	fieldStatusSeq  = "status_seq"
	fieldPayment    = "payment_status"
)

// StatusView is the cached shape served by GET /api/orders/{id}/status.
type StatusView struct {
	OrderID       int64     `json:"order_id"`
	Status        string    `json:"status"`
	StatusDate    time.Time `json:"status_date"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Seq           int64     `json:"-"`
}

// applyStatus replaces the status fields only when the incoming entry is
// newer by (status date, seq). Comparison and write happen in one script so
// concurrent writers cannot move the view backwards.
var applyStatus = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'status_ts', 'status_seq')
local ts = tonumber(ARGV[3])
local seq = tonumber(ARGV[4])
if cur[1] then
  local cts = tonumber(cur[1])
  local cseq = tonumber(cur[2]) or 0
  if ts < cts or (ts == cts and seq <= cseq) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'order_id', ARGV[1], 'status', ARGV[2], 'status_ts', ARGV[3], 'status_seq', ARGV[4], 'status_date', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`)

// ApplyStatus records a timeline entry in the view. It reports whether the
// view changed.
func ApplyStatus(ctx context.Context, rdb redis.Cmdable, orderID int64, status string, at time.Time, seq int64) (bool, error) {
	n, err := applyStatus.Run(ctx, rdb, []string{redisx.OrderStatusKey(orderID)},
		orderID,
		status,
		at.UnixMicro(),
		seq,
		at.UTC().Format(time.RFC3339Nano),
		redisx.TTLStatusCache.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("apply status view %d: %w", orderID, err)
	}
	return n == 1, nil
}

// SetPaymentStatus writes the payment field. With onlyIfAbsent an existing
// value is kept, which lets a late OrderPlaced event leave a reconciled
// payment alone.
func SetPaymentStatus(ctx context.Context, rdb redis.Cmdable, orderID int64, status string, onlyIfAbsent bool) error {
	key := redisx.OrderStatusKey(orderID)
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldOrderID, orderID)
		if onlyIfAbsent {
			pipe.HSetNX(ctx, key, fieldPayment, status)
		} else {
			pipe.HSet(ctx, key, fieldPayment, status)
		}
		pipe.Expire(ctx, key, redisx.TTLStatusCache)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set payment view %d: %w", orderID, err)
	}
	return nil
}

// LoadView reads the view. A view without a status counts as a miss.
func LoadView(ctx context.Context, rdb redis.Cmdable, orderID int64) (StatusView, bool, error) {
	h, err := rdb.HGetAll(ctx, redisx.OrderStatusKey(orderID)).Result()
	if err != nil {
		return StatusView{}, false, fmt.Errorf("load status view %d: %w", orderID, err)
	}
	v := StatusView{
		OrderID:       orderID,
		Status:        h[fieldStatus],
		PaymentStatus: h[fieldPayment],
	}
	if v.Status == "" {
		return v, false, nil
	}
	if raw := h[fieldStatusDate]; raw != "" {
		if v.StatusDate, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return StatusView{}, false, fmt.Errorf("load status view %d: %w", orderID, err)
		}
	}
	if raw := h[fieldStatusSeq]; raw != "" {
		v.Seq, _ = strconv.ParseInt(raw, 10, 64)
	}
	return v, true, nil
}
