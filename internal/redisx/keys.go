package redisx

import (
	"fmt"
	"time"
)

const (
	// Checkout idempotency: idem:checkout:{user}:{cart hash or client key} -> cached response
	KeyIdemCheckout = "idem:checkout:%s"

	// Status cache: order_status:{order_id} -> hash of status, status_date, status_ts, status_seq, payment_status
	KeyOrderStatus = "order_status:%d"

	// Processed markers: dedup:{service}:{event id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 10 * time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func CheckoutKey(key string) string { return fmt.Sprintf(KeyIdemCheckout, key) }

func OrderStatusKey(orderID int64) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
