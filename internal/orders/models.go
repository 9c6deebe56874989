package orders

import (
	"time"

	"github.com/ariefcatur/storefront-orders/internal/payments"
)

// InventoryLine is the stock counter for one (product, size) pair.
type InventoryLine struct {
	ProductID int64
	SizeID    int64
	Stock     int
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type Order struct {
	ID                int64
	OrderDate         time.Time
	PickupDate        *time.Time
	UserID            int64
	PaymentMethodID   int64
	ExternalReference string
	PaymentID         string
	TotalCents        int64
	Customer          Customer
	Sport             string
	PaymentStatus     payments.Status // provider status, already normalised
	Currency          string
}

type OrderLine struct {
	ID            int64
	OrderID       int64
	ProductID     int64
	SizeID        int64
	Quantity      int
	SubtotalCents int64
}

// StatusEntry is one append-only row of the order timeline. Seq breaks ties
// between entries written within the same clock tick.
type StatusEntry struct {
	Seq         int64
	OrderID     int64
	StatusDate  time.Time
	Description Status
}

// OrderDetail is an order with its lines and timeline (newest entry first).
type OrderDetail struct {
	Order
	Lines   []OrderLine
	History []StatusEntry
	Latest  *StatusEntry
}

type StatusCount struct {
	Status Status
	Count  int
}

type SportCount struct {
	Sport string
	Count int
}

type OrderPage struct {
	Orders     []OrderDetail
	Total      int
	Page       int
	TotalPages int
}
