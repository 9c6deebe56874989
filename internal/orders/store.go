package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/payments"
)

// Store opens transactions. Every workflow runs entirely inside one call to
// InTx: fn's error rolls everything back, a nil return commits.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional handle the workflows operate on. Implementations
// must hold row locks taken by LockInventory and the forUpdate lookups until
// the transaction ends.
type Tx interface {
	// LockInventory locks the stock row for the pair. ErrNoInventoryLine when absent.
	LockInventory(ctx context.Context, productID, sizeID int64) (InventoryLine, error)
	AdjustStock(ctx context.Context, productID, sizeID int64, delta int) error
	SetStock(ctx context.Context, productID, sizeID int64, stock int) error
	ProductExists(ctx context.Context, productID int64) (bool, error)
	// ListInventory returns every row of the product, or of all products when
	// productID is zero, ordered by (product, size).
	ListInventory(ctx context.Context, productID int64) ([]InventoryLine, error)

	// InsertOrder assigns o.ID. ErrDuplicateReference on a reused external reference.
	InsertOrder(ctx context.Context, o *Order) error
	InsertLine(ctx context.Context, l *OrderLine) error
	// OrderByID and OrderByReference return ErrOrderNotFound when absent.
	OrderByID(ctx context.Context, id int64, forUpdate bool) (Order, error)
	OrderByReference(ctx context.Context, ref string, forUpdate bool) (Order, error)
	UpdatePayment(ctx context.Context, orderID int64, status payments.Status, paymentID string) error
	SetPickupDate(ctx context.Context, orderID int64, at *time.Time) error
	Lines(ctx context.Context, orderID int64) ([]OrderLine, error)

	AppendStatus(ctx context.Context, orderID int64, status Status, at time.Time) (StatusEntry, error)
	// StatusHistory is ordered newest first, ties broken by Seq.
	StatusHistory(ctx context.Context, orderID int64) ([]StatusEntry, error)
	LatestStatus(ctx context.Context, orderID int64) (StatusEntry, bool, error)

	OrdersByUser(ctx context.Context, userID int64) ([]Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]Order, int, error)
	SumTotals(ctx context.Context, from, to time.Time) (int64, error)
	CountLatestStatuses(ctx context.Context, from, to time.Time) ([]StatusCount, error)
	// CountSports includes both bounds.
	CountSports(ctx context.Context, from, to time.Time) ([]SportCount, error)
}
