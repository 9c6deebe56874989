package orders

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
)

// reserve locks the stock row and takes qty out of it. The sufficiency check
// and the decrement happen under the same lock.
func (s *Service) reserve(ctx context.Context, tx Tx, productID, sizeID int64, qty int) error {
	const op = "orders.reserve"
	line, err := tx.LockInventory(ctx, productID, sizeID)
	if errors.Is(err, ErrNoInventoryLine) {
		exists, perr := tx.ProductExists(ctx, productID)
		if perr != nil {
			return perr
		}
		if !exists {
			return newError(op, ErrProductNotFound, "product %d not found", productID)
		}
		return newError(op, ErrProductHasNoSize, "product %d has no size %d", productID, sizeID)
	}
	if err != nil {
		return err
	}
	if line.Stock < qty {
		return newError(op, ErrInsufficientStock,
			"insufficient stock for product %d size %d: requested %d, available %d",
			productID, sizeID, qty, line.Stock)
	}
	return tx.AdjustStock(ctx, productID, sizeID, -qty)
}

// release puts qty back. There is no upper bound on stock.
func (s *Service) release(ctx context.Context, tx Tx, productID, sizeID int64, qty int) error {
	const op = "orders.release"
	if _, err := tx.LockInventory(ctx, productID, sizeID); err != nil {
		if errors.Is(err, ErrNoInventoryLine) {
			return newError(op, ErrProductHasNoSize, "no inventory line for product %d size %d", productID, sizeID)
		}
		return err
	}
	return tx.AdjustStock(ctx, productID, sizeID, qty)
}

type stockKey struct{ product, size int64 }

// stockItem is one (product, size) demand after duplicates were merged.
type stockItem struct {
	ProductID     int64
	SizeID        int64
	Quantity      int
	SubtotalCents int64
}

// mergeItems folds repeated pairs together and sorts by (product, size) so
// concurrent transactions always lock rows in the same order.
func mergeItems(items []stockItem) []stockItem {
	idx := make(map[stockKey]int, len(items))
	out := make([]stockItem, 0, len(items))
	for _, it := range items {
		k := stockKey{it.ProductID, it.SizeID}
		if i, ok := idx[k]; ok {
			out[i].Quantity += it.Quantity
			out[i].SubtotalCents += it.SubtotalCents
			continue
		}
		idx[k] = len(out)
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].SizeID < out[j].SizeID
	})
	return out
}

func toItemQty(items []stockItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, SizeID: it.SizeID, Qty: it.Quantity})
	}
	return out
}

// SetStock overwrites the stock counter of a pair, creating the row when
// missing. The product must exist.
func (s *Service) SetStock(ctx context.Context, productID, sizeID int64, stock int) (InventoryLine, error) {
	const op = "orders.SetStock"
	if productID <= 0 {
		return InventoryLine{}, newError(op, ErrInvalidInput, "product id is required")
	}
	if stock < 0 {
		return InventoryLine{}, newError(op, ErrInvalidInput, "stock must not be negative")
	}
	sizeID = s.sizeOrDefault(sizeID)

	err := s.store.InTx(ctx, func(tx Tx) error {
		exists, err := tx.ProductExists(ctx, productID)
		if err != nil {
			return err
		}
		if !exists {
			return newError(op, ErrProductNotFound, "product %d not found", productID)
		}
		if _, err := tx.LockInventory(ctx, productID, sizeID); err != nil && !errors.Is(err, ErrNoInventoryLine) {
			return err
		}
		return tx.SetStock(ctx, productID, sizeID, stock)
	})
	if err != nil {
		return InventoryLine{}, err
	}
	s.logger.Info("stock set",
		zap.Int64("product_id", productID),
		zap.Int64("size_id", sizeID),
		zap.Int("stock", stock))
	return InventoryLine{ProductID: productID, SizeID: sizeID, Stock: stock}, nil
}

// Inventory lists stock rows of one product, or of all of them for zero.
func (s *Service) Inventory(ctx context.Context, productID int64) ([]InventoryLine, error) {
	var out []InventoryLine
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.ListInventory(ctx, productID)
		return err
	})
	return out, err
}
