package orders

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/payments"
)

// Actor is the user asking for a change. Staff may act on any order, a
// customer only on their own. The zero Actor owns nothing.
type Actor struct {
	UserID int64
	Staff  bool
}

func (a Actor) owns(o Order) bool {
	if a.Staff {
		return true
	}
	return a.UserID > 0 && a.UserID == o.UserID
}

// Cancel is the buyer's regret button. Preconditions are checked in order
// under the order row lock; on success every line's stock is released and
// the cancelled entry is returned.
func (s *Service) Cancel(ctx context.Context, orderID int64, actor Actor) (StatusEntry, error) {
	const op = "orders.Cancel"
	var (
		entry    StatusEntry
		released []ItemQty
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.OrderByID(ctx, orderID, true)
		if errors.Is(err, ErrOrderNotFound) {
			return newError(op, ErrOrderNotFound, "order %d not found", orderID)
		}
		if err != nil {
			return err
		}
		if !actor.owns(order) {
			return newError(op, ErrOrderNotFound, "order %d not found", orderID)
		}
		if order.OrderDate.IsZero() {
			return newError(op, ErrInvalidOrderDate, "order %d has no valid order date", orderID)
		}
		now := s.now()
		if now.Sub(order.OrderDate) > s.window {
			return newError(op, ErrCancellationWindowExpired,
				"order %d can no longer be cancelled: more than %s since it was placed", orderID, s.window)
		}

		latest, ok, err := tx.LatestStatus(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return newError(op, ErrInvalidStateForCancellation, "order %d has no status", orderID)
		}
		if !latest.Description.Cancellable() {
			return newError(op, ErrInvalidStateForCancellation,
				"order %d is %s; only confirmed or ready orders can be cancelled", orderID, latest.Description)
		}

		entry, released, err = s.cancelAndRelease(ctx, tx, op, orderID)
		return err
	})
	if err != nil {
		return StatusEntry{}, err
	}

	s.logger.Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("actor_id", actor.UserID),
		zap.Int("lines_released", len(released)))
	s.emitCancelled(ctx, entry, actor, released)
	return entry, nil
}

// CancelPending lets staff drop an order whose payment never completed,
// giving its reserved stock back. There is no time window. An approved
// payment always moves the order out of pending_payment first, so a paid
// order cannot be cancelled here.
func (s *Service) CancelPending(ctx context.Context, orderID int64, actor Actor) (StatusEntry, error) {
	const op = "orders.CancelPending"
	if !actor.Staff {
		return StatusEntry{}, newError(op, ErrStaffOnly, "only staff can cancel unpaid orders")
	}
	var (
		entry    StatusEntry
		released []ItemQty
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		order, err := s.lockOrder(ctx, tx, op, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == payments.StatusApproved {
			return newError(op, ErrInvalidStateForCancellation, "order %d is already paid", orderID)
		}
		current, err := s.currentStatus(ctx, tx, op, orderID)
		if err != nil {
			return err
		}
		if current != StatusPendingPayment {
			return newError(op, ErrInvalidStateForCancellation,
				"order %d is %s; only pending_payment orders can be dropped", orderID, current)
		}
		entry, released, err = s.cancelAndRelease(ctx, tx, op, orderID)
		return err
	})
	if err != nil {
		return StatusEntry{}, err
	}

	s.logger.Info("unpaid order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("actor_id", actor.UserID),
		zap.Int("lines_released", len(released)))
	s.emitCancelled(ctx, entry, actor, released)
	return entry, nil
}

// cancelAndRelease appends the cancelled entry and returns every line's
// quantity to stock. The caller holds the order row lock.
func (s *Service) cancelAndRelease(ctx context.Context, tx Tx, op string, orderID int64) (StatusEntry, []ItemQty, error) {
	lines, err := tx.Lines(ctx, orderID)
	if err != nil {
		return StatusEntry{}, nil, err
	}
	if len(lines) == 0 {
		return StatusEntry{}, nil, newError(op, ErrEmptyOrder, "order %d has no lines", orderID)
	}

	entry, err := tx.AppendStatus(ctx, orderID, StatusCancelled, s.now())
	if err != nil {
		return StatusEntry{}, nil, err
	}
	released := make([]ItemQty, 0, len(lines))
	for _, l := range lines {
		size := s.sizeOrDefault(l.SizeID)
		if err := s.release(ctx, tx, l.ProductID, size, l.Quantity); err != nil {
			return StatusEntry{}, nil, err
		}
		released = append(released, ItemQty{ProductID: l.ProductID, SizeID: size, Qty: l.Quantity})
	}
	return entry, released, nil
}

func (s *Service) emitCancelled(ctx context.Context, entry StatusEntry, actor Actor, released []ItemQty) {
	s.emit(ctx, TopicOrderCancelled, EventOrderCancelled, entry.OrderID, OrderCancelledPayload{
		OrderID:  entry.OrderID,
		ActorID:  actor.UserID,
		Released: released,
	})
	s.emitStatus(ctx, entry)
}
