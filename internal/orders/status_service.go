package orders

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// CreateInitialStatus seeds the timeline of an order that has none.
// Withdrawn stamps the pickup date; every other value clears it.
func (s *Service) CreateInitialStatus(ctx context.Context, orderID int64, description string) (StatusEntry, error) {
	const op = "orders.CreateInitialStatus"
	status, ok := ParseStatus(description)
	if !ok {
		return StatusEntry{}, newError(op, ErrInvalidInput, "unknown status %q", description)
	}

	var entry StatusEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := s.lockOrder(ctx, tx, op, orderID); err != nil {
			return err
		}
		_, exists, err := tx.LatestStatus(ctx, orderID)
		if err != nil {
			return err
		}
		if exists {
			return newError(op, ErrStatusHistoryExists, "order %d already has a status history", orderID)
		}

		now := s.now()
		var pickup *time.Time
		if status == StatusWithdrawn {
			pickup = &now
		}
		if err := tx.SetPickupDate(ctx, orderID, pickup); err != nil {
			return err
		}
		entry, err = tx.AppendStatus(ctx, orderID, status, now)
		return err
	})
	if err != nil {
		return StatusEntry{}, err
	}
	s.logger.Info("initial status created", zap.Int64("order_id", orderID), zap.String("status", string(status)))
	s.emitStatus(ctx, entry)
	return entry, nil
}

// TransitionStatus lets staff toggle an order between confirmed and ready.
// Every other pair is rejected without writing anything.
func (s *Service) TransitionStatus(ctx context.Context, orderID int64, target string) (StatusEntry, error) {
	const op = "orders.TransitionStatus"
	next, ok := ParseStatus(target)
	if !ok {
		return StatusEntry{}, newError(op, ErrInvalidInput, "unknown status %q", target)
	}

	var entry StatusEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := s.lockOrder(ctx, tx, op, orderID); err != nil {
			return err
		}
		current, err := s.currentStatus(ctx, tx, op, orderID)
		if err != nil {
			return err
		}
		if !current.staffToggle() {
			return newError(op, ErrIllegalStatusTransition,
				"order %d is %s; only confirmed or ready orders can change status", orderID, current)
		}
		if next == current {
			return newError(op, ErrAlreadyInTargetStatus, "order %d is already %s", orderID, current)
		}
		if !next.staffToggle() || !CanTransition(current, next) {
			return newError(op, ErrIllegalStatusTransition,
				"order %d cannot move from %s to %s", orderID, current, next)
		}
		entry, err = tx.AppendStatus(ctx, orderID, next, s.now())
		return err
	})
	if err != nil {
		return StatusEntry{}, err
	}
	s.logger.Info("status changed", zap.Int64("order_id", orderID), zap.String("status", string(next)))
	s.emitStatus(ctx, entry)
	return entry, nil
}

// MarkWithdrawn records that a ready order was picked up.
func (s *Service) MarkWithdrawn(ctx context.Context, orderID int64) (StatusEntry, error) {
	const op = "orders.MarkWithdrawn"
	var entry StatusEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := s.lockOrder(ctx, tx, op, orderID); err != nil {
			return err
		}
		current, err := s.currentStatus(ctx, tx, op, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(current, StatusWithdrawn) {
			return newError(op, ErrIllegalStatusTransition,
				"order %d is %s; only ready orders can be withdrawn", orderID, current)
		}
		now := s.now()
		if err := tx.SetPickupDate(ctx, orderID, &now); err != nil {
			return err
		}
		entry, err = tx.AppendStatus(ctx, orderID, StatusWithdrawn, now)
		return err
	})
	if err != nil {
		return StatusEntry{}, err
	}
	s.logger.Info("order withdrawn", zap.Int64("order_id", orderID))
	s.emitStatus(ctx, entry)
	return entry, nil
}

func (s *Service) lockOrder(ctx context.Context, tx Tx, op string, orderID int64) (Order, error) {
	o, err := tx.OrderByID(ctx, orderID, true)
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, newError(op, ErrOrderNotFound, "order %d not found", orderID)
	}
	return o, err
}

func (s *Service) currentStatus(ctx context.Context, tx Tx, op string, orderID int64) (Status, error) {
	latest, ok, err := tx.LatestStatus(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", newError(op, ErrNoStatusHistory, "order %d has no status history", orderID)
	}
	return latest.Description, nil
}
