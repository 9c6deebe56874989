package orders

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// GetOrder returns the order with its lines and timeline.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (OrderDetail, error) {
	var out OrderDetail
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderByID(ctx, orderID, false)
		if errors.Is(err, ErrOrderNotFound) {
			return newError("orders.GetOrder", ErrOrderNotFound, "order %d not found", orderID)
		}
		if err != nil {
			return err
		}
		out, err = loadDetail(ctx, tx, o)
		return err
	})
	return out, err
}

// ListUserOrders returns a user's orders, newest first.
func (s *Service) ListUserOrders(ctx context.Context, userID int64) ([]OrderDetail, error) {
	if userID <= 0 {
		return nil, newError("orders.ListUserOrders", ErrInvalidInput, "user id is required")
	}
	var out []OrderDetail
	err := s.store.InTx(ctx, func(tx Tx) error {
		list, err := tx.OrdersByUser(ctx, userID)
		if err != nil {
			return err
		}
		out, err = loadDetails(ctx, tx, list)
		return err
	})
	return out, err
}

// ListOrders is the paginated admin listing. Page is 1-based.
func (s *Service) ListOrders(ctx context.Context, page, limit int) (OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	out := OrderPage{Page: page}
	err := s.store.InTx(ctx, func(tx Tx) error {
		list, total, err := tx.ListOrders(ctx, limit, (page-1)*limit)
		if err != nil {
			return err
		}
		out.Total = total
		out.TotalPages = (total + limit - 1) / limit
		out.Orders, err = loadDetails(ctx, tx, list)
		return err
	})
	return out, err
}

// StatusHistory returns the timeline newest first.
func (s *Service) StatusHistory(ctx context.Context, orderID int64) ([]StatusEntry, error) {
	const op = "orders.StatusHistory"
	var out []StatusEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.OrderByID(ctx, orderID, false); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return newError(op, ErrOrderNotFound, "order %d not found", orderID)
			}
			return err
		}
		var err error
		out, err = tx.StatusHistory(ctx, orderID)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return newError(op, ErrNoStatusHistory, "order %d has no status history", orderID)
		}
		return nil
	})
	return out, err
}

// CurrentStatus returns the latest timeline entry.
func (s *Service) CurrentStatus(ctx context.Context, orderID int64) (StatusEntry, error) {
	const op = "orders.CurrentStatus"
	var out StatusEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.OrderByID(ctx, orderID, false); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return newError(op, ErrOrderNotFound, "order %d not found", orderID)
			}
			return err
		}
		latest, ok, err := tx.LatestStatus(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return newError(op, ErrNoStatusHistory, "order %d has no status history", orderID)
		}
		out = latest
		return nil
	})
	return out, err
}

// MonthlyWorth sums order totals placed in the calendar month of now.
func (s *Service) MonthlyWorth(ctx context.Context) (int64, error) {
	from, to := monthBounds(s.now())
	var sum int64
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		sum, err = tx.SumTotals(ctx, from, to)
		return err
	})
	return sum, err
}

// StatusStats counts this month's orders by their current status.
func (s *Service) StatusStats(ctx context.Context) ([]StatusCount, error) {
	from, to := monthBounds(s.now())
	var out []StatusCount
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.CountLatestStatuses(ctx, from, to)
		return err
	})
	return out, err
}

// SportsStats counts orders per sport over the last three months.
func (s *Service) SportsStats(ctx context.Context) ([]SportCount, error) {
	now := s.now()
	var out []SportCount
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		out, err = tx.CountSports(ctx, now.AddDate(0, -3, 0), now)
		return err
	})
	return out, err
}

func monthBounds(now time.Time) (time.Time, time.Time) {
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 1, 0)
}

func loadDetails(ctx context.Context, tx Tx, list []Order) ([]OrderDetail, error) {
	out := make([]OrderDetail, 0, len(list))
	for _, o := range list {
		d, err := loadDetail(ctx, tx, o)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func loadDetail(ctx context.Context, tx Tx, o Order) (OrderDetail, error) {
	lines, err := tx.Lines(ctx, o.ID)
	if err != nil {
		return OrderDetail{}, err
	}
	history, err := tx.StatusHistory(ctx, o.ID)
	if err != nil {
		return OrderDetail{}, err
	}
	d := OrderDetail{Order: o, Lines: lines, History: history}
	if len(history) > 0 {
		latest := history[0]
		d.Latest = &latest
	}
	return d, nil
}
