package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/storefront-orders/internal/payments"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// DB is the part of pgxpool.Pool the repository needs.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Repo is the PostgreSQL Store.
type Repo struct{ DB DB }

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockInventory(ctx context.Context, productID, sizeID int64) (InventoryLine, error) {
	line := InventoryLine{ProductID: productID, SizeID: sizeID}
	err := t.tx.QueryRow(ctx, `
		SELECT stock FROM product_sizes
		WHERE product_id=$1 AND size_id=$2
		FOR UPDATE`, productID, sizeID).Scan(&line.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return InventoryLine{}, ErrNoInventoryLine
	}
	if err != nil {
		return InventoryLine{}, err
	}
	return line, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, productID, sizeID int64, delta int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE product_sizes SET stock = stock + $3
		WHERE product_id=$1 AND size_id=$2`, productID, sizeID, delta)
	if err != nil {
		if isPgCode(err, pgCheckViolation) {
			return fmt.Errorf("%w: product %d size %d", ErrInsufficientStock, productID, sizeID)
		}
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNoInventoryLine
	}
	return nil
}

func (t *pgTx) SetStock(ctx context.Context, productID, sizeID int64, stock int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO product_sizes(product_id, size_id, stock)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, size_id) DO UPDATE SET stock = EXCLUDED.stock`,
		productID, sizeID, stock)
	return err
}

func (t *pgTx) ProductExists(ctx context.Context, productID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, productID).Scan(&ok)
	return ok, err
}

func (t *pgTx) ListInventory(ctx context.Context, productID int64) ([]InventoryLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT product_id, size_id, stock FROM product_sizes
		WHERE $1 = 0 OR product_id = $1
		ORDER BY product_id, size_id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InventoryLine
	for rows.Next() {
		var l InventoryLine
		if err := rows.Scan(&l.ProductID, &l.SizeID, &l.Stock); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(order_date, pickup_date, user_id, payment_method_id, external_reference,
			payment_id, total_cents, customer_name, customer_email, customer_phone, customer_notes,
			sport, payment_provider_status, currency)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8, $9, NULLIF($10,''), NULLIF($11,''),
			NULLIF($12,''), $13, $14)
		RETURNING id`,
		o.OrderDate, o.PickupDate, o.UserID, o.PaymentMethodID, o.ExternalReference,
		o.PaymentID, o.TotalCents, o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Notes,
		o.Sport, string(o.PaymentStatus), o.Currency,
	).Scan(&o.ID)
	if isPgCode(err, pgUniqueViolation) {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, o.ExternalReference)
	}
	return err
}

func (t *pgTx) InsertLine(ctx context.Context, l *OrderLine) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_lines(order_id, product_id, size_id, quantity, subtotal_cents)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		l.OrderID, l.ProductID, l.SizeID, l.Quantity, l.SubtotalCents,
	).Scan(&l.ID)
}

const orderColumns = `id, order_date, pickup_date, user_id, payment_method_id, external_reference,
	COALESCE(payment_id,''), total_cents, customer_name, customer_email, COALESCE(customer_phone,''),
	COALESCE(customer_notes,''), COALESCE(sport,''), payment_provider_status, currency`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.OrderDate, &o.PickupDate, &o.UserID, &o.PaymentMethodID, &o.ExternalReference,
		&o.PaymentID, &o.TotalCents, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Customer.Notes, &o.Sport, &status, &o.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.PaymentStatus = payments.Status(status)
	return o, nil
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) OrderByID(ctx context.Context, id int64, forUpdate bool) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`+lockClause(forUpdate), id))
}

func (t *pgTx) OrderByReference(ctx context.Context, ref string, forUpdate bool) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_reference=$1`+lockClause(forUpdate), ref))
}

func (t *pgTx) UpdatePayment(ctx context.Context, orderID int64, status payments.Status, paymentID string) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET payment_provider_status=$2, payment_id=NULLIF($3,'')
		WHERE id=$1`, orderID, string(status), paymentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) SetPickupDate(ctx context.Context, orderID int64, at *time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET pickup_date=$2 WHERE id=$1`, orderID, at)
	return err
}

func (t *pgTx) Lines(ctx context.Context, orderID int64) ([]OrderLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, size_id, quantity, subtotal_cents
		FROM order_lines WHERE order_id=$1
		ORDER BY product_id, size_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.SizeID, &l.Quantity, &l.SubtotalCents); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) AppendStatus(ctx context.Context, orderID int64, status Status, at time.Time) (StatusEntry, error) {
	e := StatusEntry{OrderID: orderID, StatusDate: at, Description: status}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_status(order_id, status_date, description)
		VALUES ($1, $2, $3)
		RETURNING seq`, orderID, at, string(status)).Scan(&e.Seq)
	return e, err
}

func (t *pgTx) StatusHistory(ctx context.Context, orderID int64) ([]StatusEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT seq, order_id, status_date, description
		FROM order_status WHERE order_id=$1
		ORDER BY status_date DESC, seq DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusEntry
	for rows.Next() {
		var (
			e    StatusEntry
			desc string
		)
		if err := rows.Scan(&e.Seq, &e.OrderID, &e.StatusDate, &desc); err != nil {
			return nil, err
		}
		e.Description = Status(desc)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) LatestStatus(ctx context.Context, orderID int64) (StatusEntry, bool, error) {
	var (
		e    StatusEntry
		desc string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT seq, order_id, status_date, description
		FROM order_status WHERE order_id=$1
		ORDER BY status_date DESC, seq DESC
		LIMIT 1`, orderID).Scan(&e.Seq, &e.OrderID, &e.StatusDate, &desc)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	e.Description = Status(desc)
	return e, true, nil
}

func (t *pgTx) queryOrders(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *pgTx) OrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	return t.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 ORDER BY order_date DESC, id DESC`, userID)
}

func (t *pgTx) ListOrders(ctx context.Context, limit, offset int) ([]Order, int, error) {
	var total int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, err
	}
	out, err := t.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		ORDER BY order_date DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	return out, total, err
}

func (t *pgTx) SumTotals(ctx context.Context, from, to time.Time) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cents), 0)::bigint FROM orders
		WHERE order_date >= $1 AND order_date < $2`, from, to).Scan(&sum)
	return sum, err
}

func (t *pgTx) CountLatestStatuses(ctx context.Context, from, to time.Time) ([]StatusCount, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT ls.description, COUNT(*)
		FROM orders o
		JOIN LATERAL (
			SELECT description FROM order_status s
			WHERE s.order_id = o.id
			ORDER BY s.status_date DESC, s.seq DESC
			LIMIT 1
		) ls ON true
		WHERE o.order_date >= $1 AND o.order_date < $2
		GROUP BY ls.description
		ORDER BY ls.description`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var (
			desc string
			c    StatusCount
		)
		if err := rows.Scan(&desc, &c.Count); err != nil {
			return nil, err
		}
		c.Status = Status(desc)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *pgTx) CountSports(ctx context.Context, from, to time.Time) ([]SportCount, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT sport, COUNT(*) FROM orders
		WHERE sport IS NOT NULL AND sport <> '' AND order_date >= $1 AND order_date <= $2
		GROUP BY sport
		ORDER BY COUNT(*) DESC, sport`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SportCount
	for rows.Next() {
		var c SportCount
		if err := rows.Scan(&c.Sport, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
