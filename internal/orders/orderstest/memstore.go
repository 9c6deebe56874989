// Package orderstest provides an in-memory orders.Store for tests.
package orderstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payments"
)

type pair struct{ product, size int64 }

type state struct {
	products map[int64]bool
	stock    map[pair]int
	orders   map[int64]orders.Order
	refs     map[string]int64
	lines    map[int64][]orders.OrderLine
	statuses map[int64][]orders.StatusEntry
	nextID   int64
	nextSeq  int64
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[int64]bool, len(s.products)),
		stock:    make(map[pair]int, len(s.stock)),
		orders:   make(map[int64]orders.Order, len(s.orders)),
		refs:     make(map[string]int64, len(s.refs)),
		lines:    make(map[int64][]orders.OrderLine, len(s.lines)),
		statuses: make(map[int64][]orders.StatusEntry, len(s.statuses)),
		nextID:   s.nextID,
		nextSeq:  s.nextSeq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.refs {
		c.refs[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]orders.OrderLine(nil), v...)
	}
	for k, v := range s.statuses {
		c.statuses[k] = append([]orders.StatusEntry(nil), v...)
	}
	return c
}

// MemStore serialises transactions behind one mutex, which gives the same
// outcome as row locks for the workflows under test. A failed transaction
// restores the state it started from.
type MemStore struct {
	mu sync.Mutex
	st *state

	// FailAppend makes AppendStatus fail, to exercise rollbacks.
	FailAppend error
}

func NewMemStore() *MemStore {
	return &MemStore{st: &state{
		products: map[int64]bool{},
		stock:    map[pair]int{},
		orders:   map[int64]orders.Order{},
		refs:     map[string]int64{},
		lines:    map[int64][]orders.OrderLine{},
		statuses: map[int64][]orders.StatusEntry{},
	}}
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// SeedStock creates the product when needed and sets its stock for the size.
func (m *MemStore) SeedStock(productID, sizeID int64, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.products[productID] = true
	m.st.stock[pair{productID, sizeID}] = stock
}

// SeedProduct creates a product without any stock rows.
func (m *MemStore) SeedProduct(productID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.products[productID] = true
}

// SeedOrder stores o as is, bypassing the workflows. o.ID is assigned when zero.
func (m *MemStore) SeedOrder(o orders.Order, lines []orders.OrderLine, history ...orders.StatusEntry) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		m.st.nextID++
		o.ID = m.st.nextID
	} else if o.ID > m.st.nextID {
		m.st.nextID = o.ID
	}
	m.st.orders[o.ID] = o
	if o.ExternalReference != "" {
		m.st.refs[o.ExternalReference] = o.ID
	}
	for _, l := range lines {
		l.OrderID = o.ID
		m.st.lines[o.ID] = append(m.st.lines[o.ID], l)
	}
	for _, e := range history {
		m.st.nextSeq++
		e.Seq = m.st.nextSeq
		e.OrderID = o.ID
		m.st.statuses[o.ID] = append(m.st.statuses[o.ID], e)
	}
	return o
}

func (m *MemStore) Stock(productID, sizeID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.stock[pair{productID, sizeID}]
}

func (m *MemStore) Order(id int64) (orders.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orders[id]
	return o, ok
}

func (m *MemStore) Lines(orderID int64) []orders.OrderLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orders.OrderLine(nil), m.st.lines[orderID]...)
}

// History returns the timeline in insertion order.
func (m *MemStore) History(orderID int64) []orders.StatusEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orders.StatusEntry(nil), m.st.statuses[orderID]...)
}

func (m *MemStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.orders)
}

type memTx struct{ m *MemStore }

func (t *memTx) s() *state { return t.m.st }

func (t *memTx) LockInventory(_ context.Context, productID, sizeID int64) (orders.InventoryLine, error) {
	stock, ok := t.s().stock[pair{productID, sizeID}]
	if !ok {
		return orders.InventoryLine{}, orders.ErrNoInventoryLine
	}
	return orders.InventoryLine{ProductID: productID, SizeID: sizeID, Stock: stock}, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID, sizeID int64, delta int) error {
	k := pair{productID, sizeID}
	stock, ok := t.s().stock[k]
	if !ok {
		return orders.ErrNoInventoryLine
	}
	if stock+delta < 0 {
		return fmt.Errorf("%w: product %d size %d", orders.ErrInsufficientStock, productID, sizeID)
	}
	t.s().stock[k] = stock + delta
	return nil
}

func (t *memTx) SetStock(_ context.Context, productID, sizeID int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: negative stock", orders.ErrInvalidInput)
	}
	t.s().products[productID] = true
	t.s().stock[pair{productID, sizeID}] = stock
	return nil
}

func (t *memTx) ProductExists(_ context.Context, productID int64) (bool, error) {
	return t.s().products[productID], nil
}

func (t *memTx) ListInventory(_ context.Context, productID int64) ([]orders.InventoryLine, error) {
	var out []orders.InventoryLine
	for k, stock := range t.s().stock {
		if productID == 0 || k.product == productID {
			out = append(out, orders.InventoryLine{ProductID: k.product, SizeID: k.size, Stock: stock})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].SizeID < out[j].SizeID
	})
	return out, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	st := t.s()
	if _, dup := st.refs[o.ExternalReference]; dup {
		return fmt.Errorf("%w: %s", orders.ErrDuplicateReference, o.ExternalReference)
	}
	st.nextID++
	o.ID = st.nextID
	st.orders[o.ID] = *o
	st.refs[o.ExternalReference] = o.ID
	return nil
}

func (t *memTx) InsertLine(_ context.Context, l *orders.OrderLine) error {
	st := t.s()
	for _, existing := range st.lines[l.OrderID] {
		if existing.ProductID == l.ProductID && existing.SizeID == l.SizeID {
			return fmt.Errorf("duplicate line for product %d size %d", l.ProductID, l.SizeID)
		}
	}
	l.ID = int64(len(st.lines[l.OrderID]) + 1)
	st.lines[l.OrderID] = append(st.lines[l.OrderID], *l)
	return nil
}

func (t *memTx) OrderByID(_ context.Context, id int64, _ bool) (orders.Order, error) {
	o, ok := t.s().orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (t *memTx) OrderByReference(ctx context.Context, ref string, forUpdate bool) (orders.Order, error) {
	id, ok := t.s().refs[ref]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return t.OrderByID(ctx, id, forUpdate)
}

func (t *memTx) UpdatePayment(_ context.Context, orderID int64, status payments.Status, paymentID string) error {
	o, ok := t.s().orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	o.PaymentStatus = status
	o.PaymentID = paymentID
	t.s().orders[orderID] = o
	return nil
}

func (t *memTx) SetPickupDate(_ context.Context, orderID int64, at *time.Time) error {
	o, ok := t.s().orders[orderID]
	if !ok {
		return orders.ErrOrderNotFound
	}
	o.PickupDate = at
	t.s().orders[orderID] = o
	return nil
}

func (t *memTx) Lines(_ context.Context, orderID int64) ([]orders.OrderLine, error) {
	out := append([]orders.OrderLine(nil), t.s().lines[orderID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].SizeID < out[j].SizeID
	})
	return out, nil
}

func (t *memTx) AppendStatus(_ context.Context, orderID int64, status orders.Status, at time.Time) (orders.StatusEntry, error) {
	if t.m.FailAppend != nil {
		return orders.StatusEntry{}, t.m.FailAppend
	}
	st := t.s()
	st.nextSeq++
	e := orders.StatusEntry{Seq: st.nextSeq, OrderID: orderID, StatusDate: at, Description: status}
	st.statuses[orderID] = append(st.statuses[orderID], e)
	return e, nil
}

func (t *memTx) StatusHistory(_ context.Context, orderID int64) ([]orders.StatusEntry, error) {
	out := append([]orders.StatusEntry(nil), t.s().statuses[orderID]...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StatusDate.Equal(out[j].StatusDate) {
			return out[i].StatusDate.After(out[j].StatusDate)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

func (t *memTx) LatestStatus(ctx context.Context, orderID int64) (orders.StatusEntry, bool, error) {
	h, _ := t.StatusHistory(ctx, orderID)
	if len(h) == 0 {
		return orders.StatusEntry{}, false, nil
	}
	return h[0], true, nil
}

func (t *memTx) sortedOrders(keep func(orders.Order) bool) []orders.Order {
	var out []orders.Order
	for _, o := range t.s().orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].OrderDate.After(out[j].OrderDate)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (t *memTx) OrdersByUser(_ context.Context, userID int64) ([]orders.Order, error) {
	return t.sortedOrders(func(o orders.Order) bool { return o.UserID == userID }), nil
}

func (t *memTx) ListOrders(_ context.Context, limit, offset int) ([]orders.Order, int, error) {
	all := t.sortedOrders(func(orders.Order) bool { return true })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func inRange(at, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

func (t *memTx) SumTotals(_ context.Context, from, to time.Time) (int64, error) {
	var sum int64
	for _, o := range t.s().orders {
		if inRange(o.OrderDate, from, to) {
			sum += o.TotalCents
		}
	}
	return sum, nil
}

func (t *memTx) CountLatestStatuses(ctx context.Context, from, to time.Time) ([]orders.StatusCount, error) {
	counts := map[orders.Status]int{}
	for _, o := range t.s().orders {
		if !inRange(o.OrderDate, from, to) {
			continue
		}
		if e, ok, _ := t.LatestStatus(ctx, o.ID); ok {
			counts[e.Description]++
		}
	}
	out := make([]orders.StatusCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, orders.StatusCount{Status: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (t *memTx) CountSports(_ context.Context, from, to time.Time) ([]orders.SportCount, error) {
	counts := map[string]int{}
	for _, o := range t.s().orders {
		if o.Sport != "" && !o.OrderDate.Before(from) && !o.OrderDate.After(to) {
			counts[o.Sport]++
		}
	}
	out := make([]orders.SportCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, orders.SportCount{Sport: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sport < out[j].Sport
	})
	return out, nil
}
