package orders_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/orders/orderstest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var baseTime = time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *orders.Service
	store    *orderstest.MemStore
	provider *orderstest.Provider
	events   *orderstest.Publisher
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    orderstest.NewMemStore(),
		provider: orderstest.NewProvider(),
		events:   &orderstest.Publisher{},
		clock:    newClock(baseTime),
	}
	svc, err := orders.NewService(orders.Deps{
		Store:       f.store,
		Provider:    f.provider,
		Events:      f.events,
		Clock:       f.clock.Now,
		ServiceName: "order-api-test",
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func customer() orders.Customer {
	return orders.Customer{Name: "Ana Pérez", Email: "ana@example.com", Phone: "1155550000"}
}

func placeInput(items ...orders.PlaceItem) orders.PlaceOrderInput {
	return orders.PlaceOrderInput{UserID: 42, Items: items, Customer: customer(), Currency: "ARS"}
}

// seedOrder stores a confirmed-by-default order placed at baseTime with one
// line of qty 2 for product 1 size 7.
func (f *fixture) seedOrder(t *testing.T, statuses ...orders.Status) orders.Order {
	t.Helper()
	var history []orders.StatusEntry
	at := baseTime
	for _, s := range statuses {
		history = append(history, orders.StatusEntry{StatusDate: at, Description: s})
		at = at.Add(time.Minute)
	}
	return f.store.SeedOrder(orders.Order{
		OrderDate:         baseTime,
		UserID:            42,
		ExternalReference: "seed-ref",
		TotalCents:        2000,
		Customer:          customer(),
	}, []orders.OrderLine{{ProductID: 1, SizeID: 7, Quantity: 2, SubtotalCents: 2000}}, history...)
}
