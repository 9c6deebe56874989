package orders_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

func TestGetOrderAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.seedOrder(t, orders.StatusConfirmed, orders.StatusReady)

	d, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, d.History, 2)
	assert.Equal(t, orders.StatusReady, d.History[0].Description)
	assert.Equal(t, orders.StatusReady, d.Latest.Description)
	assert.Len(t, d.Lines, 1)

	h, err := f.svc.StatusHistory(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, d.History, h)

	cur, err := f.svc.CurrentStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReady, cur.Description)

	_, err = f.svc.GetOrder(ctx, 12345)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	bare := f.store.SeedOrder(orders.Order{OrderDate: baseTime, ExternalReference: "bare"}, nil)
	_, err = f.svc.StatusHistory(ctx, bare.ID)
	assert.ErrorIs(t, err, orders.ErrNoStatusHistory)
	_, err = f.svc.CurrentStatus(ctx, bare.ID)
	assert.ErrorIs(t, err, orders.ErrNoStatusHistory)
}

func TestListOrdersPagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		f.store.SeedOrder(orders.Order{
			OrderDate:         baseTime.Add(time.Duration(i) * time.Hour),
			UserID:            int64(1 + i%2),
			ExternalReference: fmt.Sprintf("ref-%d", i),
		}, nil)
	}
	ctx := context.Background()

	page, err := f.svc.ListOrders(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Orders, 3)
	assert.Equal(t, "ref-3", page.Orders[0].ExternalReference)

	last, err := f.svc.ListOrders(ctx, 3, 3)
	require.NoError(t, err)
	assert.Len(t, last.Orders, 1)

	def, err := f.svc.ListOrders(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Page)
	assert.Len(t, def.Orders, 7)

	mine, err := f.svc.ListUserOrders(ctx, 2)
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, "ref-5", mine[0].ExternalReference)

	_, err = f.svc.ListUserOrders(ctx, 0)
	assert.True(t, errors.Is(err, orders.ErrInvalidInput))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := func(ref string, at time.Time, total int64, sport string, status orders.Status) {
		f.store.SeedOrder(orders.Order{OrderDate: at, ExternalReference: ref, TotalCents: total, Sport: sport}, nil,
			orders.StatusEntry{StatusDate: at, Description: status})
	}
	seed("a", baseTime, 1000, "futbol", orders.StatusConfirmed)
	seed("b", baseTime.Add(-24*time.Hour), 2500, "futbol", orders.StatusReady)
	seed("c", baseTime.Add(-3*24*time.Hour), 500, "tenis", orders.StatusConfirmed)
	seed("d", time.Date(2024, time.April, 20, 0, 0, 0, 0, time.UTC), 9999, "tenis", orders.StatusConfirmed)
	seed("e", time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC), 1, "golf", orders.StatusConfirmed)
	seed("f", baseTime, 700, "", orders.StatusCancelled)

	worth, err := f.svc.MonthlyWorth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4700), worth)

	st, err := f.svc.StatusStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []orders.StatusCount{
		{Status: orders.StatusCancelled, Count: 1},
		{Status: orders.StatusConfirmed, Count: 2},
		{Status: orders.StatusReady, Count: 1},
	}, st)

	sports, err := f.svc.SportsStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []orders.SportCount{{Sport: "futbol", Count: 2}, {Sport: "tenis", Count: 2}}, sports)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, orders.Kind(""), orders.KindOf(nil))
	assert.Equal(t, orders.KindInternal, orders.KindOf(errors.New("conn reset")))
	wrapped := fmt.Errorf("outer: %w", orders.ErrEmptyOrder)
	assert.Equal(t, orders.KindConflict, orders.KindOf(wrapped))
	assert.Equal(t, "outer: orders: order has no lines", orders.Message(wrapped))
}
