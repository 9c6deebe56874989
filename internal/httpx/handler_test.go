package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/orders/orderstest"
	"github.com/ariefcatur/storefront-orders/internal/payments"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

var now = time.Date(2024, time.May, 10, 13, 0, 0, 0, time.UTC)

type testEnv struct {
	router   *chi.Mux
	handler  *Handler
	store    *orderstest.MemStore
	provider *orderstest.Provider
	redis    *miniredis.Miniredis
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store := orderstest.NewMemStore()
	provider := orderstest.NewProvider()
	provider.Checkout = payments.CheckoutSession{ID: "cs_test", RedirectURL: "https://pay.example/cs_test"}

	svc, err := orders.NewService(orders.Deps{
		Store:    store,
		Provider: provider,
		Events:   &orderstest.Publisher{},
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &Handler{
		Orders:      svc,
		Redis:       rdb,
		FrontendURL: "https://shop.example",
		BackendURL:  "https://api.example",
	}
	r := NewRouter(nil)
	h.Register(r)
	return &testEnv{router: r, handler: h, store: store, provider: provider, redis: mr}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func checkoutBody(qty int) map[string]any {
	return map[string]any{
		"user_id":  42,
		"items":    []map[string]any{{"product_id": 1, "quantity": qty, "unit_price_cents": 1250, "title": "Remera"}},
		"customer": map[string]any{"name": "Ana", "email": "ana@example.com"},
		"sport":    "futbol",
	}
}

func (e *testEnv) checkout(t *testing.T) CheckoutResp {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/payments/checkout", checkoutBody(2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CheckoutResp](t, rec)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCheckoutPlacesOrderOnce(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 5)

	first := e.do(t, http.MethodPost, "/api/payments/checkout", checkoutBody(2), "Idempotency-Key", "cart-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	resp := decode[CheckoutResp](t, first)
	assert.Equal(t, "25.00", resp.Total)
	assert.Equal(t, int64(2500), resp.TotalCents)
	assert.Equal(t, "pending_payment", resp.Status)
	assert.Equal(t, "https://pay.example/cs_test", resp.InitPoint)
	assert.False(t, resp.Idempotent)

	replay := e.do(t, http.MethodPost, "/api/payments/checkout", checkoutBody(2), "Idempotency-Key", "cart-1")
	require.Equal(t, http.StatusOK, replay.Code)
	again := decode[CheckoutResp](t, replay)
	assert.True(t, again.Idempotent)
	assert.Equal(t, resp.OrderID, again.OrderID)

	assert.Equal(t, 1, e.store.OrderCount())
	assert.Equal(t, 3, e.store.Stock(1, 7))
	require.Len(t, e.provider.Requests, 1)
	req := e.provider.Requests[0]
	assert.Equal(t, "https://api.example/api/payments/webhook", req.NotificationURL)
	assert.Contains(t, req.SuccessURL, "https://shop.example/checkout/success")
}

func TestCheckoutErrors(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 1)

	rec := e.do(t, http.MethodPost, "/api/payments/checkout", "{oops")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := checkoutBody(1)
	body["items"] = []map[string]any{}
	rec = e.do(t, http.MethodPost, "/api/payments/checkout", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	problem := decode[map[string]any](t, rec)
	assert.Equal(t, "validation", problem["error"])
	assert.Equal(t, float64(http.StatusBadRequest), problem["status"])
	assert.NotEmpty(t, problem["request_id"])

	rec = e.do(t, http.MethodPost, "/api/payments/checkout", checkoutBody(3))
	require.Equal(t, http.StatusConflict, rec.Code)
	problem = decode[map[string]any](t, rec)
	assert.Equal(t, "conflict", problem["error"])
	assert.Contains(t, problem["message"], "requested 3, available 1")
	assert.Equal(t, 1, e.store.Stock(1, 7))
}

func TestCheckoutProviderFailureReportsOrder(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 5)
	e.provider.Err = errors.New("provider down")

	rec := e.do(t, http.MethodPost, "/api/payments/checkout", checkoutBody(1))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	problem := decode[map[string]any](t, rec)
	assert.Equal(t, "integration", problem["error"])
	assert.NotZero(t, problem["order_id"])
	assert.Equal(t, 4, e.store.Stock(1, 7))
}

func TestWebhookReconcilesPayment(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 5)
	placed := e.checkout(t)
	e.provider.Payments["pay_1"] = payments.PaymentDetails{
		ID: "pay_1", ExternalReference: placed.ExternalReference, RawStatus: "approved", Status: payments.StatusApproved,
	}

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodPost, "/api/payments/webhook?type=payment&data.id=pay_1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := e.do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(placed.OrderID, 10), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	o := decode[orderJSON](t, rec)
	assert.Equal(t, "confirmed", o.Status)
	assert.Equal(t, "approved", o.PaymentStatus)
	assert.Equal(t, "pay_1", o.PaymentID)
	assert.Len(t, o.History, 2)
	assert.Equal(t, 3, e.store.Stock(1, 7))
}

func TestWebhookAcknowledgesFailures(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/payments/webhook", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/payments/webhook", `{"type":"payment","data":{"id":"missing"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/payments/webhook?topic=merchant_order&id=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookSignature(t *testing.T) {
	e := newEnv(t)
	e.handler.WebhookSecret = "whsec_test"
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	rec := e.do(t, http.MethodPost, "/api/payments/webhook", string(payload), "Stripe-Signature", "t=1,v1=bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})
	rec = e.do(t, http.MethodPost, "/api/payments/webhook", string(payload), "Stripe-Signature", signed.Header)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpointCaches(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 5)
	placed := e.checkout(t)
	path := "/api/orders/" + strconv.FormatInt(placed.OrderID, 10) + "/status"

	rec := e.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.True(t, e.redis.Exists(redisx.OrderStatusKey(placed.OrderID)))

	rec = e.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Equal(t, "pending_payment", decode[map[string]any](t, rec)["status"])

	e.provider.Payments["pay_2"] = payments.PaymentDetails{
		ID: "pay_2", ExternalReference: placed.ExternalReference, Status: payments.StatusApproved,
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/payments/webhook?type=payment&id=pay_2", nil).Code)
	assert.False(t, e.redis.Exists(redisx.OrderStatusKey(placed.OrderID)))

	rec = e.do(t, http.MethodGet, path, nil)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.Equal(t, "confirmed", decode[map[string]any](t, rec)["status"])

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/orders/999/status", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/orders/abc/status", nil).Code)
}

func TestStatusEndpointLogsCacheFailures(t *testing.T) {
	e := newEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	e.handler.Logger = zap.New(core)
	o := seedConfirmed(e)
	key := redisx.OrderStatusKey(o.ID)
	require.NoError(t, e.redis.Set(key, "not a hash"))

	rec := e.do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(o.ID, 10)+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	assert.Equal(t, "confirmed", decode[map[string]any](t, rec)["status"])

	assert.Equal(t, 1, logs.FilterMessage("status cache read failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("status cache write failed").Len())
}

func seedConfirmed(e *testEnv) orders.Order {
	e.store.SeedStock(1, 7, 0)
	return e.store.SeedOrder(orders.Order{
		OrderDate:         now.Add(-time.Hour),
		UserID:            42,
		ExternalReference: "ref-confirmed",
		TotalCents:        2000,
		Customer:          orders.Customer{Name: "Ana", Email: "ana@example.com"},
	}, []orders.OrderLine{{ProductID: 1, SizeID: 7, Quantity: 2, SubtotalCents: 2000}},
		orders.StatusEntry{StatusDate: now.Add(-time.Hour), Description: orders.StatusConfirmed})
}

func TestRegret(t *testing.T) {
	e := newEnv(t)
	o := seedConfirmed(e)
	path := "/api/orders/" + strconv.FormatInt(o.ID, 10) + "/regret"

	rec := e.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodPost, path, nil, "X-User-ID", "0")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, e.store.Stock(1, 7))

	rec = e.do(t, http.MethodPost, path, nil, "X-User-ID", "7")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, path, nil, "X-User-ID", "42")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[statusJSON](t, rec).Status)
	assert.Equal(t, 2, e.store.Stock(1, 7))

	rec = e.do(t, http.MethodPost, path, nil, "X-User-ID", "42")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStaffStatusRoutes(t *testing.T) {
	e := newEnv(t)
	o := e.store.SeedOrder(orders.Order{
		OrderDate: now.Add(-time.Hour), UserID: 1, ExternalReference: "ref-bare", TotalCents: 100,
		Customer: orders.Customer{Name: "Leo", Email: "leo@example.com"},
	}, nil)
	base := "/api/orders/" + strconv.FormatInt(o.ID, 10)
	staff := []string{"X-User-ID", "3", "X-User-Role", "receptionist"}

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, base+"/statuses", nil).Code)

	rec := e.do(t, http.MethodPost, base+"/statuses", map[string]string{"description": "confirmed"}, staff...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, base+"/statuses", map[string]string{"description": "ready"}, staff...).Code)

	rec = e.do(t, http.MethodPut, base+"/statuses", map[string]string{"status": "ready"}, staff...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPut, base+"/statuses", map[string]string{"status": "ready"}, staff...).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, base+"/statuses", map[string]string{"status": "shipped"}, staff...).Code)

	rec = e.do(t, http.MethodPost, base+"/pickup", nil, staff...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "withdrawn", decode[statusJSON](t, rec).Status)

	rec = e.do(t, http.MethodGet, base+"/statuses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]statusJSON](t, rec)
	require.Len(t, history, 3)
	assert.Equal(t, "withdrawn", history[0].Status)

	rec = e.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode[orderJSON](t, rec).PickupDate)
}

func TestStaffRoutesRejectCustomers(t *testing.T) {
	e := newEnv(t)
	o := seedConfirmed(e)
	base := "/api/orders/" + strconv.FormatInt(o.ID, 10)
	customer := []string{"X-User-ID", "42", "X-User-Role", "client"}

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, base + "/statuses", map[string]string{"description": "ready"}},
		{http.MethodPut, base + "/statuses", map[string]string{"status": "ready"}},
		{http.MethodPost, base + "/pickup", nil},
		{http.MethodPost, base + "/cancel", nil},
	}
	for _, c := range cases {
		assert.Equal(t, http.StatusUnauthorized, e.do(t, c.method, c.path, c.body).Code, c.method+" "+c.path)
		rec := e.do(t, c.method, c.path, c.body, customer...)
		assert.Equal(t, http.StatusForbidden, rec.Code, c.method+" "+c.path)
		assert.Equal(t, "forbidden", decode[map[string]any](t, rec)["error"])
	}
	assert.Len(t, e.store.History(o.ID), 1)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/orders/stats/status", nil).Code)
}

func TestCancelPendingRoute(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 5)
	placed := e.checkout(t)
	require.Equal(t, 3, e.store.Stock(1, 7))
	path := "/api/orders/" + strconv.FormatInt(placed.OrderID, 10) + "/cancel"
	admin := []string{"X-User-ID", "1", "X-User-Role", "admin"}

	// warm the status cache so the invalidation is observable
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(placed.OrderID, 10)+"/status", nil).Code)
	require.True(t, e.redis.Exists(redisx.OrderStatusKey(placed.OrderID)))

	rec := e.do(t, http.MethodPost, path, nil, admin...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[statusJSON](t, rec).Status)
	assert.Equal(t, 5, e.store.Stock(1, 7))
	assert.False(t, e.redis.Exists(redisx.OrderStatusKey(placed.OrderID)))

	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, path, nil, admin...).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/orders/999/cancel", nil, admin...).Code)
}

func TestConfirmSessionRoute(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 5)
	e.provider.Sessions["cs_9"] = payments.Session{
		ID: "cs_9", Paid: true, RawStatus: "paid", Status: payments.StatusApproved,
		PaymentID: "pi_9", Currency: "ARS",
		Customer: payments.CustomerDetails{Name: "Luz", Email: "luz@example.com"},
		Metadata: map[string]string{payments.MetaUserID: "8"},
	}
	e.provider.LineItems["cs_9"] = []payments.RawLineItem{
		{Name: "Remera", Quantity: 2, UnitAmount: 1000, Metadata: map[string]string{payments.MetaProductID: "1"}},
	}

	rec := e.do(t, http.MethodPost, "/api/orders/session", map[string]string{"session_id": "cs_9"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[orderJSON](t, rec)
	assert.Equal(t, "20.00", o.Total)
	assert.Equal(t, "confirmed", o.Status)

	rec = e.do(t, http.MethodPost, "/api/orders/session", map[string]string{"session_id": "cs_9"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Order-Existing"))
	assert.Equal(t, 3, e.store.Stock(1, 7))

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/orders/session", map[string]string{}).Code)
}

func TestListingAndStats(t *testing.T) {
	e := newEnv(t)
	e.store.SeedStock(1, 7, 10)
	e.checkout(t)
	body := checkoutBody(1)
	body["user_id"] = 9
	body["sport"] = "tenis"
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/payments/checkout", body).Code)

	rec := e.do(t, http.MethodGet, "/api/orders?page=1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), page["total"])
	assert.Equal(t, float64(2), page["totalPages"])

	rec = e.do(t, http.MethodGet, "/api/orders/user/9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]orderJSON](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "12.50", list[0].Total)

	rec = e.do(t, http.MethodGet, "/api/orders/stats/monthly-worth", nil, "X-User-ID", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "37.50", decode[map[string]any](t, rec)["total"])

	rec = e.do(t, http.MethodGet, "/api/orders/stats/status", nil, "X-User-ID", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[[]map[string]any](t, rec)
	require.Len(t, stats, 1)
	assert.Equal(t, "pending_payment", stats[0]["status"])
	assert.Equal(t, float64(2), stats[0]["count"])

	rec = e.do(t, http.MethodGet, "/api/orders/stats/sports", nil, "X-User-ID", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "0.00", money(0))
	assert.Equal(t, "12.05", money(1205))
	assert.Equal(t, "-3.10", money(-310))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(orders.KindValidation))
	assert.Equal(t, http.StatusConflict, statusFor(orders.KindConflict))
	assert.Equal(t, http.StatusNotFound, statusFor(orders.KindNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(orders.KindForbidden))
	assert.Equal(t, http.StatusBadGateway, statusFor(orders.KindIntegration))
	assert.Equal(t, http.StatusInternalServerError, statusFor(orders.KindInternal))
}
