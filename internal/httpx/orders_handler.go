package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payments"
	"github.com/ariefcatur/storefront-orders/internal/projection"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

// OrderService is the part of *orders.Service the handlers call.
type OrderService interface {
	Checkout(ctx context.Context, in orders.CheckoutInput) (orders.CheckoutResult, error)
	CheckoutKey(userID int64, clientKey string, items []orders.PlaceItem) string
	HandlePaymentNotification(ctx context.Context, n payments.Notification) (orders.ReconcileResult, bool, error)
	ConfirmSession(ctx context.Context, sessionID string) (orders.SessionResult, error)
	GetOrder(ctx context.Context, orderID int64) (orders.OrderDetail, error)
	ListUserOrders(ctx context.Context, userID int64) ([]orders.OrderDetail, error)
	ListOrders(ctx context.Context, page, limit int) (orders.OrderPage, error)
	StatusHistory(ctx context.Context, orderID int64) ([]orders.StatusEntry, error)
	CurrentStatus(ctx context.Context, orderID int64) (orders.StatusEntry, error)
	Cancel(ctx context.Context, orderID int64, actor orders.Actor) (orders.StatusEntry, error)
	CancelPending(ctx context.Context, orderID int64, actor orders.Actor) (orders.StatusEntry, error)
	CreateInitialStatus(ctx context.Context, orderID int64, description string) (orders.StatusEntry, error)
	TransitionStatus(ctx context.Context, orderID int64, target string) (orders.StatusEntry, error)
	MarkWithdrawn(ctx context.Context, orderID int64) (orders.StatusEntry, error)
	MonthlyWorth(ctx context.Context) (int64, error)
	StatusStats(ctx context.Context) ([]orders.StatusCount, error)
	SportsStats(ctx context.Context) ([]orders.SportCount, error)
}

// Handler serves the order and payment routes. Redis is optional; without
// it checkout idempotency and the status cache are skipped.
type Handler struct {
	Orders        OrderService
	Redis         redis.Cmdable
	WebhookSecret string
	FrontendURL   string
	BackendURL    string
	Logger        *zap.Logger
}

const (
	headerUserID     = "X-User-ID"
	headerRole       = "X-User-Role"
	roleAdmin        = "admin"
	roleReceptionist = "receptionist"
)

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/checkout", h.checkout)
		r.Post("/webhook", h.webhook)
	})
	r.Route("/api/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/session", h.confirmSession)
		r.Get("/user/{userId}", h.listUserOrders)
		r.Get("/stats/monthly-worth", h.monthlyWorth)
		r.Get("/stats/status", h.statusStats)
		r.Get("/stats/sports", h.sportsStats)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getStatus)
		r.Post("/{id}/regret", h.cancel)
		r.Post("/{id}/cancel", h.cancelPending)
		r.Get("/{id}/statuses", h.statusHistory)
		r.Post("/{id}/statuses", h.createStatus)
		r.Put("/{id}/statuses", h.transitionStatus)
		r.Post("/{id}/pickup", h.pickup)
	})
}

func (h *Handler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// requestContext bounds the call and carries the request id into events.
func requestContext(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	return context.WithTimeout(ctx, d)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// actor reads the identity set by the auth gateway. A missing or invalid
// user id yields the zero Actor.
func actor(r *http.Request) orders.Actor {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(headerUserID)), 10, 64)
	if err != nil || id <= 0 {
		return orders.Actor{}
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerRole)))
	return orders.Actor{
		UserID: id,
		Staff:  role == roleAdmin || role == roleReceptionist,
	}
}

// requireUser answers 401 when the request carries no user.
func requireUser(w http.ResponseWriter, r *http.Request) (orders.Actor, bool) {
	a := actor(r)
	if a.UserID == 0 {
		writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return orders.Actor{}, false
	}
	return a, true
}

// requireStaff answers 401 without a user and 403 for customers.
func requireStaff(w http.ResponseWriter, r *http.Request) (orders.Actor, bool) {
	a, ok := requireUser(w, r)
	if !ok {
		return a, false
	}
	if !a.Staff {
		writeProblem(w, r, http.StatusForbidden, string(orders.KindForbidden), "staff role required", nil)
		return orders.Actor{}, false
	}
	return a, true
}

func (h *Handler) invalidateStatus(ctx context.Context, orderID int64) {
	if h.Redis == nil || orderID == 0 {
		return
	}
	if err := h.Redis.Del(ctx, redisx.OrderStatusKey(orderID)).Err(); err != nil {
		h.log().Warn("status cache invalidation failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()

	d, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrder(d))
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userId")
	if !ok {
		badRequest(w, r, "invalid user id")
		return
	}
	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListUserOrders(ctx, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderOrders(list))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	p, err := h.Orders.ListOrders(ctx, page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders":     renderOrders(p.Orders),
		"total":      p.Total,
		"page":       p.Page,
		"totalPages": p.TotalPages,
	})
}

// getStatus serves the projected view when cached and falls back to the
// store, caching what it read.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		v, hit, err := projection.LoadView(ctx, h.Redis, id)
		if err != nil {
			h.log().Warn("status cache read failed", zap.Int64("order_id", id), zap.Error(err))
		}
		if hit {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	e, err := h.Orders.CurrentStatus(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v := projection.StatusView{OrderID: id, Status: string(e.Description), StatusDate: e.StatusDate, Seq: e.Seq}
	if h.Redis != nil {
		// never replaces a newer entry written meanwhile
		if _, err := projection.ApplyStatus(ctx, h.Redis, id, v.Status, v.StatusDate, v.Seq); err != nil {
			h.log().Warn("status cache write failed", zap.Int64("order_id", id), zap.Error(err))
		}
	}
	w.Header().Set("X-Cache", "miss")
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	a, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	e, err := h.Orders.Cancel(ctx, id, a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidateStatus(ctx, id)
	writeJSON(w, http.StatusOK, renderStatus(e))
}

func (h *Handler) cancelPending(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	a, ok := requireStaff(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	e, err := h.Orders.CancelPending(ctx, id, a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidateStatus(ctx, id)
	writeJSON(w, http.StatusOK, renderStatus(e))
}

func (h *Handler) statusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()

	list, err := h.Orders.StatusHistory(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderStatuses(list))
}

type statusReq struct {
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (s statusReq) value() string {
	if strings.TrimSpace(s.Status) != "" {
		return s.Status
	}
	return s.Description
}

func decodeStatus(r *http.Request) (statusReq, error) {
	var req statusReq
	if r.ContentLength == 0 {
		return req, nil
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}

func (h *Handler) createStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	req, err := decodeStatus(r)
	if err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	e, err := h.Orders.CreateInitialStatus(ctx, id, req.value())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidateStatus(ctx, id)
	writeJSON(w, http.StatusCreated, renderStatus(e))
}

func (h *Handler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	req, err := decodeStatus(r)
	if err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	e, err := h.Orders.TransitionStatus(ctx, id, req.value())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidateStatus(ctx, id)
	writeJSON(w, http.StatusOK, renderStatus(e))
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, r, "invalid order id")
		return
	}
	if _, ok := requireStaff(w, r); !ok {
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	e, err := h.Orders.MarkWithdrawn(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidateStatus(ctx, id)
	writeJSON(w, http.StatusOK, renderStatus(e))
}

func (h *Handler) monthlyWorth(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	total, err := h.Orders.MonthlyWorth(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": money(total), "total_cents": total})
}

func (h *Handler) statusStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	counts, err := h.Orders.StatusStats(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type row struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	out := make([]row, 0, len(counts))
	for _, c := range counts {
		out = append(out, row{Status: string(c.Status), Count: c.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) sportsStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	counts, err := h.Orders.SportsStats(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type row struct {
		Sport string `json:"sport"`
		Count int    `json:"count"`
	}
	out := make([]row, 0, len(counts))
	for _, c := range counts {
		out = append(out, row{Sport: c.Sport, Count: c.Count})
	}
	writeJSON(w, http.StatusOK, out)
}
