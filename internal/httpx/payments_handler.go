package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payments"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

const maxWebhookBody = 64 << 10

type CheckoutReq struct {
	UserID         int64              `json:"user_id"`
	Items          []orders.PlaceItem `json:"items"`
	Customer       orders.Customer    `json:"customer"`
	Sport          string             `json:"sport"`
	Currency       string             `json:"currency"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type CheckoutResp struct {
	OrderID           int64  `json:"order_id"`
	ExternalReference string `json:"external_reference"`
	Total             string `json:"total"`
	TotalCents        int64  `json:"total_cents"`
	Status            string `json:"status"`
	SessionID         string `json:"id"`
	InitPoint         string `json:"init_point"`
	Idempotent        bool   `json:"idempotent"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	if a := actor(r); a.UserID != 0 {
		req.UserID = a.UserID
	}

	ctx, cancel := requestContext(r, 10*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; a replay returns the first response.
	clientKey := firstHeader(r.Header.Get("Idempotency-Key"), req.IdempotencyKey)
	idemKey := redisx.CheckoutKey(h.Orders.CheckoutKey(req.UserID, clientKey, req.Items))
	if h.Redis != nil {
		var cached CheckoutResp
		hit, err := redisx.GetJSON(ctx, h.Redis, idemKey, &cached)
		if err != nil {
			h.log().Warn("idempotency lookup failed", zap.Error(err))
		}
		if hit {
			cached.Idempotent = true
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	res, err := h.Orders.Checkout(ctx, orders.CheckoutInput{
		PlaceOrderInput: orders.PlaceOrderInput{
			UserID:   req.UserID,
			Items:    req.Items,
			Customer: req.Customer,
			Sport:    req.Sport,
			Currency: req.Currency,
		},
		SuccessURL:      h.FrontendURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		FailureURL:      h.FrontendURL + "/checkout/failure",
		PendingURL:      h.FrontendURL + "/checkout/pending",
		NotificationURL: h.BackendURL + "/api/payments/webhook",
	})
	if err != nil {
		if res.OrderID != 0 {
			// order exists but has no payment session yet
			writeProblem(w, r, http.StatusBadGateway, string(orders.KindOf(err)), orders.Message(err), map[string]any{
				"order_id":           res.OrderID,
				"external_reference": res.ExternalReference,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}

	resp := CheckoutResp{
		OrderID:           res.OrderID,
		ExternalReference: res.ExternalReference,
		Total:             money(res.TotalCents),
		TotalCents:        res.TotalCents,
		Status:            string(res.Status),
		SessionID:         res.Session.ID,
		InitPoint:         res.Session.RedirectURL,
	}
	if h.Redis != nil {
		if err := redisx.SetJSON(ctx, h.Redis, idemKey, resp, redisx.TTLIdempotency); err != nil {
			h.log().Warn("idempotency store failed", zap.Int64("order_id", res.OrderID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// webhook acknowledges every structurally valid notification with 200 so the
// provider stops retrying; processing failures are only logged.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w, r, "unreadable body")
		return
	}
	if h.WebhookSecret != "" {
		if err := webhook.ValidatePayload(body, r.Header.Get("Stripe-Signature"), h.WebhookSecret); err != nil {
			h.log().Warn("webhook signature rejected", zap.Error(err))
			badRequest(w, r, "invalid signature")
			return
		}
	}
	n, err := payments.ParseNotification(r.URL.Query(), body)
	if err != nil {
		badRequest(w, r, "malformed notification")
		return
	}

	ctx, cancel := requestContext(r, 10*time.Second)
	defer cancel()

	res, handled, err := h.Orders.HandlePaymentNotification(ctx, n)
	switch {
	case err != nil:
		h.log().Error("payment notification failed",
			zap.String("payment_id", n.ID),
			zap.String("type", n.Type),
			zap.String("kind", string(orders.KindOf(err))),
			zap.Error(err))
	case handled:
		h.invalidateStatus(ctx, res.OrderID)
		h.log().Info("payment notification reconciled",
			zap.String("payment_id", n.ID),
			zap.Int64("order_id", res.OrderID),
			zap.String("payment_status", string(res.PaymentStatus)),
			zap.Bool("already_approved", res.AlreadyApproved))
	default:
		h.log().Debug("notification ignored", zap.String("type", n.Type), zap.String("id", n.ID))
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

type sessionReq struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) confirmSession(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "invalid json")
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.URL.Query().Get("session_id")
	}

	ctx, cancel := requestContext(r, 10*time.Second)
	defer cancel()

	res, err := h.Orders.ConfirmSession(ctx, req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidateStatus(ctx, res.Order.ID)
	code := http.StatusCreated
	if res.Existing {
		code = http.StatusOK
	}
	w.Header().Set("X-Order-Existing", strconv.FormatBool(res.Existing))
	writeJSON(w, code, renderOrder(res.Order))
}

func firstHeader(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
