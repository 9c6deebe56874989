package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindConflict:
		return http.StatusConflict
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindForbidden:
		return http.StatusForbidden
	case orders.KindIntegration:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders the JSON error envelope. Infrastructure failures are
// logged and never leak their text to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := orders.KindOf(err)
	status := statusFor(kind)
	msg := orders.Message(err)
	if status == http.StatusInternalServerError {
		kind = orders.KindInternal
		msg = "internal error"
		h.log().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeProblem(w, r, status, string(kind), msg, nil)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	payload := map[string]any{
		"error":   code,
		"message": sanitize(message, 512),
		"status":  status,
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		payload["request_id"] = id
	}
	for k, v := range details {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeProblem(w, r, http.StatusBadRequest, string(orders.KindValidation), message, nil)
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
