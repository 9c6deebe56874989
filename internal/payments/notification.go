package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	TypePayment = "payment"

	stripeIntentEventPrefix = "payment_intent."
)

// Notification is the normalised shape of an inbound webhook.
type Notification struct {
	ID   string
	Type string
}

// Actionable reports whether the notification should trigger reconciliation.
func (n Notification) Actionable() bool {
	return n.Type == TypePayment && n.ID != ""
}

type notificationBody struct {
	ID    json.RawMessage `json:"id"`
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  struct {
		ID     json.RawMessage `json:"id"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// ParseNotification accepts both query-string and JSON body webhooks:
// `?id=&type=`, `?data.id=&topic=`, `{"type":"payment","data":{"id":..}}` and
// Stripe `payment_intent.*` events. Only a non-empty body that is not JSON is
// rejected.
func ParseNotification(query url.Values, body []byte) (Notification, error) {
	var b notificationBody
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &b); err != nil {
			return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
		}
	}

	typ := firstNonEmpty(query.Get("type"), query.Get("topic"), b.Type, b.Topic)
	if strings.HasPrefix(typ, stripeIntentEventPrefix) {
		return Notification{ID: strings.TrimSpace(b.Data.Object.ID), Type: TypePayment}, nil
	}

	id := firstNonEmpty(
		query.Get("id"),
		query.Get("data.id"),
		rawID(b.Data.ID),
		rawID(b.ID),
	)
	return Notification{ID: id, Type: strings.ToLower(strings.TrimSpace(typ))}, nil
}

// rawID reads ids that may arrive as JSON strings or numbers.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
