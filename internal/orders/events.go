package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/payments"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventPaymentReconciled  = "PaymentReconciled"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"

	eventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID int64 `json:"product_id"`
	SizeID    int64 `json:"size_id"`
	Qty       int   `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID           int64     `json:"order_id"`
	ExternalReference string    `json:"external_reference"`
	UserID            int64     `json:"user_id"`
	Items             []ItemQty `json:"items"`
	TotalCents        int64     `json:"total_cents"`
	Status            Status    `json:"status"`
	Source            string    `json:"source"` // checkout | session
}

type PaymentReconciledPayload struct {
	OrderID           int64           `json:"order_id"`
	ExternalReference string          `json:"external_reference"`
	PaymentID         string          `json:"payment_id,omitempty"`
	PaymentStatus     payments.Status `json:"payment_status"`
	Status            Status          `json:"status,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID  int64     `json:"order_id"`
	ActorID  int64     `json:"actor_id,omitempty"`
	Released []ItemQty `json:"released"`
}

// StatusChangedPayload is emitted for every timeline append, regardless of
// which workflow caused it. The projector only needs this one.
// Seq orders entries that share a status date.
type StatusChangedPayload struct {
	OrderID    int64     `json:"order_id"`
	Seq        int64     `json:"seq"`
	Status     Status    `json:"status"`
	StatusDate time.Time `json:"status_date"`
}

// Publisher is satisfied by the kafka producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

type traceKey struct{}

// WithTraceID attaches the request id that ends up in published envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// emit publishes after commit. Nothing is sent when no publisher is wired.
func (s *Service) emit(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	if s.events == nil {
		return
	}
	id := strconv.FormatInt(orderID, 10)
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    s.now().UTC(),
		Producer:      s.serviceName,
		TraceID:       traceID(ctx),
		CorrelationID: id,
		Payload:       kafkax.MustMarshal(payload),
	}
	s.events.Publish(topic, PartitionKey(id), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
	s.logger.Debug("event published",
		zap.String("topic", topic),
		zap.String("event_type", eventType),
		zap.String("event_id", ev.EventID),
		zap.Int64("order_id", orderID))
}

func (s *Service) emitStatus(ctx context.Context, e StatusEntry) {
	s.emit(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, e.OrderID, StatusChangedPayload{
		OrderID:    e.OrderID,
		Seq:        e.Seq,
		Status:     e.Description,
		StatusDate: e.StatusDate,
	})
}
