package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payments"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

var errBadPayload = errors.New("projection: bad payload")

// Topics the projector subscribes to.
var Topics = []string{
	orders.TopicOrderPlaced,
	orders.TopicPaymentReconciled,
	orders.TopicOrderStatusChanged,
}

type Projector struct {
	Redis       redis.Cmdable
	ServiceName string
	Logger      *zap.Logger
}

// Handle is installed as the kafka consumer handler. Envelopes are applied
// at most once per event id.
func (p *Projector) Handle(ctx context.Context, m kafkago.Message) error {
	log := p.logger()

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison message: skip it rather than block the partition
		log.Warn("undecodable envelope", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	apply, ok := p.applier(env.EventType)
	if !ok {
		return nil
	}

	dkey := redisx.DedupKey(p.ServiceName, env.EventID)
	first, err := redisx.MarkOnce(ctx, p.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		log.Debug("duplicate event skipped", zap.String("event_id", env.EventID))
		return nil
	}

	if err := apply(ctx, env); err != nil {
		if errors.Is(err, errBadPayload) {
			log.Warn("undecodable payload skipped",
				zap.String("event_type", env.EventType),
				zap.String("event_id", env.EventID),
				zap.Error(err))
			return nil
		}
		// the consumer retries the message; it must not look processed
		_ = p.Redis.Del(ctx, dkey).Err()
		return err
	}
	log.Debug("event projected",
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
		zap.String("order_id", env.CorrelationID),
		zap.String("trace_id", env.TraceID))
	return nil
}

func (p *Projector) applier(eventType string) (func(context.Context, orders.Envelope) error, bool) {
	switch eventType {
	case orders.EventOrderPlaced:
		return p.applyPlaced, true
	case orders.EventPaymentReconciled:
		return p.applyReconciled, true
	case orders.EventOrderStatusChanged:
		return p.applyStatus, true
	}
	return nil, false
}

// applyPlaced seeds the payment field only. The first timeline entry comes
// with its own OrderStatusChanged event.
func (p *Projector) applyPlaced(ctx context.Context, env orders.Envelope) error {
	pl, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return SetPaymentStatus(ctx, p.Redis, pl.OrderID, placedPaymentStatus(pl.Status), true)
}

func placedPaymentStatus(s orders.Status) string {
	if s == orders.StatusConfirmed {
		return string(payments.StatusApproved)
	}
	return string(payments.StatusPending)
}

func (p *Projector) applyReconciled(ctx context.Context, env orders.Envelope) error {
	pl, err := kafkax.UnwrapPayload[orders.PaymentReconciledPayload](env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return SetPaymentStatus(ctx, p.Redis, pl.OrderID, string(pl.PaymentStatus), false)
}

// applyStatus keeps the newest entry by (status date, seq), whatever order
// the events arrive in.
func (p *Projector) applyStatus(ctx context.Context, env orders.Envelope) error {
	pl, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	changed, err := ApplyStatus(ctx, p.Redis, pl.OrderID, string(pl.Status), pl.StatusDate, pl.Seq)
	if err != nil {
		return err
	}
	if !changed {
		p.logger().Debug("stale status ignored",
			zap.Int64("order_id", pl.OrderID),
			zap.String("status", string(pl.Status)),
			zap.Int64("seq", pl.Seq))
	}
	return nil
}

func (p *Projector) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
