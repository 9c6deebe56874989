package orderstest

import (
	"context"
	"encoding/json"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payments"
)

// Provider is a scripted payments.Provider.
type Provider struct {
	mu sync.Mutex

	Sessions  map[string]payments.Session
	LineItems map[string][]payments.RawLineItem
	Payments  map[string]payments.PaymentDetails
	Checkout  payments.CheckoutSession
	Err       error

	Requests []payments.CheckoutRequest
}

func NewProvider() *Provider {
	return &Provider{
		Sessions:  map[string]payments.Session{},
		LineItems: map[string][]payments.RawLineItem{},
		Payments:  map[string]payments.PaymentDetails{},
	}
}

func (p *Provider) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (payments.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return payments.CheckoutSession{}, p.Err
	}
	return p.Checkout, nil
}

func (p *Provider) RetrieveSession(_ context.Context, id string) (payments.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return payments.Session{}, p.Err
	}
	s, ok := p.Sessions[id]
	if !ok {
		return payments.Session{}, errNotFound(id)
	}
	return s, nil
}

func (p *Provider) ListLineItems(_ context.Context, id string) ([]payments.RawLineItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.LineItems[id], nil
}

func (p *Provider) GetPayment(_ context.Context, id string) (payments.PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return payments.PaymentDetails{}, p.Err
	}
	d, ok := p.Payments[id]
	if !ok {
		return payments.PaymentDetails{}, errNotFound(id)
	}
	return d, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "fake provider: no such object " + string(e) }

// Published is one message captured by Publisher.
type Published struct {
	Topic    string
	Key      string
	Envelope orders.Envelope
}

// Publisher records everything the service emits.
type Publisher struct {
	mu       sync.Mutex
	Messages []Published
}

func (p *Publisher) Publish(topic string, key, value []byte, _ ...kafkago.Header) {
	var env orders.Envelope
	_ = json.Unmarshal(value, &env)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, Published{Topic: topic, Key: string(key), Envelope: env})
}

// Topics lists the topics in publish order.
func (p *Publisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		out = append(out, m.Topic)
	}
	return out
}
