package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeLineItemLister func(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error)

type stripeClients struct {
	sessions  stripeSessionAPI
	intents   stripePaymentIntentAPI
	lineItems stripeLineItemLister
}

type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger
	clients  *stripeClients
}

// StripeProvider implements Provider on Stripe Checkout.
type StripeProvider struct {
	api    stripeClients
	logger *zap.Logger
}

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.clients != nil {
		clients = *cfg.clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			intents:  sc.PaymentIntents,
			lineItems: func(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error) {
				it := sc.CheckoutSessions.ListLineItems(params)
				var out []*stripe.LineItem
				for it.Next() {
					out = append(out, it.LineItem())
				}
				return out, it.Err()
			},
		}
	}
	if clients.sessions == nil || clients.intents == nil || clients.lineItems == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeProvider{api: clients, logger: logger}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.FailureURL),
		ClientReferenceID: stripe.String(req.ExternalReference),
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.ExternalReference)
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	meta := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta[MetaExternalReference] = req.ExternalReference
	params.Metadata = meta
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{MetaExternalReference: req.ExternalReference},
	}

	currency := strings.ToLower(req.Currency)
	for _, item := range req.Items {
		productMeta := map[string]string{MetaProductID: strconv.FormatInt(item.ProductID, 10)}
		if item.SizeID > 0 {
			productMeta[MetaSizeID] = strconv.FormatInt(item.SizeID, 10)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(defaultString(item.Title, "Producto")),
					Metadata: productMeta,
				},
			},
		})
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	p.logger.Info("stripe checkout session created",
		zap.String("session_id", session.ID),
		zap.String("external_reference", req.ExternalReference))
	return CheckoutSession{ID: session.ID, RedirectURL: session.URL}, nil
}

func (p *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	s, err := p.api.sessions.Get(sessionID, params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe: retrieve session %s: %w", sessionID, err)
	}
	return stripeSession(s), nil
}

func (p *StripeProvider) ListLineItems(ctx context.Context, sessionID string) ([]RawLineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(100)
	params.AddExpand("data.price.product")
	items, err := p.api.lineItems(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: list line items %s: %w", sessionID, err)
	}
	out := make([]RawLineItem, 0, len(items))
	for _, li := range items {
		out = append(out, stripeLineItem(li))
	}
	return out, nil
}

func (p *StripeProvider) GetPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.api.intents.Get(paymentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: get payment intent %s: %w", paymentID, err)
	}
	raw := string(intent.Status)
	return PaymentDetails{
		ID:                intent.ID,
		ExternalReference: intent.Metadata[MetaExternalReference],
		RawStatus:         raw,
		Status:            MapStatus(raw),
	}, nil
}

func stripeSession(s *stripe.CheckoutSession) Session {
	out := Session{
		ID:        s.ID,
		RawStatus: string(s.PaymentStatus),
		Currency:  strings.ToUpper(string(s.Currency)),
		Metadata:  s.Metadata,
	}
	out.Paid = s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	out.ExternalReference = firstNonEmpty(s.Metadata[MetaExternalReference], s.ClientReferenceID)
	if s.PaymentIntent != nil {
		out.PaymentID = s.PaymentIntent.ID
	}
	if cd := s.CustomerDetails; cd != nil {
		out.Customer = CustomerDetails{Name: cd.Name, Email: cd.Email, Phone: cd.Phone}
	}
	out.Status = stripeSessionStatus(s)
	return out
}

// stripeSessionStatus checks the session payment status first and only
// consults the payment intent when Stripe left it blank.
func stripeSessionStatus(s *stripe.CheckoutSession) Status {
	switch s.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return StatusApproved
	case stripe.CheckoutSessionPaymentStatusUnpaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return StatusPending
	}
	if s.PaymentIntent != nil {
		return MapStatus(string(s.PaymentIntent.Status))
	}
	return StatusPending
}

func stripeLineItem(li *stripe.LineItem) RawLineItem {
	out := RawLineItem{Name: li.Description, Quantity: li.Quantity}
	if li.Price != nil {
		out.UnitAmount = li.Price.UnitAmount
		if prod := li.Price.Product; prod != nil {
			out.Metadata = prod.Metadata
			if prod.Name != "" {
				out.Name = prod.Name
			}
		}
	}
	return out
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
