package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

type fakeSessions struct {
	created *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeIntents struct {
	intent *stripe.PaymentIntent
	err    error
}

func (f *fakeIntents) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

func newTestStripe(t *testing.T, sessions *fakeSessions, intents *fakeIntents, items []*stripe.LineItem) *StripeProvider {
	t.Helper()
	p, err := NewStripeProvider(StripeProviderConfig{clients: &stripeClients{
		sessions: sessions,
		intents:  intents,
		lineItems: func(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error) {
			return items, nil
		},
	}})
	require.NoError(t, err)
	return p
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	_, err := NewStripeProvider(StripeProviderConfig{})
	assert.Error(t, err)
}

func TestStripeCreateCheckoutSession(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}}
	p := newTestStripe(t, sessions, &fakeIntents{}, nil)

	out, err := p.CreateCheckoutSession(context.Background(), CheckoutRequest{
		ExternalReference: "ref-1",
		Currency:          "ARS",
		Items:             []CheckoutItem{{ProductID: 5, SizeID: 2, Title: "Short", Quantity: 3, UnitAmount: 1200}},
		SuccessURL:        "https://shop.test/ok",
		FailureURL:        "https://shop.test/fail",
		Metadata:          map[string]string{MetaUserID: "9"},
	})
	require.NoError(t, err)
	assert.Equal(t, CheckoutSession{ID: "cs_1", RedirectURL: "https://checkout.stripe.test/cs_1"}, out)

	params := sessions.created
	require.NotNil(t, params)
	assert.Equal(t, "ref-1", params.Metadata[MetaExternalReference])
	assert.Equal(t, "9", params.Metadata[MetaUserID])
	assert.Equal(t, "ref-1", params.PaymentIntentData.Metadata[MetaExternalReference])
	require.Len(t, params.LineItems, 1)
	li := params.LineItems[0]
	assert.Equal(t, int64(3), *li.Quantity)
	assert.Equal(t, "ars", *li.PriceData.Currency)
	assert.Equal(t, "5", li.PriceData.ProductData.Metadata[MetaProductID])
	assert.Equal(t, "2", li.PriceData.ProductData.Metadata[MetaSizeID])
}

func TestStripeCreateCheckoutSessionError(t *testing.T) {
	p := newTestStripe(t, &fakeSessions{err: errors.New("boom")}, &fakeIntents{}, nil)
	_, err := p.CreateCheckoutSession(context.Background(), CheckoutRequest{ExternalReference: "r"})
	assert.ErrorContains(t, err, "boom")
}

func TestStripeRetrieveSession(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{
		ID:                "cs_9",
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		Currency:          stripe.Currency("ars"),
		ClientReferenceID: "ref-client",
		Metadata:          map[string]string{MetaSport: "tenis"},
		PaymentIntent:     &stripe.PaymentIntent{ID: "pi_9", Status: stripe.PaymentIntentStatusSucceeded},
		CustomerDetails:   &stripe.CheckoutSessionCustomerDetails{Name: "Luz", Email: "luz@example.com"},
	}}
	p := newTestStripe(t, sessions, &fakeIntents{}, nil)

	s, err := p.RetrieveSession(context.Background(), "cs_9")
	require.NoError(t, err)
	assert.True(t, s.Paid)
	assert.Equal(t, StatusApproved, s.Status)
	assert.Equal(t, "ref-client", s.ExternalReference)
	assert.Equal(t, "pi_9", s.PaymentID)
	assert.Equal(t, "ARS", s.Currency)
	assert.Equal(t, "Luz", s.Customer.Name)
}

func TestStripeSessionStatusFallsBackToIntent(t *testing.T) {
	s := &stripe.CheckoutSession{PaymentIntent: &stripe.PaymentIntent{Status: stripe.PaymentIntentStatusProcessing}}
	assert.Equal(t, StatusInProcess, stripeSessionStatus(s))

	s = &stripe.CheckoutSession{PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid}
	assert.Equal(t, StatusPending, stripeSessionStatus(s))
}

func TestStripeListLineItems(t *testing.T) {
	items := []*stripe.LineItem{{
		Description: "fallback",
		Quantity:    2,
		Price: &stripe.Price{
			UnitAmount: 990,
			Product:    &stripe.Product{Name: "Medias", Metadata: map[string]string{MetaProductID: "4"}},
		},
	}}
	p := newTestStripe(t, &fakeSessions{}, &fakeIntents{}, items)

	raw, err := p.ListLineItems(context.Background(), "cs_1")
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, RawLineItem{Name: "Medias", Quantity: 2, UnitAmount: 990, Metadata: map[string]string{MetaProductID: "4"}}, raw[0])
}

func TestStripeGetPayment(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:       "pi_1",
		Status:   stripe.PaymentIntentStatusCanceled,
		Metadata: map[string]string{MetaExternalReference: "ref-7"},
	}}
	p := newTestStripe(t, &fakeSessions{}, intents, nil)

	d, err := p.GetPayment(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, PaymentDetails{ID: "pi_1", ExternalReference: "ref-7", RawStatus: "canceled", Status: StatusCancelled}, d)
}
