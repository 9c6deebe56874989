package payments

import (
	"context"
	"errors"
	"strings"
)

// Status is the internal payment vocabulary. Raw provider strings are mapped
// into it before any decision is taken on them.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusInProcess Status = "in_process"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrMissingProductMetadata signals a line item without the product identifier.
	ErrMissingProductMetadata = errors.New("payments: line item missing product metadata")
	// ErrInvalidQuantity signals a line item whose quantity is not positive.
	ErrInvalidQuantity = errors.New("payments: line item quantity must be positive")
	// ErrInvalidNotification signals a webhook body that cannot be parsed at all.
	ErrInvalidNotification = errors.New("payments: invalid notification payload")
)

// CheckoutItem is one cart line sent to the provider.
type CheckoutItem struct {
	ProductID  int64
	SizeID     int64
	Title      string
	Quantity   int
	UnitAmount int64
}

// CheckoutRequest carries what the provider needs to build a hosted checkout.
type CheckoutRequest struct {
	ExternalReference string
	Currency          string
	CustomerEmail     string
	Items             []CheckoutItem
	SuccessURL        string
	FailureURL        string
	PendingURL        string
	NotificationURL   string
	Metadata          map[string]string
}

// CheckoutSession is the provider response handed back to the client.
type CheckoutSession struct {
	ID          string `json:"id"`
	RedirectURL string `json:"init_point"`
}

type CustomerDetails struct {
	Name  string
	Email string
	Phone string
}

// Session is a provider checkout session already normalised.
type Session struct {
	ID                string
	Paid              bool
	RawStatus         string
	Status            Status
	ExternalReference string
	PaymentID         string
	Currency          string
	Customer          CustomerDetails
	Metadata          map[string]string
}

// RawLineItem is a session line item as the provider reports it.
type RawLineItem struct {
	Name       string
	Quantity   int64
	UnitAmount int64
	Metadata   map[string]string
}

// PaymentDetails is a provider payment looked up from a notification.
type PaymentDetails struct {
	ID                string
	ExternalReference string
	RawStatus         string
	Status            Status
}

// Provider is the payment service the order workflows reconcile against.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (Session, error)
	ListLineItems(ctx context.Context, sessionID string) ([]RawLineItem, error)
	GetPayment(ctx context.Context, paymentID string) (PaymentDetails, error)
}

// MapStatus folds a raw provider status into the internal vocabulary. Unknown
// values are treated as pending so they never unlock the approved path.
func MapStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "succeeded", "paid":
		return StatusApproved
	case "in_process", "in_mediation", "processing", "authorized", "requires_capture":
		return StatusInProcess
	case "rejected", "cancelled", "canceled", "failed", "refunded", "charged_back", "expired":
		return StatusCancelled
	default:
		return StatusPending
	}
}
