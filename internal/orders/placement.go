package orders

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/payments"
)

type PlaceItem struct {
	ProductID      int64  `json:"product_id"`
	SizeID         int64  `json:"size_id,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Title          string `json:"title,omitempty"`
}

type PlaceOrderInput struct {
	UserID      int64
	Items       []PlaceItem
	Customer    Customer
	Sport       string
	AlreadyPaid bool
	Currency    string
}

type PlaceOrderResult struct {
	OrderID           int64  `json:"order_id"`
	ExternalReference string `json:"external_reference"`
	TotalCents        int64  `json:"total_cents"`
	Status            Status `json:"status"`
}

// Upper bounds keep line subtotals and the order total far from int64 overflow.
const (
	MaxItemQuantity          = 1000
	MaxUnitPriceCents  int64 = 100_000_000_000
	MaxOrderTotalCents int64 = 1_000_000_000_000_000
)

func validatePlacement(in PlaceOrderInput) error {
	const op = "orders.PlaceOrder"
	if len(in.Items) == 0 {
		return newError(op, ErrInvalidInput, "at least one item is required")
	}
	var total int64
	for i, it := range in.Items {
		if it.ProductID <= 0 {
			return newError(op, ErrInvalidInput, "item %d: product id is required", i)
		}
		if it.Quantity <= 0 {
			return newError(op, ErrInvalidInput, "item %d: quantity must be positive", i)
		}
		if it.Quantity > MaxItemQuantity {
			return newError(op, ErrInvalidInput, "item %d: quantity exceeds %d", i, MaxItemQuantity)
		}
		if it.UnitPriceCents < 0 {
			return newError(op, ErrInvalidInput, "item %d: unit price must not be negative", i)
		}
		if it.UnitPriceCents > MaxUnitPriceCents {
			return newError(op, ErrInvalidInput, "item %d: unit price exceeds %d cents", i, MaxUnitPriceCents)
		}
		total += it.UnitPriceCents * int64(it.Quantity)
		if total > MaxOrderTotalCents {
			return newError(op, ErrInvalidInput, "order total exceeds %d cents", MaxOrderTotalCents)
		}
	}
	if strings.TrimSpace(in.Customer.Name) == "" {
		return newError(op, ErrInvalidInput, "customer name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Customer.Email)); err != nil {
		return newError(op, ErrInvalidInput, "customer email is invalid")
	}
	return nil
}

// PlaceOrder creates the order, its lines and its first status entry, and
// reserves stock for every line, all in one transaction. Stock is taken here
// and never again when the payment is later approved.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (PlaceOrderResult, error) {
	if err := validatePlacement(in); err != nil {
		return PlaceOrderResult{}, err
	}

	raw := make([]stockItem, 0, len(in.Items))
	for _, it := range in.Items {
		raw = append(raw, stockItem{
			ProductID:     it.ProductID,
			SizeID:        s.sizeOrDefault(it.SizeID),
			Quantity:      it.Quantity,
			SubtotalCents: it.UnitPriceCents * int64(it.Quantity),
		})
	}
	items := mergeItems(raw)

	var total int64
	for _, it := range items {
		total += it.SubtotalCents
	}

	status, payStatus := StatusPendingPayment, payments.StatusPending
	if in.AlreadyPaid {
		status, payStatus = StatusConfirmed, payments.StatusApproved
	}
	currency := in.Currency
	if currency == "" {
		currency = s.currency
	}

	order := Order{
		OrderDate:         s.now(),
		UserID:            in.UserID,
		PaymentMethodID:   paymentMethodOnline,
		ExternalReference: uuid.NewString(),
		TotalCents:        total,
		Customer:          trimCustomer(in.Customer),
		Sport:             strings.TrimSpace(in.Sport),
		PaymentStatus:     payStatus,
		Currency:          strings.ToUpper(currency),
	}

	var entry StatusEntry
	err := s.store.InTx(ctx, func(tx Tx) error {
		for _, it := range items {
			if err := s.reserve(ctx, tx, it.ProductID, it.SizeID, it.Quantity); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, it := range items {
			line := OrderLine{
				OrderID:       order.ID,
				ProductID:     it.ProductID,
				SizeID:        it.SizeID,
				Quantity:      it.Quantity,
				SubtotalCents: it.SubtotalCents,
			}
			if err := tx.InsertLine(ctx, &line); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		var err error
		entry, err = tx.AppendStatus(ctx, order.ID, status, order.OrderDate)
		return err
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	s.logger.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.String("external_reference", order.ExternalReference),
		zap.Int64("total_cents", total),
		zap.String("status", string(status)))
	s.emit(ctx, TopicOrderPlaced, EventOrderPlaced, order.ID, OrderPlacedPayload{
		OrderID:           order.ID,
		ExternalReference: order.ExternalReference,
		UserID:            order.UserID,
		Items:             toItemQty(items),
		TotalCents:        total,
		Status:            status,
		Source:            "checkout",
	})
	s.emitStatus(ctx, entry)

	return PlaceOrderResult{
		OrderID:           order.ID,
		ExternalReference: order.ExternalReference,
		TotalCents:        total,
		Status:            status,
	}, nil
}

type CheckoutInput struct {
	PlaceOrderInput
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	NotificationURL string
}

type CheckoutResult struct {
	PlaceOrderResult
	Session payments.CheckoutSession `json:"session"`
}

// Checkout places the order and opens a hosted payment session for it. When
// the provider call fails the order stays pending_payment with its stock
// reserved; a later cancellation or staff action is needed to release it.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if s.provider == nil {
		return CheckoutResult{}, fmt.Errorf("orders.Checkout: %w", ErrProvider)
	}
	placed, err := s.PlaceOrder(ctx, in.PlaceOrderInput)
	if err != nil {
		return CheckoutResult{}, err
	}

	req := payments.CheckoutRequest{
		ExternalReference: placed.ExternalReference,
		Currency:          strings.ToUpper(firstNonBlank(in.Currency, s.currency)),
		CustomerEmail:     strings.TrimSpace(in.Customer.Email),
		SuccessURL:        in.SuccessURL,
		FailureURL:        in.FailureURL,
		PendingURL:        in.PendingURL,
		NotificationURL:   in.NotificationURL,
		Metadata: map[string]string{
			payments.MetaUserID: strconv.FormatInt(in.UserID, 10),
		},
	}
	if sport := strings.TrimSpace(in.Sport); sport != "" {
		req.Metadata[payments.MetaSport] = sport
	}
	for _, it := range in.Items {
		req.Items = append(req.Items, payments.CheckoutItem{
			ProductID:  it.ProductID,
			SizeID:     s.sizeOrDefault(it.SizeID),
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitAmount: it.UnitPriceCents,
		})
	}

	session, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.logger.Error("checkout session failed, order left pending",
			zap.Int64("order_id", placed.OrderID),
			zap.String("external_reference", placed.ExternalReference),
			zap.Error(err))
		return CheckoutResult{PlaceOrderResult: placed}, &Error{
			Op:      "orders.Checkout",
			Err:     fmt.Errorf("%w: %v", ErrProvider, err),
			Message: "payment provider unavailable",
		}
	}
	return CheckoutResult{PlaceOrderResult: placed, Session: session}, nil
}

func trimCustomer(c Customer) Customer {
	return Customer{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.TrimSpace(c.Email),
		Phone: strings.TrimSpace(c.Phone),
		Notes: strings.TrimSpace(c.Notes),
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
