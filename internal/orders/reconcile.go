package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/payments"
)

type ReconcileInput struct {
	ExternalReference string
	Status            payments.Status
	PaymentID         string
}

type ReconcileResult struct {
	OrderID         int64           `json:"order_id"`
	PaymentStatus   payments.Status `json:"payment_status"`
	AlreadyApproved bool            `json:"already_approved"`
	// Confirmed is set when this call appended the confirmed entry.
	Confirmed bool `json:"confirmed"`
}

var knownPaymentStatuses = map[payments.Status]bool{
	payments.StatusApproved:  true,
	payments.StatusPending:   true,
	payments.StatusInProcess: true,
	payments.StatusCancelled: true,
}

// Reconcile applies a provider payment status to the order carrying the
// reference. Once an order is approved further calls are no-ops; the guard
// is evaluated under the order row lock. Stock is never touched here since
// it was reserved when the order was placed.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	const op = "orders.Reconcile"
	ref := strings.TrimSpace(in.ExternalReference)
	if ref == "" {
		return ReconcileResult{}, newError(op, ErrInvalidInput, "external reference is required")
	}
	if !knownPaymentStatuses[in.Status] {
		return ReconcileResult{}, newError(op, ErrInvalidInput, "unknown payment status %q", in.Status)
	}

	var (
		res   ReconcileResult
		entry StatusEntry
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		order, err := tx.OrderByReference(ctx, ref, true)
		if errors.Is(err, ErrOrderNotFound) {
			return newError(op, ErrOrderNotFound, "no order with external reference %s", ref)
		}
		if err != nil {
			return err
		}
		res = ReconcileResult{OrderID: order.ID, PaymentStatus: order.PaymentStatus}
		if order.PaymentStatus == payments.StatusApproved {
			res.AlreadyApproved = true
			return nil
		}

		if err := tx.UpdatePayment(ctx, order.ID, in.Status, in.PaymentID); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		res.PaymentStatus = in.Status
		if in.Status != payments.StatusApproved {
			return nil
		}

		latest, ok, err := tx.LatestStatus(ctx, order.ID)
		if err != nil {
			return err
		}
		if ok && latest.Description != StatusPendingPayment {
			if latest.Description == StatusCancelled {
				// stock was already given back; the payment needs a manual refund
				s.logger.Warn("payment approved for a cancelled order",
					zap.Int64("order_id", order.ID),
					zap.String("payment_id", in.PaymentID))
			}
			return nil
		}
		entry, err = tx.AppendStatus(ctx, order.ID, StatusConfirmed, s.now())
		if err != nil {
			return err
		}
		res.Confirmed = true
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if res.AlreadyApproved {
		s.logger.Info("payment already approved, ignoring notification",
			zap.Int64("order_id", res.OrderID),
			zap.String("incoming_status", string(in.Status)))
		return res, nil
	}

	s.logger.Info("payment reconciled",
		zap.Int64("order_id", res.OrderID),
		zap.String("payment_status", string(res.PaymentStatus)),
		zap.String("payment_id", in.PaymentID),
		zap.Bool("confirmed", res.Confirmed))
	payload := PaymentReconciledPayload{
		OrderID:           res.OrderID,
		ExternalReference: ref,
		PaymentID:         in.PaymentID,
		PaymentStatus:     res.PaymentStatus,
	}
	if res.Confirmed {
		payload.Status = StatusConfirmed
	}
	s.emit(ctx, TopicPaymentReconciled, EventPaymentReconciled, res.OrderID, payload)
	if res.Confirmed {
		s.emitStatus(ctx, entry)
	}
	return res, nil
}

// HandlePaymentNotification looks the payment up at the provider and
// reconciles it. Non actionable notifications are ignored.
func (s *Service) HandlePaymentNotification(ctx context.Context, n payments.Notification) (ReconcileResult, bool, error) {
	const op = "orders.HandlePaymentNotification"
	if !n.Actionable() {
		return ReconcileResult{}, false, nil
	}
	if s.provider == nil {
		return ReconcileResult{}, false, fmt.Errorf("%s: %w", op, ErrProvider)
	}
	p, err := s.provider.GetPayment(ctx, n.ID)
	if err != nil {
		return ReconcileResult{}, false, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrProvider, err), Message: "payment lookup failed"}
	}
	if strings.TrimSpace(p.ExternalReference) == "" {
		return ReconcileResult{}, false, newError(op, ErrMalformedPayload, "payment %s carries no external reference", p.ID)
	}
	res, err := s.Reconcile(ctx, ReconcileInput{
		ExternalReference: p.ExternalReference,
		Status:            p.Status,
		PaymentID:         firstNonBlank(p.ID, n.ID),
	})
	if err != nil {
		return ReconcileResult{}, false, err
	}
	return res, true, nil
}

type SessionResult struct {
	Order    OrderDetail `json:"order"`
	Existing bool        `json:"existing"`
}

// ConfirmSession materialises an order from a paid provider session. An
// order that already carries the session's reference is approved and
// returned as is; otherwise the order is created and its stock taken in one
// transaction. Either way a purchase is decremented exactly once.
func (s *Service) ConfirmSession(ctx context.Context, sessionID string) (SessionResult, error) {
	const op = "orders.ConfirmSession"
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionResult{}, newError(op, ErrInvalidInput, "session id is required")
	}
	if s.provider == nil {
		return SessionResult{}, fmt.Errorf("%s: %w", op, ErrProvider)
	}

	session, err := s.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		return SessionResult{}, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrProvider, err), Message: "could not retrieve checkout session"}
	}
	if !session.Paid {
		return SessionResult{}, newError(op, ErrSessionNotPaid, "session %s is not paid (status %s)", sessionID, session.RawStatus)
	}
	ref := firstNonBlank(session.ExternalReference, session.ID, sessionID)

	existing, err := s.orderIDByReference(ctx, ref)
	if err != nil {
		return SessionResult{}, err
	}
	if existing > 0 {
		if _, err := s.Reconcile(ctx, ReconcileInput{ExternalReference: ref, Status: payments.StatusApproved, PaymentID: session.PaymentID}); err != nil {
			return SessionResult{}, err
		}
		detail, err := s.GetOrder(ctx, existing)
		if err != nil {
			return SessionResult{}, err
		}
		return SessionResult{Order: detail, Existing: true}, nil
	}

	rawItems, err := s.provider.ListLineItems(ctx, session.ID)
	if err != nil {
		return SessionResult{}, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrProvider, err), Message: "could not list session line items"}
	}
	parsed, err := payments.ParseLineItems(rawItems)
	if err != nil {
		s.logger.Error("session line items rejected",
			zap.String("session_id", session.ID),
			zap.String("external_reference", ref),
			zap.Error(err))
		return SessionResult{}, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err), Message: err.Error()}
	}
	if len(parsed) == 0 {
		return SessionResult{}, newError(op, ErrMalformedPayload, "session %s has no line items", session.ID)
	}

	raw := make([]stockItem, 0, len(parsed))
	for _, li := range parsed {
		raw = append(raw, stockItem{
			ProductID:     li.ProductID,
			SizeID:        s.sizeOrDefault(li.SizeID),
			Quantity:      li.Quantity,
			SubtotalCents: li.SubtotalCents,
		})
	}
	items := mergeItems(raw)
	var total int64
	for _, it := range items {
		total += it.SubtotalCents
	}

	details := session.Details()
	order := Order{
		OrderDate:         s.now(),
		UserID:            session.UserID(),
		PaymentMethodID:   paymentMethodOnline,
		ExternalReference: ref,
		PaymentID:         session.PaymentID,
		TotalCents:        total,
		Customer: Customer{
			Name:  firstNonBlank(session.Customer.Name, details.CustomerName),
			Email: firstNonBlank(session.Customer.Email, details.CustomerEmail),
			Phone: firstNonBlank(session.Customer.Phone, details.Phone),
			Notes: strings.TrimSpace(details.Notes),
		},
		Sport:         firstNonBlank(session.Metadata[payments.MetaSport], details.Sport),
		PaymentStatus: payments.StatusApproved,
		Currency:      strings.ToUpper(firstNonBlank(session.Currency, s.currency)),
	}

	var entry StatusEntry
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		var err error
		entry, err = tx.AppendStatus(ctx, order.ID, StatusConfirmed, order.OrderDate)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := s.reserve(ctx, tx, it.ProductID, it.SizeID, it.Quantity); err != nil {
				return err
			}
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
		return nil
	})
	if errors.Is(err, ErrDuplicateReference) {
		// lost the race against a concurrent confirmation of the same session
		id, lerr := s.orderIDByReference(ctx, ref)
		if lerr != nil {
			return SessionResult{}, lerr
		}
		detail, lerr := s.GetOrder(ctx, id)
		if lerr != nil {
			return SessionResult{}, lerr
		}
		return SessionResult{Order: detail, Existing: true}, nil
	}
	if err != nil {
		return SessionResult{}, err
	}

	s.logger.Info("order created from session",
		zap.Int64("order_id", order.ID),
		zap.String("session_id", session.ID),
		zap.String("external_reference", ref),
		zap.Int64("total_cents", total))
	s.emit(ctx, TopicOrderPlaced, EventOrderPlaced, order.ID, OrderPlacedPayload{
		OrderID:           order.ID,
		ExternalReference: ref,
		UserID:            order.UserID,
		Items:             toItemQty(items),
		TotalCents:        total,
		Status:            StatusConfirmed,
		Source:            "session",
	})
	s.emitStatus(ctx, entry)

	detail, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return SessionResult{}, err
	}
	return SessionResult{Order: detail}, nil
}

func (s *Service) orderIDByReference(ctx context.Context, ref string) (int64, error) {
	var id int64
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.OrderByReference(ctx, ref, false)
		if errors.Is(err, ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id = o.ID
		return nil
	})
	return id, err
}
