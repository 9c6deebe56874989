package orders

import (
	"errors"
	"fmt"
)

// Kind groups failures so the boundary can pick a response code.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindIntegration Kind = "integration"
	KindInternal    Kind = "internal"
)

var (
	ErrInvalidInput     = errors.New("orders: invalid input")
	ErrInvalidOrderDate = errors.New("orders: invalid order date")

	ErrInsufficientStock           = errors.New("orders: insufficient stock")
	ErrProductHasNoSize            = errors.New("orders: product has no such size")
	ErrCancellationWindowExpired   = errors.New("orders: cancellation window expired")
	ErrInvalidStateForCancellation = errors.New("orders: invalid state for cancellation")
	ErrEmptyOrder                  = errors.New("orders: order has no lines")
	ErrAlreadyInTargetStatus       = errors.New("orders: already in target status")
	ErrIllegalStatusTransition     = errors.New("orders: illegal status transition")
	ErrStatusHistoryExists         = errors.New("orders: status history already exists")
	ErrSessionNotPaid              = errors.New("orders: checkout session not paid")
	ErrStaffOnly                   = errors.New("orders: staff only")

	ErrOrderNotFound   = errors.New("orders: order not found")
	ErrProductNotFound = errors.New("orders: product not found")
	ErrNoStatusHistory = errors.New("orders: no status history")

	ErrMalformedPayload = errors.New("orders: malformed provider payload")
	ErrProvider         = errors.New("orders: payment provider failure")

	// ErrDuplicateReference is returned by a Store when an order with the same
	// external reference already exists.
	ErrDuplicateReference = errors.New("orders: duplicate external reference")
	// ErrNoInventoryLine is returned by a Store when no stock row exists for the pair.
	ErrNoInventoryLine = errors.New("orders: inventory line not found")
)

var kinds = map[error]Kind{
	ErrInvalidInput:                KindValidation,
	ErrInvalidOrderDate:            KindValidation,
	ErrInsufficientStock:           KindConflict,
	ErrProductHasNoSize:            KindConflict,
	ErrCancellationWindowExpired:   KindConflict,
	ErrInvalidStateForCancellation: KindConflict,
	ErrEmptyOrder:                  KindConflict,
	ErrAlreadyInTargetStatus:       KindConflict,
	ErrIllegalStatusTransition:     KindConflict,
	ErrStatusHistoryExists:         KindConflict,
	ErrSessionNotPaid:              KindConflict,
	ErrOrderNotFound:               KindNotFound,
	ErrProductNotFound:             KindNotFound,
	ErrNoStatusHistory:             KindNotFound,
	ErrStaffOnly:                   KindForbidden,
	ErrMalformedPayload:            KindIntegration,
	ErrProvider:                    KindIntegration,
}

// Error carries a sentinel cause plus a description naming the offending
// order, product or size.
type Error struct {
	Op      string
	Err     error
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(op string, sentinel error, format string, args ...any) *Error {
	return &Error{Op: op, Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Errors outside the taxonomy are infrastructure
// failures and report KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, k := range kinds {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindInternal
}

// Message returns the user facing description of err.
func Message(err error) string {
	var oe *Error
	if errors.As(err, &oe) && oe.Message != "" {
		return oe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
