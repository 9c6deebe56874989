package orders

import "strings"

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusReady          Status = "ready"
	StatusWithdrawn      Status = "withdrawn"
	StatusCancelled      Status = "cancelled"
)

var knownStatuses = map[Status]bool{
	StatusPendingPayment: true,
	StatusConfirmed:      true,
	StatusReady:          true,
	StatusWithdrawn:      true,
	StatusCancelled:      true,
}

// Staff may only toggle between confirmed and ready; the remaining edges are
// driven by reconciliation, cancellation and pickup. An unpaid order is
// cancelled by staff only, through CancelPending.
var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:      {StatusReady: true, StatusCancelled: true},
	StatusReady:          {StatusConfirmed: true, StatusWithdrawn: true, StatusCancelled: true},
	StatusWithdrawn:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ParseStatus normalises a client supplied description.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, knownStatuses[st]
}

func (s Status) Cancellable() bool {
	return s == StatusConfirmed || s == StatusReady
}

func (s Status) staffToggle() bool {
	return s == StatusConfirmed || s == StatusReady
}
