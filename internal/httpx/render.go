package httpx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// money renders minor units as a fixed two decimal amount.
func money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

type lineJSON struct {
	ID            int64  `json:"id"`
	ProductID     int64  `json:"product_id"`
	SizeID        int64  `json:"size_id"`
	Quantity      int    `json:"quantity"`
	Subtotal      string `json:"subtotal"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

type statusJSON struct {
	Seq         int64     `json:"seq"`
	Status      string    `json:"status"`
	StatusDate  time.Time `json:"status_date"`
	Description string    `json:"description"`
}

type orderJSON struct {
	ID                int64           `json:"id"`
	OrderDate         time.Time       `json:"order_date"`
	PickupDate        *time.Time      `json:"pickup_date"`
	UserID            int64           `json:"user_id"`
	PaymentMethodID   int64           `json:"payment_method_id"`
	ExternalReference string          `json:"external_reference"`
	PaymentID         string          `json:"payment_id,omitempty"`
	Total             string          `json:"total"`
	TotalCents        int64           `json:"total_cents"`
	Currency          string          `json:"currency"`
	Customer          orders.Customer `json:"customer"`
	Sport             string          `json:"sport,omitempty"`
	PaymentStatus     string          `json:"payment_status"`
	Status            string          `json:"status,omitempty"`
	Lines             []lineJSON      `json:"lines"`
	History           []statusJSON    `json:"history"`
}

func renderStatus(e orders.StatusEntry) statusJSON {
	return statusJSON{
		Seq:         e.Seq,
		Status:      string(e.Description),
		StatusDate:  e.StatusDate,
		Description: string(e.Description),
	}
}

func renderStatuses(list []orders.StatusEntry) []statusJSON {
	out := make([]statusJSON, 0, len(list))
	for _, e := range list {
		out = append(out, renderStatus(e))
	}
	return out
}

func renderOrder(d orders.OrderDetail) orderJSON {
	o := orderJSON{
		ID:                d.ID,
		OrderDate:         d.OrderDate,
		PickupDate:        d.PickupDate,
		UserID:            d.UserID,
		PaymentMethodID:   d.PaymentMethodID,
		ExternalReference: d.ExternalReference,
		PaymentID:         d.PaymentID,
		Total:             money(d.TotalCents),
		TotalCents:        d.TotalCents,
		Currency:          d.Currency,
		Customer:          d.Customer,
		Sport:             d.Sport,
		PaymentStatus:     string(d.PaymentStatus),
		Lines:             make([]lineJSON, 0, len(d.Lines)),
		History:           renderStatuses(d.History),
	}
	if d.Latest != nil {
		o.Status = string(d.Latest.Description)
	}
	for _, l := range d.Lines {
		o.Lines = append(o.Lines, lineJSON{
			ID:            l.ID,
			ProductID:     l.ProductID,
			SizeID:        l.SizeID,
			Quantity:      l.Quantity,
			Subtotal:      money(l.SubtotalCents),
			SubtotalCents: l.SubtotalCents,
		})
	}
	return o
}

func renderOrders(list []orders.OrderDetail) []orderJSON {
	out := make([]orderJSON, 0, len(list))
	for _, d := range list {
		out = append(out, renderOrder(d))
	}
	return out
}
