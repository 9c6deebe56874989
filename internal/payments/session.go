package payments

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	MetaProductID         = "idProduct"
	MetaSizeID            = "idSize"
	MetaExternalReference = "external_reference"
	MetaOrderDetails      = "orderDetails"
	MetaSport             = "sport"
	MetaUserID            = "userId"
)

// LineItem is a purchased line parsed out of a session. SizeID is zero when the
// provider did not carry one.
type LineItem struct {
	ProductID     int64
	SizeID        int64
	Quantity      int
	UnitAmount    int64
	SubtotalCents int64
	Name          string
}

// ParseLineItems turns provider line items into strict records. A missing or
// non-numeric product id, or a quantity below one, fails the whole parse.
func ParseLineItems(raw []RawLineItem) ([]LineItem, error) {
	out := make([]LineItem, 0, len(raw))
	for i, li := range raw {
		pid, err := metaInt(li.Metadata, MetaProductID)
		if err != nil || pid <= 0 {
			return nil, fmt.Errorf("%w: item %d (%q)", ErrMissingProductMetadata, i, li.Name)
		}
		sid, err := metaInt(li.Metadata, MetaSizeID)
		if err != nil {
			return nil, fmt.Errorf("payments: item %d (%q) has invalid %s: %v", i, li.Name, MetaSizeID, err)
		}
		qty := li.Quantity
		if qty <= 0 {
			return nil, fmt.Errorf("%w: item %d (%q) has quantity %d", ErrInvalidQuantity, i, li.Name, qty)
		}
		out = append(out, LineItem{
			ProductID:     pid,
			SizeID:        sid,
			Quantity:      int(qty),
			UnitAmount:    li.UnitAmount,
			SubtotalCents: li.UnitAmount * qty,
			Name:          li.Name,
		})
	}
	return out, nil
}

func metaInt(meta map[string]string, key string) (int64, error) {
	v := strings.TrimSpace(meta[key])
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// OrderDetails is the optional JSON blob the storefront attaches to a session.
type OrderDetails struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	Phone         string `json:"phone"`
	Notes         string `json:"notes"`
	Sport         string `json:"sport"`
}

// Details decodes the orderDetails metadata. Invalid JSON yields an empty value.
func (s Session) Details() OrderDetails {
	var d OrderDetails
	if raw := s.Metadata[MetaOrderDetails]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &d)
	}
	return d
}

// UserID returns the buyer id attached as metadata, or zero.
func (s Session) UserID() int64 {
	id, err := metaInt(s.Metadata, MetaUserID)
	if err != nil {
		return 0
	}
	return id
}
