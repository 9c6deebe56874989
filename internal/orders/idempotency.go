package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// CheckoutKey identifies a checkout attempt so a double submitted cart maps
// to one order. A client supplied key wins; otherwise the key is derived from
// the user and the normalised cart.
func (s *Service) CheckoutKey(userID int64, clientKey string, items []PlaceItem) string {
	if k := strings.TrimSpace(clientKey); k != "" {
		return fmt.Sprintf("%d:%s", userID, k)
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%d/%d/%d/%d", it.ProductID, s.sizeOrDefault(it.SizeID), it.Quantity, it.UnitPriceCents))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ";")))
	return fmt.Sprintf("%d:%s", userID, hex.EncodeToString(sum[:]))
}
