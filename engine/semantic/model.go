// Package semantic indexes approved vendors in Qdrant so shoppers and the
// chat assistant can find them by meaning rather than exact words.
package semantic

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nashiklocalkart/localkart/engine/domain"
)

// Hit is a single vector search match.
type Hit struct {
	VendorID int     `json:"vendorId"`
	Score    float32 `json:"score"`
	ShopName string  `json:"shopName"`
	Category string  `json:"category"`
}

// VendorVector is a vendor embedding ready to be stored.
type VendorVector struct {
	Vendor    domain.Vendor
	Embedding []float32
}

// PointID returns the stable Qdrant point id of a vendor, so re-indexing
// overwrites the previous point.
func PointID(vendorID int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("localkart:vendor:%d", vendorID))).String()
}

// VendorDocument is the text embedded for a vendor.
func VendorDocument(v domain.Vendor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", v.ShopName, v.Category)
	if v.Address != "" {
		fmt.Fprintf(&b, "Address: %s, Nashik\n", v.Address)
	}
	if v.Description != "" {
		fmt.Fprintf(&b, "%s\n", v.Description)
	}
	if v.WorkingHours != "" {
		fmt.Fprintf(&b, "Hours: %s\n", v.WorkingHours)
	}
	if len(v.PaymentMethods) > 0 {
		fmt.Fprintf(&b, "Payment: %s\n", strings.Join(v.PaymentMethods, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
