// Package domain defines the marketplace records (users and vendors), their
// validation rules and the seed catalog the server starts from.
package domain

import (
	"fmt"
	"strings"

	"github.com/nashiklocalkart/localkart/pkg/geo"
)

// UserType tags an account as a customer, a vendor or an admin.
type UserType string

const (
	UserCustomer UserType = "customer"
	UserVendor   UserType = "vendor"
	UserAdmin    UserType = "admin"
)

// ValidUserTypes is the set of recognised account types.
var ValidUserTypes = map[UserType]bool{
	UserCustomer: true, UserVendor: true, UserAdmin: true,
}

// ParseUserType parses a user type case-insensitively.
func ParseUserType(s string) (UserType, error) {
	t := UserType(strings.ToLower(strings.TrimSpace(s)))
	if !ValidUserTypes[t] {
		return "", NewValidationError("type", s, ErrInvalidUserType)
	}
	return t, nil
}

// VendorStatus is the approval state of a vendor listing.
type VendorStatus string

const (
	StatusPending  VendorStatus = "pending"
	StatusApproved VendorStatus = "approved"
	StatusRejected VendorStatus = "rejected"
)

// ValidVendorStatuses is the set of recognised approval states.
var ValidVendorStatuses = map[VendorStatus]bool{
	StatusPending: true, StatusApproved: true, StatusRejected: true,
}

// ParseVendorStatus parses a vendor status case-insensitively.
func ParseVendorStatus(s string) (VendorStatus, error) {
	st := VendorStatus(strings.ToLower(strings.TrimSpace(s)))
	if !ValidVendorStatuses[st] {
		return "", NewValidationError("status", s, ErrInvalidStatus)
	}
	return st, nil
}

// CanTransition reports whether an admin may move a vendor from one status
// to another. Only pending listings can be decided.
func CanTransition(from, to VendorStatus) bool {
	return from == StatusPending && (to == StatusApproved || to == StatusRejected)
}

// User is an account record.
type User struct {
	ID      int      `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Email   string   `json:"email" yaml:"email"`
	Phone   string   `json:"phone" yaml:"phone"`
	Address string   `json:"address" yaml:"address"`
	Type    UserType `json:"type" yaml:"type"`
}

// IsAdmin reports whether the user may decide vendor approvals.
func (u User) IsAdmin() bool { return u.Type == UserAdmin }

// NewUser is the signup payload for a user.
type NewUser struct {
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Phone   string   `json:"phone"`
	Address string   `json:"address"`
	Type    UserType `json:"type"`
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func (l Location) String() string {
	return fmt.Sprintf("%g,%g", l.Lat, l.Lng)
}

// Valid reports whether l is a real coordinate. NaN and infinities fail.
func (l Location) Valid() bool { return geo.Valid(geo.Point{Lat: l.Lat, Lng: l.Lng}) }

// Vendor is a shop or service listing.
type Vendor struct {
	ID             int          `json:"id" yaml:"id"`
	UserID         int          `json:"userId" yaml:"userId"`
	ShopName       string       `json:"shopName" yaml:"shopName"`
	OwnerName      string       `json:"ownerName" yaml:"ownerName"`
	Category       string       `json:"category" yaml:"category"`
	Address        string       `json:"address" yaml:"address"`
	Location       Location     `json:"location" yaml:"location"`
	WorkingHours   string       `json:"workingHours" yaml:"workingHours"`
	Description    string       `json:"description" yaml:"description"`
	PaymentMethods []string     `json:"paymentMethods" yaml:"paymentMethods"`
	Status         VendorStatus `json:"status" yaml:"status"`
}

// NewVendor is the signup payload for a vendor listing. Everything else on
// the listing is filled from the registration defaults.
type NewVendor struct {
	UserID    int    `json:"userId"`
	ShopName  string `json:"shopName"`
	OwnerName string `json:"ownerName"`
	Category  string `json:"category"`
	Address   string `json:"address"`
}

// Registration defaults applied to every new vendor listing.
var (
	DefaultVendorLocation       = Location{Lat: 20.03, Lng: 73.81} // Mhasrul
	DefaultWorkingHours         = "10:00 AM - 9:00 PM"
	DefaultVendorDescription    = "Newly registered vendor."
	DefaultVendorPaymentMethods = []string{"Cash", "UPI"}
)

// ApplyDefaults builds a pending vendor from a signup payload.
func (nv NewVendor) ApplyDefaults(id int) Vendor {
	return Vendor{
		ID:             id,
		UserID:         nv.UserID,
		ShopName:       strings.TrimSpace(nv.ShopName),
		OwnerName:      strings.TrimSpace(nv.OwnerName),
		Category:       strings.TrimSpace(nv.Category),
		Address:        strings.TrimSpace(nv.Address),
		Location:       DefaultVendorLocation,
		WorkingHours:   DefaultWorkingHours,
		Description:    DefaultVendorDescription,
		PaymentMethods: append([]string(nil), DefaultVendorPaymentMethods...),
		Status:         StatusPending,
	}
}
