package market

import (
	"cmp"
	"slices"
	"strings"

	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/pkg/fn"
	"github.com/nashiklocalkart/localkart/pkg/geo"
)

// Filter narrows a vendor listing. Zero fields match everything.
type Filter struct {
	Status   domain.VendorStatus
	Category string // case-insensitive equality
	Area     string // case-insensitive substring of the address
	Query    string // case-insensitive substring of shop name, category or description
	Near     *domain.Location
	RadiusKm float64 // only with Near; 0 means unbounded
}

// IsZero reports whether f matches every vendor in id order.
func (f Filter) IsZero() bool {
	return f.Status == "" && strings.TrimSpace(f.Category) == "" && strings.TrimSpace(f.Area) == "" &&
		strings.TrimSpace(f.Query) == "" && f.Near == nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// Match reports whether v passes every predicate except the radius.
func (f Filter) Match(v domain.Vendor) bool {
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	if c := strings.TrimSpace(f.Category); c != "" && !strings.EqualFold(v.Category, c) {
		return false
	}
	if a := strings.TrimSpace(f.Area); a != "" && !containsFold(v.Address, a) {
		return false
	}
	if q := strings.TrimSpace(f.Query); q != "" &&
		!containsFold(v.ShopName, q) && !containsFold(v.Category, q) && !containsFold(v.Description, q) {
		return false
	}
	return true
}

// DistanceKm returns the distance between two vendor locations.
func DistanceKm(a, b domain.Location) float64 {
	return geo.DistanceKm(geo.Point{Lat: a.Lat, Lng: a.Lng}, geo.Point{Lat: b.Lat, Lng: b.Lng})
}

// Apply filters vendors. With Near set, results are ordered nearest first
// and vendors beyond RadiusKm are dropped; otherwise input order is kept.
func (f Filter) Apply(vendors []domain.Vendor) []domain.Vendor {
	out := fn.Filter(vendors, f.Match)
	if f.Near == nil {
		return out
	}
	origin := *f.Near
	if f.RadiusKm > 0 {
		out = fn.Filter(out, func(v domain.Vendor) bool {
			return DistanceKm(origin, v.Location) <= f.RadiusKm
		})
	}
	slices.SortStableFunc(out, func(a, b domain.Vendor) int {
		return cmp.Compare(DistanceKm(origin, a.Location), DistanceKm(origin, b.Location))
	})
	return out
}
