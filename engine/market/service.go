// Package market implements the marketplace operations: user signup and
// login, vendor registration and lookup, filtering, and the admin approval
// workflow.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/pkg/events"
	"github.com/nashiklocalkart/localkart/pkg/repo"
)

// UserRepo stores users keyed by id.
type UserRepo = repo.Repository[domain.User, int]

// VendorRepo stores vendors keyed by id.
type VendorRepo = repo.Repository[domain.Vendor, int]

// pageSize bounds each List call when scanning a whole repository.
const pageSize = 100

// Service is safe for concurrent use. Writes are serialized so id
// allocation cannot race.
type Service struct {
	users   UserRepo
	vendors VendorRepo
	pub     events.Publisher
	log     *slog.Logger

	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the event publisher (default events.Nop).
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service over the given repositories.
func New(users UserRepo, vendors VendorRepo, opts ...Option) *Service {
	s := &Service{users: users, vendors: vendors, pub: events.Nop{}, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func listAll[T any](ctx context.Context, r repo.Repository[T, int]) ([]T, error) {
	out := []T{}
	for offset := 0; ; offset += pageSize {
		page, err := r.List(ctx, repo.ListOpts{Offset: offset, Limit: pageSize})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func nextID[T any](items []T, idOf func(T) int) int {
	maxID := 0
	for _, it := range items {
		maxID = max(maxID, idOf(it))
	}
	return maxID + 1
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.pub.Publish(ctx, e); err != nil {
		s.log.Warn("publish event", "type", e.Type, "error", err)
	}
}

// mapNotFound converts a repository miss into domain.ErrNotFound.
func mapNotFound(err error, what string, id int) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("market: %s %d: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("market: get %s %d: %w", what, id, err)
}

// ListUsers returns every user in id order.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := listAll(ctx, s.users)
	if err != nil {
		return nil, fmt.Errorf("market: list users: %w", err)
	}
	return users, nil
}

// GetUser returns the user with id or domain.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id int) (domain.User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return domain.User{}, mapNotFound(err, "user", id)
	}
	return u, nil
}

// RegisterUser validates and stores a new customer or vendor account.
func (s *Service) RegisterUser(ctx context.Context, nu domain.NewUser) (domain.User, error) {
	if err := domain.ValidateNewUser(nu); err != nil {
		return domain.User{}, err
	}
	typ, _ := domain.ParseUserType(string(nu.Type))

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := listAll(ctx, s.users)
	if err != nil {
		return domain.User{}, fmt.Errorf("market: list users: %w", err)
	}
	email := domain.NormalizeEmail(nu.Email)
	for _, u := range users {
		if domain.NormalizeEmail(u.Email) == email && u.Type == typ {
			return domain.User{}, fmt.Errorf("market: %s as %s: %w", email, typ, domain.ErrDuplicateUser)
		}
	}

	u := domain.User{
		ID:      nextID(users, func(u domain.User) int { return u.ID }),
		Name:    strings.TrimSpace(nu.Name),
		Email:   strings.TrimSpace(nu.Email),
		Phone:   strings.TrimSpace(nu.Phone),
		Address: strings.TrimSpace(nu.Address),
		Type:    typ,
	}
	created, err := s.users.Create(ctx, u)
	if err != nil {
		return domain.User{}, fmt.Errorf("market: create user: %w", err)
	}
	s.log.Info("user registered", "id", created.ID, "type", created.Type)

	e := events.New(events.UserRegistered)
	e.User = &created
	s.publish(ctx, e)
	return created, nil
}

// Login finds the account whose email (case-insensitive) and type match.
func (s *Service) Login(ctx context.Context, email string, userType string) (domain.User, error) {
	typ, err := domain.ParseUserType(userType)
	if err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	want := domain.NormalizeEmail(email)
	if want == "" {
		return domain.User{}, domain.ErrInvalidCredentials
	}

	users, err := listAll(ctx, s.users)
	if err != nil {
		return domain.User{}, fmt.Errorf("market: list users: %w", err)
	}
	for _, u := range users {
		if domain.NormalizeEmail(u.Email) == want && u.Type == typ {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrInvalidCredentials
}

// ListVendors returns vendors matching f, in id order unless f.Near is set.
func (s *Service) ListVendors(ctx context.Context, f Filter) ([]domain.Vendor, error) {
	vendors, err := listAll(ctx, s.vendors)
	if err != nil {
		return nil, fmt.Errorf("market: list vendors: %w", err)
	}
	if f.IsZero() {
		return vendors, nil
	}
	return f.Apply(vendors), nil
}

// Marketplace returns approved vendors filtered by category and area.
func (s *Service) Marketplace(ctx context.Context, category, area string) ([]domain.Vendor, error) {
	return s.ListVendors(ctx, Filter{Status: domain.StatusApproved, Category: category, Area: area})
}

// PendingVendors returns the admin review queue.
func (s *Service) PendingVendors(ctx context.Context) ([]domain.Vendor, error) {
	return s.ListVendors(ctx, Filter{Status: domain.StatusPending})
}

// GetVendor returns the vendor with id or domain.ErrNotFound.
func (s *Service) GetVendor(ctx context.Context, id int) (domain.Vendor, error) {
	v, err := s.vendors.Get(ctx, id)
	if err != nil {
		return domain.Vendor{}, mapNotFound(err, "vendor", id)
	}
	return v, nil
}

// RegisterVendor creates a pending vendor with the default location, hours,
// description and payment methods.
func (s *Service) RegisterVendor(ctx context.Context, nv domain.NewVendor) (domain.Vendor, error) {
	if err := domain.ValidateNewVendor(nv); err != nil {
		return domain.Vendor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.users.Get(ctx, nv.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Vendor{}, fmt.Errorf("market: vendor owner %d: %w", nv.UserID, domain.ErrUnknownUser)
		}
		return domain.Vendor{}, fmt.Errorf("market: get user %d: %w", nv.UserID, err)
	}

	vendors, err := listAll(ctx, s.vendors)
	if err != nil {
		return domain.Vendor{}, fmt.Errorf("market: list vendors: %w", err)
	}
	v := nv.ApplyDefaults(nextID(vendors, func(v domain.Vendor) int { return v.ID }))
	created, err := s.vendors.Create(ctx, v)
	if err != nil {
		return domain.Vendor{}, fmt.Errorf("market: create vendor: %w", err)
	}
	s.log.Info("vendor registered", "id", created.ID, "shop", created.ShopName, "user_id", created.UserID)

	e := events.New(events.VendorRegistered)
	e.Vendor = &created
	s.publish(ctx, e)
	return created, nil
}

// SetVendorStatus applies an admin decision to a pending vendor.
func (s *Service) SetVendorStatus(ctx context.Context, actor domain.User, id int, status domain.VendorStatus) (domain.Vendor, error) {
	if !actor.IsAdmin() {
		return domain.Vendor{}, fmt.Errorf("market: user %d: %w", actor.ID, domain.ErrForbidden)
	}
	if !domain.ValidVendorStatuses[status] {
		return domain.Vendor{}, domain.NewValidationError("status", string(status), domain.ErrInvalidStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.GetVendor(ctx, id)
	if err != nil {
		return domain.Vendor{}, err
	}
	if !domain.CanTransition(v.Status, status) {
		return domain.Vendor{}, fmt.Errorf("market: vendor %d %s -> %s: %w", id, v.Status, status, domain.ErrInvalidStatusTransition)
	}

	prev := v.Status
	v.Status = status
	updated, err := s.vendors.Update(ctx, v)
	if err != nil {
		return domain.Vendor{}, fmt.Errorf("market: update vendor %d: %w", id, err)
	}
	s.log.Info("vendor status changed", "id", id, "from", prev, "to", status, "admin_id", actor.ID)

	e := events.New(events.VendorStatusChanged)
	e.Vendor = &updated
	e.PreviousStatus = prev
	s.publish(ctx, e)
	return updated, nil
}

// NoContact is shown when the owning account has no phone on file.
const NoContact = "N/A"

// VendorContact returns the owning user's phone number, or NoContact.
func (s *Service) VendorContact(ctx context.Context, v domain.Vendor) string {
	u, err := s.users.Get(ctx, v.UserID)
	if err != nil || strings.TrimSpace(u.Phone) == "" {
		return NoContact
	}
	return u.Phone
}

// DirectionsURL returns a Google Maps directions link to the vendor.
func DirectionsURL(v domain.Vendor) string {
	return "https://www.google.com/maps/dir/?api=1&destination=" + v.Location.String()
}
