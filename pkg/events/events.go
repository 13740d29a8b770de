// Package events publishes marketplace domain events to the message bus.
// Publishing is best-effort: callers log failures and carry on.
package events

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nashiklocalkart/localkart/engine/domain"
)

// Type names a domain event.
type Type string

const (
	UserRegistered      Type = "user.registered"
	VendorRegistered    Type = "vendor.registered"
	VendorStatusChanged Type = "vendor.status_changed"
)

// SubjectPrefix is the NATS subject namespace; events go to SubjectPrefix + "." + type.
const SubjectPrefix = "localkart.events"

// Event is the envelope published for every change.
type Event struct {
	ID             string              `json:"id"`
	Type           Type                `json:"type"`
	At             time.Time           `json:"at"`
	User           *domain.User        `json:"user,omitempty"`
	Vendor         *domain.Vendor      `json:"vendor,omitempty"`
	PreviousStatus domain.VendorStatus `json:"previousStatus,omitempty"`
}

// New returns an event of type t with a fresh id and timestamp.
func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, At: time.Now().UTC()}
}

// Subject returns the NATS subject for the event.
func (e Event) Subject() string { return SubjectPrefix + "." + string(e.Type) }

// Key returns the partition key: the vendor id for vendor events, else the user id.
func (e Event) Key() string {
	switch {
	case e.Vendor != nil:
		return "vendor-" + strconv.Itoa(e.Vendor.ID)
	case e.User != nil:
		return "user-" + strconv.Itoa(e.User.ID)
	default:
		return e.ID
	}
}

// Publisher sends events to a bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to every publisher, joining their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
