// Package repository persists events and registrations. Two backends share
// one contract: PostgreSQL through pgx and SQLite through modernc.org/sqlite.
package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyRegistered is returned when the same email registers twice for one event.
var ErrAlreadyRegistered = errors.New("email already registered for this event")

// ErrEventInUse is returned when deleting an event that registrations still reference.
var ErrEventInUse = errors.New("event still has registrations")

// Filter selects registrations by progress flags. Nil fields match any value.
type Filter struct {
	RequestSent      *bool
	Confirmed        *bool
	ConfirmationSent *bool
	ReminderSent     *bool
	// ExcludeIDs lists registration IDs that must not be returned.
	ExcludeIDs []string
}

// Flag returns a pointer to v for use in a Filter.
func Flag(v bool) *bool { return &v }

type flagCondition struct {
	column string
	value  bool
}

func (f Filter) flags() []flagCondition {
	var out []flagCondition
	add := func(column string, v *bool) {
		if v != nil {
			out = append(out, flagCondition{column: column, value: *v})
		}
	}
	add("r.request_sent", f.RequestSent)
	add("r.confirmed", f.Confirmed)
	add("r.confirmation_sent", f.ConfirmationSent)
	add("r.reminder_sent", f.ReminderSent)
	return out
}

// PlanFunc decides the seat numbers of a registration while the owning event
// is locked. current is nil for a new registration; others holds every other
// registration of the event. Returning an error rolls the transaction back.
type PlanFunc func(ev *model.Event, current *model.Registration, others []model.Registration) ([]int, error)

// LifecycleStore is the part of the store the lifecycle scheduler drives.
// Registrations it returns carry their owning Event.
type LifecycleStore interface {
	// NextOldest returns the oldest matching registration or ErrNotFound.
	NextOldest(ctx context.Context, f Filter) (*model.Registration, error)
	// AllWhere returns matching registrations ordered by creation time.
	AllWhere(ctx context.Context, f Filter) ([]model.Registration, error)
	// Save persists the progress flags of reg. Flags already true in the
	// store stay true. Returns ErrNotFound if the record is gone.
	Save(ctx context.Context, reg *model.Registration) error
	// Delete removes an unconfirmed registration. Returns ErrNotFound if it
	// is gone or has been confirmed in the meantime.
	Delete(ctx context.Context, id string) error
}

// Store is the full registration store used by the web path and the scheduler.
type Store interface {
	LifecycleStore

	CreateEvent(ctx context.Context, ev *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	DeleteEvent(ctx context.Context, id string) error

	// Book inserts reg with the seats chosen by plan, atomically with respect
	// to every other writer of the same event.
	Book(ctx context.Context, reg *model.Registration, plan PlanFunc) error
	// Resize changes the seat count of the registration with token, with the
	// same atomicity as Book.
	Resize(ctx context.Context, token string, seats int, plan PlanFunc) (*model.Registration, error)

	GetByToken(ctx context.Context, token string) (*model.Registration, error)
	Confirm(ctx context.Context, token string) (*model.Registration, error)
	DeleteByToken(ctx context.Context, token string) error
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)

	Close()
}

const registrationColumns = `r.id, r.token, r.name, r.given_name, r.email, r.event_id, r.seats, r.seat_numbers,
	r.created_at, r.request_sent, r.confirmed, r.confirmation_sent, r.reminder_sent`

const eventColumns = `e.id, e.title, e.date, e.active, e.enable_on, e.disable_on, e.total_seats,
	e.max_per_registrant, e.assigned_seats, e.reminder_delay_ms, e.hold_back_delay_ms, e.created_at`
