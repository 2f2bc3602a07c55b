// Package model defines the core domain types for the seat registration system.
package model

import (
	"errors"
	"time"
)

// DefaultMaxPerRegistrant is the per-registrant seat cap applied when an event
// is created without one.
const DefaultMaxPerRegistrant = 5

// Event is a seat-limited event that registrants can sign up for.
type Event struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Date             time.Time     `json:"date"`
	Active           bool          `json:"active"`
	EnableOn         time.Time     `json:"enable_on"`
	DisableOn        time.Time     `json:"disable_on"`
	TotalSeats       int           `json:"total_seats"`
	MaxPerRegistrant int           `json:"max_per_registrant"`
	AssignedSeats    bool          `json:"assigned_seats"`
	ReminderDelay    time.Duration `json:"reminder_delay"`
	HoldBackDelay    time.Duration `json:"hold_back_delay"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Validate checks the invariants an event must hold before it is stored.
func (e *Event) Validate() error {
	switch {
	case e.Title == "":
		return errors.New("event title is required")
	case e.TotalSeats <= 0:
		return errors.New("total seats must be a positive integer")
	case e.MaxPerRegistrant <= 0:
		return errors.New("max seats per registrant must be a positive integer")
	case e.ReminderDelay <= 0:
		return errors.New("reminder delay must be positive")
	case e.ReminderDelay >= e.HoldBackDelay:
		return errors.New("reminder delay must be shorter than hold-back delay")
	case e.DisableOn.Before(e.EnableOn):
		return errors.New("disable_on must not precede enable_on")
	}
	return nil
}

// IsOpen reports whether the event accepts new registrations at now.
func (e *Event) IsOpen(now time.Time) bool {
	return e.Active && !now.Before(e.EnableOn) && !now.After(e.DisableOn)
}

// Progress holds the four lifecycle flags of a registration. Flags only ever
// move from false to true.
type Progress struct {
	RequestSent      bool `json:"request_sent"`
	Confirmed        bool `json:"confirmed"`
	ConfirmationSent bool `json:"confirmation_sent"`
	ReminderSent     bool `json:"reminder_sent"`
}

// State names a point in the registration lifecycle.
type State string

const (
	StateCreated              State = "created"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateReminded             State = "reminded"
	StateConfirmed            State = "confirmed"
	StateNotified             State = "notified"
)

// Registration is one registrant's request for seats at one event.
type Registration struct {
	ID          string    `json:"id"`
	// Token is only ever handed out in the request e-mail.
	Token       string    `json:"-"`
	Name        string    `json:"name"`
	GivenName   string    `json:"given_name"`
	Email       string    `json:"email"`
	EventID     string    `json:"event_id"`
	Seats       int       `json:"seats"`
	SeatNumbers []int     `json:"seat_numbers,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Progress

	// Event is the owning event, populated by store queries that need its
	// timing configuration.
	Event *Event `json:"-"`
}

// State derives the lifecycle state from the progress flags.
func (r *Registration) State() State {
	switch {
	case r.Confirmed && r.ConfirmationSent:
		return StateNotified
	case r.Confirmed:
		return StateConfirmed
	case !r.RequestSent:
		return StateCreated
	case r.ReminderSent:
		return StateReminded
	default:
		return StateAwaitingConfirmation
	}
}

// ReminderDue reports whether the reminder delay has elapsed at now.
func (r *Registration) ReminderDue(now time.Time) bool {
	return r.Event != nil && now.After(r.CreatedAt.Add(r.Event.ReminderDelay))
}

// ExpiryDue reports whether the hold-back delay has elapsed at now.
func (r *Registration) ExpiryDue(now time.Time) bool {
	return r.Event != nil && now.After(r.CreatedAt.Add(r.Event.HoldBackDelay))
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title            string    `json:"title"`
	Date             time.Time `json:"date"`
	Active           *bool     `json:"active"`
	EnableOn         time.Time `json:"enable_on"`
	DisableOn        time.Time `json:"disable_on"`
	TotalSeats       int       `json:"total_seats"`
	MaxPerRegistrant int       `json:"max_per_registrant"`
	AssignedSeats    bool      `json:"assigned_seats"`
	ReminderHours    int       `json:"reminder_hours"`
	HoldBackHours    int       `json:"hold_back_hours"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	Name      string `json:"name"`
	GivenName string `json:"given_name"`
	Email     string `json:"email"`
	Seats     int    `json:"seats"`
}

// ModifyRequest is the payload for changing the seat count of a registration.
type ModifyRequest struct {
	Seats int `json:"seats"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
