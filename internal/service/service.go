// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/eventlock"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/seating"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/token"
	"github.com/google/uuid"
)

// ErrInvalidInput wraps every request validation failure.
var ErrInvalidInput = errors.New("invalid input")

// ErrEventClosed is returned when registering for an event outside its
// registration window or while it is inactive.
var ErrEventClosed = errors.New("event is not open for registration")

const maxTotalSeats = 100_000

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// RegistrationService orchestrates event and registration operations.
type RegistrationService struct {
	store            repository.Store
	locker           eventlock.Locker
	countUnconfirmed bool
	now              func() time.Time
}

// Option configures a RegistrationService.
type Option func(*RegistrationService)

// WithLocker serializes seat changes per event through l in addition to the
// store transaction.
func WithLocker(l eventlock.Locker) Option {
	return func(s *RegistrationService) { s.locker = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *RegistrationService) { s.now = now }
}

// CountUnconfirmedSeats selects whether unconfirmed registrations count
// against event capacity. When false only confirmed ones do.
func CountUnconfirmedSeats(v bool) Option {
	return func(s *RegistrationService) { s.countUnconfirmed = v }
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(store repository.Store, opts ...Option) *RegistrationService {
	s := &RegistrationService{
		store:            store,
		locker:           eventlock.Noop{},
		countUnconfirmed: true,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Events ────────────────────────────────────────────────────────────────────

// CreateEvent validates the request and stores a new event.
func (s *RegistrationService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, invalid("event title is required")
	}
	if req.Date.IsZero() {
		return nil, invalid("event date is required")
	}
	if req.TotalSeats > maxTotalSeats {
		return nil, invalid("total seats cannot exceed 100,000")
	}
	if req.ReminderHours <= 0 || req.HoldBackHours <= 0 {
		return nil, invalid("reminder_hours and hold_back_hours must be positive")
	}

	now := s.now().UTC()
	ev := &model.Event{
		ID:               uuid.NewString(),
		Title:            req.Title,
		Date:             req.Date.UTC(),
		Active:           true,
		EnableOn:         req.EnableOn.UTC(),
		DisableOn:        req.DisableOn.UTC(),
		TotalSeats:       req.TotalSeats,
		MaxPerRegistrant: req.MaxPerRegistrant,
		AssignedSeats:    req.AssignedSeats,
		ReminderDelay:    time.Duration(req.ReminderHours) * time.Hour,
		HoldBackDelay:    time.Duration(req.HoldBackHours) * time.Hour,
		CreatedAt:        now,
	}
	if req.Active != nil {
		ev.Active = *req.Active
	}
	if req.EnableOn.IsZero() {
		ev.EnableOn = now
	}
	if req.DisableOn.IsZero() {
		ev.DisableOn = ev.Date
	}
	if ev.MaxPerRegistrant == 0 {
		ev.MaxPerRegistrant = model.DefaultMaxPerRegistrant
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
	}

	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

// ListEvents returns all events.
func (s *RegistrationService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// GetEvent returns a single event by ID.
func (s *RegistrationService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, invalid("event id is required")
	}
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// DeleteEvent removes an event without registrations.
func (s *RegistrationService) DeleteEvent(ctx context.Context, id string) error {
	err := s.store.DeleteEvent(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrEventInUse) {
		return fmt.Errorf("delete event: %w", err)
	}
	return err
}

// ListRegistrations returns all registrations for an event.
func (s *RegistrationService) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListByEvent(ctx, eventID)
}

// ── Registrations ─────────────────────────────────────────────────────────────

// plan validates a seat change against the locked event and picks seat
// numbers for events that assign them.
func (s *RegistrationService) plan(seats int) repository.PlanFunc {
	return func(ev *model.Event, current *model.Registration, others []model.Registration) ([]int, error) {
		prior := 0
		if current != nil {
			prior = current.Seats
		}
		if err := seating.Validate(ev, seating.Request{
			Requested: seats,
			Prior:     prior,
			Taken:     seating.Taken(others, "", !s.countUnconfirmed),
		}); err != nil {
			return nil, err
		}
		if !ev.AssignedSeats {
			return nil, nil
		}
		return seating.Allocate(seating.Occupied(others, ""), ev.TotalSeats, seats)
	}
}

func allocationOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, seating.ErrCapacityExceeded),
		errors.Is(err, seating.ErrSeatExhaustion),
		errors.Is(err, seating.ErrPerRegistrantCap):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailure
	}
}

// Register validates the request and books the registration with its seats
// in one store transaction.
func (s *RegistrationService) Register(ctx context.Context, eventID string, req model.RegisterRequest) (*model.Registration, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.GivenName = strings.TrimSpace(req.GivenName)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	switch {
	case req.Name == "":
		return nil, invalid("name is required")
	case req.GivenName == "":
		return nil, invalid("given_name is required")
	case req.Email == "":
		return nil, invalid("email is required")
	case !isValidEmail(req.Email):
		return nil, invalid("email is not a valid email address")
	}
	if req.Seats == 0 {
		req.Seats = 1
	}

	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !ev.IsOpen(now) {
		return nil, ErrEventClosed
	}
	// Reject what no store state could allow before taking any lock.
	if err := seating.Validate(ev, seating.Request{Requested: req.Seats}); err != nil {
		metrics.Allocation("book", allocationOutcome(err))
		return nil, err
	}

	tok, err := token.New()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	reg := &model.Registration{
		ID:        uuid.NewString(),
		Token:     tok,
		Name:      req.Name,
		GivenName: req.GivenName,
		Email:     req.Email,
		EventID:   ev.ID,
		Seats:     req.Seats,
		CreatedAt: now,
	}

	err = eventlock.With(ctx, s.locker, ev.ID, func() error {
		return s.store.Book(ctx, reg, s.plan(req.Seats))
	})
	metrics.Allocation("book", allocationOutcome(err))
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("register for event: %w", err)
	}
	return reg, nil
}

// Modify changes the seat count of the registration with tok.
func (s *RegistrationService) Modify(ctx context.Context, tok string, req model.ModifyRequest) (*model.Registration, error) {
	current, err := s.store.GetByToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if err := seating.Validate(current.Event, seating.Request{Requested: req.Seats, Prior: current.Seats}); err != nil {
		metrics.Allocation("resize", allocationOutcome(err))
		return nil, err
	}

	var reg *model.Registration
	err = eventlock.With(ctx, s.locker, current.EventID, func() error {
		var err error
		reg, err = s.store.Resize(ctx, tok, req.Seats, s.plan(req.Seats))
		return err
	})
	metrics.Allocation("resize", allocationOutcome(err))
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("modify registration: %w", err)
	}
	return reg, nil
}

// Get returns the registration with tok.
func (s *RegistrationService) Get(ctx context.Context, tok string) (*model.Registration, error) {
	return s.store.GetByToken(ctx, tok)
}

// Confirm marks the registration with tok as confirmed. Confirming twice is
// not an error.
func (s *RegistrationService) Confirm(ctx context.Context, tok string) (*model.Registration, error) {
	return s.store.Confirm(ctx, tok)
}

// Cancel deletes the registration with tok and frees its seats.
func (s *RegistrationService) Cancel(ctx context.Context, tok string) error {
	reg, err := s.store.GetByToken(ctx, tok)
	if err != nil {
		return err
	}
	return eventlock.With(ctx, s.locker, reg.EventID, func() error {
		return s.store.DeleteByToken(ctx, tok)
	})
}

func isDomainError(err error) bool {
	for _, target := range []error{
		repository.ErrNotFound,
		repository.ErrAlreadyRegistered,
		seating.ErrCapacityExceeded,
		seating.ErrSeatExhaustion,
		seating.ErrPerRegistrantCap,
		seating.ErrInvalidSeatCount,
		eventlock.ErrLockTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
