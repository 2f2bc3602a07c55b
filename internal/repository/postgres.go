package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes mapped to domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type pgEventRow struct {
	ev         model.Event
	reminderMS int64
	holdBackMS int64
}

func (p *pgEventRow) dest() []any {
	return []any{&p.ev.ID, &p.ev.Title, &p.ev.Date, &p.ev.Active, &p.ev.EnableOn, &p.ev.DisableOn,
		&p.ev.TotalSeats, &p.ev.MaxPerRegistrant, &p.ev.AssignedSeats, &p.reminderMS, &p.holdBackMS, &p.ev.CreatedAt}
}

func (p *pgEventRow) event() *model.Event {
	ev := p.ev
	ev.Date = ev.Date.UTC()
	ev.EnableOn = ev.EnableOn.UTC()
	ev.DisableOn = ev.DisableOn.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.ReminderDelay = time.Duration(p.reminderMS) * time.Millisecond
	ev.HoldBackDelay = time.Duration(p.holdBackMS) * time.Millisecond
	return &ev
}

func pgRegistrationDest(r *model.Registration) []any {
	return []any{&r.ID, &r.Token, &r.Name, &r.GivenName, &r.Email, &r.EventID, &r.Seats, &r.SeatNumbers,
		&r.CreatedAt, &r.RequestSent, &r.Confirmed, &r.ConfirmationSent, &r.ReminderSent}
}

func scanPGRegistration(row rowScanner) (*model.Registration, error) {
	var reg model.Registration
	if err := row.Scan(pgRegistrationDest(&reg)...); err != nil {
		return nil, err
	}
	reg.CreatedAt = reg.CreatedAt.UTC()
	return &reg, nil
}

func scanPGRegistrationWithEvent(row rowScanner) (*model.Registration, error) {
	var reg model.Registration
	var ev pgEventRow
	if err := row.Scan(append(pgRegistrationDest(&reg), ev.dest()...)...); err != nil {
		return nil, err
	}
	reg.CreatedAt = reg.CreatedAt.UTC()
	reg.Event = ev.event()
	return &reg, nil
}

func pgWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	for _, c := range f.flags() {
		args = append(args, c.value)
		conds = append(conds, fmt.Sprintf("%s = $%d", c.column, len(args)))
	}
	if len(f.ExcludeIDs) > 0 {
		args = append(args, f.ExcludeIDs)
		conds = append(conds, fmt.Sprintf("r.id <> ALL($%d)", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// NextOldest returns the oldest registration matching f, or ErrNotFound.
func (s *PostgresStore) NextOldest(ctx context.Context, f Filter) (*model.Registration, error) {
	where, args := pgWhere(f)
	reg, err := scanPGRegistrationWithEvent(s.db.QueryRow(ctx,
		`SELECT `+registrationColumns+`, `+eventColumns+`
		 FROM registrations r JOIN events e ON e.id = r.event_id
		 `+where+`
		 ORDER BY r.created_at ASC, r.id ASC
		 LIMIT 1`, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("next oldest registration: %w", err)
	}
	return reg, nil
}

// AllWhere returns every registration matching f, oldest first.
func (s *PostgresStore) AllWhere(ctx context.Context, f Filter) ([]model.Registration, error) {
	where, args := pgWhere(f)
	rows, err := s.db.Query(ctx,
		`SELECT `+registrationColumns+`, `+eventColumns+`
		 FROM registrations r JOIN events e ON e.id = r.event_id
		 `+where+`
		 ORDER BY r.created_at ASC, r.id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanPGRegistrationWithEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// Save persists the progress flags of reg without ever clearing a flag.
func (s *PostgresStore) Save(ctx context.Context, reg *model.Registration) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE registrations SET
		   request_sent = request_sent OR $2,
		   confirmed = confirmed OR $3,
		   confirmation_sent = confirmation_sent OR $4,
		   reminder_sent = reminder_sent OR $5
		 WHERE id = $1`,
		reg.ID, reg.RequestSent, reg.Confirmed, reg.ConfirmationSent, reg.ReminderSent,
	)
	if err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the registration with id unless it is confirmed.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM registrations WHERE id = $1 AND NOT confirmed`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Events ────────────────────────────────────────────────────────────────────

// CreateEvent inserts ev.
func (s *PostgresStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (id, title, date, active, enable_on, disable_on, total_seats,
		   max_per_registrant, assigned_seats, reminder_delay_ms, hold_back_delay_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.ID, ev.Title, ev.Date, ev.Active, ev.EnableOn, ev.DisableOn, ev.TotalSeats,
		ev.MaxPerRegistrant, ev.AssignedSeats, ev.ReminderDelay.Milliseconds(), ev.HoldBackDelay.Milliseconds(), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var row pgEventRow
	err := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = $1`, id).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return row.event(), nil
}

// ListEvents returns all events ordered by event date.
func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.Query(ctx, `SELECT `+eventColumns+` FROM events e ORDER BY e.date ASC, e.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var row pgEventRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *row.event())
	}
	return events, rows.Err()
}

// DeleteEvent removes an event that no registration references.
func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrEventInUse
		}
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Registrations ─────────────────────────────────────────────────────────────

// lockEvent takes an exclusive row lock on the event for the rest of tx.
// Concurrent bookings of the same event queue up behind it, so the occupied
// seats they read cannot change before they commit.
func lockEvent(ctx context.Context, tx pgx.Tx, eventID string) (*model.Event, error) {
	var row pgEventRow
	err := tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = $1 FOR UPDATE`, eventID).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}
	return row.event(), nil
}

func eventRegistrations(ctx context.Context, tx pgx.Tx, eventID, excludeID string) ([]model.Registration, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+registrationColumns+` FROM registrations r
		 WHERE r.event_id = $1 AND r.id <> $2
		 ORDER BY r.created_at ASC, r.id ASC`, eventID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list event registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanPGRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// Book inserts reg inside a transaction that holds the event row lock while
// plan computes its seats.
func (s *PostgresStore) Book(ctx context.Context, reg *model.Registration, plan PlanFunc) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}

		var dupCount int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND email = $2`,
			reg.EventID, reg.Email,
		).Scan(&dupCount); err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if dupCount > 0 {
			return ErrAlreadyRegistered
		}

		others, err := eventRegistrations(ctx, tx, reg.EventID, reg.ID)
		if err != nil {
			return err
		}
		seats, err := plan(ev, nil, others)
		if err != nil {
			return err
		}
		if seats == nil {
			seats = []int{}
		}
		reg.SeatNumbers = seats

		_, err = tx.Exec(ctx,
			`INSERT INTO registrations (id, token, name, given_name, email, event_id, seats, seat_numbers,
			   created_at, request_sent, confirmed, confirmation_sent, reminder_sent)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			reg.ID, reg.Token, reg.Name, reg.GivenName, reg.Email, reg.EventID, reg.Seats, reg.SeatNumbers,
			reg.CreatedAt, reg.RequestSent, reg.Confirmed, reg.ConfirmationSent, reg.ReminderSent,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return ErrAlreadyRegistered
			}
			return fmt.Errorf("insert registration: %w", err)
		}
		reg.Event = ev
		return nil
	})
}

// Resize changes the seat count of a registration under the event row lock.
func (s *PostgresStore) Resize(ctx context.Context, token string, seats int, plan PlanFunc) (*model.Registration, error) {
	var out *model.Registration
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var eventID string
		if err := tx.QueryRow(ctx, `SELECT event_id FROM registrations WHERE token = $1`, token).Scan(&eventID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("find registration: %w", err)
		}
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		current, err := scanPGRegistration(tx.QueryRow(ctx,
			`SELECT `+registrationColumns+` FROM registrations r WHERE r.token = $1`, token))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("get registration: %w", err)
		}
		others, err := eventRegistrations(ctx, tx, eventID, current.ID)
		if err != nil {
			return err
		}

		resized := *current
		resized.Seats = seats
		numbers, err := plan(ev, current, others)
		if err != nil {
			return err
		}
		if numbers == nil {
			numbers = []int{}
		}
		resized.SeatNumbers = numbers

		if _, err := tx.Exec(ctx,
			`UPDATE registrations SET seats = $2, seat_numbers = $3 WHERE id = $1`,
			resized.ID, resized.Seats, resized.SeatNumbers,
		); err != nil {
			return fmt.Errorf("update registration seats: %w", err)
		}
		resized.Event = ev
		out = &resized
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByToken returns the registration with token, including its event.
func (s *PostgresStore) GetByToken(ctx context.Context, token string) (*model.Registration, error) {
	reg, err := scanPGRegistrationWithEvent(s.db.QueryRow(ctx,
		`SELECT `+registrationColumns+`, `+eventColumns+`
		 FROM registrations r JOIN events e ON e.id = r.event_id
		 WHERE r.token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// Confirm marks the registration with token as confirmed.
func (s *PostgresStore) Confirm(ctx context.Context, token string) (*model.Registration, error) {
	tag, err := s.db.Exec(ctx, `UPDATE registrations SET confirmed = TRUE WHERE token = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("confirm registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetByToken(ctx, token)
}

// DeleteByToken removes the registration with token.
func (s *PostgresStore) DeleteByToken(ctx context.Context, token string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM registrations WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByEvent returns all registrations for a given event, oldest first.
func (s *PostgresStore) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+registrationColumns+` FROM registrations r
		 WHERE r.event_id = $1
		 ORDER BY r.created_at ASC, r.id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanPGRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
