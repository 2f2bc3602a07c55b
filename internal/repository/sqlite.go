package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store on a SQLite database opened by
// database.OpenSQLite. The handle has a single connection, so statements
// issued while a transaction is open must go through that transaction.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// NewSQLiteStore constructs a SQLiteStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqlDB: db}
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.sqlDB == nil {
		return
	}
	_ = s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type sqliteEventRow struct {
	ev                     model.Event
	date, createdAt        int64
	enableOn, disableOn    int64
	reminderMS, holdBackMS int64
}

func (r *sqliteEventRow) dest() []any {
	return []any{&r.ev.ID, &r.ev.Title, &r.date, &r.ev.Active, &r.enableOn, &r.disableOn,
		&r.ev.TotalSeats, &r.ev.MaxPerRegistrant, &r.ev.AssignedSeats, &r.reminderMS, &r.holdBackMS, &r.createdAt}
}

func (r *sqliteEventRow) event() *model.Event {
	ev := r.ev
	ev.Date = fromMillis(r.date)
	ev.EnableOn = fromMillis(r.enableOn)
	ev.DisableOn = fromMillis(r.disableOn)
	ev.CreatedAt = fromMillis(r.createdAt)
	ev.ReminderDelay = time.Duration(r.reminderMS) * time.Millisecond
	ev.HoldBackDelay = time.Duration(r.holdBackMS) * time.Millisecond
	return &ev
}

type sqliteRegistrationRow struct {
	reg         model.Registration
	seatNumbers string
	createdAt   int64
}

func (r *sqliteRegistrationRow) dest() []any {
	return []any{&r.reg.ID, &r.reg.Token, &r.reg.Name, &r.reg.GivenName, &r.reg.Email, &r.reg.EventID,
		&r.reg.Seats, &r.seatNumbers, &r.createdAt,
		&r.reg.RequestSent, &r.reg.Confirmed, &r.reg.ConfirmationSent, &r.reg.ReminderSent}
}

func (r *sqliteRegistrationRow) registration() (*model.Registration, error) {
	reg := r.reg
	reg.CreatedAt = fromMillis(r.createdAt)
	if err := json.Unmarshal([]byte(r.seatNumbers), &reg.SeatNumbers); err != nil {
		return nil, fmt.Errorf("decode seat numbers: %w", err)
	}
	return &reg, nil
}

func scanSQLiteRegistration(row rowScanner) (*model.Registration, error) {
	var r sqliteRegistrationRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return r.registration()
}

func scanSQLiteRegistrationWithEvent(row rowScanner) (*model.Registration, error) {
	var r sqliteRegistrationRow
	var e sqliteEventRow
	if err := row.Scan(append(r.dest(), e.dest()...)...); err != nil {
		return nil, err
	}
	reg, err := r.registration()
	if err != nil {
		return nil, err
	}
	reg.Event = e.event()
	return reg, nil
}

func encodeSeatNumbers(seats []int) (string, error) {
	if seats == nil {
		seats = []int{}
	}
	raw, err := json.Marshal(seats)
	if err != nil {
		return "", fmt.Errorf("encode seat numbers: %w", err)
	}
	return string(raw), nil
}

func sqliteWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	for _, c := range f.flags() {
		conds = append(conds, c.column+" = ?")
		args = append(args, c.value)
	}
	if len(f.ExcludeIDs) > 0 {
		marks := make([]string, len(f.ExcludeIDs))
		for i, id := range f.ExcludeIDs {
			marks[i] = "?"
			args = append(args, id)
		}
		conds = append(conds, "r.id NOT IN ("+strings.Join(marks, ", ")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func sqliteConstraint(err error) (int, bool) {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code(), true
	}
	return 0, false
}

func isUniqueViolation(err error) bool {
	code, ok := sqliteConstraint(err)
	if ok {
		switch code {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	code, ok := sqliteConstraint(err)
	if ok && code == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// NextOldest returns the oldest registration matching f, or ErrNotFound.
func (s *SQLiteStore) NextOldest(ctx context.Context, f Filter) (*model.Registration, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	where, args := sqliteWhere(f)
	reg, err := scanSQLiteRegistrationWithEvent(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+registrationColumns+`, `+eventColumns+`
		 FROM registrations r JOIN events e ON e.id = r.event_id
		 `+where+`
		 ORDER BY r.created_at ASC, r.id ASC
		 LIMIT 1`, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("next oldest registration: %w", err)
	}
	return reg, nil
}

// AllWhere returns every registration matching f, oldest first.
func (s *SQLiteStore) AllWhere(ctx context.Context, f Filter) ([]model.Registration, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	where, args := sqliteWhere(f)
	rows, err := s.sqlDB.QueryContext(ctx,
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
		reg, err := scanSQLiteRegistrationWithEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// Save persists the progress flags of reg without ever clearing a flag.
func (s *SQLiteStore) Save(ctx context.Context, reg *model.Registration) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE registrations SET
		   request_sent = (request_sent OR ?),
		   confirmed = (confirmed OR ?),
		   confirmation_sent = (confirmation_sent OR ?),
		   reminder_sent = (reminder_sent OR ?)
		 WHERE id = ?`,
		reg.RequestSent, reg.Confirmed, reg.ConfirmationSent, reg.ReminderSent, reg.ID,
	)
	if err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the registration with id unless it is confirmed.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM registrations WHERE id = ? AND confirmed = 0`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ── Events ────────────────────────────────────────────────────────────────────

// CreateEvent inserts ev.
func (s *SQLiteStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO events (id, title, date, active, enable_on, disable_on, total_seats,
		   max_per_registrant, assigned_seats, reminder_delay_ms, hold_back_delay_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, toMillis(ev.Date), ev.Active, toMillis(ev.EnableOn), toMillis(ev.DisableOn), ev.TotalSeats,
		ev.MaxPerRegistrant, ev.AssignedSeats, ev.ReminderDelay.Milliseconds(), ev.HoldBackDelay.Milliseconds(), toMillis(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return sqliteGetEvent(ctx, s.sqlDB, id)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteGetEvent(ctx context.Context, q sqliteQuerier, id string) (*model.Event, error) {
	var row sqliteEventRow
	err := q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = ?`, id).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return row.event(), nil
}

// ListEvents returns all events ordered by event date.
func (s *SQLiteStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events e ORDER BY e.date ASC, e.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var row sqliteEventRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *row.event())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// DeleteEvent removes an event that no registration references.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrEventInUse
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return requireAffected(res)
}

// ── Registrations ─────────────────────────────────────────────────────────────

func sqliteEventRegistrations(ctx context.Context, q sqliteQuerier, eventID, excludeID string) ([]model.Registration, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations r
		 WHERE r.event_id = ? AND r.id <> ?
		 ORDER BY r.created_at ASC, r.id ASC`, eventID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list event registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanSQLiteRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list event registrations: %w", err)
	}
	return regs, nil
}

// inTx runs fn inside a write transaction. The handle opens transactions
// with BEGIN IMMEDIATE, so fn holds the database write lock from its first
// statement until commit.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Book inserts reg inside a write transaction while plan computes its seats.
func (s *SQLiteStore) Book(ctx context.Context, reg *model.Registration, plan PlanFunc) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ev, err := sqliteGetEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}

		var dupCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM registrations WHERE event_id = ? AND email = ?`,
			reg.EventID, reg.Email,
		).Scan(&dupCount); err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if dupCount > 0 {
			return ErrAlreadyRegistered
		}

		others, err := sqliteEventRegistrations(ctx, tx, reg.EventID, reg.ID)
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
		encoded, err := encodeSeatNumbers(seats)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO registrations (id, token, name, given_name, email, event_id, seats, seat_numbers,
			   created_at, request_sent, confirmed, confirmation_sent, reminder_sent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			reg.ID, reg.Token, reg.Name, reg.GivenName, reg.Email, reg.EventID, reg.Seats, encoded,
			toMillis(reg.CreatedAt), reg.RequestSent, reg.Confirmed, reg.ConfirmationSent, reg.ReminderSent,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyRegistered
			}
			return fmt.Errorf("insert registration: %w", err)
		}
		reg.SeatNumbers = seats
		reg.Event = ev
		return nil
	})
}

// Resize changes the seat count of a registration inside a write transaction.
func (s *SQLiteStore) Resize(ctx context.Context, token string, seats int, plan PlanFunc) (*model.Registration, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var out *model.Registration
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanSQLiteRegistration(tx.QueryRowContext(ctx,
			`SELECT `+registrationColumns+` FROM registrations r WHERE r.token = ?`, token))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("get registration: %w", err)
		}
		ev, err := sqliteGetEvent(ctx, tx, current.EventID)
		if err != nil {
			return err
		}
		others, err := sqliteEventRegistrations(ctx, tx, current.EventID, current.ID)
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
		encoded, err := encodeSeatNumbers(numbers)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE registrations SET seats = ?, seat_numbers = ? WHERE id = ?`,
			resized.Seats, encoded, resized.ID,
		); err != nil {
			return fmt.Errorf("update registration seats: %w", err)
		}
		resized.SeatNumbers = numbers
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
func (s *SQLiteStore) GetByToken(ctx context.Context, token string) (*model.Registration, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	reg, err := scanSQLiteRegistrationWithEvent(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+registrationColumns+`, `+eventColumns+`
		 FROM registrations r JOIN events e ON e.id = r.event_id
		 WHERE r.token = ?`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// Confirm marks the registration with token as confirmed.
func (s *SQLiteStore) Confirm(ctx context.Context, token string) (*model.Registration, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE registrations SET confirmed = 1 WHERE token = ?`, token)
	if err != nil {
		return nil, fmt.Errorf("confirm registration: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetByToken(ctx, token)
}

// DeleteByToken removes the registration with token.
func (s *SQLiteStore) DeleteByToken(ctx context.Context, token string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM registrations WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return requireAffected(res)
}

// ListByEvent returns all registrations for a given event, oldest first.
func (s *SQLiteStore) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return sqliteEventRegistrations(ctx, s.sqlDB, eventID, "")
}

var _ Store = (*SQLiteStore)(nil)
