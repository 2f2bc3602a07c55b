// Package scheduler advances registrations through their lifecycle. Each
// cycle runs three phases in order (requests, pending reminders and
// expirations, confirmations), sending one notification at a time and
// re-reading the store after every successful send.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/eventlock"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/notify"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/notify/render"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/repository"
)

// Config holds the scheduler settings.
type Config struct {
	// PollInterval is the sleep between cycles.
	PollInterval time.Duration
	// SkipUndeliverable lets a permanently undeliverable recipient be skipped
	// for the rest of the cycle instead of aborting it.
	SkipUndeliverable bool
}

// Composer builds the message for one notification.
type Composer interface {
	Compose(kind render.Kind, reg *model.Registration, now time.Time) (notify.Message, error)
}

// Report summarizes one cycle.
type Report struct {
	Requests      int
	Reminders     int
	Expirations   int
	Confirmations int
	Skipped       int
	// Aborted is set when a failed send ended the cycle early; Cause holds
	// the failure.
	Aborted bool
	Cause   error
}

// Sent is the number of notifications delivered in the cycle.
func (r Report) Sent() int {
	return r.Requests + r.Reminders + r.Expirations + r.Confirmations
}

// Scheduler is the lifecycle polling daemon. Only one may run per store.
type Scheduler struct {
	store    repository.LifecycleStore
	gateway  notify.Gateway
	composer Composer
	cfg      Config
	locker   eventlock.Locker
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithLocker makes expiry deletions take the per-event lock.
func WithLocker(l eventlock.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// New constructs a Scheduler. gateway should enforce the send cooldown,
// see notify.Throttle.
func New(store repository.LifecycleStore, gateway notify.Gateway, composer Composer, cfg Config, opts ...Option) (*Scheduler, error) {
	switch {
	case store == nil:
		return nil, errors.New("scheduler: store is required")
	case gateway == nil:
		return nil, errors.New("scheduler: gateway is required")
	case composer == nil:
		return nil, errors.New("scheduler: composer is required")
	case cfg.PollInterval <= 0:
		return nil, errors.New("scheduler: poll interval must be positive")
	}
	s := &Scheduler{
		store:    store,
		gateway:  gateway,
		composer: composer,
		cfg:      cfg,
		locker:   eventlock.Noop{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes cycles until ctx is cancelled, sleeping PollInterval between
// them. It returns nil on cancellation and the store error when a cycle hits
// a store fault.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval.String(),
		"skip_undeliverable", s.cfg.SkipUndeliverable,
	)
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("scheduler stopped")
				return nil
			}
			return err
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle runs the three phases once. A failed send ends the cycle with
// Report.Aborted set and a nil error. Store faults and cancellation are
// returned as errors.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	start := time.Now()
	c := &cycle{Scheduler: s, done: make(map[string]struct{})}

	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"request", c.requestPhase},
		{"pending", c.pendingPhase},
		{"confirmed", c.confirmedPhase},
	}
	for _, phase := range phases {
		err := phase.run(ctx)
		if err == nil {
			continue
		}
		var abort *abortError
		if errors.As(err, &abort) {
			c.report.Aborted = true
			c.report.Cause = abort.cause
			s.logger.Warn("cycle aborted: notification failed",
				"phase", phase.name,
				"kind", string(abort.kind),
				"registration_id", abort.regID,
				"error", abort.cause,
			)
			metrics.ObserveCycle(metrics.CycleAborted, time.Since(start))
			return c.report, nil
		}
		if ctx.Err() == nil {
			s.logger.Error("cycle failed", "phase", phase.name, "error", err)
			metrics.ObserveCycle(metrics.CycleFailed, time.Since(start))
		}
		return c.report, err
	}

	if c.report.Sent() > 0 || c.report.Skipped > 0 {
		s.logger.Info("cycle completed",
			"requests", c.report.Requests,
			"reminders", c.report.Reminders,
			"expirations", c.report.Expirations,
			"confirmations", c.report.Confirmations,
			"skipped", c.report.Skipped,
		)
	}
	metrics.ObserveCycle(metrics.CycleCompleted, time.Since(start))
	return c.report, nil
}

// abortError carries a channel failure that ends the cycle.
type abortError struct {
	kind  render.Kind
	regID string
	cause error
}

func (e *abortError) Error() string {
	return fmt.Sprintf("%s notification for %s: %v", e.kind, e.regID, e.cause)
}

func (e *abortError) Unwrap() error { return e.cause }

// errSkipped means the recipient was skipped and the phase should move on.
var errSkipped = errors.New("recipient skipped")

// cycle is the state of one pass. done holds every registration that was
// notified or skipped in this pass; store queries exclude them so no
// registration gets two notifications in one cycle.
type cycle struct {
	*Scheduler
	done   map[string]struct{}
	report Report
}

func (c *cycle) exclude() []string {
	if len(c.done) == 0 {
		return nil
	}
	ids := make([]string, 0, len(c.done))
	for id := range c.done {
		ids = append(ids, id)
	}
	return ids
}

func (c *cycle) requestPhase(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		reg, err := c.store.NextOldest(ctx, repository.Filter{
			RequestSent: repository.Flag(false),
			ExcludeIDs:  c.exclude(),
		})
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch unrequested registration: %w", err)
		}

		if err := c.send(ctx, render.KindRequest, reg); err != nil {
			if errors.Is(err, errSkipped) {
				continue
			}
			return err
		}
		reg.RequestSent = true
		if err := c.save(ctx, reg); err != nil {
			return err
		}
		c.report.Requests++
	}
}

// pendingPhase walks unconfirmed registrations oldest first and acts on the
// first one that is due, then rescans from a fresh read. It ends when a full
// walk finds nothing to do.
func (c *cycle) pendingPhase(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		regs, err := c.store.AllWhere(ctx, repository.Filter{
			RequestSent: repository.Flag(true),
			Confirmed:   repository.Flag(false),
			ExcludeIDs:  c.exclude(),
		})
		if err != nil {
			return fmt.Errorf("fetch pending registrations: %w", err)
		}

		now := c.now()
		acted := false
		for i := range regs {
			reg := &regs[i]
			switch {
			case !reg.ReminderSent && reg.ReminderDue(now):
				err = c.remind(ctx, reg)
			case reg.ReminderSent && reg.ExpiryDue(now):
				err = c.expire(ctx, reg)
			default:
				continue
			}
			if err != nil && !errors.Is(err, errSkipped) {
				return err
			}
			acted = true
			break
		}
		if !acted {
			return nil
		}
	}
}

func (c *cycle) remind(ctx context.Context, reg *model.Registration) error {
	if err := c.send(ctx, render.KindReminder, reg); err != nil {
		return err
	}
	reg.ReminderSent = true
	if err := c.save(ctx, reg); err != nil {
		return err
	}
	c.report.Reminders++
	return nil
}

func (c *cycle) expire(ctx context.Context, reg *model.Registration) error {
	if err := c.send(ctx, render.KindExpiry, reg); err != nil {
		return err
	}
	dctx := context.WithoutCancel(ctx)
	err := eventlock.With(dctx, c.locker, reg.EventID, func() error {
		return c.store.Delete(dctx, reg.ID)
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.logger.Info("registration confirmed or removed before expiry", "registration_id", reg.ID)
		return nil
	case errors.Is(err, eventlock.ErrLockTimeout):
		return &abortError{kind: render.KindExpiry, regID: reg.ID, cause: err}
	case err != nil:
		return fmt.Errorf("delete expired registration %s: %w", reg.ID, err)
	}
	metrics.Expired()
	c.report.Expirations++
	return nil
}

func (c *cycle) confirmedPhase(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		reg, err := c.store.NextOldest(ctx, repository.Filter{
			Confirmed:        repository.Flag(true),
			ConfirmationSent: repository.Flag(false),
			ExcludeIDs:       c.exclude(),
		})
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch confirmed registration: %w", err)
		}

		if err := c.send(ctx, render.KindConfirmation, reg); err != nil {
			if errors.Is(err, errSkipped) {
				continue
			}
			return err
		}
		reg.ConfirmationSent = true
		if err := c.save(ctx, reg); err != nil {
			return err
		}
		c.report.Confirmations++
	}
}

// send composes and delivers one notification. A failed send returns an
// abortError, or errSkipped for a permanent failure when skipping is enabled.
func (c *cycle) send(ctx context.Context, kind render.Kind, reg *model.Registration) error {
	msg, err := c.composer.Compose(kind, reg, c.now())
	if err != nil {
		return fmt.Errorf("compose %s notification for %s: %w", kind, reg.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = notify.SafeSend(ctx, c.gateway, msg)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	c.done[reg.ID] = struct{}{}
	if err == nil {
		metrics.Notification(string(kind), metrics.OutcomeSuccess)
		c.logger.Debug("notification sent", "kind", string(kind), "registration_id", reg.ID)
		return nil
	}

	if c.cfg.SkipUndeliverable && notify.IsPermanent(err) {
		metrics.Notification(string(kind), metrics.OutcomeSkipped)
		c.logger.Warn("skipping undeliverable recipient",
			"kind", string(kind),
			"registration_id", reg.ID,
			"error", err,
		)
		c.report.Skipped++
		return errSkipped
	}
	metrics.Notification(string(kind), metrics.OutcomeFailure)
	return &abortError{kind: kind, regID: reg.ID, cause: err}
}

// save persists progress flags after a successful send. The write is not
// cancelled by shutdown so a delivered notification is always recorded.
// A record deleted in the meantime is skipped.
func (c *cycle) save(ctx context.Context, reg *model.Registration) error {
	err := c.store.Save(context.WithoutCancel(ctx), reg)
	if errors.Is(err, repository.ErrNotFound) {
		c.logger.Info("registration vanished before update", "registration_id", reg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("save registration %s: %w", reg.ID, err)
	}
	return nil
}
