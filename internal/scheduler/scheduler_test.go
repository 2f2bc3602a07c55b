package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/eventlock"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/notify"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/notify/render"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

// memStore is an in-memory LifecycleStore.
type memStore struct {
	mu      sync.Mutex
	regs    map[string]*model.Registration
	fault   error
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{regs: make(map[string]*model.Registration)}
}

func (m *memStore) add(reg model.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg.ID] = &reg
}

func (m *memStore) get(id string) (model.Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return model.Registration{}, false
	}
	return *reg, true
}

func (m *memStore) confirm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.regs[id]; ok {
		reg.Confirmed = true
	}
}

func (m *memStore) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, id)
}

func flagMatches(want *bool, got bool) bool {
	return want == nil || *want == got
}

func (m *memStore) matching(f repository.Filter) []model.Registration {
	excluded := make(map[string]bool, len(f.ExcludeIDs))
	for _, id := range f.ExcludeIDs {
		excluded[id] = true
	}
	var out []model.Registration
	for _, reg := range m.regs {
		if excluded[reg.ID] ||
			!flagMatches(f.RequestSent, reg.RequestSent) ||
			!flagMatches(f.Confirmed, reg.Confirmed) ||
			!flagMatches(f.ConfirmationSent, reg.ConfirmationSent) ||
			!flagMatches(f.ReminderSent, reg.ReminderSent) {
			continue
		}
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) NextOldest(_ context.Context, f repository.Filter) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return nil, m.fault
	}
	regs := m.matching(f)
	if len(regs) == 0 {
		return nil, repository.ErrNotFound
	}
	return &regs[0], nil
}

func (m *memStore) AllWhere(_ context.Context, f repository.Filter) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault != nil {
		return nil, m.fault
	}
	return m.matching(f), nil
}

func (m *memStore) Save(_ context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.regs[reg.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.RequestSent = stored.RequestSent || reg.RequestSent
	stored.Confirmed = stored.Confirmed || reg.Confirmed
	stored.ConfirmationSent = stored.ConfirmationSent || reg.ConfirmationSent
	stored.ReminderSent = stored.ReminderSent || reg.ReminderSent
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.regs[id]; !ok || reg.Confirmed {
		return repository.ErrNotFound
	}
	delete(m.regs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memStore) checkMonotonic(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.regs {
		assert.False(t, reg.ReminderSent && !reg.RequestSent, "%s reminded before request", reg.ID)
		assert.False(t, reg.ConfirmationSent && !reg.Confirmed, "%s notified before confirm", reg.ID)
	}
}

type sent struct {
	kind  string
	regID string
}

// fakeGateway records deliveries. fail decides the outcome of the n-th
// attempt (1-based); after runs once a delivery has succeeded.
type fakeGateway struct {
	mu       sync.Mutex
	attempts int
	sent     []sent
	fail     func(n int, msg notify.Message) error
	after    func(msg notify.Message)
}

func (g *fakeGateway) Send(_ context.Context, msg notify.Message) error {
	g.mu.Lock()
	g.attempts++
	n := g.attempts
	fail := g.fail
	g.mu.Unlock()

	if fail != nil {
		if err := fail(n, msg); err != nil {
			return err
		}
	}
	g.mu.Lock()
	g.sent = append(g.sent, sent{kind: msg.Subject, regID: msg.Body})
	g.mu.Unlock()
	if g.after != nil {
		g.after(msg)
	}
	return nil
}

func (g *fakeGateway) deliveries() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sent...)
}

// stubComposer encodes the kind in the subject and the registration ID in
// the body so tests can read deliveries back.
type stubComposer struct{}

func (stubComposer) Compose(kind render.Kind, reg *model.Registration, _ time.Time) (notify.Message, error) {
	return notify.Message{To: reg.Email, Subject: string(kind), Body: reg.ID}, nil
}

type recordingLocker struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLocker) Lock(_ context.Context, eventID string) (eventlock.Unlock, error) {
	l.mu.Lock()
	l.events = append(l.events, eventID)
	l.mu.Unlock()
	return func(context.Context) error { return nil }, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

var t0 = time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)

var testEvent = &model.Event{
	ID:               "ev-1",
	Title:            "Workshop",
	TotalSeats:       3,
	MaxPerRegistrant: 2,
	ReminderDelay:    12 * time.Hour,
	HoldBackDelay:    24 * time.Hour,
}

func registration(id string, created time.Time, p model.Progress) model.Registration {
	return model.Registration{
		ID:        id,
		Token:     "tok-" + id,
		Email:     id + "@example.com",
		EventID:   testEvent.ID,
		Seats:     1,
		CreatedAt: created,
		Progress:  p,
		Event:     testEvent,
	}
}

type harness struct {
	store   *memStore
	gateway *fakeGateway
	now     time.Time
	sched   *scheduler.Scheduler
}

func newHarness(t *testing.T, cfg scheduler.Config, opts ...scheduler.Option) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), gateway: &fakeGateway{}, now: t0}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	opts = append([]scheduler.Option{
		scheduler.WithClock(func() time.Time { return h.now }),
		scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	s, err := scheduler.New(h.store, h.gateway, stubComposer{}, cfg, opts...)
	require.NoError(t, err)
	h.sched = s
	return h
}

// newThrottledHarness puts the fake gateway behind a real Throttle whose
// cooldown runs sleep instead of waiting.
func newThrottledHarness(t *testing.T, sleep func(context.Context, time.Duration) error) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), gateway: &fakeGateway{}, now: t0}
	throttle := notify.NewThrottle(h.gateway, 10*time.Second, notify.WithSleep(sleep))
	s, err := scheduler.New(h.store, throttle, stubComposer{}, scheduler.Config{PollInterval: time.Millisecond},
		scheduler.WithClock(func() time.Time { return h.now }),
		scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	h.sched = s
	return h
}

func (h *harness) cycle(t *testing.T) scheduler.Report {
	t.Helper()
	rep, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	h.store.checkMonotonic(t)
	return rep
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestNew_ValidatesArguments(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	_, err := scheduler.New(nil, gw, stubComposer{}, scheduler.Config{PollInterval: time.Second})
	assert.Error(t, err)
	_, err = scheduler.New(store, nil, stubComposer{}, scheduler.Config{PollInterval: time.Second})
	assert.Error(t, err)
	_, err = scheduler.New(store, gw, nil, scheduler.Config{PollInterval: time.Second})
	assert.Error(t, err)
	_, err = scheduler.New(store, gw, stubComposer{}, scheduler.Config{})
	assert.Error(t, err)
}

func TestRunCycle_RequestsGoOutOldestFirst(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r3", t0.Add(3*time.Minute), model.Progress{}))
	h.store.add(registration("r1", t0.Add(1*time.Minute), model.Progress{}))
	h.store.add(registration("r2", t0.Add(2*time.Minute), model.Progress{}))

	rep := h.cycle(t)

	assert.Equal(t, 3, rep.Requests)
	assert.False(t, rep.Aborted)
	assert.Equal(t, []sent{
		{"request", "r1"}, {"request", "r2"}, {"request", "r3"},
	}, h.gateway.deliveries())
	for _, id := range []string{"r1", "r2", "r3"} {
		reg, _ := h.store.get(id)
		assert.True(t, reg.RequestSent, id)
	}
}

func TestRunCycle_AbortsOnFailureAndSkipsLaterPhases(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r1", t0.Add(1*time.Minute), model.Progress{}))
	h.store.add(registration("r2", t0.Add(2*time.Minute), model.Progress{}))
	h.store.add(registration("r3", t0.Add(3*time.Minute), model.Progress{}))
	h.store.add(registration("c1", t0, model.Progress{RequestSent: true, Confirmed: true}))
	outage := errors.New("relay unavailable")
	h.gateway.fail = func(n int, _ notify.Message) error {
		if n == 2 {
			return outage
		}
		return nil
	}

	rep := h.cycle(t)

	assert.True(t, rep.Aborted)
	assert.ErrorIs(t, rep.Cause, outage)
	assert.Equal(t, 1, rep.Requests)
	assert.Equal(t, 0, rep.Confirmations)
	assert.Equal(t, []sent{{"request", "r1"}}, h.gateway.deliveries())
	r2, _ := h.store.get("r2")
	r3, _ := h.store.get("r3")
	c1, _ := h.store.get("c1")
	assert.False(t, r2.RequestSent)
	assert.False(t, r3.RequestSent)
	assert.False(t, c1.ConfirmationSent)

	// The next cycle resumes where the failed one stopped.
	h.gateway.fail = nil
	rep = h.cycle(t)
	assert.False(t, rep.Aborted)
	assert.Equal(t, []sent{
		{"request", "r1"}, {"request", "r2"}, {"request", "r3"}, {"confirmation", "c1"},
	}, h.gateway.deliveries())
}

func TestRunCycle_ReminderThenExpiry(t *testing.T) {
	locker := &recordingLocker{}
	h := newHarness(t, scheduler.Config{}, scheduler.WithLocker(locker))
	h.store.add(registration("r1", t0, model.Progress{RequestSent: true}))

	h.now = t0.Add(11 * time.Hour)
	rep := h.cycle(t)
	assert.Zero(t, rep.Sent())

	h.now = t0.Add(13 * time.Hour)
	rep = h.cycle(t)
	assert.Equal(t, 1, rep.Reminders)
	reg, ok := h.store.get("r1")
	require.True(t, ok)
	assert.True(t, reg.ReminderSent)
	assert.Equal(t, model.StateReminded, reg.State())

	h.now = t0.Add(20 * time.Hour)
	assert.Zero(t, h.cycle(t).Sent())

	h.now = t0.Add(25 * time.Hour)
	rep = h.cycle(t)
	assert.Equal(t, 1, rep.Expirations)
	_, ok = h.store.get("r1")
	assert.False(t, ok)
	assert.Equal(t, []string{"r1"}, h.store.deleted)
	assert.Equal(t, []string{"ev-1"}, locker.events)

	assert.Equal(t, []sent{{"reminder", "r1"}, {"expiry", "r1"}}, h.gateway.deliveries())

	for i := 0; i < 3; i++ {
		assert.Zero(t, h.cycle(t).Sent())
	}
	assert.Len(t, h.gateway.deliveries(), 2)
}

func TestRunCycle_OverdueRegistrationIsRemindedBeforeExpiry(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r1", t0, model.Progress{RequestSent: true}))

	h.now = t0.Add(30 * time.Hour)
	rep := h.cycle(t)
	assert.Equal(t, 1, rep.Reminders)
	assert.Zero(t, rep.Expirations)

	rep = h.cycle(t)
	assert.Equal(t, 1, rep.Expirations)
	assert.Equal(t, []sent{{"reminder", "r1"}, {"expiry", "r1"}}, h.gateway.deliveries())
}

func TestRunCycle_ConfirmedIsNotifiedOnce(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r1", t0, model.Progress{RequestSent: true, Confirmed: true}))

	h.now = t0.Add(48 * time.Hour)
	rep := h.cycle(t)
	assert.Equal(t, 1, rep.Confirmations)
	reg, _ := h.store.get("r1")
	assert.Equal(t, model.StateNotified, reg.State())

	for i := 0; i < 3; i++ {
		assert.Zero(t, h.cycle(t).Sent())
	}
	assert.Equal(t, []sent{{"confirmation", "r1"}}, h.gateway.deliveries())
}

func TestRunCycle_AtMostOneNotificationPerRegistrationPerCycle(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r1", t0, model.Progress{}))
	// The registrant confirms right after the request goes out.
	h.gateway.after = func(msg notify.Message) {
		if msg.Subject == string(render.KindRequest) {
			h.store.confirm(msg.Body)
		}
	}

	rep := h.cycle(t)
	assert.Equal(t, 1, rep.Requests)
	assert.Zero(t, rep.Confirmations)

	rep = h.cycle(t)
	assert.Equal(t, 1, rep.Confirmations)
	assert.Equal(t, []sent{{"request", "r1"}, {"confirmation", "r1"}}, h.gateway.deliveries())
}

func TestRunCycle_PendingPhaseRescansAfterEachSend(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r1", t0, model.Progress{RequestSent: true}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{RequestSent: true}))
	h.store.add(registration("r3", t0.Add(2*time.Minute), model.Progress{RequestSent: true}))
	// r2 is confirmed while r1's reminder is in flight.
	h.gateway.after = func(msg notify.Message) {
		if msg.Body == "r1" {
			h.store.confirm("r2")
		}
	}

	h.now = t0.Add(13 * time.Hour)
	rep := h.cycle(t)

	assert.Equal(t, 2, rep.Reminders)
	assert.Equal(t, 1, rep.Confirmations)
	assert.Equal(t, []sent{
		{"reminder", "r1"}, {"reminder", "r3"}, {"confirmation", "r2"},
	}, h.gateway.deliveries())
}

func TestRunCycle_VanishedRecordIsSkipped(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r1", t0, model.Progress{}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{}))
	// r1 is cancelled by its registrant while its request is being sent.
	h.gateway.after = func(msg notify.Message) {
		if msg.Body == "r1" {
			h.store.remove("r1")
		}
	}

	rep := h.cycle(t)
	assert.False(t, rep.Aborted)
	assert.Equal(t, 2, rep.Requests)
	r2, _ := h.store.get("r2")
	assert.True(t, r2.RequestSent)
}

func TestRunCycle_UndeliverableBlocksByDefault(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("bad", t0, model.Progress{}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{}))
	h.gateway.fail = func(_ int, msg notify.Message) error {
		if msg.To == "bad@example.com" {
			return notify.Permanent(errors.New("550 no such user"))
		}
		return nil
	}

	for i := 0; i < 2; i++ {
		rep := h.cycle(t)
		assert.True(t, rep.Aborted)
		assert.Zero(t, rep.Requests)
	}
	r2, _ := h.store.get("r2")
	assert.False(t, r2.RequestSent)
}

func TestRunCycle_SkipUndeliverable(t *testing.T) {
	h := newHarness(t, scheduler.Config{SkipUndeliverable: true})
	h.store.add(registration("bad", t0, model.Progress{}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{}))
	h.gateway.fail = func(_ int, msg notify.Message) error {
		if msg.To == "bad@example.com" {
			return notify.Permanent(errors.New("550 no such user"))
		}
		return nil
	}

	rep := h.cycle(t)
	assert.False(t, rep.Aborted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Requests)
	bad, _ := h.store.get("bad")
	assert.False(t, bad.RequestSent)

	// Transient failures still abort the cycle.
	h.store.add(registration("r3", t0.Add(2*time.Minute), model.Progress{}))
	h.gateway.fail = func(_ int, msg notify.Message) error {
		if msg.To == "r3@example.com" {
			return errors.New("connection reset")
		}
		if msg.To == "bad@example.com" {
			return notify.Permanent(errors.New("550 no such user"))
		}
		return nil
	}
	rep = h.cycle(t)
	assert.True(t, rep.Aborted)
	assert.Equal(t, 1, rep.Skipped)
}

func TestRunCycle_StoreFaultIsReturned(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.fault = errors.New("disk I/O error")

	_, err := h.sched.RunCycle(context.Background())
	assert.ErrorContains(t, err, "disk I/O error")
	assert.ErrorContains(t, h.sched.Run(context.Background()), "disk I/O error")
}

func TestRun_FinishesInFlightSendOnShutdown(t *testing.T) {
	h := newHarness(t, scheduler.Config{PollInterval: time.Hour})
	h.store.add(registration("r1", t0, model.Progress{}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{}))

	ctx, cancel := context.WithCancel(context.Background())
	h.gateway.after = func(notify.Message) { cancel() }

	require.NoError(t, h.sched.Run(ctx))

	r1, _ := h.store.get("r1")
	r2, _ := h.store.get("r2")
	assert.True(t, r1.RequestSent, "delivered notification must be recorded")
	assert.False(t, r2.RequestSent)
	assert.Len(t, h.gateway.deliveries(), 1)
}

func TestRun_SleepsBetweenCycles(t *testing.T) {
	h := newHarness(t, scheduler.Config{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.store.add(registration("late", t0, model.Progress{}))
	}()

	require.NoError(t, h.sched.Run(ctx))
	assert.Equal(t, []sent{{"request", "late"}}, h.gateway.deliveries())
}

func TestRunCycle_WithRealComposer(t *testing.T) {
	store := newMemStore()
	var got []notify.Message
	gw := notify.GatewayFunc(func(_ context.Context, msg notify.Message) error {
		got = append(got, msg)
		return nil
	})
	s, err := scheduler.New(store, gw, render.NewComposer("en", "https://example.com"), scheduler.Config{PollInterval: time.Second},
		scheduler.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	store.add(registration("r1", t0, model.Progress{}))

	_, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1@example.com", got[0].To)
	assert.Contains(t, got[0].Body, "https://example.com/registrations/tok-r1/confirm")
}

func TestRunCycle_ConfirmationDuringCooldownPreventsExpiry(t *testing.T) {
	var h *harness
	h = newThrottledHarness(t, func(context.Context, time.Duration) error {
		h.store.confirm("r2")
		return nil
	})
	h.store.add(registration("r1", t0, model.Progress{RequestSent: true, ReminderSent: true}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{RequestSent: true, ReminderSent: true}))

	h.now = t0.Add(25 * time.Hour)
	rep := h.cycle(t)

	assert.Equal(t, 1, rep.Expirations)
	assert.Equal(t, 1, rep.Confirmations)
	assert.Equal(t, []sent{{"expiry", "r1"}, {"confirmation", "r2"}}, h.gateway.deliveries())
	_, ok := h.store.get("r1")
	assert.False(t, ok)
	r2, ok := h.store.get("r2")
	require.True(t, ok)
	assert.True(t, r2.ConfirmationSent)
}

func TestRunCycle_ConfirmedDuringExpirySendIsKept(t *testing.T) {
	h := newHarness(t, scheduler.Config{})
	h.store.add(registration("r1", t0, model.Progress{RequestSent: true, ReminderSent: true}))
	h.gateway.after = func(msg notify.Message) {
		if msg.Subject == string(render.KindExpiry) {
			h.store.confirm("r1")
		}
	}

	h.now = t0.Add(25 * time.Hour)
	rep := h.cycle(t)

	assert.False(t, rep.Aborted)
	assert.Equal(t, 0, rep.Expirations)
	r1, ok := h.store.get("r1")
	require.True(t, ok)
	assert.True(t, r1.Confirmed)
	assert.Empty(t, h.store.deleted)
}

func TestRunCycle_CooldownFollowsSuccessOnly(t *testing.T) {
	var cooldowns []time.Duration
	h := newThrottledHarness(t, func(_ context.Context, d time.Duration) error {
		cooldowns = append(cooldowns, d)
		return nil
	})
	h.store.add(registration("r1", t0, model.Progress{}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{}))
	h.store.add(registration("r3", t0.Add(2*time.Minute), model.Progress{}))
	h.gateway.fail = func(n int, _ notify.Message) error {
		if n == 2 {
			return errors.New("relay unavailable")
		}
		return nil
	}

	rep := h.cycle(t)
	assert.True(t, rep.Aborted)
	assert.Equal(t, []time.Duration{10 * time.Second}, cooldowns)

	rep = h.cycle(t)
	assert.False(t, rep.Aborted)
	assert.Equal(t, 2, rep.Requests)
	assert.Len(t, cooldowns, 3)
}

func TestRunCycle_NextFetchSeesChangesMadeDuringCooldown(t *testing.T) {
	var h *harness
	h = newThrottledHarness(t, func(context.Context, time.Duration) error {
		h.store.remove("r2")
		return nil
	})
	h.store.add(registration("r1", t0, model.Progress{}))
	h.store.add(registration("r2", t0.Add(time.Minute), model.Progress{}))

	rep := h.cycle(t)

	assert.Equal(t, 1, rep.Requests)
	assert.Equal(t, []sent{{"request", "r1"}}, h.gateway.deliveries())
}
