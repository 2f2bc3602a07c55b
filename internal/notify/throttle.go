package notify

import (
	"context"
	"sync"
	"time"
)

// Throttle enforces a cooldown after every successful send of the wrapped
// gateway. Send returns only once the cooldown has passed, so callers read
// fresh state before their next send. Failed sends start no cooldown.
type Throttle struct {
	next     Gateway
	cooldown time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// WithSleep replaces the timer used to wait out the cooldown.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ThrottleOption {
	return func(t *Throttle) { t.sleep = sleep }
}

// NewThrottle wraps next with a cooldown.
func NewThrottle(next Gateway, cooldown time.Duration, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		next:     next,
		cooldown: cooldown,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send sends msg and then waits out the cooldown. The send itself runs to
// completion even if ctx is cancelled; the cooldown ends early on
// cancellation and the delivered message still counts as sent.
func (t *Throttle) Send(ctx context.Context, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := SafeSend(context.WithoutCancel(ctx), t.next, msg); err != nil {
		return err
	}
	if t.cooldown > 0 {
		_ = t.sleep(ctx, t.cooldown)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
