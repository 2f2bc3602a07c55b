// Package eventlock provides mutual exclusion keyed by event ID across
// processes. The web path holds the lock while it allocates seats and the
// scheduler holds it while it deletes an expired registration.
package eventlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for event lock")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker acquires the per-event lock.
type Locker interface {
	Lock(ctx context.Context, eventID string) (Unlock, error)
}

// Noop is a Locker that never blocks. It is used when the store's own
// transactions are the only serialization needed.
type Noop struct{}

// Lock returns immediately with an Unlock that does nothing.
func (Noop) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Redis implements Locker with SET NX and a TTL so a crashed holder cannot
// keep an event locked forever.
type Redis struct {
	client   redis.Cmdable
	ttl      time.Duration
	wait     time.Duration
	retry    time.Duration
	newToken func() string
}

// Option configures a Redis locker.
type Option func(*Redis)

// WithTTL sets how long an unreleased lock survives.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) { r.ttl = ttl }
}

// WithWait sets how long Lock keeps retrying before ErrLockTimeout.
func WithWait(wait, retry time.Duration) Option {
	return func(r *Redis) {
		r.wait = wait
		r.retry = retry
	}
}

// NewRedis returns a Redis locker using client.
func NewRedis(client redis.Cmdable, opts ...Option) *Redis {
	r := &Redis{
		client:   client,
		ttl:      30 * time.Second,
		wait:     10 * time.Second,
		retry:    50 * time.Millisecond,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect parses url, connects and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(eventID string) string {
	return "eventlock:" + eventID
}

// Lock blocks until the lock for eventID is held, ctx is done, or the wait
// limit passes.
func (r *Redis) Lock(ctx context.Context, eventID string) (Unlock, error) {
	k := key(eventID)
	token := r.newToken()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire event lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return r.release(ctx, k, token)
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockTimeout
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Redis) release(ctx context.Context, k, token string) error {
	n, err := r.client.Eval(ctx, releaseScript, []string{k}, token).Int64()
	if err != nil {
		return fmt.Errorf("release event lock: %w", err)
	}
	if n == 0 {
		slog.Warn("event lock expired before release", "key", k)
	}
	return nil
}

// Ping checks the connection to Redis.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// With runs fn while holding the lock for eventID. A release failure is
// logged; fn's error wins.
func With(ctx context.Context, l Locker, eventID string, fn func() error) error {
	unlock, err := l.Lock(ctx, eventID)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			slog.Error("release event lock", "event_id", eventID, "error", err)
		}
	}()
	return fn()
}
