package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/config"
	"github.com/domodwyer/mailyak/v3"
)

// ErrDeliveryInProgress is returned while a delivery that outlived its
// timeout is still talking to the relay.
var ErrDeliveryInProgress = errors.New("previous smtp delivery still in progress")

// SMTPGateway sends plain-text mail through an SMTP relay. Delivery is
// at-least-once: a send that times out may still reach the relay later.
// At most one delivery runs at a time.
type SMTPGateway struct {
	addr     string
	auth     smtp.Auth
	from     string
	timeout  time.Duration
	deliver  func(*mailyak.MailYak) error
	inflight chan struct{}
}

// NewSMTPGateway builds a gateway from the mail configuration. Credentials
// are optional; without a user the relay is used unauthenticated.
func NewSMTPGateway(cfg config.Mail) *SMTPGateway {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTPGateway{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     cfg.From,
		timeout:  cfg.Timeout,
		deliver:  (*mailyak.MailYak).Send,
		inflight: make(chan struct{}, 1),
	}
}

// Send delivers msg, giving up after the configured timeout. The abandoned
// delivery keeps the gateway busy until the relay answers or drops it.
func (g *SMTPGateway) Send(ctx context.Context, msg Message) error {
	select {
	case g.inflight <- struct{}{}:
	default:
		return ErrDeliveryInProgress
	}

	mail := mailyak.New(g.addr, g.auth)
	mail.From(g.from)
	mail.To(msg.To)
	mail.Subject(msg.Subject)
	mail.Plain().Set(msg.Body)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-g.inflight }()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("smtp panic: %v", r)
			}
		}()
		done <- g.deliver(mail)
	}()

	select {
	case err := <-done:
		return classifySMTP(err)
	case <-ctx.Done():
		return fmt.Errorf("send mail to %s: %w", msg.To, ctx.Err())
	}
}

// classifySMTP marks 5xx replies as permanent. 4xx replies and network
// errors stay transient.
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("send mail: %w", err)
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return Permanent(wrapped)
	}
	return wrapped
}
