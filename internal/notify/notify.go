// Package notify delivers registrant notifications over an outbound channel.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Gateway sends a message and reports failure as an error. Send blocks until
// the channel has accepted or rejected the message.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f GatewayFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// ErrNoRecipient is returned for messages without an address.
var ErrNoRecipient = errors.New("message has no recipient")

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent delivery failure"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks err as a failure that retrying cannot fix, such as a
// recipient address the mail server rejects.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}

// SafeSend calls g.Send and turns a panic inside the gateway into an error.
func SafeSend(ctx context.Context, g Gateway, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification gateway panic: %v", r)
		}
	}()
	if msg.To == "" {
		return Permanent(ErrNoRecipient)
	}
	return g.Send(ctx, msg)
}
