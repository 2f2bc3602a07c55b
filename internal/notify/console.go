package notify

import (
	"context"
	"log/slog"
)

// ConsoleGateway writes messages to the log instead of sending them.
// It is meant for development setups without a mail relay.
type ConsoleGateway struct {
	logger *slog.Logger
}

// NewConsoleGateway returns a ConsoleGateway logging through logger, or the
// default logger when nil.
func NewConsoleGateway(logger *slog.Logger) *ConsoleGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleGateway{logger: logger}
}

// Send logs msg at info level and always succeeds.
func (g *ConsoleGateway) Send(ctx context.Context, msg Message) error {
	g.logger.InfoContext(ctx, "notification",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
