package api

import (
	"context"
	"log/slog"
)

// Deliverer sends a one-time code to the owner of handle.
type Deliverer interface {
	Deliver(ctx context.Context, handle, code string) error
}

// LogDeliverer writes codes to the log instead of sending them. It is meant
// for development servers.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver implements Deliverer.
func (d LogDeliverer) Deliver(ctx context.Context, handle, code string) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "challenge code issued", "handle", handle, "code", code)
	return nil
}
