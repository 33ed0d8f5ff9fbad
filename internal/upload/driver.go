package upload

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Driver calls the connector whenever local writes may be pending: on every
// tick and whenever Kick is called. A retryable failure ends the current run;
// the batch is picked up again on the next tick.
type Driver struct {
	connector *Connector
	interval  time.Duration
	kick      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	onIdle    func()
}

// NewDriver creates a Driver that drains every interval.
func NewDriver(c *Connector, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Driver{
		connector: c,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// OnIdle registers a hook called after each run that emptied the queue.
func (d *Driver) OnIdle(fn func()) {
	d.onIdle = fn
}

// Start drains until Stop is called or ctx is cancelled. It blocks.
func (d *Driver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.run(ctx)
	for {
		select {
		case <-ticker.C:
			d.run(ctx)
		case <-d.kick:
			d.run(ctx)
		case <-ctx.Done():
			return
		case <-d.done:
			return
		}
	}
}

// Kick requests a drain without waiting for the next tick.
func (d *Driver) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Stop signals the drain loop to exit.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

// run drains batches until the queue is empty or a drain fails.
func (d *Driver) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := d.connector.drain(ctx)
		if err != nil {
			if !errors.Is(err, ErrRetryable) {
				d.connector.logger.Error("upload drain failed", "error", err)
			}
			return
		}
		if !processed {
			if d.onIdle != nil {
				d.onIdle()
			}
			return
		}
	}
}
