// Package upload replays queued local writes against the remote store.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alecgard/roster/internal/outbox"
)

const defaultFailureHistory = 100

// Applier applies single mutations to the remote store, keyed by record id.
// Patch must be idempotent for the same payload.
type Applier interface {
	Upsert(ctx context.Context, table, id string, payload json.RawMessage) error
	Patch(ctx context.Context, table, id string, payload json.RawMessage) error
	Delete(ctx context.Context, table, id string) error
}

// Source is the local pending-write queue as seen by the connector.
type Source interface {
	NextBatch(ctx context.Context) (*outbox.Batch, error)
	Complete(ctx context.Context, batchID string) error
}

// Observer receives upload telemetry.
type Observer interface {
	ObserveBatch(status string)
	ObserveOperation(kind, result string)
	ObserveTerminal(table, kind string)
}

type noopObserver struct{}

func (noopObserver) ObserveBatch(string) {}
func (noopObserver) ObserveOperation(string, string) {}
func (noopObserver) ObserveTerminal(string, string) {}

// Failure describes a mutation rejected by the remote store.
type Failure struct {
	BatchID    string      `json:"batch_id"`
	MutationID string      `json:"mutation_id"`
	Table      string      `json:"table"`
	Kind       outbox.Kind `json:"kind"`
	RecordID   string      `json:"record_id"`
	Status     int         `json:"status"`
	Error      string      `json:"error"`
	Skipped    int         `json:"skipped"`
	At         time.Time   `json:"at"`
}

// Option configures a Connector.
type Option func(*Connector)

// WithObserver routes upload telemetry to o.
func WithObserver(o Observer) Option {
	return func(c *Connector) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFailureHistory sets how many terminal failures Failures keeps.
func WithFailureHistory(n int) Option {
	return func(c *Connector) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// Connector drains the outbox one batch at a time. Calls to DrainOnce are
// serialized so a batch is never applied by two drains at once.
type Connector struct {
	source      Source
	applier     Applier
	observer    Observer
	logger      *slog.Logger
	historySize int
	now         func() time.Time

	drainMu sync.Mutex

	mu       sync.Mutex
	failures []Failure
}

// NewConnector creates a Connector reading from source and writing through applier.
func NewConnector(source Source, applier Applier, opts ...Option) *Connector {
	c := &Connector{
		source:      source,
		applier:     applier,
		observer:    noopObserver{},
		logger:      slog.Default(),
		historySize: defaultFailureHistory,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DrainOnce applies the next pending batch, if any. A retryable failure
// leaves the batch queued and returns an error wrapping ErrRetryable; a
// terminal failure is recorded and the batch is acknowledged anyway.
func (c *Connector) DrainOnce(ctx context.Context) error {
	_, err := c.drain(ctx)
	return err
}

// drain reports whether a batch was taken off the queue.
func (c *Connector) drain(ctx context.Context) (bool, error) {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	batch, err := c.source.NextBatch(ctx)
	if err != nil {
		return false, fmt.Errorf("reading next batch: %w", err)
	}
	if batch == nil {
		return false, nil
	}

	for i, m := range batch.Mutations {
		err := c.apply(ctx, m)
		if err == nil {
			c.observer.ObserveOperation(string(m.Kind), "ok")
			continue
		}

		if Classify(err) == ClassRetryable {
			c.observer.ObserveOperation(string(m.Kind), "retryable")
			c.observer.ObserveBatch("retry")
			c.logger.Warn("upload failed, batch will be retried",
				"batch_id", batch.ID,
				"mutation_id", m.ID,
				"table", m.Table,
				"record_id", m.RecordID,
				"error", err,
			)
			return false, fmt.Errorf("%w: batch %s: %s %s/%s: %w", ErrRetryable, batch.ID, m.Kind, m.Table, m.RecordID, err)
		}

		c.observer.ObserveOperation(string(m.Kind), "terminal")
		c.recordTerminal(batch, i, err)
		break
	}

	if err := c.source.Complete(ctx, batch.ID); err != nil {
		c.observer.ObserveBatch("error")
		return false, fmt.Errorf("completing batch %s: %w", batch.ID, err)
	}
	c.observer.ObserveBatch("complete")
	return true, nil
}

func (c *Connector) apply(ctx context.Context, m outbox.PendingMutation) error {
	switch m.Kind {
	case outbox.KindUpsert:
		return c.applier.Upsert(ctx, m.Table, m.RecordID, m.Payload)
	case outbox.KindPatch:
		return c.applier.Patch(ctx, m.Table, m.RecordID, m.Payload)
	case outbox.KindDelete:
		return c.applier.Delete(ctx, m.Table, m.RecordID)
	}
	return terminalError{fmt.Errorf("%w: unknown kind %q", outbox.ErrInvalidMutation, m.Kind)}
}

// terminalError forces ClassTerminal for failures detected locally.
type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }
func (e terminalError) HTTPStatus() int { return 400 }

// recordTerminal logs the rejection of batch.Mutations[idx]. The rest of the
// transaction is skipped: later writes may depend on the rejected one.
func (c *Connector) recordTerminal(batch *outbox.Batch, idx int, err error) {
	m := batch.Mutations[idx]
	f := Failure{
		BatchID:    batch.ID,
		MutationID: m.ID,
		Table:      m.Table,
		Kind:       m.Kind,
		RecordID:   m.RecordID,
		Status:     StatusOf(err),
		Error:      fmt.Errorf("%w: %w", ErrTerminal, err).Error(),
		Skipped:    len(batch.Mutations) - idx - 1,
		At:         c.now().UTC(),
	}

	c.logger.Error("upload rejected, acknowledging batch",
		"batch_id", f.BatchID,
		"mutation_id", f.MutationID,
		"table", f.Table,
		"kind", f.Kind,
		"record_id", f.RecordID,
		"status", f.Status,
		"skipped", f.Skipped,
		"error", err,
	)
	c.observer.ObserveTerminal(m.Table, string(m.Kind))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
	if over := len(c.failures) - c.historySize; over > 0 {
		c.failures = append([]Failure(nil), c.failures[over:]...)
	}
}

// Failures returns the most recent terminal failures, oldest first.
func (c *Connector) Failures() []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Failure(nil), c.failures...)
}
