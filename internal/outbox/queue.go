package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultCapacity = 4096

// Queue is an ordered list of pending batches. Batches leave the queue only
// through Complete, and only from the head, so per-record order survives
// crashes and retries. It is safe for concurrent use.
type Queue struct {
	path     string // empty for an in-memory queue
	capacity int
	now      func() time.Time
	mu       sync.Mutex
	items    []Batch
}

type queueState struct {
	Items []Batch `json:"items"`
}

// NewMemQueue returns a queue that lives only in memory.
func NewMemQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{capacity: capacity, now: time.Now, items: []Batch{}}
}

// NewFileQueue opens (or creates) a queue persisted as JSON at path.
func NewFileQueue(path string, capacity int) (*Queue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("outbox: empty queue path")
	}
	q := NewMemQueue(capacity)
	q.path = path
	if err := q.load(); err != nil {
		return nil, fmt.Errorf("loading outbox: %w", err)
	}
	return q, nil
}

// Enqueue appends one local transaction and returns its batch id. Mutations
// without an id are assigned one.
func (q *Queue) Enqueue(ctx context.Context, mutations []PendingMutation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(mutations) == 0 {
		return "", fmt.Errorf("%w: empty transaction", ErrInvalidMutation)
	}
	for i, m := range mutations {
		if err := m.Validate(); err != nil {
			return "", fmt.Errorf("mutation %d: %w", i, err)
		}
	}

	batch := Batch{
		ID:        uuid.NewString(),
		CreatedAt: q.now().UTC(),
	}
	batch.Mutations = make([]PendingMutation, len(mutations))
	for i, m := range mutations {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Kind == KindDelete {
			m.Payload = nil
		} else {
			m.Payload = append(json.RawMessage(nil), m.Payload...)
		}
		batch.Mutations[i] = m
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return "", ErrQueueFull
	}
	q.items = append(q.items, batch)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return "", err
	}
	return batch.ID, nil
}

// NextBatch returns a copy of the oldest batch, or nil when the queue is empty.
// The batch stays queued until Complete is called with its id.
func (q *Queue) NextBatch(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	b := q.items[0].clone()
	return &b, nil
}

// Complete acknowledges the head batch. Completing an id that is no longer
// queued is a no-op so a repeated acknowledgement is harmless.
func (q *Queue) Complete(ctx context.Context, batchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, b := range q.items {
		if b.ID == batchID {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		return nil
	case idx > 0:
		return ErrOutOfOrder
	}

	head := q.items[0]
	q.items = q.items[1:]
	if err := q.saveLocked(); err != nil {
		q.items = append([]Batch{head}, q.items...)
		return err
	}
	return nil
}

// Depth returns the number of queued batches.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns copies of all queued batches in order.
func (q *Queue) Snapshot() []Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Batch, len(q.items))
	for i, b := range q.items {
		out[i] = b.clone()
	}
	return out
}

func (q *Queue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var state queueState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Items != nil {
		q.items = state.Items
	}
	return nil
}

func (q *Queue) saveLocked() error {
	if q.path == "" {
		return nil
	}
	data, err := json.Marshal(queueState{Items: q.items})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
