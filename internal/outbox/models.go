// Package outbox holds local writes waiting to be replayed against the
// remote store, grouped by the local transaction that produced them.
package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the remote operation a pending mutation maps to.
type Kind string

const (
	KindUpsert Kind = "upsert"
	KindPatch  Kind = "patch"
	KindDelete Kind = "delete"
)

// ParseKind accepts the lower-case kind names.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindUpsert, KindPatch, KindDelete:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidMutation, s)
}

var (
	ErrInvalidMutation = errors.New("outbox: invalid mutation")
	ErrQueueFull       = errors.New("outbox: queue full")
	ErrOutOfOrder      = errors.New("outbox: batch is not at the head of the queue")
)

// PendingMutation is one local write. Payload is a JSON object for upsert
// and patch and empty for delete.
type PendingMutation struct {
	ID       string          `json:"id"`
	Table    string          `json:"table"`
	Kind     Kind            `json:"kind"`
	RecordID string          `json:"record_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the fields the upload connector relies on.
func (m PendingMutation) Validate() error {
	if m.Table == "" {
		return fmt.Errorf("%w: table is required", ErrInvalidMutation)
	}
	if m.RecordID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidMutation)
	}
	if _, err := ParseKind(string(m.Kind)); err != nil {
		return err
	}
	if m.Kind == KindDelete {
		return nil
	}
	trimmed := bytes.TrimSpace(m.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return fmt.Errorf("%w: %s requires a JSON object payload", ErrInvalidMutation, m.Kind)
	}
	return nil
}

// Batch is one local transaction: the unit the connector applies and acknowledges.
type Batch struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Mutations []PendingMutation `json:"mutations"`
}

func (b Batch) clone() Batch {
	cp := b
	cp.Mutations = make([]PendingMutation, len(b.Mutations))
	for i, m := range b.Mutations {
		m.Payload = append(json.RawMessage(nil), m.Payload...)
		cp.Mutations[i] = m
	}
	return cp
}
