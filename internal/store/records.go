package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alecgard/roster/internal/outbox"
)

// RecordMutation is one uploaded write, addressed by table and record id.
type RecordMutation struct {
	Table    string
	Kind     outbox.Kind
	RecordID string
	Payload  json.RawMessage
}

func (s *Store) checkTable(table string) error {
	if _, ok := s.tables[table]; !ok {
		return statusError(http.StatusBadRequest, "unknown_table", fmt.Errorf("%w: %q", ErrUnknownTable, table))
	}
	return nil
}

func checkObject(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return statusError(http.StatusUnprocessableEntity, "invalid_payload", fmt.Errorf("%w: payload must be a JSON object", outbox.ErrInvalidMutation))
	}
	return nil
}

// ApplyMutation applies m on behalf of ownerID. Every kind is idempotent:
// upsert replaces the document, patch merges the same keys again, and
// delete of a missing record succeeds. Records owned by someone else are
// reported as 403; patching a missing record as 404.
func (s *Store) ApplyMutation(ctx context.Context, ownerID string, m RecordMutation) error {
	if err := s.checkTable(m.Table); err != nil {
		return err
	}
	if m.RecordID == "" {
		return statusError(http.StatusBadRequest, "invalid_record_id", fmt.Errorf("%w: record id is required", outbox.ErrInvalidMutation))
	}

	switch m.Kind {
	case outbox.KindUpsert:
		if err := checkObject(m.Payload); err != nil {
			return err
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO records (table_name, id, owner_id, data)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (table_name, id) DO UPDATE
			 SET data = EXCLUDED.data, updated_at = now()
			 WHERE records.owner_id = EXCLUDED.owner_id`,
			m.Table, m.RecordID, ownerID, []byte(m.Payload),
		)
		if err != nil {
			return fmt.Errorf("upserting record: %w", classify(err))
		}
		if tag.RowsAffected() == 0 {
			return statusError(http.StatusForbidden, "forbidden", fmt.Errorf("record %s/%s belongs to another owner", m.Table, m.RecordID))
		}
		return nil

	case outbox.KindPatch:
		if err := checkObject(m.Payload); err != nil {
			return err
		}
		tag, err := s.pool.Exec(ctx,
			`UPDATE records SET data = data || $4::jsonb, updated_at = now()
			 WHERE table_name = $1 AND id = $2 AND owner_id = $3`,
			m.Table, m.RecordID, ownerID, []byte(m.Payload),
		)
		if err != nil {
			return fmt.Errorf("patching record: %w", classify(err))
		}
		if tag.RowsAffected() == 0 {
			return statusError(http.StatusNotFound, "not_found", fmt.Errorf("record %s/%s not found", m.Table, m.RecordID))
		}
		return nil

	case outbox.KindDelete:
		_, err := s.pool.Exec(ctx,
			`DELETE FROM records WHERE table_name = $1 AND id = $2 AND owner_id = $3`,
			m.Table, m.RecordID, ownerID,
		)
		if err != nil {
			return fmt.Errorf("deleting record: %w", classify(err))
		}
		return nil
	}
	return statusError(http.StatusBadRequest, "invalid_kind", fmt.Errorf("%w: unknown kind %q", outbox.ErrInvalidMutation, m.Kind))
}
