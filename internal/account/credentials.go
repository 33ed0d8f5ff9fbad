package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alecgard/roster/internal/kv"
	"github.com/alecgard/roster/internal/session"
)

// CredentialKey is the KV key holding the persisted session.
const CredentialKey = "session"

// Credentials persists the session between process runs.
type Credentials struct {
	store  kv.Store
	logger *slog.Logger
}

// NewCredentials creates a credential store over s.
func NewCredentials(s kv.Store, logger *slog.Logger) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &Credentials{store: s, logger: logger}
}

// LoadSession returns the persisted session, or nil if there is none. A
// corrupt entry is removed and reported as absent.
func (c *Credentials) LoadSession() (*session.Session, error) {
	data, err := c.store.Get(CredentialKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}

	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil || s.Token == "" {
		c.logger.Warn("discarding unreadable credential", "error", err)
		if err := c.ClearSession(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &s, nil
}

// SaveSession persists s.
func (c *Credentials) SaveSession(s *session.Session) error {
	if s == nil || s.Token == "" {
		return ErrNoSession
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := c.store.Set(CredentialKey, data); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}
	return nil
}

// ClearSession removes the persisted session. Clearing an absent entry is not an error.
func (c *Credentials) ClearSession() error {
	if err := c.store.Delete(CredentialKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("clearing credential: %w", err)
	}
	return nil
}
