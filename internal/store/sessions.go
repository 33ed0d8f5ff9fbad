package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alecgard/roster/internal/auth"
)

// createSession issues a session for identityID. It returns the opaque
// plaintext token (to be sent to the client) and the stored session.
func (s *Store) createSession(ctx context.Context, q querier, identityID string) (string, *Session, error) {
	plaintext, tokenHash, err := auth.GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	sess := &Session{}
	err = q.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, identity_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, identity_id, created_at, expires_at`,
		tokenHash, identityID, now, now.Add(s.sessionTTL),
	).Scan(&sess.TokenHash, &sess.IdentityID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", classify(err))
	}
	return plaintext, sess, nil
}

// GetSessionIdentity looks up a live session by its plaintext token and
// returns the associated identity.
func (s *Store) GetSessionIdentity(ctx context.Context, plaintext string) (*Identity, error) {
	id := &Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT i.id, i.handle, i.created_at
		 FROM sessions s JOIN identities i ON s.identity_id = i.id
		 WHERE s.token_hash = $1 AND s.expires_at > now()`,
		auth.HashToken(plaintext),
	).Scan(&id.ID, &id.Handle, &id.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting session identity: %w", classify(err))
	}
	return id, nil
}

// LookupSession implements auth.SessionLookup.
func (s *Store) LookupSession(ctx context.Context, token string) (*auth.Identity, error) {
	id, err := s.GetSessionIdentity(ctx, token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &auth.Identity{ID: id.ID, Handle: id.Handle}, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, auth.HashToken(plaintext))
	if err != nil {
		return fmt.Errorf("deleting session: %w", classify(err))
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}
