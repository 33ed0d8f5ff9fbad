package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/alecgard/roster/internal/auth"
)

// CreateChallenge starts a one-time-code challenge for handle, replacing any
// pending one, and returns the plaintext code for delivery. Only its bcrypt
// hash is stored.
func (s *Store) CreateChallenge(ctx context.Context, handle string) (string, error) {
	code, err := auth.GenerateCode()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.codeCost)
	if err != nil {
		return "", fmt.Errorf("hashing code: %w", err)
	}

	now := s.now()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO challenges (handle, code_hash, attempts, created_at, expires_at)
		 VALUES ($1, $2, 0, $3, $4)
		 ON CONFLICT (handle) DO UPDATE
		 SET code_hash = EXCLUDED.code_hash, attempts = 0,
		     created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		handle, string(hash), now, now.Add(s.codeTTL),
	)
	if err != nil {
		return "", fmt.Errorf("creating challenge: %w", classify(err))
	}
	return code, nil
}

// VerifyChallenge checks code against the pending challenge for handle. On
// success the challenge is consumed, the identity is created on first use and
// a new session is issued, all in one transaction.
func (s *Store) VerifyChallenge(ctx context.Context, handle, code string) (*Verification, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", classify(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		codeHash  string
		attempts  int
		expiresAt time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT code_hash, attempts, expires_at FROM challenges
		 WHERE handle = $1 FOR UPDATE`, handle,
	).Scan(&codeHash, &attempts, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("reading challenge: %w", classify(err))
	}

	if failure := s.checkChallenge(codeHash, attempts, expiresAt, code); failure != nil {
		if errors.Is(failure, ErrInvalidCode) && attempts+1 < s.maxAttempts {
			_, err = tx.Exec(ctx, `UPDATE challenges SET attempts = attempts + 1 WHERE handle = $1`, handle)
		} else {
			_, err = tx.Exec(ctx, `DELETE FROM challenges WHERE handle = $1`, handle)
			if errors.Is(failure, ErrInvalidCode) {
				failure = ErrTooManyAttempts
			}
		}
		if err != nil {
			return nil, fmt.Errorf("recording failed attempt: %w", classify(err))
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing failed attempt: %w", classify(err))
		}
		return nil, failure
	}

	if _, err := tx.Exec(ctx, `DELETE FROM challenges WHERE handle = $1`, handle); err != nil {
		return nil, fmt.Errorf("consuming challenge: %w", classify(err))
	}

	v := &Verification{}
	err = tx.QueryRow(ctx,
		`INSERT INTO identities (handle) VALUES ($1)
		 ON CONFLICT (handle) DO NOTHING
		 RETURNING id, handle, created_at`, handle,
	).Scan(&v.Identity.ID, &v.Identity.Handle, &v.Identity.CreatedAt)
	switch {
	case err == nil:
		v.IsNew = true
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx,
			`SELECT id, handle, created_at FROM identities WHERE handle = $1`, handle,
		).Scan(&v.Identity.ID, &v.Identity.Handle, &v.Identity.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("reading identity: %w", classify(err))
		}
	default:
		return nil, fmt.Errorf("creating identity: %w", classify(err))
	}

	token, sess, err := s.createSession(ctx, tx, v.Identity.ID)
	if err != nil {
		return nil, err
	}
	v.Token = token
	v.ExpiresAt = sess.ExpiresAt

	if !v.IsNew {
		p, err := getProfile(ctx, tx, v.Identity.ID)
		switch {
		case err == nil:
			v.Profile = p
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing verification: %w", classify(err))
	}
	return v, nil
}

// checkChallenge returns nil if code is acceptable, otherwise the reason.
func (s *Store) checkChallenge(codeHash string, attempts int, expiresAt time.Time, code string) error {
	switch {
	case !s.now().Before(expiresAt):
		return ErrChallengeExpired
	case attempts >= s.maxAttempts:
		return ErrTooManyAttempts
	case bcrypt.CompareHashAndPassword([]byte(codeHash), []byte(code)) != nil:
		return ErrInvalidCode
	}
	return nil
}

// CleanExpiredChallenges deletes challenges whose code can no longer be used.
func (s *Store) CleanExpiredChallenges(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM challenges WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired challenges: %w", classify(err))
	}
	return tag.RowsAffected(), nil
}
