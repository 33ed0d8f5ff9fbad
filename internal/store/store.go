// Package store is the remote authority's Postgres persistence: identities,
// one-time-code challenges, sessions, profiles, organizations and the
// records local clients upload.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCodeTTL     = 10 * time.Minute
	DefaultSessionTTL  = 30 * 24 * time.Hour
	DefaultMaxAttempts = 5
)

// Options tunes a Store. Zero values select the defaults.
type Options struct {
	CodeTTL     time.Duration
	SessionTTL  time.Duration
	MaxAttempts int
	CodeCost    int      // bcrypt cost for one-time codes
	Tables      []string // record tables clients may write to
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides database operations for the remote authority.
type Store struct {
	pool        *pgxpool.Pool
	codeTTL     time.Duration
	sessionTTL  time.Duration
	maxAttempts int
	codeCost    int
	tables      map[string]struct{}
	now         func() time.Time
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, opts Options) *Store {
	s := &Store{
		pool:        pool,
		codeTTL:     opts.CodeTTL,
		sessionTTL:  opts.SessionTTL,
		maxAttempts: opts.MaxAttempts,
		codeCost:    opts.CodeCost,
		tables:      make(map[string]struct{}, len(opts.Tables)),
		now:         time.Now,
	}
	if s.codeTTL <= 0 {
		s.codeTTL = DefaultCodeTTL
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.codeCost == 0 {
		s.codeCost = bcrypt.DefaultCost
	}
	for _, t := range opts.Tables {
		if t = strings.TrimSpace(t); t != "" {
			s.tables[t] = struct{}{}
		}
	}
	return s
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// StatusError is a database failure translated to an HTTP-like status.
type StatusError struct {
	Status int
	Code   string
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%d): %v", e.Code, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// HTTPStatus returns the status the API should answer with.
func (e *StatusError) HTTPStatus() int { return e.Status }

func statusError(status int, code string, err error) *StatusError {
	return &StatusError{Status: status, Code: code, Err: err}
}

// classify translates driver errors into StatusErrors. Integrity violations
// (class 23) become 409, data exceptions (class 22) 422, and connection or
// resource failures 503. pgx.ErrNoRows and unrecognised errors pass through.
func classify(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return statusError(http.StatusConflict, "conflict", err)
		case strings.HasPrefix(pgErr.Code, "22"):
			return statusError(http.StatusUnprocessableEntity, "invalid_data", err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57P"):
			return statusError(http.StatusServiceUnavailable, "unavailable", err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return statusError(http.StatusServiceUnavailable, "unavailable", err)
	}
	return err
}
