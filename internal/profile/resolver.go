package profile

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrNoRows is the remote's "no profile row for this owner" condition.
	// It is a valid answer, not a failure.
	ErrNoRows = errors.New("profile: no rows")

	// ErrNoSession is reported when a lookup is attempted without an owner.
	ErrNoSession = errors.New("profile: no active session")
)

// Fetcher reads a profile from the remote store. Implementations return an
// error matching ErrNoRows when the owner has no profile row.
type Fetcher interface {
	FetchProfile(ctx context.Context, ownerID string) (*Profile, error)
}

// Resolver turns a remote lookup into an Outcome, using the cache only to
// tell a new identity apart from a permission race. It never writes the
// cache; callers do that on OutcomeFound.
type Resolver struct {
	fetcher Fetcher
	cache   *Cache
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(fetcher Fetcher, cache *Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetcher: fetcher, cache: cache, logger: logger}
}

// Resolve looks up the profile for ownerID. The caller must have checked the
// session first; an empty ownerID yields an error outcome without a remote call.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) Outcome {
	if ownerID == "" {
		return Failed(ErrNoSession)
	}

	p, err := r.fetcher.FetchProfile(ctx, ownerID)
	switch {
	case err == nil && p != nil:
		return Found(p)
	case err == nil, errors.Is(err, ErrNoRows):
		if r.cache != nil && r.cache.Read(ownerID) != nil {
			r.logger.Warn("remote has no profile row but cache does, treating as blocked", "owner_id", ownerID)
			return AmbiguousBlocked()
		}
		return NotFound()
	default:
		r.logger.Warn("profile fetch failed", "owner_id", ownerID, "error", err)
		return Failed(err)
	}
}
