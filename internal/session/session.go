// Package session confirms a locally held session against the identity
// provider and degrades to an inconclusive answer when it cannot.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds the remote who-am-i check.
const DefaultTimeout = 5 * time.Second

var (
	// ErrRejected marks an explicit refusal by the identity provider. Checkers
	// must wrap it so Validate can tell rejection apart from transport trouble.
	ErrRejected = errors.New("session: rejected by identity provider")

	// ErrOffline is the cause attached to results produced without a remote call.
	ErrOffline = errors.New("session: device offline")

	// ErrNoOwner is the cause when the identity provider answers without an owner.
	ErrNoOwner = errors.New("session: identity provider returned no owner")

	// ErrNoSession is returned when there is nothing to validate.
	ErrNoSession = errors.New("session: no session")
)

// Session is the in-memory credential for the signed-in identity.
type Session struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Clone returns a copy of s, or nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Identity is the provider's answer to who-am-i.
type Identity struct {
	OwnerID string `json:"id"`
	Handle  string `json:"handle"`
}

// IdentityChecker performs the remote who-am-i call.
type IdentityChecker interface {
	WhoAmI(ctx context.Context, token string) (*Identity, error)
}

// Connectivity reports whether the device believes it is online.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func(ctx context.Context) bool

func (f ConnectivityFunc) Online(ctx context.Context) bool { return f(ctx) }

// AlwaysOnline is a Connectivity that never short-circuits validation.
var AlwaysOnline Connectivity = ConnectivityFunc(func(context.Context) bool { return true })

// ResultKind is the validator's verdict.
type ResultKind int

const (
	Validated ResultKind = iota + 1
	Invalid
	Inconclusive
)

func (k ResultKind) String() string {
	switch k {
	case Validated:
		return "validated"
	case Invalid:
		return "invalid"
	case Inconclusive:
		return "inconclusive"
	}
	return fmt.Sprintf("result(%d)", int(k))
}

// Result is returned by Validate. For Validated, Session carries the
// provider's owner id and Mismatch reports whether it differed from the
// cached one.
type Result struct {
	Kind     ResultKind
	Session  *Session
	Mismatch bool
	Err      error
}
