package account

import (
	"fmt"

	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/session"
)

// State is the manager's position in the sign-in lifecycle.
type State int

const (
	StateBootstrapping State = iota
	StateUnauthenticated
	StateValidating
	StateResolving
	StateReady
	StateDegraded
	StateInvalid
)

var stateNames = map[State]string{
	StateBootstrapping:   "bootstrapping",
	StateUnauthenticated: "unauthenticated",
	StateValidating:      "validating",
	StateResolving:       "resolving",
	StateReady:           "ready",
	StateDegraded:        "degraded",
	StateInvalid:         "invalid",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Settled reports whether the state is one the UI can render without a spinner.
func (s State) Settled() bool {
	switch s {
	case StateUnauthenticated, StateReady, StateDegraded:
		return true
	}
	return false
}

// EventKind identifies an identity event delivered from outside.
type EventKind int

const (
	SessionAppeared EventKind = iota + 1
	SessionRefreshed
	SessionDestroyed
)

func (k EventKind) String() string {
	switch k {
	case SessionAppeared:
		return "session_appeared"
	case SessionRefreshed:
		return "session_refreshed"
	case SessionDestroyed:
		return "session_destroyed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an identity event. Session is nil for SessionDestroyed.
type Event struct {
	Kind    EventKind
	Session *session.Session
}

// Snapshot is a copy of the manager's observable state.
type Snapshot struct {
	State   State
	Session *session.Session
	Profile *profile.Profile

	// Verified is false while the profile comes from cache without remote
	// confirmation.
	Verified bool

	// Err carries the retryable condition of a Degraded state, or
	// ErrSessionInvalid after a forced sign-out.
	Err error

	// Notice is a short user-facing message, such as "session expired".
	Notice string
}

// NeedsRegistration reports a signed-in identity with no profile row.
func (s Snapshot) NeedsRegistration() bool {
	return s.State == StateReady && s.Session != nil && s.Profile == nil
}
