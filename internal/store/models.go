package store

import (
	"errors"
	"time"

	"github.com/alecgard/roster/internal/profile"
)

var (
	// ErrInvalidCode is returned for a wrong code or a handle with no pending challenge.
	ErrInvalidCode = errors.New("invalid code")

	// ErrChallengeExpired is returned when the code's lifetime has passed.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrTooManyAttempts is returned once a challenge has used up its attempts.
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrUnknownTable is returned for record tables outside the allow-list.
	ErrUnknownTable = errors.New("unknown table")

	// ErrNameRequired is returned when an organization has no name.
	ErrNameRequired = errors.New("name is required")
)

// Identity is a verified handle.
type Identity struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is an issued session. Only the token hash is stored.
type Session struct {
	TokenHash  string    `json:"-"`
	IdentityID string    `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Verification is the result of a successfully completed challenge. Profile
// is nil when the identity has not registered one.
type Verification struct {
	Token     string
	ExpiresAt time.Time
	Identity  Identity
	IsNew     bool
	Profile   *profile.Profile
}

// Organization groups profiles.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
