package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
)

// ErrInvalidHandle is returned for handles that are neither an email address
// nor an E.164 phone number.
var ErrInvalidHandle = errors.New("invalid handle")

// ErrSessionNotFound is returned by SessionLookup implementations when the
// token matches no live session. Any other lookup error is treated as the
// lookup being unavailable, not as a rejection.
var ErrSessionNotFound = errors.New("session not found")

// Identity is the principal behind an authenticated session.
type Identity struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// SessionLookup is the interface for resolving session tokens to identities.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*Identity, error)
}

// CodeLength is the number of digits in a one-time code.
const CodeLength = 6

const tokenPrefix = "rst_"

// GenerateSessionToken creates an opaque session token with the "rst_" prefix
// followed by 43 URL-safe random characters. It returns the plaintext, which
// is handed to the client once, and the hash that is stored.
func GenerateSessionToken() (plaintext, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}
	plaintext = tokenPrefix + base64.RawURLEncoding.EncodeToString(b)
	return plaintext, HashToken(plaintext), nil
}

// HashToken returns the hex-encoded SHA-256 hash of the given plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// GenerateCode returns a uniformly random, zero-padded numeric code.
func GenerateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// NormalizeHandle canonicalizes an email address (lower case, no display
// name) or a phone number (leading "+", 8 to 15 digits, separators removed).
func NormalizeHandle(handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", ErrInvalidHandle
	}

	if strings.HasPrefix(handle, "+") {
		var digits strings.Builder
		for _, r := range handle[1:] {
			switch {
			case r >= '0' && r <= '9':
				digits.WriteRune(r)
			case r == ' ' || r == '-' || r == '(' || r == ')':
			default:
				return "", ErrInvalidHandle
			}
		}
		if n := digits.Len(); n < 8 || n > 15 {
			return "", ErrInvalidHandle
		}
		return "+" + digits.String(), nil
	}

	addr, err := mail.ParseAddress(handle)
	if err != nil || addr.Address != handle {
		return "", ErrInvalidHandle
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || !strings.Contains(addr.Address[at:], ".") {
		return "", ErrInvalidHandle
	}
	return strings.ToLower(addr.Address), nil
}
