package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey int

const (
	identityContextKey contextKey = iota
	tokenContextKey
)

// ContextWithIdentity returns a new context carrying the given identity and
// the token it authenticated with.
func ContextWithIdentity(ctx context.Context, id *Identity, token string) context.Context {
	ctx = context.WithValue(ctx, identityContextKey, id)
	return context.WithValue(ctx, tokenContextKey, token)
}

// IdentityFromContext extracts the identity from the context, or nil if not present.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// TokenFromContext returns the session token the request authenticated with.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// SessionMiddleware validates the bearer session token and injects the
// identity into the request context. onFailure hooks run on every rejection.
func SessionMiddleware(sessions SessionLookup, onFailure ...func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				for _, fn := range onFailure {
					fn()
				}
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			id, err := sessions.LookupSession(r.Context(), token)
			if err != nil && !errors.Is(err, ErrSessionNotFound) {
				writeErrorJSON(w, http.StatusServiceUnavailable, "unavailable", "session lookup unavailable")
				return
			}
			if id == nil {
				for _, fn := range onFailure {
					fn()
				}
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			ctx := ContextWithIdentity(r.Context(), id, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeErrorJSON(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    code,
			Message: message,
		},
	})
}
