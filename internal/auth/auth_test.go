package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// --- mock lookup ---

type mockSessionLookup struct {
	sessions map[string]*Identity
}

func (m *mockSessionLookup) LookupSession(ctx context.Context, token string) (*Identity, error) {
	if token == "rst_broken" {
		return nil, errors.New("connection refused")
	}
	id, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return id, nil
}

// --- GenerateSessionToken tests ---

func TestGenerateSessionToken_PrefixAndLength(t *testing.T) {
	plaintext, hash, err := GenerateSessionToken()
	if err != nil {
		t.Fatalf("GenerateSessionToken() error: %v", err)
	}

	if !strings.HasPrefix(plaintext, "rst_") {
		t.Errorf("token should start with 'rst_', got %q", plaintext)
	}

	// "rst_" (4) + 43 random chars = 47
	if len(plaintext) != 47 {
		t.Errorf("expected token length 47, got %d", len(plaintext))
	}

	if hash != HashToken(plaintext) {
		t.Error("returned hash does not match HashToken(plaintext)")
	}
}

func TestGenerateSessionToken_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		plaintext, _, err := GenerateSessionToken()
		if err != nil {
			t.Fatalf("GenerateSessionToken() error: %v", err)
		}
		if seen[plaintext] {
			t.Fatalf("duplicate token generated: %s", plaintext)
		}
		seen[plaintext] = true
	}
}

// --- HashToken tests ---

func TestHashToken(t *testing.T) {
	if HashToken("rst_a") != HashToken("rst_a") {
		t.Error("HashToken should be deterministic")
	}
	if HashToken("rst_a") == HashToken("rst_b") {
		t.Error("different tokens should produce different hashes")
	}
	// SHA-256 produces 64 hex characters
	if h := HashToken("anything"); len(h) != 64 {
		t.Errorf("expected hash length 64, got %d", len(h))
	}
}

// --- GenerateCode tests ---

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode() error: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("expected %d digits, got %q", CodeLength, code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code contains non-digit: %q", code)
			}
		}
	}
}

// --- NormalizeHandle tests ---

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ada@example.com", "ada@example.com", false},
		{"  Ada@Example.COM ", "ada@example.com", false},
		{"+44 20 7946-0958", "+442079460958", false},
		{"+1 (555) 010-9999", "+15550109999", false},
		{"", "", true},
		{"ada", "", true},
		{"ada@localhost", "", true},
		{"Ada <ada@example.com>", "", true},
		{"+123", "", true},
		{"+1234567890123456", "", true},
		{"+44x2079460958", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeHandle(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidHandle) {
					t.Fatalf("NormalizeHandle(%q) error = %v, want ErrInvalidHandle", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeHandle(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeHandle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// --- Context helpers tests ---

func TestIdentityContext_RoundTrip(t *testing.T) {
	id := &Identity{ID: "u1", Handle: "ada@example.com"}
	ctx := ContextWithIdentity(context.Background(), id, "rst_tok")

	got := IdentityFromContext(ctx)
	if got == nil || got.ID != "u1" {
		t.Fatalf("expected identity u1 from context, got %+v", got)
	}
	if tok := TokenFromContext(ctx); tok != "rst_tok" {
		t.Errorf("expected token rst_tok, got %q", tok)
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	if got := IdentityFromContext(context.Background()); got != nil {
		t.Errorf("expected nil from empty context, got %+v", got)
	}
	if tok := TokenFromContext(context.Background()); tok != "" {
		t.Errorf("expected empty token, got %q", tok)
	}
}

// --- SessionMiddleware tests ---

func TestSessionMiddleware(t *testing.T) {
	lookup := &mockSessionLookup{
		sessions: map[string]*Identity{
			"rst_valid": {ID: "u1", Handle: "ada@example.com"},
		},
	}

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()) == nil {
			t.Error("expected identity in context inside handler")
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid session", "Bearer rst_valid", http.StatusOK},
		{"lower-case scheme", "bearer rst_valid", http.StatusOK},
		{"unknown session", "Bearer rst_wrong", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token rst_valid", http.StatusUnauthorized},
		{"bearer only", "Bearer", http.StatusUnauthorized},
		{"lookup unavailable", "Bearer rst_broken", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			failures := 0
			handler := SessionMiddleware(lookup, func() { failures++ })(okHandler)
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assertJSONError(t, rr)
				if failures != 1 {
					t.Errorf("expected onFailure to run once, ran %d times", failures)
				}
			}
			if tt.wantStatus == http.StatusServiceUnavailable && failures != 0 {
				t.Errorf("onFailure should not run when the lookup is unavailable, ran %d times", failures)
			}
		})
	}
}

// assertJSONError checks that the response body contains the expected error JSON structure.
func assertJSONError(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()

	ct := rr.Header().Get("Content-Type")
	if !strings.Contains(ct, "application/json") {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if resp.Error.Code != "unauthorized" {
		t.Errorf("expected error code 'unauthorized', got %q", resp.Error.Code)
	}
	if resp.Error.Message == "" {
		t.Error("expected non-empty error message")
	}
}
