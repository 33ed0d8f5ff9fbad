package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecgard/roster/internal/account"
	"github.com/go-chi/chi/v5"
)

func summaryOf(t *testing.T, m *Metrics) Summary {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var s Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return s
}

func TestSummary_AccountObserver(t *testing.T) {
	m := New()
	m.ObserveTransition(account.StateBootstrapping, account.StateValidating)
	m.ObserveTransition(account.StateValidating, account.StateResolving)
	m.ObserveTransition(account.StateResolving, account.StateDegraded)
	m.ObserveRetry()
	m.ObserveRetry()

	s := summaryOf(t, m)
	if s.Account.State != "degraded" {
		t.Errorf("state = %q, want degraded", s.Account.State)
	}
	if s.Account.Transitions != 3 {
		t.Errorf("transitions = %v, want 3", s.Account.Transitions)
	}
	if s.Account.Retries != 2 {
		t.Errorf("retries = %v, want 2", s.Account.Retries)
	}
}

func TestSummary_UploadObserver(t *testing.T) {
	m := New()
	depth := 4
	m.RegisterOutboxDepth(func() int { return depth })

	m.ObserveBatch("complete")
	m.ObserveBatch("complete")
	m.ObserveBatch("retry")
	m.ObserveOperation("upsert", "ok")
	m.ObserveTerminal("todos", "patch")

	s := summaryOf(t, m)
	if s.Upload.Depth != 4 {
		t.Errorf("depth = %v, want 4", s.Upload.Depth)
	}
	if s.Upload.Completed != 2 {
		t.Errorf("completed = %v, want 2", s.Upload.Completed)
	}
	if s.Upload.Retries != 1 {
		t.Errorf("retries = %v, want 1", s.Upload.Retries)
	}
	if s.Upload.TerminalFailures != 1 {
		t.Errorf("terminal = %v, want 1", s.Upload.TerminalFailures)
	}
}

func TestSummary_ChallengesAndAuth(t *testing.T) {
	m := New()
	m.IncChallenge("sent")
	m.IncChallengeRejection()
	m.IncAuthFailure("session")
	m.IncAuthSuccess("challenge")

	s := summaryOf(t, m)
	if s.Challenges.Issued != 1 || s.Challenges.Rejections != 1 {
		t.Errorf("challenges = %+v", s.Challenges)
	}
	if s.Auth.Failures != 1 || s.Auth.Successes != 1 {
		t.Errorf("auth = %+v", s.Auth)
	}
	if s.Server.StartTime == 0 {
		t.Error("start time not set")
	}
}

func TestRegisterDBPool(t *testing.T) {
	m := New()
	stats := PoolStats{Total: 10, Idle: 7, Acquired: 3}
	m.RegisterDBPool(func() PoolStats { return stats })

	s := summaryOf(t, m)
	if s.DB.TotalConns != 10 || s.DB.IdleConns != 7 || s.DB.AcquiredConns != 3 {
		t.Errorf("db = %+v", s.DB)
	}

	// Gauges are read at scrape time.
	stats = PoolStats{Total: 4, Idle: 4}
	s = summaryOf(t, m)
	if s.DB.TotalConns != 4 || s.DB.IdleConns != 4 || s.DB.AcquiredConns != 0 {
		t.Errorf("db after change = %+v", s.DB)
	}
}

func TestMiddleware_LabelsRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/api/v1/profiles/a", "/api/v1/profiles/b", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	s := summaryOf(t, m)
	if s.HTTP.TotalRequests != 3 {
		t.Fatalf("total = %v, want 3", s.HTTP.TotalRequests)
	}
	if got, want := s.HTTP.ErrorRate, 2.0/3.0; got < want-0.001 || got > want+0.001 {
		t.Errorf("error rate = %v, want %v", got, want)
	}

	rec := httptest.NewRecorder()
	m.Exposition().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `path_pattern="/api/v1/profiles/{id}"`) {
		t.Errorf("exposition missing route pattern label:\n%s", body)
	}
}

func TestHistogramPercentile_Empty(t *testing.T) {
	if got := histogramPercentile(nil, 0.5); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}
