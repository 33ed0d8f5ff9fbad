package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alecgard/roster/internal/auth"
	"github.com/alecgard/roster/internal/metrics"
	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/ratelimit"
	"github.com/alecgard/roster/internal/store"
)

// ChallengeStore issues and redeems one-time codes and ends sessions.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, handle string) (string, error)
	VerifyChallenge(ctx context.Context, handle, code string) (*store.Verification, error)
	DeleteSession(ctx context.Context, token string) error
}

// ProfileStore reads and writes profiles and organizations.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*profile.Profile, error)
	CreateProfile(ctx context.Context, id string, in profile.CreateInput) (*profile.Profile, error)
	AttachOrganization(ctx context.Context, id, orgID, role string) (*profile.Profile, error)
	CreateOrganization(ctx context.Context, name, createdBy string) (*store.Organization, error)
}

// RecordStore applies uploaded mutations.
type RecordStore interface {
	ApplyMutation(ctx context.Context, ownerID string, m store.RecordMutation) error
}

// Pinger reports database reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsRecorder is an optional interface for recording sign-in metrics.
type MetricsRecorder interface {
	IncChallenge(result string)
	IncChallengeRejection()
	IncAuthFailure(authType string)
	IncAuthSuccess(authType string)
}

type noopRecorder struct{}

func (noopRecorder) IncChallenge(string)    {}
func (noopRecorder) IncChallengeRejection() {}
func (noopRecorder) IncAuthFailure(string)  {}
func (noopRecorder) IncAuthSuccess(string)  {}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Challenges     ChallengeStore
	Profiles       ProfileStore
	Records        RecordStore
	Sessions       auth.SessionLookup
	Deliverer      Deliverer
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	DB             Pinger
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	var recorder MetricsRecorder = noopRecorder{}
	if deps.Metrics != nil {
		recorder = deps.Metrics
		r.Use(deps.Metrics.Middleware)
	}
	if deps.Deliverer == nil {
		deps.Deliverer = LogDeliverer{}
	}

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))

	authH := newAuthHandler(deps.Challenges, deps.Deliverer, recorder)
	profiles := newProfilesHandler(deps.Profiles)
	records := newRecordsHandler(deps.Records)

	r.Get("/health", healthHandler(deps.DB))
	r.Get("/.well-known/roster.json", WellKnownHandler)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Exposition())
		r.Get("/api/v1/metrics/summary", deps.Metrics.Handler())
	}

	// Public sign-in routes.
	r.Route("/api/v1/auth", func(ar chi.Router) {
		ar.Group(func(cr chi.Router) {
			if deps.Limiter != nil {
				cr.Use(ratelimit.Middleware(deps.Limiter, handleKey, recorder.IncChallengeRejection))
			}
			cr.Post("/challenge", authH.SendChallenge)
		})
		ar.Post("/verify", authH.VerifyChallenge)
		ar.Post("/logout", authH.Logout)

		ar.Group(func(sr chi.Router) {
			sr.Use(auth.SessionMiddleware(deps.Sessions, func() { recorder.IncAuthFailure("session") }))
			sr.Get("/me", authH.Me)
		})
	})

	// Session-authed routes.
	r.Group(func(ar chi.Router) {
		ar.Use(auth.SessionMiddleware(deps.Sessions, func() { recorder.IncAuthFailure("session") }))

		ar.Get("/api/v1/profiles/{id}", profiles.GetProfile)
		ar.Put("/api/v1/profiles/me", profiles.PutProfile)
		ar.Put("/api/v1/profiles/me/organization", profiles.AttachOrganization)
		ar.Post("/api/v1/organizations", profiles.CreateOrganization)

		ar.Put("/api/v1/records/{table}/{id}", records.Upsert)
		ar.Patch("/api/v1/records/{table}/{id}", records.Patch)
		ar.Delete("/api/v1/records/{table}/{id}", records.Delete)
	})

	return r
}

// healthHandler reports liveness and, when db is set, database reachability.
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				slog.Warn("health check: database unreachable", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
