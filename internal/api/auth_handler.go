package api

import (
	"errors"
	"net/http"

	"github.com/alecgard/roster/internal/account"
	"github.com/alecgard/roster/internal/auth"
	"github.com/alecgard/roster/internal/session"
	"github.com/alecgard/roster/internal/store"
)

// authHandler groups sign-in HTTP handlers.
type authHandler struct {
	store     ChallengeStore
	deliverer Deliverer
	metrics   MetricsRecorder
}

func newAuthHandler(s ChallengeStore, d Deliverer, m MetricsRecorder) *authHandler {
	return &authHandler{store: s, deliverer: d, metrics: m}
}

type handleRequest struct {
	Handle string `json:"handle"`
	Code   string `json:"code"`
}

// SendChallenge handles POST /api/v1/auth/challenge.
func (h *authHandler) SendChallenge(w http.ResponseWriter, r *http.Request) {
	var req handleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	handle, err := auth.NormalizeHandle(req.Handle)
	if err != nil {
		h.metrics.IncChallenge("rejected")
		writeError(w, http.StatusUnprocessableEntity, "invalid_handle", err.Error())
		return
	}

	code, err := h.store.CreateChallenge(r.Context(), handle)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	if err := h.deliverer.Deliver(r.Context(), handle, code); err != nil {
		h.metrics.IncChallenge("failed")
		auditLog(r, "challenge.delivery_failed", "identity", handle, "error", err.Error())
		writeError(w, http.StatusBadGateway, "delivery_failed", "could not deliver the code")
		return
	}

	h.metrics.IncChallenge("sent")
	auditLog(r, "challenge.sent", "identity", handle)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// VerifyChallenge handles POST /api/v1/auth/verify.
func (h *authHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req handleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	handle, err := auth.NormalizeHandle(req.Handle)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_handle", err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "code is required")
		return
	}

	v, err := h.store.VerifyChallenge(r.Context(), handle, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidCode):
			h.metrics.IncAuthFailure("challenge")
			auditLog(r, "challenge.failed", "identity", handle)
			writeError(w, http.StatusUnauthorized, "invalid_code", "invalid code")
		case errors.Is(err, store.ErrChallengeExpired):
			h.metrics.IncAuthFailure("challenge")
			writeError(w, http.StatusUnauthorized, "challenge_expired", "code expired, request a new one")
		case errors.Is(err, store.ErrTooManyAttempts):
			h.metrics.IncAuthFailure("challenge")
			auditLog(r, "challenge.locked", "identity", handle)
			writeError(w, http.StatusTooManyRequests, "too_many_attempts", "too many attempts, request a new code")
		default:
			writeStoreError(w, r, err)
		}
		return
	}

	h.metrics.IncAuthSuccess("challenge")
	auditLog(r, "challenge.verified", "identity", v.Identity.ID, "is_new", v.IsNew)
	writeJSON(w, http.StatusOK, account.Verification{
		Session: session.Session{
			Token:     v.Token,
			OwnerID:   v.Identity.ID,
			ExpiresAt: v.ExpiresAt,
		},
		IsNewIdentity: v.IsNew,
		Profile:       v.Profile,
	})
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, session.Identity{OwnerID: id.ID, Handle: id.Handle})
}

// Logout handles POST /api/v1/auth/logout. It always succeeds; an unknown
// token is already signed out.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.store.DeleteSession(r.Context(), token); err == nil {
		auditLog(r, "session.deleted", "session", "")
	}
	w.WriteHeader(http.StatusNoContent)
}
