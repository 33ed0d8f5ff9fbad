package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/roster/internal/auth"
	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/store"
)

// profilesHandler groups profile and organization HTTP handlers. Every route
// acts on the caller's own identity.
type profilesHandler struct {
	store ProfileStore
}

func newProfilesHandler(s ProfileStore) *profilesHandler {
	return &profilesHandler{store: s}
}

// GetProfile handles GET /api/v1/profiles/{id}. Only the caller's own row is
// visible; any other id reads as missing.
func (h *profilesHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	if chi.URLParam(r, "id") != id.ID {
		writeError(w, http.StatusNotFound, "no_rows", "not found")
		return
	}

	p, err := h.store.GetProfile(r.Context(), id.ID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutProfile handles PUT /api/v1/profiles/me.
func (h *profilesHandler) PutProfile(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	var in profile.CreateInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if in.DisplayName() == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "first_name or last_name is required")
		return
	}

	p, err := h.store.CreateProfile(r.Context(), id.ID, in)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	auditLog(r, "profile.upsert", "profile", id.ID)
	writeJSON(w, http.StatusOK, p)
}

// AttachOrganization handles PUT /api/v1/profiles/me/organization.
func (h *profilesHandler) AttachOrganization(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	var req struct {
		OrgID string `json:"org_id"`
		Role  string `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if strings.TrimSpace(req.OrgID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "org_id is required")
		return
	}
	if req.Role == "" {
		req.Role = profile.DefaultRole
	}

	p, err := h.store.AttachOrganization(r.Context(), id.ID, req.OrgID, req.Role)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	auditLog(r, "profile.attach_organization", "profile", id.ID, "org_id", req.OrgID, "role", req.Role)
	writeJSON(w, http.StatusOK, p)
}

// CreateOrganization handles POST /api/v1/organizations.
func (h *profilesHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	org, err := h.store.CreateOrganization(r.Context(), req.Name, id.ID)
	if errors.Is(err, store.ErrNameRequired) {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	auditLog(r, "organization.create", "organization", org.ID, "name", org.Name)
	writeJSON(w, http.StatusCreated, org)
}
