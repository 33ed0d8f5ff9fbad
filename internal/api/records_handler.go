package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/roster/internal/auth"
	"github.com/alecgard/roster/internal/outbox"
	"github.com/alecgard/roster/internal/store"
)

// recordsHandler applies uploaded mutations to the caller's records.
type recordsHandler struct {
	store RecordStore
}

func newRecordsHandler(s RecordStore) *recordsHandler {
	return &recordsHandler{store: s}
}

// Upsert handles PUT /api/v1/records/{table}/{id}.
func (h *recordsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, outbox.KindUpsert)
}

// Patch handles PATCH /api/v1/records/{table}/{id}.
func (h *recordsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, outbox.KindPatch)
}

// Delete handles DELETE /api/v1/records/{table}/{id}.
func (h *recordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, outbox.KindDelete)
}

func (h *recordsHandler) apply(w http.ResponseWriter, r *http.Request, kind outbox.Kind) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	m := store.RecordMutation{
		Table:    chi.URLParam(r, "table"),
		Kind:     kind,
		RecordID: chi.URLParam(r, "id"),
	}

	if kind != outbox.KindDelete {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
			return
		}
		m.Payload = json.RawMessage(body)
	}

	if err := h.store.ApplyMutation(r.Context(), id.ID, m); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
