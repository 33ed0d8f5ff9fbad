package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/alecgard/roster/internal/profile"
	"github.com/alecgard/roster/internal/store"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// writeStoreError maps a store failure onto the error envelope. Missing rows
// are reported as 404 with code no_rows so clients can tell "nothing there"
// apart from a failed lookup.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, profile.ErrNoRows) {
		writeError(w, http.StatusNotFound, "no_rows", "not found")
		return
	}

	var se *store.StatusError
	if errors.As(err, &se) {
		if se.Status >= http.StatusInternalServerError {
			slog.Error("store unavailable", "error", err, "request_id", RequestIDFromContext(r.Context()))
			writeError(w, se.Status, se.Code, "service temporarily unavailable")
			return
		}
		writeError(w, se.Status, se.Code, se.Err.Error())
		return
	}

	slog.Error("store error", "error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
