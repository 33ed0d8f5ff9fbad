package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/roster.json.
const wellKnownManifest = `{
  "name": "Roster",
  "description": "Identity and profile authority with record upload",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization",
    "challenge": "/api/v1/auth/challenge",
    "verify": "/api/v1/auth/verify"
  },
  "endpoints": {
    "me": "/api/v1/auth/me",
    "profiles": "/api/v1/profiles/{id}",
    "organizations": "/api/v1/organizations",
    "records": "/api/v1/records/{table}/{id}"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static roster discovery manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
