// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	notemodel "github.com/missionops/voicesync/internal/domain/notes/model"
	"github.com/missionops/voicesync/internal/domain/session/model"
	"github.com/missionops/voicesync/internal/log"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeNotFound writes a 404 Not Found response
func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

// writeBadRequest writes a 400 response carrying the validation message
func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// writeError maps a domain error onto the wire: validation failures are
// the caller's fault, everything else is a 500 with the detail kept in
// the server log only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeNotFound(w)
	case errors.Is(err, model.ErrValidation), errors.Is(err, notemodel.ErrValidation):
		writeBadRequest(w, err)
	default:
		log.FromContext(r.Context()).Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// writeConflict writes the 409 carrying both versions so the client can
// re-fetch and resubmit without a second round trip to discover the
// authoritative counter.
func writeConflict(w http.ResponseWriter, res notemodel.UpdateResult) {
	writeJSON(w, http.StatusConflict, map[string]any{
		"error":            "version_conflict",
		"current_version":  res.CurrentVersion,
		"expected_version": res.ExpectedVersion,
	})
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
