package httpapi

import (
	"encoding/json"
	"net/http"

	"marcutd/internal/pull"
	"marcutd/internal/store"
	"marcutd/internal/supervisor"
	"marcutd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps well-known typed errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case store.IsManifestMissing(err):
		return http.StatusNotFound
	case store.IsBlobMissing(err), store.IsSizeMismatch(err), store.IsDigestUnrecognized(err):
		return http.StatusConflict
	case supervisor.IsPortUnavailable(err), supervisor.IsReadinessTimeout(err), supervisor.IsLaunchFailure(err):
		return http.StatusServiceUnavailable
	}
	switch pull.CategoryOf(err) {
	case pull.CategoryNoSpace:
		return http.StatusInsufficientStorage
	case pull.CategoryPermission:
		return http.StatusForbidden
	case pull.CategoryTimeout, pull.CategoryConnReset, pull.CategoryStreamEnded, pull.CategoryNetwork:
		return http.StatusBadGateway
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
