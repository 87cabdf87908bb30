// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/voxsync/internal/auth"
	"github.com/ManuGH/voxsync/internal/capture"
	"github.com/ManuGH/voxsync/internal/connectivity"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
	"github.com/ManuGH/voxsync/internal/engine"
	"github.com/ManuGH/voxsync/internal/log"
)

// Error codes carried in the "error" field of JSON error bodies.
const (
	codeBadRequest     = "bad_request"
	codeUnauthorized   = "unauthorized"
	codeNotFound       = "not_found"
	codeConflict       = "conflict"
	codeAuthFailed     = "auth_failed"
	codeUnsupported    = "not_supported"
	codeUnavailable    = "unavailable"
	codeThrottled      = "throttled"
	codeInternal       = "internal_error"
	codeDeviceMissing  = "device_unavailable"
	codeCaptureFailure = "capture_failed"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// respondError maps domain errors onto HTTP statuses. Unclassified errors
// are logged and reported as 500 without leaking their text.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	detail := err.Error()
	if status == http.StatusInternalServerError && code == codeInternal {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "api.internal_error").
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
		detail = "internal server error"
	}
	writeError(w, status, code, detail)
}

func classify(err error) (int, string) {
	switch {
	case store.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, capture.ErrAlreadyCapturing):
		return http.StatusConflict, codeConflict
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, codeDeviceMissing
	case errors.Is(err, capture.ErrPersistence), errors.Is(err, capture.ErrCaptureFailed):
		return http.StatusInternalServerError, codeCaptureFailure
	case errors.Is(err, auth.ErrAuthFailed):
		return http.StatusUnauthorized, codeAuthFailed
	case errors.Is(err, auth.ErrNotSignedIn):
		return http.StatusConflict, codeConflict
	case errors.Is(err, engine.ErrSignInUnsupported):
		return http.StatusNotImplemented, codeUnsupported
	case errors.Is(err, connectivity.ErrCheckThrottled):
		return http.StatusTooManyRequests, codeThrottled
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid API token")
}
