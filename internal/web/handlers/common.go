// Package handlers implements the HTTP endpoints of the attendance API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// apiResponse is the envelope every endpoint answers with. Code mirrors the
// HTTP status for clients that only look at the body.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondOK sends a successful envelope.
func respondOK(w http.ResponseWriter, msg string, data any) {
	respondJSON(w, http.StatusOK, apiResponse{Code: http.StatusOK, Msg: msg, Data: data})
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, apiResponse{Code: status, Msg: message})
}

// statusForKind maps an attendance error kind to an HTTP status.
func statusForKind(kind attendance.Kind) int {
	switch kind {
	case attendance.KindInputNotFound, attendance.KindStaffNotFound:
		return http.StatusNotFound
	case attendance.KindDecode, attendance.KindSourceUnreadable, attendance.KindNoFaceDetected:
		return http.StatusUnprocessableEntity
	case attendance.KindInvalidInput:
		return http.StatusBadRequest
	case attendance.KindDuplicateFace:
		return http.StatusConflict
	case attendance.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case attendance.KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure logs err and answers with the status its kind maps to.
// Internal errors are not echoed to the client.
func respondFailure(w http.ResponseWriter, op string, err error) {
	kind := attendance.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", "kind", kind, "error", err)
	} else {
		slog.Info(op+" rejected", "kind", kind, "error", sanitizeForLog(err.Error()))
	}

	msg := err.Error()
	if kind == attendance.KindInternal {
		msg = "internal error"
	}
	respondJSON(w, status, apiResponse{Code: status, Msg: msg, Data: map[string]string{"kind": string(kind)}})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}
