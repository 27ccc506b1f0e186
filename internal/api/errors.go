package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx REST response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// encodeFailure is sent when a response body cannot be marshalled.
const encodeFailure = `{"status":500,"code":"internal_error","message":"failed to encode response"}`

var (
	writeBadRequest       = errorWriter(http.StatusBadRequest, ErrCodeBadRequest)
	writeValidationError  = errorWriter(http.StatusBadRequest, ErrCodeValidation)
	writeUnauthorized     = errorWriter(http.StatusUnauthorized, ErrCodeUnauthorized)
	writeNotFound         = errorWriter(http.StatusNotFound, ErrCodeNotFound)
	writeMethodNotAllowed = errorWriter(http.StatusMethodNotAllowed, ErrCodeMethodNotAllow)
	writeConflict         = errorWriter(http.StatusConflict, ErrCodeConflict)
	writeInternalError    = errorWriter(http.StatusInternalServerError, ErrCodeInternal)
)

// errorWriter binds a status and code into a writer that only needs the
// message.
func errorWriter(status int, code string) func(http.ResponseWriter, string) {
	return func(w http.ResponseWriter, message string) {
		writeJSON(w, status, Error{Status: status, Code: code, Message: message})
	}
}

// writeJSON marshals v before touching the response so an encoding failure
// still yields a well-formed 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status, body = http.StatusInternalServerError, []byte(encodeFailure)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n')) //nolint:errcheck // Client may have gone away
}
