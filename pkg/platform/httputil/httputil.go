// Package httputil centralizes JSON response writing and error envelopes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"
)

// Error is an error carrying an HTTP-facing code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds an *Error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// StatusFor maps a code to an HTTP status.
func StatusFor(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {"error", "error_description"} envelope. Internal
// errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := CodeInternal
	desc := ""
	var he *Error
	if errors.As(err, &he) {
		code = he.Code
		desc = he.Message
	}
	body := map[string]string{"error": string(code)}
	if code != CodeInternal && desc != "" {
		body["error_description"] = desc
	}
	WriteJSON(w, StatusFor(code), body)
}
