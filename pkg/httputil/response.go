// Package httputil carries the JSON response envelope shared by every API
// handler: {"status": "ok", "data": ...} or {"status": "error", "error": ...}.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type Envelope map[string]any

// APIError is the payload inside an error envelope
type APIError struct {
	Code    string `json:"code"` // machine-readable, "bad_request", "not_found"
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// JSON writes body wrapped in the status envelope. An APIError body selects
// the error envelope; a nil body with StatusNoContent writes no payload.
func JSON(w http.ResponseWriter, status int, body any, headers map[string]string) error {
	if body == nil && status == http.StatusNoContent {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		return nil
	}

	env := Envelope{"status": "ok", "data": body}
	switch body.(type) {
	case *APIError, APIError:
		env = Envelope{"status": "error", "error": body}
	}

	// all headers must land before the first body write
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}

// Error writes an error envelope stamped with the chi request id, so a
// client-reported trace id can be matched against the logs.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) error {
	return JSON(w, status, APIError{
		Code:    code,
		Message: message,
		Details: details,
		TraceID: middleware.GetReqID(r.Context()),
	}, map[string]string{
		"Cache-Control": "no-store",
	})
}
