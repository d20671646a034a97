// Package handlers contains the HTTP handlers for the WAL service routes.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/turtacn/WAL-Service/pkg/errors"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeAppError translates any error into the taxonomy-mapped HTTP
// response. Unknown errors surface as INTERNAL_ERROR with the message
// masked.
func writeAppError(w http.ResponseWriter, requestID string, err error) {
	ae := errors.FromUnknown(err)
	code := ae.Code

	message := ae.Message
	if code == errors.CodeInternal || code == errors.CodeUnknown {
		// Never leak internals to callers.
		message = "internal server error"
	}

	writeJSON(w, code.HTTPStatus(), ErrorResponse{
		Code:      code.String(),
		Message:   message,
		Retryable: code.Retryable(),
		RequestID: requestID,
	})
}
