// Package response shapes the JSON bodies the API returns, including the
// shared error envelope.
package response

import (
	"encoding/json"
	"net/http"
)

// JSON encodes data as the response body with the given status. A nil data
// value sends the status line with an empty body.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if data == nil {
		w.WriteHeader(status)
		return
	}

	// Encode before writing the status so a marshalling failure can still
	// produce a proper 500 instead of a truncated body.
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	w.Write(body)
}

// Error writes the standard error envelope.
func Error(w http.ResponseWriter, status int, code, message, requestID string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}})
}

// ErrorWithDetails writes the error envelope with a free-form details map,
// used for field-level validation failures.
func ErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}, requestID string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	}})
}
