package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/payrail/payrail/pkg/accounts"
	"github.com/payrail/payrail/pkg/transaction"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// Common error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"

	// Transfer-specific error codes
	ErrCodeTransferFailed = transaction.CodeTransferFailed
)

// Common errors
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrValidationFailed = errors.New("validation failed")
)

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, transaction.ErrNotFound),
		errors.Is(err, transaction.ErrSenderNotFound),
		errors.Is(err, transaction.ErrReceiverNotFound),
		errors.Is(err, transaction.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, transaction.ErrSelfTransfer),
		errors.Is(err, transaction.ErrInsufficientBalance),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, accounts.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromError returns the wire error code for a domain error.
func ErrorCodeFromError(err error) string {
	if errors.Is(err, transaction.ErrTransferFailed) {
		return ErrCodeTransferFailed
	}
	return ErrorCodeFromStatus(HTTPStatusFromError(err))
}

// ErrorCodeFromStatus returns an error code for the given HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusMethodNotAllowed:
		return ErrCodeMethodNotAllowed
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusTooManyRequests:
		return ErrCodeTooManyRequests
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeInternalServer
	}
}

// HandleError is a convenience function to handle errors and write appropriate responses.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	code := ErrorCodeFromError(err)
	Error(w, status, code, err.Error(), requestID)
}
