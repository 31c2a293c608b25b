package domain

import (
	"fmt"
	"net/http"
)

// Error is a failure whose message is safe to return to callers verbatim.
// Anything that is not a *Error must be masked at the HTTP boundary.
type Error struct {
	Code    string // stable machine-readable identifier
	Message string // user-safe text
	Status  int    // HTTP status for the boundary
}

func (e *Error) Error() string { return e.Message }

// Is matches errors of the same code, so sentinel comparison with errors.Is
// works for dynamically constructed instances such as UpstreamError.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrEmptyMessage rejects blank input after trimming.
	ErrEmptyMessage = &Error{
		Code:    "validation",
		Message: "Message cannot be empty",
		Status:  http.StatusBadRequest,
	}

	// ErrMessageTooLong rejects input over MaxMessageLength characters.
	ErrMessageTooLong = &Error{
		Code:    "validation",
		Message: fmt.Sprintf("Message too long. Maximum %d characters allowed", MaxMessageLength),
		Status:  http.StatusBadRequest,
	}

	// ErrRateLimited is returned when sliding-window admission is denied.
	ErrRateLimited = &Error{
		Code:    "rate_limited",
		Message: "Too many requests. Please wait a moment and try again",
		Status:  http.StatusTooManyRequests,
	}

	// ErrNotFound is returned for conversations or configs that do not exist.
	ErrNotFound = &Error{
		Code:    "not_found",
		Message: "Conversation not found",
		Status:  http.StatusNotFound,
	}

	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = &Error{
		Code:    "forbidden",
		Message: "Unauthorized access",
		Status:  http.StatusForbidden,
	}

	// ErrNoConfiguration is returned when no LLM configuration can be resolved.
	ErrNoConfiguration = &Error{
		Code:    "no_configuration",
		Message: "No LLM configuration found. Please configure an LLM first.",
		Status:  http.StatusServiceUnavailable,
	}

	// ErrInvalidConfig rejects configurations violating the value constraints.
	ErrInvalidConfig = &Error{
		Code:    "invalid_config",
		Message: "Invalid configuration values",
		Status:  http.StatusBadRequest,
	}

	// ErrConnection is returned when the LLM endpoint is unreachable.
	ErrConnection = &Error{
		Code:    "connection",
		Message: "Connection error. Please check if the LLM server is running.",
		Status:  http.StatusBadGateway,
	}

	// ErrTimeout is returned when the LLM call exceeds the configured timeout.
	ErrTimeout = &Error{
		Code:    "timeout",
		Message: "Request timeout. The LLM took too long to respond. Please try again.",
		Status:  http.StatusGatewayTimeout,
	}

	// ErrFormat is returned on a 2xx upstream body missing the expected fields.
	ErrFormat = &Error{
		Code:    "format",
		Message: "Unexpected API response format",
		Status:  http.StatusBadGateway,
	}
)

// UpstreamError reports a non-2xx upstream status without echoing its body.
func UpstreamError(status int) *Error {
	return &Error{
		Code:    "upstream",
		Message: fmt.Sprintf("LLM server returned error (status %d). Please try again or contact support.", status),
		Status:  http.StatusBadGateway,
	}
}

// ErrUpstream is the sentinel for errors.Is checks against UpstreamError values.
var ErrUpstream = &Error{Code: "upstream"}
