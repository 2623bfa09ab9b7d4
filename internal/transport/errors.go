package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the typed failure raised for non-2xx backend responses. The
// status code distinguishes non-retryable client errors (4xx) from retryable
// server errors (5xx); 404 specifically lets callers prune a now-deleted
// remote entity from a local cache.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether err is worth retrying: transport-level failures
// and 5xx responses are retryable, 4xx responses are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	// Network or decode failure without an HTTP status
	return true
}
