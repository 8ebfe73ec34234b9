package kalshi

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a single upstream call exceeds the
	// client's per-call timeout. It is retryable.
	ErrTimeout = errors.New("kalshi request timed out")

	ErrInvalidPageLimit = errors.New("page size and max pages must be positive")
)

// APIError represents a non-success response from the Kalshi API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return false
}
