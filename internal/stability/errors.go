package stability

import (
	"errors"
	"fmt"
)

// ErrContentFiltered indicates the service rejected the result on content
// moderation grounds. The failure is terminal and must not be retried.
var ErrContentFiltered = errors.New("generation rejected by content filter")

// APIError is a non-2xx response from the generation service. Status codes in
// the 5xx range are retryable, 4xx codes are terminal.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("generation service returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the error is a transient server-side failure.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// isRetryable reports whether err warrants another attempt. Network errors and
// 5xx responses are retryable, everything else is terminal.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrContentFiltered) {
		return false
	}
	// Transport-level failure.
	return true
}
