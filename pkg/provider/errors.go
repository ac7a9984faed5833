package provider

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError wraps HTTP-level errors from a vendor API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string // error message from response body
	Retryable  bool
	RetryAfter time.Duration // from Retry-After header, if present
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ErrMaxRetriesExceeded is returned when all retry attempts are exhausted.
type ErrMaxRetriesExceeded struct {
	Attempts   int
	LastStatus int
}

func (e *ErrMaxRetriesExceeded) Error() string {
	return fmt.Sprintf("provider: max retries exceeded (%d attempts, last HTTP %d)", e.Attempts, e.LastStatus)
}

// classifyError maps a non-200 HTTP response to an APIError.
func classifyError(provider string, resp *http.Response) *APIError {
	bodyBytes, _ := io.ReadAll(resp.Body)
	msg := string(bodyBytes)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    msg,
		Retryable:  isRetryable(resp.StatusCode, DefaultRetryConfig().RetryableStatuses),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// isRetryable checks if a status code should be retried.
func isRetryable(statusCode int, retryableStatuses []int) bool {
	for _, s := range retryableStatuses {
		if statusCode == s {
			return true
		}
	}
	return false
}

// parseRetryAfter parses the Retry-After header value.
// Supports both seconds (integer) and HTTP-date formats.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
		return 0
	}

	return 0
}
