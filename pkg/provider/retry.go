package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig controls transient-failure retries for vendor HTTP calls.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffFactor     float64
	JitterFraction    float64
	RetryableStatuses []int
}

// DefaultRetryConfig returns the standard retry policy: three retries with
// doubling backoff capped at ten seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffFactor:     2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{429, 500, 502, 503, 529},
	}
}

// Backoff returns the sleep before retry attempt n (1-based): exponential
// growth from InitialBackoff capped at MaxBackoff, plus proportional jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(d + d*c.JitterFraction*rand.Float64())
}

// transientError marks an operation failure worth retrying. A non-zero
// Wait overrides the backoff schedule, typically from a Retry-After header.
type transientError struct {
	Err  error
	Wait time.Duration
}

func (e *transientError) Error() string { return e.Err.Error() }
func (e *transientError) Unwrap() error { return e.Err }

// withRetries runs op up to maxRetries+1 times. Only failures wrapped in
// *transientError are retried; any other error aborts immediately. Between
// attempts it sleeps for the previous failure's Wait, or per backoff when
// none was given. The last transient error surfaces when the attempt budget
// runs out.
func withRetries(ctx context.Context, maxRetries int, backoff func(attempt int) time.Duration, op func(ctx context.Context) error) error {
	var last *transientError

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := last.Wait
			if delay <= 0 {
				delay = backoff(attempt)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var te *transientError
		if !errors.As(err, &te) {
			return err
		}
		last = te
	}

	return last
}

// doRequest issues makeRequest under the config's retry policy. The HTTP
// classification lives here, not in the retry loop: network errors and the
// configured statuses are transient, a Retry-After header overrides the
// backoff, and any other non-200 response is handed back for the caller to
// turn into an APIError.
func doRequest(ctx context.Context, config RetryConfig, makeRequest func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	var lastStatus int

	err := withRetries(ctx, config.MaxRetries, config.Backoff, func(ctx context.Context) error {
		r, err := makeRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastStatus = 0
			return &transientError{Err: err}
		}

		if r.StatusCode == http.StatusOK {
			resp = r
			return nil
		}

		lastStatus = r.StatusCode
		wait := parseRetryAfter(r.Header.Get("Retry-After"))
		if wait > 0 || isRetryable(r.StatusCode, config.RetryableStatuses) {
			r.Body.Close()
			return &transientError{Err: fmt.Errorf("http %d", r.StatusCode), Wait: wait}
		}

		resp = r // caller classifies the error
		return nil
	})
	if err != nil {
		var te *transientError
		if errors.As(err, &te) {
			return nil, &ErrMaxRetriesExceeded{
				Attempts:   config.MaxRetries + 1,
				LastStatus: lastStatus,
			}
		}
		return nil, err
	}
	return resp, nil
}
