package upstream

import (
	"fmt"
	"net/http"
	"time"
)

// StatusError is a non-200 HTTP response from the upstream API.
type StatusError struct {
	StatusCode int
	URL        string
	Message    string
	// After is the parsed Retry-After header, zero when absent.
	After time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// Retryable reports whether the response may succeed on a later attempt.
// Server errors and throttling are retryable, every other client error is not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// RetryAfter returns the server supplied wait for throttled responses.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	if e.StatusCode != http.StatusTooManyRequests || e.After <= 0 {
		return 0, false
	}
	return e.After, true
}

// IsClientError reports whether the response is a non-retryable 4xx.
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// ResultCodeError is a well-formed response whose envelope reports failure.
type ResultCodeError struct {
	Code    string
	Message string
	PageNo  int
}

func (e *ResultCodeError) Error() string {
	return fmt.Sprintf("upstream result code %q: %s", e.Code, e.Message)
}

// DecodeError is a response body that could not be decoded in the announced encoding.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
