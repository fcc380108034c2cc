package dataapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed request against the centralized API.
type ErrorKind string

const (
	// KindTransport covers network-level failures: timeout, DNS,
	// connection reset. Retryable on the next cycle.
	KindTransport ErrorKind = "transport"
	// KindRateLimited is HTTP 429. Surfaced to the caller, never
	// silently retried.
	KindRateLimited ErrorKind = "rate_limited"
	// KindNotFound is HTTP 404, returned as an explicit outcome.
	KindNotFound ErrorKind = "not_found"
	// KindHTTPStatus covers any other non-2xx status.
	KindHTTPStatus ErrorKind = "http_status"
)

// APIError is the typed error surface of the data and gamma endpoints.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
	case KindRateLimited:
		return fmt.Sprintf("rate limited by %s", e.URL)
	case KindNotFound:
		return fmt.Sprintf("not found: %s", e.URL)
	default:
		return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is an HTTP 429 outcome.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited
}

// IsNotFound reports whether err is an explicit 404 outcome.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}

// IsRetryable reports whether the caller may retry on the next cycle:
// transport failures and 5xx statuses. Rate limits are excluded; the
// caller must back off instead.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Kind == KindTransport {
		return true
	}
	return apiErr.Kind == KindHTTPStatus && apiErr.StatusCode >= 500
}
