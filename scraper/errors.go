package scraper

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisallowed marks a vendor whose robots rules forbid the paths we would
// crawl. Recorded as a skip, not a failure.
var ErrDisallowed = errors.New("automated access disallowed by robots rules")

// FetchError covers transport failures and HTTP error statuses. Retryable:
// the governor backs off and tries again. RetryAfter carries a server hint
// (e.g. a 429 Retry-After header) when present.
type FetchError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Retryable() bool { return true }

func (e *FetchError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// ParseError means the page was fetched but its markup did not match the
// vendor's expected shape. Never retried; the listing is skipped and counted.
type ParseError struct {
	Vendor string
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s page %s: %s", e.Vendor, e.URL, e.Reason)
}

// Classify buckets an error for run-record reporting.
func Classify(err error) string {
	var fe *FetchError
	var pe *ParseError
	switch {
	case errors.Is(err, ErrDisallowed):
		return "compliance_skip"
	case errors.As(err, &fe):
		return "fetch_error"
	case errors.As(err, &pe):
		return "parse_error"
	default:
		return "error"
	}
}
