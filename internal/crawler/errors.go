package crawler

import (
	"errors"
	"fmt"
)

// ErrInvalidURL rejects a crawl request before any external call or write.
var ErrInvalidURL = errors.New("URL is required")

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("crawl record not found")

// ScrapeError reports a failed external call. StatusCode is the HTTP status
// the provider answered with, or zero when the call never got a response.
type ScrapeError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ScrapeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scrape %s failed", e.URL)
	}
	return e.Err.Error()
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// RecordStatus is the status code persisted for this failure.
func (e *ScrapeError) RecordStatus() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return FailureStatusCode
}

// PersistenceError reports a failed store write. It is never absorbed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// QueryError reports a failed read against the store.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// AsScrapeError converts any error into a ScrapeError, keeping an existing one intact.
func AsScrapeError(url string, err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return &ScrapeError{URL: url, Err: err}
}
