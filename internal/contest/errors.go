package contest

import (
	"errors"
	"fmt"
)

var (
	// ErrBuildInProgress is returned when a build is requested while one is running.
	ErrBuildInProgress = errors.New("build already in progress")
	// ErrInconsistentPair is returned when a Meta does not describe its Snapshot.
	ErrInconsistentPair = errors.New("meta does not match snapshot")
	// ErrNotFound is returned by blob stores for missing objects.
	ErrNotFound = errors.New("object not found")
)

// FetchError means the listing page could not be retrieved. It aborts the cycle.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means the listing page no longer matches the expected structure.
// It aborts the cycle. An empty contest container is not a ParseError.
type ParseError struct {
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("parse listing: %s: %v", e.Selector, e.Err)
	}
	return fmt.Sprintf("parse listing: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SkipReason classifies why a single contest was dropped from a build.
type SkipReason string

// Skip reasons recorded in logs and metrics.
const (
	ReasonMissingField SkipReason = "missing_field"
	ReasonBadDeadline  SkipReason = "bad_deadline"
	ReasonExpired      SkipReason = "expired"
	ReasonImage        SkipReason = "image"
)

// ItemError is a per-contest failure. The contest is dropped and the cycle continues.
type ItemError struct {
	Name   string
	Reason SkipReason
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("skip contest %q (%s): %v", e.Name, e.Reason, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ImageFetchError means a contest graphic could not be downloaded.
type ImageFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ImageFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch image %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch image %s: %v", e.URL, e.Err)
}

func (e *ImageFetchError) Unwrap() error { return e.Err }

// ImageDecodeError means a downloaded graphic could not be decoded or transformed.
type ImageDecodeError struct {
	URL string
	Err error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("decode image %s: %v", e.URL, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

// StatusError is returned by fetchers for non-200 responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}
