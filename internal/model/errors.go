package model

import (
	"errors"
	"fmt"
)

// Pipeline-fatal conditions for one target.
var (
	// ErrNoDistinctiveFingerprint is returned when every candidate was
	// classified generic. Querying with nothing would match the whole index.
	ErrNoDistinctiveFingerprint = errors.New("no distinctive fingerprint: every candidate was classified generic")

	// ErrNoQueryProducible is returned when no query can be built from the
	// distinctive fingerprints.
	ErrNoQueryProducible = errors.New("no query producible from the distinctive fingerprints")

	// ErrNoFingerprint is returned when extraction produced no candidates.
	ErrNoFingerprint = errors.New("no fingerprint extracted from the page")
)

// FetchError is returned when a page or asset cannot be fetched.
type FetchError struct {
	// URL is the requested URL.
	URL string

	// StatusCode is the non-2xx status, or 0 for transport failures.
	StatusCode int

	// Err is the underlying transport error, if any.
	Err error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// LLMError is returned when the language-model API call fails.
type LLMError struct {
	// StatusCode is the HTTP status, or 0 for transport failures.
	StatusCode int

	// RateLimited is true for rate-limit responses.
	RateLimited bool

	// Auth is true for rejected credentials.
	Auth bool

	// Message is the API's error message, if any.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.
func (e *LLMError) Error() string {
	switch {
	case e.Auth:
		return "llm: authentication failed: " + e.detail()
	case e.RateLimited:
		return "llm: rate limited: " + e.detail()
	default:
		return "llm: " + e.detail()
	}
}

func (e *LLMError) detail() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Message != "":
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("status %d", e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *LLMError) Unwrap() error {
	return e.Err
}

// ClassificationShapeError is returned when the model answered with a
// verdict count different from the number of candidates in the batch.
type ClassificationShapeError struct {
	Expected int
	Got      int
}

// Error implements error.
func (e *ClassificationShapeError) Error() string {
	return fmt.Sprintf("classification shape mismatch: expected %d verdicts, got %d", e.Expected, e.Got)
}

// SearchErrorKind is the subtype of a SearchAPIError.
type SearchErrorKind int

const (
	// SearchTransport is a network-level failure.
	SearchTransport SearchErrorKind = iota

	// SearchRateLimited is a rate-limit signal from the engine.
	SearchRateLimited

	// SearchInvalidQuery is a rejected query syntax.
	SearchInvalidQuery

	// SearchAuth is a rejected or missing credential.
	SearchAuth

	// SearchServer is a 5xx or an unparsable response.
	SearchServer
)

// String returns the kind name.
func (k SearchErrorKind) String() string {
	switch k {
	case SearchTransport:
		return "transport"
	case SearchRateLimited:
		return "rate-limited"
	case SearchInvalidQuery:
		return "invalid-query"
	case SearchAuth:
		return "auth"
	case SearchServer:
		return "server"
	default:
		return "unknown"
	}
}

// SearchAPIError is returned when the search API call fails.
type SearchAPIError struct {
	Kind       SearchErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements error.
func (e *SearchAPIError) Error() string {
	msg := "search api " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SearchAPIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failed request may succeed when repeated.
func (e *SearchAPIError) Retryable() bool {
	switch e.Kind {
	case SearchRateLimited, SearchServer, SearchTransport:
		return true
	default:
		return false
	}
}

// IsRetryableSearchError reports whether err wraps a retryable SearchAPIError.
func IsRetryableSearchError(err error) bool {
	var apiErr *SearchAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}
