package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSources indicates a search selected no connector.
	ErrNoSources = errors.New("no sources selected")

	// ErrClassificationAmbiguous marks a document the fallback could not resolve.
	ErrClassificationAmbiguous = errors.New("classification ambiguous")

	// ErrGeneratorUnavailable indicates no generative model is configured.
	ErrGeneratorUnavailable = errors.New("generative model unavailable")

	// ErrEmbedderUnavailable indicates no embedding model is configured.
	ErrEmbedderUnavailable = errors.New("embedding model unavailable")

	// ErrMaxRetriesReached is wrapped by SummaryError once the budget is spent.
	ErrMaxRetriesReached = errors.New("max retries reached")
)

// FetchErrorKind classifies a source-level failure.
type FetchErrorKind string

const (
	FetchTimeout     FetchErrorKind = "timeout"
	FetchUnavailable FetchErrorKind = "unavailable"
	FetchRateLimited FetchErrorKind = "rate_limited"
)

// FetchError is a non-fatal SourceUnavailable failure recorded in search metadata.
type FetchError struct {
	Source  string
	Kind    FetchErrorKind
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source %s %s: %s", e.Source, e.Kind, e.Message)
}

// SearchError is returned when every selected source failed. It is distinct
// from a successful search that found nothing.
type SearchError struct {
	Errors []FetchError
}

func (e *SearchError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for i := range e.Errors {
		parts = append(parts, e.Errors[i].Error())
	}
	return "all sources failed: " + strings.Join(parts, "; ")
}

// EmbeddingComputeError surfaces after the internal retry was spent.
type EmbeddingComputeError struct {
	Fingerprint Fingerprint
	Attempts    int
	Err         error
}

func (e *EmbeddingComputeError) Error() string {
	return fmt.Sprintf("compute embedding %s after %d attempts: %v", e.Fingerprint, e.Attempts, e.Err)
}

func (e *EmbeddingComputeError) Unwrap() error { return e.Err }

// SummaryError is the user-facing SummaryGenerationFailure.
type SummaryError struct {
	Attempts          int
	Retryable         bool
	MaxRetriesReached bool
	Err               error
}

func (e *SummaryError) Error() string {
	if e.MaxRetriesReached {
		return fmt.Sprintf("summary generation failed after %d attempts: max retries reached: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("summary generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SummaryError) Unwrap() []error {
	if e.MaxRetriesReached {
		return []error{ErrMaxRetriesReached, e.Err}
	}
	return []error{e.Err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable (timeouts, rate limits, 5xx).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
