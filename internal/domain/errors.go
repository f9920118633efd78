package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means an embedding or LLM collaborator is down or timed out.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrSourceUnavailable means a single source connector failed.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedResponse means a collaborator returned an unparsable structure.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNotFound means a referenced paper or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput means a caller-supplied value was rejected.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCacheMiss signals an absent, expired or undecodable cache entry.
	ErrCacheMiss = errors.New("cache miss")
)

// ProviderError attaches the collaborator name to a provider failure.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err so that it matches ErrProviderUnavailable
// unless it already matches ErrMalformedResponse.
func NewProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrMalformedResponse) && !errors.Is(err, ErrProviderUnavailable) {
		err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return &ProviderError{Provider: provider, Err: err}
}

// SourceError attaches the connector name to a source failure.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewSourceError wraps err so that it matches ErrSourceUnavailable.
func NewSourceError(source string, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return &SourceError{Source: source, Err: err}
}

// IsDegradable reports whether err belongs to the classes that must be
// absorbed with a fallback rather than surfaced.
func IsDegradable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrSourceUnavailable)
}
