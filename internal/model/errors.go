package model

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	// ErrConfiguration marks malformed or out-of-range configuration.
	// Raised at construction time, never at query time.
	ErrConfiguration = errors.New("configuration error")

	// ErrExternalProvider marks a failed retrieval, scoring or generation call.
	ErrExternalProvider = errors.New("external provider error")

	// ErrTimeout marks an external call that exceeded its deadline.
	// It always travels together with ErrExternalProvider.
	ErrTimeout = errors.New("external provider timeout")

	// ErrData marks unusable input data (empty corpus, missing evidence).
	ErrData = errors.New("data error")
)

// ConfigError describes one invalid configuration value
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// ProviderError wraps a failure from an external collaborator
type ProviderError struct {
	Provider string // e.g. "lexical", "nli", "openai"
	Op       string // e.g. "retrieve", "score", "generate"
	Err      error
}

// NewProviderError wraps err unless it already is a ProviderError
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// Timeout reports whether the underlying call ran out of time
func (e *ProviderError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, ErrTimeout)
}

func (e *ProviderError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s %s: timed out: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{ErrExternalProvider, e.Err}
	if e.Timeout() {
		errs = append(errs, ErrTimeout)
	}
	return errs
}

// DataError describes unusable input data
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return "data error: " + e.Reason
}

func (e *DataError) Unwrap() error { return ErrData }
