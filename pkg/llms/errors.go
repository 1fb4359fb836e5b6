package llms

import (
	"context"
	"errors"
	"fmt"

	"github.com/marginalia-ai/marginalia/pkg/httpclient"
)

// ErrorKind classifies a provider failure so callers can decide whether
// and how to degrade.
type ErrorKind string

const (
	ErrKindNoProvider  ErrorKind = "no_provider"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindUpstream    ErrorKind = "upstream"
	ErrKindParse       ErrorKind = "parse"
)

// Failure is a typed provider error.
type Failure struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (f *Failure) Error() string {
	if f.Provider != "" {
		return fmt.Sprintf("llm %s failure (%s): %v", f.Kind, f.Provider, f.Err)
	}
	return fmt.Sprintf("llm %s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err with a kind and provider name.
func NewFailure(kind ErrorKind, provider string, err error) *Failure {
	return &Failure{Kind: kind, Provider: provider, Err: err}
}

// KindOf extracts the failure kind from an error chain, mapping
// transport-level errors to kinds when no Failure is present.
func KindOf(err error) ErrorKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		if retryable.StatusCode == 429 {
			return ErrKindRateLimited
		}
		return ErrKindUpstream
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindUpstream
}
