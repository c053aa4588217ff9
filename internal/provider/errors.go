package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a provider failure. Every failure carries exactly one kind;
// the retry policy and fallback coordinator key their decisions off it.
type ErrorKind string

const (
	// KindTransient covers network blips, provider 5xx responses and timeouts.
	KindTransient ErrorKind = "transient"
	// KindRateLimited covers provider-imposed throttling. Retryable after the
	// provider-supplied delay when present, else the computed backoff.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidOutput means the provider responded but the output failed
	// validation. Retryable with a revised prompt, bounded attempts.
	KindInvalidOutput ErrorKind = "invalid_output"
	// KindPermanent covers malformed input, policy violations and quota
	// exhaustion. Never retried.
	KindPermanent ErrorKind = "permanent"
	// KindUnavailable means the provider's circuit is open. The caller must
	// fail over to another provider or wait.
	KindUnavailable ErrorKind = "provider_unavailable"
)

// Retryable reports whether an error of this kind may be retried against the
// same provider.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindRateLimited, KindInvalidOutput:
		return true
	}
	return false
}

// Error is the uniform failure type returned by the gateway and everything
// wrapping it.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	RetryAfter time.Duration // rate_limited hint from the provider, 0 if absent
	Err        error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified provider error.
func NewError(kind ErrorKind, providerName, message string) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: message}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, providerName string, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: err.Error(), Err: err}
}

// Classify extracts the error kind from err. Unclassified errors default to
// transient; context deadline errors are transient, cancellation is permanent
// (retrying a cancelled operation is never useful).
func Classify(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	return KindTransient
}

// RetryAfter returns the provider-supplied retry hint carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.RetryAfter
	}
	return 0
}
