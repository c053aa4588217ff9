// Package retry wraps fallible operations with exponential backoff, full
// jitter, per-error-kind attempt caps and an overall deadline.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"appforge/internal/provider"
)

// Config tunes a retry policy.
type Config struct {
	InitialInterval time.Duration // base delay, doubled per attempt
	MaxInterval     time.Duration // cap on a single delay
	MaxElapsedTime  time.Duration // overall deadline; 0 means no limit
	Multiplier      float64
	Jitter          float64 // randomization factor; 1.0 is full jitter

	// MaxAttempts caps total attempts per error kind. A kind absent from the
	// map is not retried. Attempt 1 is the initial call, so a cap of 1 means
	// no retries.
	MaxAttempts map[provider.ErrorKind]int
}

// DefaultConfig returns the default retry configuration: generous for
// transient faults, tight for invalid output, none for permanent failures.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
		Multiplier:      2.0,
		Jitter:          1.0,
		MaxAttempts: map[provider.ErrorKind]int{
			provider.KindTransient:     4,
			provider.KindRateLimited:   4,
			provider.KindInvalidOutput: 2,
		},
	}
}

// Operation is one attempt of the wrapped call. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// permanentError stops retries regardless of the wrapped error's kind.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Notify is invoked before each backoff sleep with the failure that caused
// it, its classification and the chosen delay.
type Notify func(err error, kind provider.ErrorKind, attempt int, delay time.Duration)

// Policy executes operations under a Config.
type Policy struct {
	cfg Config
}

// NewPolicy creates a policy. Zero-valued fields fall back to defaults.
func NewPolicy(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = def.Jitter
	}
	if cfg.MaxAttempts == nil {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Policy{cfg: cfg}
}

// MaxFor returns the attempt cap for the given error kind.
func (p *Policy) MaxFor(kind provider.ErrorKind) int {
	return p.cfg.MaxAttempts[kind]
}

// Do runs op until it succeeds, its error kind's attempt budget is spent, the
// overall deadline passes, or ctx is cancelled. Attempts are counted per
// error kind; rate_limited delays honor the provider's retry-after hint when
// present. notify may be nil.
func (p *Policy) Do(ctx context.Context, op Operation, notify Notify) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialInterval
	bo.MaxInterval = p.cfg.MaxInterval
	bo.MaxElapsedTime = p.cfg.MaxElapsedTime
	bo.Multiplier = p.cfg.Multiplier
	bo.RandomizationFactor = p.cfg.Jitter
	bo.Reset()

	attemptsByKind := make(map[provider.ErrorKind]int)

	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}

		kind := provider.Classify(err)
		attemptsByKind[kind]++
		if attemptsByKind[kind] >= p.cfg.MaxAttempts[kind] {
			return err
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		if kind == provider.KindRateLimited {
			if hint := provider.RetryAfter(err); hint > 0 {
				delay = hint
			}
		}

		if notify != nil {
			notify(err, kind, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
