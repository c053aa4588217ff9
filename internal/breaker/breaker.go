// Package breaker isolates degraded providers behind per-provider circuit
// breakers so a failing provider cannot consume retry budget across the whole
// graph.
package breaker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"appforge/internal/provider"
)

// Config tunes the per-provider breakers.
type Config struct {
	Window           time.Duration // sliding window over which outcomes are counted
	FailureThreshold float64       // failure ratio within the window that trips the circuit
	MinCalls         uint32        // calls required in the window before the ratio applies
	ConsecutiveTrip  uint32        // consecutive failures that trip regardless of ratio
	Cooldown         time.Duration // open duration before the half-open probe
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		Window:           time.Minute,
		FailureThreshold: 0.5,
		MinCalls:         5,
		ConsecutiveTrip:  5,
		Cooldown:         30 * time.Second,
	}
}

// Registry manages per-provider circuit breakers. Breaker state transitions
// are mirrored into the health registry so fallback ranking sees them.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	health   *provider.HealthRegistry
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry creates a breaker registry feeding the given health registry.
func NewRegistry(cfg Config, health *provider.HealthRegistry) *Registry {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	return &Registry{
		cfg:      cfg,
		health:   health,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// get returns the breaker for the named provider, creating it on first use.
func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg := r.cfg
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // exactly one probe call in half-open
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveTrip > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveTrip {
				return true
			}
			if cfg.MinCalls > 0 && counts.Requests >= cfg.MinCalls {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureThreshold
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit breaker %q: %s -> %s", name, from, to)
			if r.health != nil {
				r.health.Get(name).SetCircuit(circuitState(to))
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// User cancellation is not a provider failure.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[name] = cb
	return cb
}

// State returns the circuit state for the named provider.
func (r *Registry) State(name string) provider.CircuitState {
	return circuitState(r.get(name).State())
}

// Execute runs fn behind the named provider's breaker. An open circuit is
// rejected fast with a provider_unavailable error, without invoking fn.
func (r *Registry) Execute(name string, fn func() (provider.Response, error)) (provider.Response, error) {
	result, err := r.get(name).Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return provider.Response{}, &provider.Error{
				Kind:     provider.KindUnavailable,
				Provider: name,
				Message:  "circuit open",
				Err:      err,
			}
		}
		return provider.Response{}, err
	}
	return result.(provider.Response), nil
}

func circuitState(s gobreaker.State) provider.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return provider.CircuitOpen
	case gobreaker.StateHalfOpen:
		return provider.CircuitHalfOpen
	default:
		return provider.CircuitClosed
	}
}
