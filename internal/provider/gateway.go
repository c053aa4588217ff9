package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Settings configures one registered provider.
type Settings struct {
	Model             string
	Priority          int // lower is tried first among equally-healthy providers
	RequestsPerMinute int // 0 disables the request budget
	TokensPerMinute   int // 0 disables the token budget
}

type registered struct {
	provider Provider
	settings Settings
	limiter  *BudgetLimiter
}

// Gateway is the uniform entry point to all registered providers. It enforces
// per-provider budgets, classifies failures and feeds the health registry
// after every call attempt.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]*registered
	health    *HealthRegistry
}

// NewGateway creates a gateway with its own health registry.
func NewGateway() *Gateway {
	return NewGatewayWithHealth(NewHealthRegistry())
}

// NewGatewayWithHealth creates a gateway sharing an existing health registry.
func NewGatewayWithHealth(health *HealthRegistry) *Gateway {
	return &Gateway{
		providers: make(map[string]*registered),
		health:    health,
	}
}

// Register adds a provider. Registering the same name twice is an error.
func (g *Gateway) Register(p Provider, s Settings) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := p.Name()
	if _, exists := g.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	g.providers[name] = &registered{
		provider: p,
		settings: s,
		limiter:  NewBudgetLimiter(s.RequestsPerMinute, s.TokensPerMinute, time.Minute),
	}
	g.health.Get(name)
	return nil
}

// Names returns registered provider names in configured priority order.
func (g *Gateway) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := g.providers[names[i]].settings.Priority, g.providers[names[j]].settings.Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// Health exposes the gateway's health registry.
func (g *Gateway) Health() *HealthRegistry {
	return g.health
}

// Complete sends a completion request to the named provider. The request
// model defaults to the provider's configured model. Provider call outcomes
// feed the health registry; local budget rejections are returned before the
// call and never count against the provider's standing.
func (g *Gateway) Complete(ctx context.Context, name string, req Request) (Response, error) {
	g.mu.RLock()
	reg, ok := g.providers[name]
	g.mu.RUnlock()
	if !ok {
		return Response{}, NewError(KindPermanent, name, "provider not registered")
	}

	if req.Model == "" {
		req.Model = reg.settings.Model
	}

	est := req.MaxTokens
	if est == 0 {
		est = len(req.Prompt) / 4
	}
	if ok, wait := reg.limiter.Allow(est); !ok {
		return Response{}, &Error{
			Kind:       KindRateLimited,
			Provider:   name,
			Message:    "request budget exhausted",
			RetryAfter: wait,
		}
	}

	health := g.health.Get(name)
	start := time.Now()
	resp, err := reg.provider.Complete(ctx, req)
	latency := time.Since(start)

	if err != nil {
		// Cancellation is the caller's doing, not the provider's.
		if errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		health.RecordFailure()
		var perr *Error
		if errors.As(err, &perr) {
			return Response{}, err
		}
		log.Printf("provider %s: unclassified failure treated as transient: %v", name, err)
		return Response{}, WrapError(KindTransient, name, err)
	}

	health.RecordSuccess(latency)
	reg.limiter.RecordTokens(resp.TokensUsed - est)

	resp.Provider = name
	resp.Latency = latency
	return resp, nil
}
