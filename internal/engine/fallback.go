package engine

import (
	"appforge/internal/provider"
)

// Coordinator decides, per attempt, which provider a task should be
// dispatched to: retry the same provider, switch to the next-healthiest, or
// report that none remain.
type Coordinator struct {
	health *provider.HealthRegistry
	ranked []string // configured priority order
}

// NewCoordinator builds a coordinator over the gateway's registered
// providers and health view.
func NewCoordinator(gw *provider.Gateway) *Coordinator {
	return &Coordinator{
		health: gw.Health(),
		ranked: gw.Names(),
	}
}

// Select picks the provider for the next attempt. lastProvider and lastKind
// describe the previous attempt ("" for the first). A provider_unavailable or
// rate_limited failure routes away from the last provider when an
// alternative exists; open circuits are never selected. When no provider
// remains the returned error is classified provider_unavailable, which the
// engine turns into a failed task.
func (c *Coordinator) Select(lastProvider string, lastKind provider.ErrorKind) (string, error) {
	ranked := c.health.Rank(c.ranked)

	avoidLast := lastKind == provider.KindUnavailable || lastKind == provider.KindRateLimited

	// First pass: healthiest provider that is not the one that just refused.
	for _, name := range ranked {
		if c.health.Get(name).Circuit() == provider.CircuitOpen {
			continue
		}
		if avoidLast && name == lastProvider {
			continue
		}
		return name, nil
	}

	// Second pass: the refusing provider is still better than nothing, as
	// long as its circuit has not opened.
	if avoidLast && lastProvider != "" {
		if c.health.Get(lastProvider).Circuit() != provider.CircuitOpen {
			return lastProvider, nil
		}
	}

	return "", provider.NewError(provider.KindUnavailable, "", "no healthy provider available")
}

// Providers returns the configured provider order.
func (c *Coordinator) Providers() []string {
	return append([]string(nil), c.ranked...)
}
