// Package generator dispatches generation work to module-kind capabilities.
// Module kinds are a closed set routed through a registry, not open-ended
// inheritance.
package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"appforge/internal/graph"
	"appforge/internal/provider"
)

// Completer is a completion call bound to the provider chosen for the current
// attempt. Generators call it instead of holding a provider reference so the
// circuit breaker and budget enforcement wrap every provider touch.
type Completer func(ctx context.Context, req provider.Request) (provider.Response, error)

// Request carries everything one generation attempt needs. Attempt starts at
// 1; LastErr is the classified failure of the previous attempt, if any, so a
// generator can revise its prompt after invalid output.
type Request struct {
	Task     graph.Task
	Attempt  int
	LastErr  *graph.TaskError
	Complete Completer
}

// Result is the output payload of a successful generation.
type Result struct {
	Output     map[string]any
	TokensUsed int
}

// Generator renders one module kind. Implementations must be pure functions
// of the request from the engine's perspective: retries with the same input
// must be safe.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Registry maps task kinds to generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[graph.Kind]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[graph.Kind]Generator)}
}

// Register binds a generator to a kind. Rebinding a kind is an error.
func (r *Registry) Register(kind graph.Kind, g Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.generators[kind]; exists {
		return fmt.Errorf("generator for kind %q already registered", kind)
	}
	r.generators[kind] = g
	return nil
}

// Get returns the generator for a kind.
func (r *Registry) Get(kind graph.Kind) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[kind]
	if !ok {
		return nil, fmt.Errorf("no generator registered for kind %q", kind)
	}
	return g, nil
}

// RegisterDefaults binds the LLM-backed generator to every supported kind.
func (r *Registry) RegisterDefaults() error {
	for _, kind := range graph.Kinds() {
		if err := r.Register(kind, &LLMGenerator{}); err != nil {
			return err
		}
	}
	return nil
}

// LLMGenerator renders a module by prompting the assigned provider and
// validating the completion.
type LLMGenerator struct{}

var kindInstructions = map[graph.Kind]string{
	graph.KindFrontend:    "Generate the frontend module: application shell, views and API client code.",
	graph.KindBackend:     "Generate the backend module: service entry point, route handlers and data access code.",
	graph.KindDatabase:    "Generate the database module: schema definition, migrations and a storage client.",
	graph.KindAuth:        "Generate the authentication module: credential handling, session issuance and middleware.",
	graph.KindIntegration: "Generate the integration layer wiring the generated modules together: shared configuration and cross-module contracts.",
	graph.KindDeployment:  "Generate the deployment descriptors for the application: container build and service manifests.",
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	prompt := g.buildPrompt(req)

	resp, err := req.Complete(ctx, provider.Request{
		Prompt:      prompt,
		System:      "You are an expert software engineer generating production application modules.",
		MaxTokens:   4000,
		Temperature: 0.2,
	})
	if err != nil {
		return Result{}, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return Result{}, provider.NewError(provider.KindInvalidOutput, resp.Provider, "empty completion")
	}

	return Result{
		Output: map[string]any{
			"kind":     string(req.Task.Kind),
			"content":  content,
			"provider": resp.Provider,
			"model":    resp.Model,
		},
		TokensUsed: resp.TokensUsed,
	}, nil
}

// buildPrompt assembles the task prompt, revising it when the previous
// attempt produced invalid output.
func (g *LLMGenerator) buildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString(kindInstructions[req.Task.Kind])
	b.WriteString("\n\n")

	if requirement, ok := req.Task.Input["requirement"].(string); ok {
		b.WriteString("Application requirement: ")
		b.WriteString(requirement)
		b.WriteString("\n")
	}
	if framework, ok := req.Task.Input["framework"].(string); ok {
		b.WriteString("Framework: ")
		b.WriteString(framework)
		b.WriteString("\n")
	}
	if features := stringSlice(req.Task.Input["features"]); len(features) > 0 {
		b.WriteString("Features: ")
		b.WriteString(strings.Join(features, ", "))
		b.WriteString("\n")
	}
	if snippets := stringSlice(req.Task.Input["context"]); len(snippets) > 0 {
		b.WriteString("\nRelevant context from prior generations:\n")
		for _, s := range snippets {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	if req.LastErr != nil && req.LastErr.Kind == provider.KindInvalidOutput {
		fmt.Fprintf(&b, "\nThe previous attempt failed validation: %s. Respond with the module code only, no commentary.\n", req.LastErr.Message)
	}

	return b.String()
}

// stringSlice tolerates both []string inputs and []any payloads restored
// from JSON checkpoints.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
