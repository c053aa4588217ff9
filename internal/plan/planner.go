// Package plan turns a natural-language requirement into a task graph.
package plan

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	"appforge/internal/graph"
)

// Error is a planning failure. Not retryable; the caller must revise the
// requirement or constraints and re-submit.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "planning failed: " + e.Reason
}

// Constraints narrows what the planner may produce.
type Constraints struct {
	// Modules, when non-empty, is the exact set of module kinds to generate
	// (integration and deployment tasks are synthesized on top). Unsupported
	// kinds are a planning error.
	Modules []graph.Kind

	// Framework selections recorded into task inputs.
	Frontend string
	Backend  string
	Database string
}

// ContextSource is an external lookup capability feeding relevant snippets
// from prior generations into task inputs. A nil source skips enrichment.
type ContextSource interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Planner decomposes requirements. Stateless; safe for concurrent use.
type Planner struct {
	contextSource ContextSource
}

// NewPlanner creates a planner. contextSource may be nil.
func NewPlanner(contextSource ContextSource) *Planner {
	return &Planner{contextSource: contextSource}
}

const minRequirementWords = 3

// authKeywords mark requirements that need a dedicated auth module.
var authKeywords = []string{"auth", "login", "sign in", "sign up", "user account", "register"}

// apiOnlyKeywords mark requirements that are backend-only services.
var apiOnlyKeywords = []string{"api only", "rest api", "backend only", "no frontend", "headless"}

// Plan decomposes the requirement into module tasks plus synthesized
// integration and deployment tasks. Dependency edges: database tasks have no
// dependencies; backend and auth depend on database; frontend depends on
// backend; integration depends on all module tasks; deployment depends on
// integration. There is no retry here; failures go straight to the caller.
func (p *Planner) Plan(ctx context.Context, requirement string, c Constraints) (*graph.TaskGraph, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, &Error{Reason: "requirement is empty"}
	}
	if len(strings.Fields(requirement)) < minRequirementWords {
		return nil, &Error{Reason: fmt.Sprintf("requirement %q is too vague to decompose", requirement)}
	}

	modules, err := p.selectModules(requirement, c)
	if err != nil {
		return nil, err
	}

	generationID := ulid.Make().String()
	lower := strings.ToLower(requirement)

	var snippets []string
	if p.contextSource != nil {
		snippets, err = p.contextSource.Retrieve(ctx, requirement)
		if err != nil {
			// Context enrichment is best-effort; planning proceeds without it.
			log.Printf("planner: context retrieval failed: %v", err)
			snippets = nil
		}
	}

	baseInput := func(kind graph.Kind) map[string]any {
		input := map[string]any{
			"requirement": requirement,
			"complexity":  estimateComplexity(requirement, len(modules)),
		}
		switch kind {
		case graph.KindFrontend:
			if c.Frontend != "" {
				input["framework"] = c.Frontend
			}
		case graph.KindBackend:
			if c.Backend != "" {
				input["framework"] = c.Backend
			}
		case graph.KindDatabase:
			if c.Database != "" {
				input["framework"] = c.Database
			}
		}
		if features := detectFeatures(lower); len(features) > 0 {
			input["features"] = features
		}
		if len(snippets) > 0 {
			input["context"] = snippets
		}
		return input
	}

	var tasks []*graph.Task
	moduleIDs := make([]string, 0, len(modules))
	for _, kind := range modules {
		id := string(kind)
		moduleIDs = append(moduleIDs, id)
		tasks = append(tasks, &graph.Task{
			ID:        id,
			Kind:      kind,
			Input:     baseInput(kind),
			DependsOn: moduleDependencies(kind, modules),
		})
	}

	tasks = append(tasks, &graph.Task{
		ID:        string(graph.KindIntegration),
		Kind:      graph.KindIntegration,
		Input:     baseInput(graph.KindIntegration),
		DependsOn: moduleIDs,
	})
	tasks = append(tasks, &graph.Task{
		ID:        string(graph.KindDeployment),
		Kind:      graph.KindDeployment,
		Input:     baseInput(graph.KindDeployment),
		DependsOn: []string{string(graph.KindIntegration)},
	})

	g, err := graph.New(generationID, requirement, tasks)
	if err != nil {
		// Construction failures here mean the planner produced a bad graph.
		return nil, &Error{Reason: err.Error()}
	}
	return g, nil
}

// selectModules decides which module tasks the requirement needs.
func (p *Planner) selectModules(requirement string, c Constraints) ([]graph.Kind, error) {
	if len(c.Modules) > 0 {
		seen := make(map[graph.Kind]bool)
		var modules []graph.Kind
		for _, kind := range c.Modules {
			if !kind.Valid() {
				return nil, &Error{Reason: fmt.Sprintf("unsupported module kind %q", kind)}
			}
			if kind == graph.KindIntegration || kind == graph.KindDeployment {
				// Synthesized by the planner, not requestable.
				return nil, &Error{Reason: fmt.Sprintf("module kind %q is synthesized and cannot be requested", kind)}
			}
			if !seen[kind] {
				seen[kind] = true
				modules = append(modules, kind)
			}
		}
		return modules, nil
	}

	lower := strings.ToLower(requirement)
	modules := []graph.Kind{graph.KindDatabase, graph.KindBackend}
	if !containsAny(lower, apiOnlyKeywords) {
		modules = append(modules, graph.KindFrontend)
	}
	if containsAny(lower, authKeywords) {
		modules = append(modules, graph.KindAuth)
	}
	return modules, nil
}

// moduleDependencies wires the fixed dependency shape between module kinds,
// restricted to the modules actually planned.
func moduleDependencies(kind graph.Kind, modules []graph.Kind) []string {
	has := func(k graph.Kind) bool {
		for _, m := range modules {
			if m == k {
				return true
			}
		}
		return false
	}

	switch kind {
	case graph.KindBackend, graph.KindAuth:
		if has(graph.KindDatabase) {
			return []string{string(graph.KindDatabase)}
		}
	case graph.KindFrontend:
		if has(graph.KindBackend) {
			return []string{string(graph.KindBackend)}
		}
	}
	return nil
}

func detectFeatures(lower string) []string {
	var features []string
	for keyword, feature := range map[string]string{
		"todo":      "task-management",
		"chat":      "messaging",
		"payment":   "payments",
		"search":    "search",
		"upload":    "file-upload",
		"dashboard": "reporting",
		"notif":     "notifications",
	} {
		if strings.Contains(lower, keyword) {
			features = append(features, feature)
		}
	}
	if containsAny(lower, authKeywords) {
		features = append(features, "authentication")
	}
	sort.Strings(features)
	return features
}

func estimateComplexity(requirement string, moduleCount int) string {
	words := len(strings.Fields(requirement))
	switch {
	case words > 60 || moduleCount > 3:
		return "high"
	case words > 20:
		return "medium"
	default:
		return "low"
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
