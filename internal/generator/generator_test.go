package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"appforge/internal/graph"
	"appforge/internal/provider"
)

func echoCompleter(content string) Completer {
	return func(_ context.Context, req provider.Request) (provider.Response, error) {
		return provider.Response{
			Content:    content,
			Provider:   "primary",
			Model:      "gpt-4o",
			TokensUsed: 42,
		}, nil
	}
}

func captureCompleter(captured *provider.Request, content string) Completer {
	return func(_ context.Context, req provider.Request) (provider.Response, error) {
		*captured = req
		return provider.Response{Content: content, Provider: "primary", Model: "gpt-4o"}, nil
	}
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(graph.KindBackend, &LLMGenerator{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(graph.KindBackend, &LLMGenerator{}); err == nil {
		t.Fatal("Register() of duplicate kind succeeded, want error")
	}
}

func TestRegistryGetUnknownKind(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get(graph.KindFrontend); err == nil {
		t.Fatal("Get() of unregistered kind succeeded, want error")
	}
}

func TestRegisterDefaultsCoversAllKinds(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterDefaults(); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}
	for _, kind := range graph.Kinds() {
		if _, err := r.Get(kind); err != nil {
			t.Errorf("Get(%s) error = %v", kind, err)
		}
	}
}

func TestGenerateProducesOutput(t *testing.T) {
	g := &LLMGenerator{}
	res, err := g.Generate(context.Background(), Request{
		Task: graph.Task{
			ID:    "backend",
			Kind:  graph.KindBackend,
			Input: map[string]any{"requirement": "build a todo app"},
		},
		Attempt:  1,
		Complete: echoCompleter("package main\n"),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if res.Output["kind"] != "backend" {
		t.Errorf("output kind = %v, want backend", res.Output["kind"])
	}
	if res.Output["content"] != "package main" {
		t.Errorf("output content = %q, want trimmed completion", res.Output["content"])
	}
	if res.Output["provider"] != "primary" || res.Output["model"] != "gpt-4o" {
		t.Errorf("output provenance = %v/%v", res.Output["provider"], res.Output["model"])
	}
	if res.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d, want 42", res.TokensUsed)
	}
}

func TestGenerateEmptyCompletionIsInvalidOutput(t *testing.T) {
	g := &LLMGenerator{}
	_, err := g.Generate(context.Background(), Request{
		Task:     graph.Task{ID: "backend", Kind: graph.KindBackend},
		Attempt:  1,
		Complete: echoCompleter("   \n\t"),
	})
	if err == nil {
		t.Fatal("Generate() with blank completion succeeded, want error")
	}
	if kind := provider.Classify(err); kind != provider.KindInvalidOutput {
		t.Errorf("Classify() = %s, want invalid_output", kind)
	}
}

func TestGenerateCompleterErrorPassesThrough(t *testing.T) {
	want := provider.NewError(provider.KindRateLimited, "primary", "budget spent")
	g := &LLMGenerator{}
	_, err := g.Generate(context.Background(), Request{
		Task:    graph.Task{ID: "backend", Kind: graph.KindBackend},
		Attempt: 1,
		Complete: func(_ context.Context, _ provider.Request) (provider.Response, error) {
			return provider.Response{}, want
		},
	})
	if !errors.Is(err, want) {
		t.Errorf("Generate() error = %v, want completer error unchanged", err)
	}
}

func TestGeneratePromptContents(t *testing.T) {
	var captured provider.Request
	g := &LLMGenerator{}
	_, err := g.Generate(context.Background(), Request{
		Task: graph.Task{
			ID:   "frontend",
			Kind: graph.KindFrontend,
			Input: map[string]any{
				"requirement": "a recipe sharing site",
				"framework":   "react",
				"features":    []string{"search", "file-upload"},
				"context":     []string{"prior schema: recipes(id, title)"},
			},
		},
		Attempt:  1,
		Complete: captureCompleter(&captured, "export default App"),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	for _, want := range []string{
		"frontend module",
		"Application requirement: a recipe sharing site",
		"Framework: react",
		"Features: search, file-upload",
		"- prior schema: recipes(id, title)",
	} {
		if !strings.Contains(captured.Prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, captured.Prompt)
		}
	}
	if captured.System == "" {
		t.Error("system prompt is empty")
	}
	if captured.MaxTokens == 0 {
		t.Error("MaxTokens not set")
	}
}

func TestGeneratePromptRevisedAfterInvalidOutput(t *testing.T) {
	var captured provider.Request
	g := &LLMGenerator{}
	_, err := g.Generate(context.Background(), Request{
		Task:    graph.Task{ID: "backend", Kind: graph.KindBackend},
		Attempt: 2,
		LastErr: &graph.TaskError{
			Kind:    provider.KindInvalidOutput,
			Message: "empty completion",
		},
		Complete: captureCompleter(&captured, "package main"),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(captured.Prompt, "previous attempt failed validation: empty completion") {
		t.Errorf("prompt not revised after invalid output:\n%s", captured.Prompt)
	}
}

func TestGeneratePromptNotRevisedAfterTransientError(t *testing.T) {
	var captured provider.Request
	g := &LLMGenerator{}
	_, err := g.Generate(context.Background(), Request{
		Task:    graph.Task{ID: "backend", Kind: graph.KindBackend},
		Attempt: 2,
		LastErr: &graph.TaskError{
			Kind:    provider.KindTransient,
			Message: "connection reset",
		},
		Complete: captureCompleter(&captured, "package main"),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Contains(captured.Prompt, "failed validation") {
		t.Errorf("prompt revised for a non-validation failure:\n%s", captured.Prompt)
	}
}

func TestStringSliceToleratesJSONPayloads(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"any slice from JSON", []any{"a", "b"}, []string{"a", "b"}},
		{"mixed any slice", []any{"a", 3, "b"}, []string{"a", "b"}},
		{"nil", nil, nil},
		{"wrong type", 7, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stringSlice(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("stringSlice() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("stringSlice() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
