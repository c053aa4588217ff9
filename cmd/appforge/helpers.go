package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"appforge/internal/breaker"
	"appforge/internal/checkpoint"
	"appforge/internal/config"
	"appforge/internal/events"
	"appforge/internal/generator"
	"appforge/internal/graph"
	"appforge/internal/orchestrator"
	"appforge/internal/plan"
	"appforge/internal/provider"
)

func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".appforge", "config.yaml")
	}
	return filepath.Join(homeDir, ".appforge", "config.yaml")
}

// app bundles everything a command needs, plus shutdown.
type app struct {
	cfg     *config.Config
	service *orchestrator.Service
	bus     *events.Bus
	sink    *events.NATSSink
}

// buildApp loads configuration and assembles the service stack.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	gw := provider.NewGateway()
	for name, pc := range cfg.Providers {
		p := provider.NewHTTPProvider(name, pc.BaseURL, pc.APIKeyEnv)
		if err := gw.Register(p, cfg.ProviderSettings(name)); err != nil {
			return nil, fmt.Errorf("registering provider %s: %w", name, err)
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var healthDB *provider.HealthStore
	if cfg.Health.DBPath != "" {
		healthDB, err = provider.OpenHealthStore(cfg.Health.DBPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("opening health store: %w", err)
		}
	}

	generators := generator.NewRegistry()
	if err := generators.RegisterDefaults(); err != nil {
		store.Close()
		return nil, err
	}

	bus := events.NewBus()
	var sink *events.NATSSink
	if cfg.Events.NATSURL != "" {
		sink, err = events.NewNATSSink(cfg.Events.NATSURL, "appforge")
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		go sink.Run(context.Background(), bus.SubscribeAll(256))
	}

	svc, err := orchestrator.NewService(orchestrator.Options{
		Planner:    plan.NewPlanner(nil),
		Gateway:    gw,
		Breakers:   breaker.NewRegistry(cfg.BreakerSettings(), gw.Health()),
		Retry:      cfg.RetrySettings(),
		Engine:     cfg.EngineSettings(),
		Store:      store,
		Generators: generators,
		Bus:        bus,
		HealthDB:   healthDB,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, service: svc, bus: bus, sink: sink}, nil
}

func (a *app) close() {
	if err := a.service.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing service: %v\n", err)
	}
	a.bus.Close()
	if a.sink != nil {
		a.sink.Close()
	}
}

func openStore(cfg *config.Config) (checkpoint.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Checkpoint.Backend {
	case "sqlite":
		return checkpoint.NewSQLiteStore(ctx, cfg.Checkpoint.SQLitePath)
	case "postgres":
		return checkpoint.NewPostgresStore(ctx, cfg.Checkpoint.PostgresURL)
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// followEvents prints task events until the subscription closes. Meant to run
// in a goroutine alongside Wait.
func followEvents(sub <-chan events.Event) {
	for ev := range sub {
		te, ok := ev.(events.TaskEvent)
		if !ok {
			continue
		}
		switch te.Type {
		case events.EventTypeTaskRetrying, events.EventTypeTaskFailed:
			fmt.Printf("  %s %s (attempt %d): %s\n", te.TaskID, te.State, te.Attempt, te.Error)
		default:
			fmt.Printf("  %s %s\n", te.TaskID, te.State)
		}
	}
}

func printStatus(st orchestrator.GenerationStatus) {
	fmt.Printf("GENERATION: %s\n", st.GenerationID)
	if st.Requirement != "" {
		fmt.Printf("  Requirement: %s\n", st.Requirement)
	}
	fmt.Printf("  Outcome: %s\n", st.Outcome)
	fmt.Printf("  Running: %v\n", st.Running)
	fmt.Printf("  Checkpoint sequence: %d\n", st.Sequence)
	if st.Degraded {
		fmt.Println("  WARNING: checkpointing degraded; progress may not survive a crash")
	}
	fmt.Printf("TASKS: %d\n", len(st.Tasks))
	for _, t := range st.Tasks {
		icon := stateIcon(t.State)
		line := fmt.Sprintf("  %s %s [%s] %s", icon, t.ID, t.Kind, t.State)
		if t.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", t.Attempts)
		}
		if t.Provider != "" {
			line += " via " + t.Provider
		}
		fmt.Println(line)
		if t.Error != "" {
			fmt.Printf("      %s: %s\n", t.ErrorKind, t.Error)
		}
	}
}

func stateIcon(s graph.State) string {
	switch s {
	case graph.StateSucceeded:
		return "✓"
	case graph.StateFailed:
		return "✗"
	case graph.StateRunning:
		return "►"
	case graph.StateRetrying:
		return "↻"
	case graph.StateSkipped:
		return "−"
	default:
		return "○"
	}
}

// parseModules converts --module flags to graph kinds.
func parseModules(names []string) ([]graph.Kind, error) {
	kinds := make([]graph.Kind, 0, len(names))
	for _, n := range names {
		k := graph.Kind(n)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown module kind %q (valid: %v)", n, graph.Kinds())
		}
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds, nil
}
