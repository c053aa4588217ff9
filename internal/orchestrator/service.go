// Package orchestrator ties planning, execution and persistence into the
// generation lifecycle: submit, status, resume, cancel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"appforge/internal/breaker"
	"appforge/internal/checkpoint"
	"appforge/internal/engine"
	"appforge/internal/events"
	"appforge/internal/generator"
	"appforge/internal/graph"
	"appforge/internal/plan"
	"appforge/internal/provider"
	"appforge/internal/retry"
)

// ErrNotFound is returned when a generation is unknown to both the active
// registry and the checkpoint store.
var ErrNotFound = errors.New("generation not found")

// ErrActive is returned by Resume when the generation is already running.
var ErrActive = errors.New("generation is already running")

// ErrNotActive is returned by Cancel when the generation is not running.
var ErrNotActive = errors.New("generation is not running")

// Options carries the assembled components a Service runs on.
type Options struct {
	Planner    *plan.Planner
	Gateway    *provider.Gateway
	Breakers   *breaker.Registry
	Retry      retry.Config
	Engine     engine.Config
	Store      checkpoint.Store
	Generators *generator.Registry
	Bus        *events.Bus
	HealthDB   *provider.HealthStore // optional; nil disables health persistence
}

// TaskStatus is the externally visible state of one task.
type TaskStatus struct {
	ID        string             `json:"id"`
	Kind      graph.Kind         `json:"kind"`
	State     graph.State        `json:"state"`
	Attempts  int                `json:"attempts"`
	Provider  string             `json:"provider,omitempty"`
	ErrorKind provider.ErrorKind `json:"errorKind,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// GenerationStatus is the externally visible state of one generation.
type GenerationStatus struct {
	GenerationID string       `json:"generationId"`
	Requirement  string       `json:"requirement,omitempty"`
	Outcome      graph.Outcome `json:"outcome"`
	Running      bool         `json:"running"`
	Degraded     bool         `json:"degraded,omitempty"`
	Sequence     uint64       `json:"sequence"`
	Tasks        []TaskStatus `json:"tasks"`
}

// run tracks one in-flight generation.
type run struct {
	graph  *graph.TaskGraph
	engine *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result engine.Result
	err    error
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Service owns the generation registry. Safe for concurrent use.
type Service struct {
	opts Options

	mu   sync.Mutex
	runs map[string]*run
}

// NewService builds a service and restores provider health from the health
// store when one is configured. Open circuits are demoted to half-open so a
// restart always re-probes.
func NewService(opts Options) (*Service, error) {
	if opts.Planner == nil || opts.Gateway == nil || opts.Breakers == nil ||
		opts.Store == nil || opts.Generators == nil {
		return nil, fmt.Errorf("orchestrator: missing required component")
	}

	if opts.HealthDB != nil {
		snapshots, err := opts.HealthDB.Load()
		if err != nil {
			return nil, fmt.Errorf("restoring provider health: %w", err)
		}
		opts.Gateway.Health().Restore(snapshots)
	}

	return &Service{
		opts: opts,
		runs: make(map[string]*run),
	}, nil
}

// Submit plans a generation from the requirement and starts executing it in
// the background. It returns the generation ID as soon as the first
// checkpoint is durable.
func (s *Service) Submit(ctx context.Context, requirement string, c plan.Constraints) (string, error) {
	g, err := s.opts.Planner.Plan(ctx, requirement, c)
	if err != nil {
		return "", err
	}
	if err := s.start(ctx, g, 0); err != nil {
		return "", err
	}
	log.Printf("generation %s: submitted (%d tasks)", g.GenerationID(), len(g.Tasks()))
	return g.GenerationID(), nil
}

// Resume loads the latest checkpoint for the generation and continues
// executing it. Succeeded tasks are never re-run; tasks checkpointed as
// running or retrying are re-dispatched.
func (s *Service) Resume(ctx context.Context, generationID string) error {
	s.mu.Lock()
	if r, ok := s.runs[generationID]; ok && !r.finished() {
		s.mu.Unlock()
		return ErrActive
	}
	s.mu.Unlock()

	snap, err := s.opts.Store.Load(ctx, generationID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return fmt.Errorf("generation %s: %w", generationID, ErrNotFound)
		}
		return fmt.Errorf("loading checkpoint for %s: %w", generationID, err)
	}

	g, err := graph.FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("restoring generation %s: %w", generationID, err)
	}
	if g.IsTerminal() {
		return fmt.Errorf("generation %s already finished with outcome %s", generationID, g.Outcome())
	}

	if err := s.start(ctx, g, snap.Sequence); err != nil {
		return err
	}
	log.Printf("generation %s: resumed from sequence %d", generationID, snap.Sequence)
	return nil
}

// start registers a run and launches the engine goroutine. A fresh graph
// (startSeq 0) gets its first checkpoint written synchronously, so the
// generation is resumable the moment Submit returns; a failed write is
// logged and the engine continues, flagging degraded durability on its own
// checkpoints.
func (s *Service) start(ctx context.Context, g *graph.TaskGraph, startSeq uint64) error {
	if startSeq == 0 {
		if err := s.opts.Store.Save(ctx, g.Snapshot(1)); err != nil {
			log.Printf("WARNING: generation %s: initial checkpoint: %v", g.GenerationID(), err)
		} else {
			startSeq = 1
		}
	}

	eng := engine.New(s.opts.Engine, s.opts.Gateway, s.opts.Breakers, s.opts.Retry,
		s.opts.Store, s.opts.Generators, s.opts.Bus)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		graph:  g,
		engine: eng,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	id := g.GenerationID()
	s.mu.Lock()
	if prev, exists := s.runs[id]; exists && !prev.finished() {
		s.mu.Unlock()
		cancel()
		return ErrActive
	}
	s.runs[id] = r
	s.mu.Unlock()

	go func() {
		defer cancel()
		res, err := eng.Run(runCtx, g, startSeq)

		if err == nil && g.IsTerminal() {
			s.finish(id)
		}
		s.saveHealth()

		r.mu.Lock()
		r.result = res
		r.err = err
		r.mu.Unlock()
		close(r.done)
	}()
	return nil
}

// finish archives a terminal generation's checkpoints.
func (s *Service) finish(generationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.opts.Store.Archive(ctx, generationID); err != nil {
		log.Printf("WARNING: generation %s: archiving checkpoints: %v", generationID, err)
	}
}

// saveHealth persists provider health so rankings survive restarts.
func (s *Service) saveHealth() {
	if s.opts.HealthDB == nil {
		return
	}
	if err := s.opts.HealthDB.Save(s.opts.Gateway.Health().Snapshots()); err != nil {
		log.Printf("WARNING: persisting provider health: %v", err)
	}
}

// Cancel stops an active generation and waits for its engine to settle.
// In-flight tasks are checkpointed as pending so a later Resume re-dispatches
// them. Cancelling an unknown or finished generation returns ErrNotFound.
func (s *Service) Cancel(ctx context.Context, generationID string) error {
	s.mu.Lock()
	r, ok := s.runs[generationID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("generation %s: %w", generationID, ErrNotFound)
	}
	if r.finished() {
		return fmt.Errorf("generation %s: %w", generationID, ErrNotActive)
	}

	r.cancel()
	select {
	case <-r.done:
		log.Printf("generation %s: cancelled", generationID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the generation finishes and returns its result.
func (s *Service) Wait(ctx context.Context, generationID string) (engine.Result, error) {
	s.mu.Lock()
	r, ok := s.runs[generationID]
	s.mu.Unlock()
	if !ok {
		return engine.Result{}, fmt.Errorf("generation %s: %w", generationID, ErrNotFound)
	}

	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, r.err
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
}

// Status reports a generation's state: live from the in-memory graph while
// it runs, from the latest checkpoint afterwards.
func (s *Service) Status(ctx context.Context, generationID string) (GenerationStatus, error) {
	s.mu.Lock()
	r, active := s.runs[generationID]
	s.mu.Unlock()

	if active {
		st := GenerationStatus{
			GenerationID: generationID,
			Requirement:  r.graph.Requirement(),
			Outcome:      r.graph.Outcome(),
			Running:      !r.finished(),
			Degraded:     r.engine.Degraded(),
			Sequence:     r.engine.Sequence(),
		}
		for _, t := range r.graph.Tasks() {
			st.Tasks = append(st.Tasks, taskStatus(t.ID, t.Kind, t.State, t.Attempts, t.Provider, t.LastErr))
		}
		return st, nil
	}

	snap, err := s.opts.Store.Load(ctx, generationID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return GenerationStatus{}, fmt.Errorf("generation %s: %w", generationID, ErrNotFound)
		}
		return GenerationStatus{}, fmt.Errorf("loading checkpoint for %s: %w", generationID, err)
	}

	g, err := graph.FromSnapshot(snap)
	if err != nil {
		return GenerationStatus{}, fmt.Errorf("restoring generation %s: %w", generationID, err)
	}
	st := GenerationStatus{
		GenerationID: generationID,
		Requirement:  snap.Requirement,
		Outcome:      g.Outcome(),
		Sequence:     snap.Sequence,
	}
	for _, t := range snap.Tasks {
		st.Tasks = append(st.Tasks, taskStatus(t.ID, t.Kind, t.State, t.Attempts, t.Provider, t.LastErr))
	}
	return st, nil
}

func taskStatus(id string, kind graph.Kind, state graph.State, attempts int, providerName string, terr *graph.TaskError) TaskStatus {
	ts := TaskStatus{
		ID:       id,
		Kind:     kind,
		State:    state,
		Attempts: attempts,
		Provider: providerName,
	}
	if terr != nil {
		ts.ErrorKind = terr.Kind
		ts.Error = terr.Message
	}
	return ts
}

// Generations lists known generation IDs, newest first.
func (s *Service) Generations(ctx context.Context) ([]string, error) {
	return s.opts.Store.Generations(ctx)
}

// Close cancels all active generations, persists provider health and closes
// the checkpoint store.
func (s *Service) Close() error {
	s.mu.Lock()
	active := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		active = append(active, r)
	}
	s.mu.Unlock()

	for _, r := range active {
		r.cancel()
	}
	for _, r := range active {
		<-r.done
	}

	s.saveHealth()
	if s.opts.HealthDB != nil {
		if err := s.opts.HealthDB.Close(); err != nil {
			log.Printf("WARNING: closing health store: %v", err)
		}
	}
	return s.opts.Store.Close()
}
