// Package engine drives a task graph to completion: it schedules ready
// tasks, dispatches them through the fallback coordinator, circuit breakers
// and retry policy to the provider gateway, and checkpoints every state
// transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"appforge/internal/breaker"
	"appforge/internal/checkpoint"
	"appforge/internal/events"
	"appforge/internal/generator"
	"appforge/internal/graph"
	"appforge/internal/provider"
	"appforge/internal/retry"
)

// Config tunes one engine run.
type Config struct {
	MaxInFlight int           // bound on concurrent task executions (default 4)
	TaskTimeout time.Duration // wall-clock budget per task, dispatch to terminal (default 5m)
	Deadline    time.Duration // optional budget for the whole generation, 0 disables
}

// Result is the terminal summary of a run.
type Result struct {
	Outcome    graph.Outcome
	TaskStates map[string]graph.State
	Degraded   bool // checkpointing was unavailable at the end of the run
}

// Engine executes one generation's task graph. Not safe for concurrent Run
// calls; the orchestrator creates one engine per generation.
type Engine struct {
	cfg         Config
	gateway     *provider.Gateway
	breakers    *breaker.Registry
	policy      *retry.Policy
	store       checkpoint.Store
	generators  *generator.Registry
	bus         *events.Bus
	coordinator *Coordinator

	ckptPolicy *retry.Policy

	mu       sync.Mutex // serializes mark + snapshot + checkpoint write
	seq      uint64
	degraded atomic.Bool
}

// New assembles an engine. The retry policy's provider_unavailable budget is
// widened to the provider count so fallback can try every provider before a
// task fails.
func New(cfg Config, gw *provider.Gateway, breakers *breaker.Registry, rc retry.Config, store checkpoint.Store, generators *generator.Registry, bus *events.Bus) *Engine {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if rc.MaxAttempts == nil {
		rc.MaxAttempts = retry.DefaultConfig().MaxAttempts
	}
	if _, ok := rc.MaxAttempts[provider.KindUnavailable]; !ok {
		attempts := make(map[provider.ErrorKind]int, len(rc.MaxAttempts)+1)
		for k, v := range rc.MaxAttempts {
			attempts[k] = v
		}
		attempts[provider.KindUnavailable] = len(gw.Names()) + 1
		rc.MaxAttempts = attempts
	}
	return &Engine{
		cfg:         cfg,
		gateway:     gw,
		breakers:    breakers,
		policy:      retry.NewPolicy(rc),
		store:       store,
		generators:  generators,
		bus:         bus,
		coordinator: NewCoordinator(gw),
		ckptPolicy: retry.NewPolicy(retry.Config{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxElapsedTime:  10 * time.Second,
			MaxAttempts: map[provider.ErrorKind]int{
				provider.KindTransient: 3,
			},
		}),
	}
}

// Run drives g until every task is terminal or ctx is cancelled. startSeq is
// the sequence number of the checkpoint g was restored from (0 for a fresh
// graph); subsequent checkpoints continue from there. Tasks restored in
// running or retrying state are requeued before the first wave, so resuming
// never re-executes succeeded work but re-dispatches interrupted work.
func (e *Engine) Run(ctx context.Context, g *graph.TaskGraph, startSeq uint64) (Result, error) {
	e.seq = startSeq

	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}

	if requeued := g.RequeueInFlight(); len(requeued) > 0 {
		log.Printf("generation %s: requeued in-flight tasks %v", g.GenerationID(), requeued)
		e.checkpointNow(g)
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.result(g), err
		}

		ready := g.ReadyTasks()
		if len(ready) == 0 {
			if g.IsTerminal() {
				break
			}
			// No ready tasks and nothing running after the previous wave
			// settled: the graph cannot make progress. Skip propagation
			// should have prevented this.
			return e.result(g), fmt.Errorf("generation %s: graph stalled with non-terminal tasks", g.GenerationID())
		}

		grp, gctx := errgroup.WithContext(ctx)
		grp.SetLimit(e.cfg.MaxInFlight)
		for _, t := range ready {
			t := t
			grp.Go(func() error {
				e.executeTask(gctx, g, t)
				return nil
			})
		}
		_ = grp.Wait()
	}

	res := e.result(g)
	e.publishGeneration(events.GenerationEvent{
		Type:         events.EventTypeGenerationFinished,
		GenerationID: g.GenerationID(),
		Outcome:      res.Outcome,
		Timestamp:    time.Now(),
	})
	log.Printf("generation %s: finished with outcome %s", g.GenerationID(), res.Outcome)
	return res, nil
}

func (e *Engine) result(g *graph.TaskGraph) Result {
	return Result{
		Outcome:    g.Outcome(),
		TaskStates: g.States(),
		Degraded:   e.degraded.Load(),
	}
}

// executeTask runs one task through fallback, breaker, retry and gateway.
// Task outcomes live in the graph; this never returns an error to the wave.
func (e *Engine) executeTask(ctx context.Context, g *graph.TaskGraph, t *graph.Task) {
	gen, err := e.generators.Get(t.Kind)
	if err != nil {
		e.transition(g, t.ID, graph.StateFailed, nil, &graph.TaskError{
			Kind:    provider.KindPermanent,
			Message: err.Error(),
		})
		return
	}

	e.transition(g, t.ID, graph.StateRunning, nil, nil)

	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()

	var (
		lastProvider string
		lastKind     provider.ErrorKind
		result       generator.Result
	)

	op := func(opCtx context.Context, attempt int) error {
		cur, ok := g.Get(t.ID)
		if !ok {
			return provider.NewError(provider.KindPermanent, "", "task disappeared from graph")
		}
		if cur.State == graph.StateRetrying {
			// Backoff elapsed.
			e.transition(g, t.ID, graph.StateRunning, nil, nil)
		}

		name, selErr := e.coordinator.Select(lastProvider, lastKind)
		if selErr != nil {
			// Every provider exhausted; retrying cannot help.
			lastKind = provider.KindUnavailable
			return retry.Permanent(selErr)
		}
		if name != lastProvider {
			if lastProvider != "" {
				log.Printf("generation %s: task %s failing over from %s to %s",
					g.GenerationID(), t.ID, lastProvider, name)
			}
			lastProvider = name
			g.AssignProvider(t.ID, name)
		}

		complete := func(cctx context.Context, req provider.Request) (provider.Response, error) {
			return e.breakers.Execute(name, func() (provider.Response, error) {
				return e.gateway.Complete(cctx, name, req)
			})
		}

		res, genErr := gen.Generate(opCtx, generator.Request{
			Task:     *cur,
			Attempt:  attempt,
			LastErr:  cur.LastErr,
			Complete: complete,
		})
		if genErr != nil {
			lastKind = provider.Classify(genErr)
			return genErr
		}
		result = res
		return nil
	}

	notify := func(opErr error, kind provider.ErrorKind, attempt int, delay time.Duration) {
		e.transition(g, t.ID, graph.StateRetrying, nil, &graph.TaskError{
			Kind:    kind,
			Message: opErr.Error(),
		})
		log.Printf("generation %s: task %s attempt %d failed (%s), retrying in %s",
			g.GenerationID(), t.ID, attempt, kind, delay.Round(time.Millisecond))
	}

	err = e.policy.Do(taskCtx, op, notify)
	if err == nil {
		e.transition(g, t.ID, graph.StateSucceeded, result.Output, nil)
		return
	}

	// Caller abort: persist as pending so resume re-dispatches the task.
	if ctx.Err() != nil {
		log.Printf("generation %s: task %s cancelled, requeued as pending", g.GenerationID(), t.ID)
		e.transition(g, t.ID, graph.StatePending, nil, nil)
		return
	}

	kind := provider.Classify(err)
	msg := err.Error()
	if taskCtx.Err() == context.DeadlineExceeded {
		// Wall-clock budget exceeded: forced failure, transient unless a
		// prior classification exists.
		if lastKind != "" {
			kind = lastKind
		} else {
			kind = provider.KindTransient
		}
		msg = fmt.Sprintf("task budget %s exceeded: %s", e.cfg.TaskTimeout, msg)
	}
	e.transition(g, t.ID, graph.StateFailed, nil, &graph.TaskError{Kind: kind, Message: msg})
}

// transition applies a state change, checkpoints the resulting snapshot and
// publishes the matching events. Mark, snapshot and save are serialized
// under one mutex so checkpoint sequences are strictly ordered.
func (e *Engine) transition(g *graph.TaskGraph, taskID string, to graph.State, result map[string]any, terr *graph.TaskError) {
	e.mu.Lock()
	skipped, err := g.Mark(taskID, to, result, terr)
	if err != nil {
		e.mu.Unlock()
		var ierr *graph.IntegrityError
		if errors.As(err, &ierr) {
			// Always a programming defect; never silently ignored.
			panic(err)
		}
		log.Printf("generation %s: mark %s -> %s: %v", g.GenerationID(), taskID, to, err)
		return
	}
	e.seq++
	snap := g.Snapshot(e.seq)
	e.persist(snap)
	e.mu.Unlock()

	e.publishTask(g, taskID, to, terr)
	for _, id := range skipped {
		e.publishTask(g, id, graph.StateSkipped, nil)
	}
}

// checkpointNow snapshots and persists without a state transition.
func (e *Engine) checkpointNow(g *graph.TaskGraph) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.persist(g.Snapshot(e.seq))
}

// persist writes a snapshot through the checkpoint retry policy. When the
// store stays unavailable the engine continues in memory but flags degraded
// durability; it never drops state silently. Caller holds e.mu.
func (e *Engine) persist(snap *graph.Snapshot) {
	err := e.ckptPolicy.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if saveErr := e.store.Save(ctx, snap); saveErr != nil {
			return provider.WrapError(provider.KindTransient, "", saveErr)
		}
		return nil
	}, nil)

	if err != nil {
		if !e.degraded.Swap(true) {
			log.Printf("WARNING: generation %s: checkpointing unavailable, continuing in memory: %v",
				snap.GenerationID, err)
			e.publishGeneration(events.GenerationEvent{
				Type:         events.EventTypeDurabilityDegraded,
				GenerationID: snap.GenerationID,
				Detail:       err.Error(),
				Timestamp:    time.Now(),
			})
		}
		return
	}
	if e.degraded.Swap(false) {
		log.Printf("generation %s: checkpointing recovered at sequence %d", snap.GenerationID, snap.Sequence)
	}
}

func (e *Engine) publishTask(g *graph.TaskGraph, taskID string, to graph.State, terr *graph.TaskError) {
	if e.bus == nil {
		return
	}
	t, ok := g.Get(taskID)
	if !ok {
		return
	}

	var evType string
	switch to {
	case graph.StateRunning:
		evType = events.EventTypeTaskStarted
	case graph.StateRetrying:
		evType = events.EventTypeTaskRetrying
	case graph.StateSucceeded:
		evType = events.EventTypeTaskSucceeded
	case graph.StateFailed:
		evType = events.EventTypeTaskFailed
	case graph.StateSkipped:
		evType = events.EventTypeTaskSkipped
	default:
		return
	}

	ev := events.TaskEvent{
		Type:         evType,
		GenerationID: g.GenerationID(),
		TaskID:       taskID,
		Kind:         t.Kind,
		State:        to,
		Attempt:      t.Attempts,
		Provider:     t.Provider,
		Timestamp:    time.Now(),
	}
	if terr != nil {
		ev.ErrorKind = terr.Kind
		ev.Error = terr.Message
	}
	e.bus.Publish(events.TopicTask, ev)
}

func (e *Engine) publishGeneration(ev events.GenerationEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicGeneration, ev)
}

// Degraded reports whether checkpoint writes are currently failing.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// Sequence returns the last checkpoint sequence written by this engine.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
