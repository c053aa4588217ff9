// Package graph holds the dependency DAG of generation tasks and its state
// machine. Mutation is serialized behind a single mutex; accessors return
// clones so scheduling decisions observe a consistent snapshot.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"
)

// Outcome is the overall result of driving a graph to a terminal state.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // every task succeeded
	OutcomePartial   Outcome = "partial"   // some succeeded, some skipped/failed
	OutcomeFailed    Outcome = "failed"    // nothing useful was produced
	OutcomePending   Outcome = "pending"   // not terminal yet
)

// IntegrityError reports a state transition that violates the task state
// machine. Always a programming defect, never silently ignored.
type IntegrityError struct {
	TaskID string
	From   State
	To     State
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("task %q: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// TaskGraph is a DAG of tasks for one generation request. Acyclicity and
// dependency resolution are enforced at construction; a cycle is a planning
// error, not a runtime condition.
type TaskGraph struct {
	mu           sync.RWMutex
	generationID string
	requirement  string
	tasks        map[string]*Task
	dependents   map[string][]string
	order        []string
	createdAt    time.Time
}

// New builds and validates a graph. Every dependency must resolve to a task
// in the same set and the edges must form a DAG.
func New(generationID, requirement string, tasks []*Task) (*TaskGraph, error) {
	g := &TaskGraph{
		generationID: generationID,
		requirement:  requirement,
		tasks:        make(map[string]*Task, len(tasks)),
		dependents:   make(map[string][]string),
		createdAt:    time.Now(),
	}

	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task with empty ID")
		}
		if _, exists := g.tasks[t.ID]; exists {
			return nil, fmt.Errorf("duplicate task ID %q", t.ID)
		}
		if !t.Kind.Valid() {
			return nil, fmt.Errorf("task %q: unsupported kind %q", t.ID, t.Kind)
		}
		if t.State == "" {
			t.State = StatePending
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		g.tasks[t.ID] = t
	}

	for id, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", id, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// topoOrder runs a topological sort and returns the task IDs in dependency
// order, or an error if a cycle is present.
func (g *TaskGraph) topoOrder() ([]string, error) {
	var edges []toposort.Edge
	for id, t := range g.tasks {
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
		} else {
			for _, dep := range t.DependsOn {
				edges = append(edges, toposort.Edge{dep, id})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(g.tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.tasks) {
		var missing []string
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for id := range g.tasks {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}
	return order, nil
}

// GenerationID returns the owning generation identifier.
func (g *TaskGraph) GenerationID() string {
	return g.generationID
}

// Requirement returns the requirement text this graph was planned from.
func (g *TaskGraph) Requirement() string {
	return g.requirement
}

// Get returns a clone of the task, if present.
func (g *TaskGraph) Get(taskID string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return nil, false
	}
	return cloneTask(t), true
}

// Tasks returns clones of all tasks in dependency order.
func (g *TaskGraph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, cloneTask(g.tasks[id]))
	}
	return out
}

// States returns the current state of every task.
func (g *TaskGraph) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]State, len(g.tasks))
	for id, t := range g.tasks {
		out[id] = t.State
	}
	return out
}

// ReadyTasks returns clones of pending tasks whose every dependency has
// succeeded. Dispatch order among them is unspecified beyond dependency order.
func (g *TaskGraph) ReadyTasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.State != StatePending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if g.tasks[dep].State != StateSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, cloneTask(t))
		}
	}
	return ready
}

// transitions lists the legal state machine edges. pending -> skipped happens
// only through skip propagation; running/retrying -> pending is the requeue
// path used on cancellation and resume.
var transitions = map[State]map[State]bool{
	StatePending:  {StateRunning: true, StateSkipped: true},
	StateRunning:  {StateSucceeded: true, StateRetrying: true, StateFailed: true, StatePending: true},
	StateRetrying: {StateRunning: true, StateFailed: true, StatePending: true},
}

// Mark applies a state transition, rejecting edges the state machine does not
// allow. Marking a task failed transitively skips every pending dependent;
// the IDs skipped as a consequence are returned so the caller can report
// them. Result and taskErr are recorded on succeeded and failed/retrying
// transitions respectively.
func (g *TaskGraph) Mark(taskID string, to State, result map[string]any, taskErr *TaskError) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	if !transitions[t.State][to] {
		return nil, &IntegrityError{TaskID: taskID, From: t.State, To: to}
	}

	now := time.Now()
	switch to {
	case StateRunning:
		t.Attempts++
		if t.StartedAt.IsZero() {
			t.StartedAt = now
		}
	case StateSucceeded:
		t.Result = result
		t.LastErr = nil
		t.CompletedAt = now
	case StateRetrying:
		t.LastErr = taskErr
	case StateFailed:
		t.LastErr = taskErr
		t.CompletedAt = now
	case StatePending:
		// Requeued: keep attempts and last error for the record.
	}
	t.State = to

	var skipped []string
	if to == StateFailed || to == StateSkipped {
		skipped = g.propagateSkip(taskID, now)
	}
	return skipped, nil
}

// propagateSkip marks every pending transitive dependent of taskID skipped.
// Caller holds the write lock.
func (g *TaskGraph) propagateSkip(taskID string, now time.Time) []string {
	var skipped []string
	queue := append([]string(nil), g.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		dep := g.tasks[id]
		if dep.State != StatePending {
			continue
		}
		dep.State = StateSkipped
		dep.CompletedAt = now
		skipped = append(skipped, id)
		queue = append(queue, g.dependents[id]...)
	}
	sort.Strings(skipped)
	return skipped
}

// AssignProvider records which provider a task was last dispatched to.
func (g *TaskGraph) AssignProvider(taskID, providerName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.tasks[taskID]; ok {
		t.Provider = providerName
	}
}

// IsTerminal reports whether no task can make further progress.
func (g *TaskGraph) IsTerminal() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, t := range g.tasks {
		if !t.State.Terminal() {
			return false
		}
	}
	return true
}

// Outcome summarizes a terminal graph: completed when everything succeeded,
// partial when some tasks succeeded alongside failures or skips, failed when
// nothing did. A non-terminal graph reports pending.
func (g *TaskGraph) Outcome() Outcome {
	g.mu.RLock()
	defer g.mu.RUnlock()

	succeeded, failed := 0, 0
	for _, t := range g.tasks {
		switch t.State {
		case StateSucceeded:
			succeeded++
		case StateFailed, StateSkipped:
			failed++
		default:
			return OutcomePending
		}
	}
	switch {
	case failed == 0:
		return OutcomeCompleted
	case succeeded > 0:
		return OutcomePartial
	default:
		return OutcomeFailed
	}
}

// RequeueInFlight demotes running and retrying tasks back to pending. Called
// before (re)executing a graph restored from a checkpoint: tasks that were
// in flight during an unclean shutdown are re-dispatched (at-least-once).
func (g *TaskGraph) RequeueInFlight() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var requeued []string
	for id, t := range g.tasks {
		if t.State == StateRunning || t.State == StateRetrying {
			t.State = StatePending
			requeued = append(requeued, id)
		}
	}
	sort.Strings(requeued)
	return requeued
}
