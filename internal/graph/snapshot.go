package graph

import (
	"fmt"
	"time"
)

// TaskSnapshot is the durable form of one task.
type TaskSnapshot struct {
	ID          string             `json:"id"`
	Kind        Kind               `json:"kind"`
	Input       map[string]any     `json:"input,omitempty"`
	DependsOn   []string           `json:"dependsOn,omitempty"`
	State       State              `json:"state"`
	Attempts    int                `json:"attempts"`
	LastErr     *TaskError         `json:"lastErr,omitempty"`
	Provider    string             `json:"provider,omitempty"`
	Result      map[string]any     `json:"result,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	StartedAt   time.Time          `json:"startedAt,omitempty"`
	CompletedAt time.Time          `json:"completedAt,omitempty"`
}

// Snapshot is a versioned, durable snapshot of a graph's full state, keyed by
// generation ID and a monotonically increasing sequence number.
type Snapshot struct {
	GenerationID string         `json:"generationId"`
	Requirement  string         `json:"requirement,omitempty"`
	Sequence     uint64         `json:"sequence"`
	CreatedAt    time.Time      `json:"createdAt"`
	Tasks        []TaskSnapshot `json:"tasks"`
}

// Validate enforces the checkpoint invariant: a snapshot must not contradict
// the dependency structure. No task may be recorded succeeded while a
// declared dependency is failed, skipped or missing.
func (s *Snapshot) Validate() error {
	states := make(map[string]State, len(s.Tasks))
	for _, t := range s.Tasks {
		states[t.ID] = t.State
	}
	for _, t := range s.Tasks {
		if t.State != StateSucceeded && t.State != StateRunning {
			continue
		}
		for _, dep := range t.DependsOn {
			depState, ok := states[dep]
			if !ok {
				return fmt.Errorf("snapshot %s/%d: task %q in state %s has missing dependency %q",
					s.GenerationID, s.Sequence, t.ID, t.State, dep)
			}
			if depState == StateFailed || depState == StateSkipped {
				return fmt.Errorf("snapshot %s/%d: task %q in state %s has %s dependency %q",
					s.GenerationID, s.Sequence, t.ID, t.State, depState, dep)
			}
		}
	}
	return nil
}

// Snapshot captures the graph's full state at the given sequence number.
func (g *TaskGraph) Snapshot(sequence uint64) *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := &Snapshot{
		GenerationID: g.generationID,
		Requirement:  g.requirement,
		Sequence:     sequence,
		CreatedAt:    time.Now(),
		Tasks:        make([]TaskSnapshot, 0, len(g.order)),
	}
	for _, id := range g.order {
		t := cloneTask(g.tasks[id])
		snap.Tasks = append(snap.Tasks, TaskSnapshot{
			ID:          t.ID,
			Kind:        t.Kind,
			Input:       t.Input,
			DependsOn:   t.DependsOn,
			State:       t.State,
			Attempts:    t.Attempts,
			LastErr:     t.LastErr,
			Provider:    t.Provider,
			Result:      t.Result,
			CreatedAt:   t.CreatedAt,
			StartedAt:   t.StartedAt,
			CompletedAt: t.CompletedAt,
		})
	}
	return snap
}

// FromSnapshot rebuilds an in-memory graph from a durable snapshot.
func FromSnapshot(snap *Snapshot) (*TaskGraph, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(snap.Tasks))
	for _, ts := range snap.Tasks {
		tasks = append(tasks, &Task{
			ID:          ts.ID,
			Kind:        ts.Kind,
			Input:       ts.Input,
			DependsOn:   ts.DependsOn,
			State:       ts.State,
			Attempts:    ts.Attempts,
			LastErr:     ts.LastErr,
			Provider:    ts.Provider,
			Result:      ts.Result,
			CreatedAt:   ts.CreatedAt,
			StartedAt:   ts.StartedAt,
			CompletedAt: ts.CompletedAt,
		})
	}
	return New(snap.GenerationID, snap.Requirement, tasks)
}
