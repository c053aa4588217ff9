package graph

import (
	"time"

	"appforge/internal/provider"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	}
	return false
}

// Kind identifies the module a task generates.
type Kind string

const (
	KindFrontend    Kind = "frontend"
	KindBackend     Kind = "backend"
	KindDatabase    Kind = "database"
	KindAuth        Kind = "auth"
	KindIntegration Kind = "integration"
	KindDeployment  Kind = "deployment"
)

// Kinds lists all supported task kinds.
func Kinds() []Kind {
	return []Kind{KindFrontend, KindBackend, KindDatabase, KindAuth, KindIntegration, KindDeployment}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFrontend, KindBackend, KindDatabase, KindAuth, KindIntegration, KindDeployment:
		return true
	}
	return false
}

// TaskError is the recorded classification and message of a task's last
// failure.
type TaskError struct {
	Kind    provider.ErrorKind `json:"kind"`
	Message string             `json:"message"`
}

func (e *TaskError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Task is one unit of generation work. Owned exclusively by the graph that
// created it; mutated only through TaskGraph.Mark.
type Task struct {
	ID        string
	Kind      Kind
	Input     map[string]any
	DependsOn []string

	State    State
	Attempts int
	LastErr  *TaskError
	Provider string
	Result   map[string]any

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Input != nil {
		cp.Input = make(map[string]any, len(t.Input))
		for k, v := range t.Input {
			cp.Input[k] = v
		}
	}
	if t.Result != nil {
		cp.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			cp.Result[k] = v
		}
	}
	if t.LastErr != nil {
		e := *t.LastErr
		cp.LastErr = &e
	}
	return &cp
}
