package events

import (
	"time"

	"appforge/internal/graph"
	"appforge/internal/provider"
)

// Topic constants
const (
	TopicTask       = "task"
	TopicGeneration = "generation"
)

// Event type constants
const (
	EventTypeTaskStarted        = "task.started"
	EventTypeTaskRetrying       = "task.retrying"
	EventTypeTaskSucceeded      = "task.succeeded"
	EventTypeTaskFailed         = "task.failed"
	EventTypeTaskSkipped        = "task.skipped"
	EventTypeGenerationFinished = "generation.finished"
	EventTypeDurabilityDegraded = "generation.durability_degraded"
)

// Event is the base interface for all progress events.
type Event interface {
	EventType() string
	Generation() string
}

// TaskEvent reports a task state transition.
type TaskEvent struct {
	Type         string             `json:"type"`
	GenerationID string             `json:"generationId"`
	TaskID       string             `json:"taskId"`
	Kind         graph.Kind         `json:"kind"`
	State        graph.State        `json:"state"`
	Attempt      int                `json:"attempt,omitempty"`
	Provider     string             `json:"provider,omitempty"`
	ErrorKind    provider.ErrorKind `json:"errorKind,omitempty"`
	Error        string             `json:"error,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

func (e TaskEvent) EventType() string  { return e.Type }
func (e TaskEvent) Generation() string { return e.GenerationID }

// GenerationEvent reports a generation-level condition: terminal outcome or
// degraded durability.
type GenerationEvent struct {
	Type         string        `json:"type"`
	GenerationID string        `json:"generationId"`
	Outcome      graph.Outcome `json:"outcome,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

func (e GenerationEvent) EventType() string  { return e.Type }
func (e GenerationEvent) Generation() string { return e.GenerationID }
