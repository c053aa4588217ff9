// Package checkpoint persists versioned task-graph snapshots so a generation
// can resume after a process restart.
package checkpoint

import (
	"context"
	"errors"

	"appforge/internal/graph"
)

// ErrNotFound is returned by Load when no checkpoint exists for a generation.
var ErrNotFound = errors.New("checkpoint not found")

// Store is the durable checkpoint record. Writes are append-only by sequence
// number; recovery always loads the highest sequence for a generation.
type Store interface {
	// Save appends a snapshot. Saving a sequence number that already exists
	// for the generation is an error; snapshots violating dependency
	// consistency are rejected before touching storage.
	Save(ctx context.Context, snap *graph.Snapshot) error

	// Load returns the highest-sequence snapshot for the generation, or
	// ErrNotFound.
	Load(ctx context.Context, generationID string) (*graph.Snapshot, error)

	// Archive marks a generation's checkpoints as belonging to a terminal
	// generation. Archived generations remain loadable for Status queries.
	Archive(ctx context.Context, generationID string) error

	// Generations lists known generation IDs, newest first.
	Generations(ctx context.Context) ([]string, error)

	Close() error
}
