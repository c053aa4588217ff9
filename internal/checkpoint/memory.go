package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"appforge/internal/graph"
)

// MemoryStore is an in-process Store used in tests and as the degraded-mode
// fallback when no durable backend is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	snaps    map[string][]*graph.Snapshot // generation ID -> ascending sequence
	archived map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps:    make(map[string][]*graph.Snapshot),
		archived: make(map[string]bool),
	}
}

func (s *MemoryStore) Save(ctx context.Context, snap *graph.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	// Deep copy through JSON so later graph mutation cannot alter history.
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	var cp graph.Snapshot
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snaps[snap.GenerationID] {
		if existing.Sequence == snap.Sequence {
			return fmt.Errorf("checkpoint %s/%d already exists", snap.GenerationID, snap.Sequence)
		}
	}
	s.snaps[snap.GenerationID] = append(s.snaps[snap.GenerationID], &cp)
	sort.Slice(s.snaps[snap.GenerationID], func(i, j int) bool {
		return s.snaps[snap.GenerationID][i].Sequence < s.snaps[snap.GenerationID][j].Sequence
	})
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, generationID string) (*graph.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snaps[generationID]
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	latest := snaps[len(snaps)-1]
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) Archive(ctx context.Context, generationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps[generationID]) == 0 {
		return ErrNotFound
	}
	s.archived[generationID] = true
	return nil
}

// Archived reports whether a generation has been archived.
func (s *MemoryStore) Archived(generationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archived[generationID]
}

func (s *MemoryStore) Generations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		out = append(out, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// History returns every saved sequence for a generation, ascending. Test
// helper.
func (s *MemoryStore) History(generationID string) []*graph.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*graph.Snapshot(nil), s.snaps[generationID]...)
}
