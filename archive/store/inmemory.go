package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/acauret/infrastructure-agent/archive"
	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/event"
)

// InMemoryStore implements archive.Store with in-process storage. It is the
// default backend and the one used in tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*archive.Run
}

// NewInMemoryStore creates a new in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]*archive.Run)}
}

// SaveRun stores a run, replacing any existing run with the same ID.
func (s *InMemoryStore) SaveRun(ctx context.Context, run *archive.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("store: run and run ID are required")
	}

	cp := copyRun(run)
	s.mu.Lock()
	s.runs[run.ID] = cp
	s.mu.Unlock()
	return nil
}

// LoadRun returns a run by ID.
func (s *InMemoryStore) LoadRun(ctx context.Context, id string) (*archive.Run, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: run %s: %w", id, agenterrors.ErrRunNotFound)
	}
	return copyRun(run), nil
}

// ListRuns returns all run IDs, newest first.
func (s *InMemoryStore) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*archive.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CompletedAt.After(runs[j].CompletedAt)
	})

	ids := make([]string, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
	}
	return ids, nil
}

// Count returns the number of stored runs.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func copyRun(run *archive.Run) *archive.Run {
	cp := *run
	cp.Events = append([]event.WireEvent(nil), run.Events...)
	return &cp
}
