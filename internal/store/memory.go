package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ljwheeler/nmixsim/internal/harness"
)

// MemoryStore implements ResultStore in memory. Useful for tests and for
// one-shot runs that do not need persistence.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[string]Run
	rows        map[string][]harness.Row
	failures    map[string][]harness.Failure
	calibration map[string][]harness.Calibration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]Run),
		rows:        make(map[string][]harness.Row),
		failures:    make(map[string][]harness.Failure),
		calibration: make(map[string][]harness.Calibration),
	}
}

// SaveRun stores the run record and deep-copies the result tables.
func (s *MemoryStore) SaveRun(ctx context.Context, run Run, res *harness.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	run.Failed = len(res.Failures)
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.runs[run.ID] = run
	s.rows[run.ID] = append([]harness.Row(nil), res.Rows...)
	s.failures[run.ID] = append([]harness.Failure(nil), res.Failures...)
	s.calibration[run.ID] = res.Aggregate()
	return nil
}

// GetRun retrieves one run record.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &run, nil
}

// ListRuns returns all runs, newest first.
func (s *MemoryStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Rows returns the estimate rows of a run.
func (s *MemoryStore) Rows(ctx context.Context, id string) ([]harness.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]harness.Row(nil), s.rows[id]...), nil
}

// Failures returns the recorded failures of a run.
func (s *MemoryStore) Failures(ctx context.Context, id string) ([]harness.Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]harness.Failure(nil), s.failures[id]...), nil
}

// Calibration returns the aggregated calibration table of a run.
func (s *MemoryStore) Calibration(ctx context.Context, id string) ([]harness.Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]harness.Calibration(nil), s.calibration[id]...), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
