package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/sample"
)

// MemStore implements Store in memory. It is safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	order    []string
	runs     map[string]*Run
	series   map[string][]sample.Series
	mappings map[string][]label.Mapping
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		runs:     make(map[string]*Run),
		series:   make(map[string][]sample.Series),
		mappings: make(map[string][]label.Mapping),
	}
}

func (s *MemStore) CreateRun(run *Run) (string, error) {
	if run == nil {
		return "", errors.New("run is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if _, dup := s.runs[cp.ID]; dup {
		return "", fmt.Errorf("run %s already exists", cp.ID)
	}
	if cp.Status == "" {
		cp.Status = StatusRunning
	}
	if cp.StartedAt == "" {
		cp.StartedAt = nowUTC()
	}
	s.runs[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return cp.ID, nil
}

func (s *MemStore) FinishRun(id string, f Finish) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	r.Status = f.Status
	r.Candidates = f.Candidates
	r.Dynamic = f.Dynamic
	r.Mappings = f.Mappings
	r.EarlyTerminated = f.EarlyTerminated
	r.Error = f.Error
	r.FinishedAt = nowUTC()
	return nil
}

func (s *MemStore) GetRun(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) ListRuns() ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		cp := *s.runs[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) SaveSeries(runID string, series []sample.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	cp := make([]sample.Series, len(series))
	for i, ser := range series {
		ser.Values = slices.Clone(ser.Values)
		cp[i] = ser
	}
	s.series[runID] = cp
	return nil
}

func (s *MemStore) ListSeries(runID string) ([]sample.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return slices.Clone(s.series[runID]), nil
}

func (s *MemStore) SaveMappings(runID string, mappings []label.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	s.mappings[runID] = slices.Clone(mappings)
	return nil
}

func (s *MemStore) ListMappings(runID string) ([]label.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return slices.Clone(s.mappings[runID]), nil
}

func (s *MemStore) Close() error { return nil }
