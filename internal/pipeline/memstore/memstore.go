// Package memstore provides an in-memory implementation of pipeline.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/newsdesk/internal/pipeline"
)

// DefaultRetain is how many runs are kept when New is given a non-positive limit.
const DefaultRetain = 50

// Store holds run results in memory, oldest evicted first.
type Store struct {
	mu      sync.RWMutex
	results map[string]*pipeline.RunResult // run ID -> result
	order   []string                       // run IDs, oldest first
	retain  int
}

// New initializes a new in-memory Store keeping at most retain runs.
func New(retain int) *Store {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Store{
		results: make(map[string]*pipeline.RunResult),
		retain:  retain,
	}
}

// Get retrieves a run result by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*pipeline.RunResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

// Latest returns a copy of the most recently submitted run that has finished.
func (s *Store) Latest(_ context.Context) (*pipeline.RunResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.results[s.order[i]]
		if r.Status.Finished() {
			return r.Clone(), true, nil
		}
	}
	return nil, false, nil
}

// Put stores a copy of the run result.
func (s *Store) Put(_ context.Context, r *pipeline.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.results[r.ID] = r.Clone()
	for len(s.order) > s.retain {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}
