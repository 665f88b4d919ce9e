// Package memhistory provides an in-process history backend that ranks
// chunks by how many query terms they contain.
package memhistory

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/newsdesk/internal/history"
)

type entry struct {
	chunk history.Chunk
	terms map[string]struct{}
}

// Store holds history chunks in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	entries []entry
	index   map[chunkKey]int // source/seq -> position in entries
}

// New initializes an empty Store.
func New() *Store {
	return &Store{index: make(map[chunkKey]int)}
}

// Write stores chunks, replacing any with the same source and sequence.
func (s *Store) Write(_ context.Context, chunks []history.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		e := entry{chunk: c, terms: make(map[string]struct{})}
		for _, t := range history.Terms(c.Content) {
			e.terms[t] = struct{}{}
		}
		k := key(c)
		if i, ok := s.index[k]; ok {
			s.entries[i] = e
			continue
		}
		s.index[k] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Retrieve returns up to topK chunks sharing at least one term with query.
// The distance of a chunk is the number of query terms it lacks.
func (s *Store) Retrieve(ctx context.Context, query string, topK int) ([]history.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := history.Terms(query)
	if len(terms) == 0 || topK <= 0 {
		return []history.Result{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]history.Result, 0, topK)
	for _, e := range s.entries {
		matched := 0
		for _, t := range terms {
			if _, ok := e.terms[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, history.Result{
			Content: e.chunk.Content,
			Source:  e.chunk.Source,
			Score:   history.ScoreFromDistance(float64(len(terms) - matched)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type chunkKey struct {
	source string
	seq    int
}

func key(c history.Chunk) chunkKey { return chunkKey{source: c.Source, seq: c.Seq} }
