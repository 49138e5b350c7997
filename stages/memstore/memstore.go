// Package memstore implements an in-memory retriever stage using
// cosine similarity over stored vectors. It is the default vector
// store for development and tests; durability is the embedder's
// problem, not this package's.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/c360studio/ragline/plugin/stage"
)

// Version is the plugin version reported to the registry.
const Version = "1.0.0"

// Store is an in-memory vector store. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items []stage.Indexed
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Metadata implements stage.Plugin.
func (s *Store) Metadata() stage.Metadata {
	return stage.Metadata{
		Name:    "memory",
		Version: Version,
		Type:    stage.CategoryRetriever,
	}
}

// Store appends indexed items. Items with an ID matching an existing
// entry replace it.
func (s *Store) Store(_ context.Context, items []stage.Indexed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if len(item.Vector) == 0 {
			return fmt.Errorf("memstore: item %q has no vector", item.ID)
		}
		replaced := false
		for i := range s.items {
			if item.ID != "" && s.items[i].ID == item.ID {
				s.items[i] = item
				replaced = true
				break
			}
		}
		if !replaced {
			s.items = append(s.items, item)
		}
	}
	return nil
}

// Retrieve returns the limit most similar contexts to the query vector,
// best first.
func (s *Store) Retrieve(_ context.Context, query stage.Vector, limit int) ([]stage.Context, error) {
	if len(query) == 0 {
		return nil, errors.New("memstore: empty query vector")
	}
	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		ctx   stage.Context
		score float64
	}
	results := make([]scored, 0, len(s.items))
	for _, item := range s.items {
		sim, err := cosine(query, item.Vector)
		if err != nil {
			continue // dimension mismatch: skip, don't fail the query
		}
		results = append(results, scored{
			ctx: stage.Context{
				Text:   item.Text,
				Source: item.Source,
				Score:  sim,
			},
			score: sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]stage.Context, len(results))
	for i, r := range results {
		out[i] = r.ctx
	}
	return out, nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all stored items.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// cosine computes cosine similarity between two vectors.
func cosine(a, b stage.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
