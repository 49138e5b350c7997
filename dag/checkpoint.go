package dag

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Checkpoint is a named snapshot of execution state taken after
// successful nodes. Results and Errors are copies; mutating a loaded
// checkpoint does not affect a running execution.
type Checkpoint struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Results   map[string]any    `json:"results"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// CheckpointSummary is the listing view of a stored checkpoint.
type CheckpointSummary struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Nodes     int       `json:"nodes"`
	Errors    int       `json:"errors"`
}

// CheckpointStore persists checkpoints. The engine only needs these four
// operations; any store implementing them is substitutable for the
// in-memory default. Saves must be idempotent under the same id.
type CheckpointStore interface {
	Save(cp *Checkpoint) error
	Load(id string) (*Checkpoint, error)
	List() []CheckpointSummary
	Clear(id string) error
}

// MemoryCheckpointStore keeps checkpoints in process memory.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]*Checkpoint)}
}

// Save stores a checkpoint, replacing any previous snapshot with the
// same id.
func (s *MemoryCheckpointStore) Save(cp *Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return fmt.Errorf("checkpoint id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ID] = cp
	return nil
}

// Load returns the checkpoint with the given id.
func (s *MemoryCheckpointStore) Load(id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCheckpointNotFound, id)
	}
	return cp, nil
}

// List returns summaries of all stored checkpoints sorted by id.
func (s *MemoryCheckpointStore) List() []CheckpointSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CheckpointSummary, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, CheckpointSummary{
			ID:        cp.ID,
			Timestamp: cp.Timestamp,
			Nodes:     len(cp.Results),
			Errors:    len(cp.Errors),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear removes the checkpoint with the given id. Clearing an unknown id
// is a no-op.
func (s *MemoryCheckpointStore) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, id)
	return nil
}

// SaveCheckpoint snapshots the given results and errors under id.
func (d *DAG) SaveCheckpoint(id string, results map[string]any, errs map[string]error) error {
	cp := &Checkpoint{
		ID:        id,
		Timestamp: time.Now(),
		Results:   make(map[string]any, len(results)),
		Errors:    make(map[string]string, len(errs)),
	}
	for k, v := range results {
		cp.Results[k] = v
	}
	for k, err := range errs {
		cp.Errors[k] = err.Error()
	}

	d.checkpointMu.Lock()
	store := d.checkpoints
	d.checkpointMu.Unlock()
	return store.Save(cp)
}

// LoadCheckpoint returns the stored checkpoint for id, or nil when no
// checkpoint exists.
func (d *DAG) LoadCheckpoint(id string) (*Checkpoint, error) {
	d.checkpointMu.Lock()
	store := d.checkpoints
	d.checkpointMu.Unlock()

	cp, err := store.Load(id)
	if err != nil {
		if errors.Is(err, ErrCheckpointNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return cp, nil
}

// ClearCheckpoint removes the checkpoint with the given id.
func (d *DAG) ClearCheckpoint(id string) error {
	d.checkpointMu.Lock()
	store := d.checkpoints
	d.checkpointMu.Unlock()
	return store.Clear(id)
}

// ListCheckpoints returns summaries of stored checkpoints.
func (d *DAG) ListCheckpoints() []CheckpointSummary {
	d.checkpointMu.Lock()
	store := d.checkpoints
	d.checkpointMu.Unlock()
	return store.List()
}
