package dag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// executionState is the per-invocation mutable state. Updates are
// serialized behind the mutex so concurrent mode sees consistent maps.
type executionState struct {
	mu          sync.Mutex
	results     map[string]any
	errors      map[string]error
	retryCounts map[string]int
	startedAt   time.Time
}

func newExecutionState() *executionState {
	return &executionState{
		results:     make(map[string]any),
		errors:      make(map[string]error),
		retryCounts: make(map[string]int),
		startedAt:   time.Now(),
	}
}

func (s *executionState) result(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.results[id]
	return v, ok
}

func (s *executionState) setResult(id string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = v
}

func (s *executionState) setError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[id] = err
}

func (s *executionState) errorFor(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors[id]
}

func (s *executionState) incrementRetry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCounts[id]++
}

func (s *executionState) retryCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCounts[id]
}

func (s *executionState) resultsCopy() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

func (s *executionState) errorsCopy() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]error, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// Execute runs the DAG. Source nodes receive opts.Seed; other nodes
// receive a map of dependency id to result. The return value is either
// the sink value (single sink), a map of sink id to value (multiple
// sinks), or the full results map when a stateful option is active — see
// Options.returnsResultMap.
func (d *DAG) Execute(ctx context.Context, opts Options) (any, error) {
	if err := d.Validate(); err != nil {
		return nil, wrapExecution(err)
	}
	order, err := d.TopoSort()
	if err != nil {
		return nil, wrapExecution(err)
	}

	state := newExecutionState()
	d.rehydrate(state, opts)

	execCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var runErr error
	if opts.MaxConcurrency > 1 {
		runErr = d.executeConcurrent(execCtx, order, state, opts)
	} else {
		runErr = d.executeSequential(execCtx, order, state, opts)
	}
	if runErr == nil {
		runErr = requiredNodesError(state, opts)
	}
	if runErr != nil {
		return nil, wrapExecution(runErr)
	}

	return d.shapeResult(state, opts)
}

// rehydrate preloads results from external checkpoint data or the
// checkpoint store.
func (d *DAG) rehydrate(state *executionState, opts Options) {
	if opts.ExternalCheckpointData != nil {
		for id, v := range opts.ExternalCheckpointData {
			if d.nodes[id] != nil {
				state.setResult(id, v)
			}
		}
		return
	}
	if opts.ResumeFromCheckpoint && opts.CheckpointID != "" {
		cp, err := d.LoadCheckpoint(opts.CheckpointID)
		if err != nil || cp == nil {
			return
		}
		for id, v := range cp.Results {
			if d.nodes[id] != nil {
				state.setResult(id, v)
			}
		}
	}
}

// buildInput assembles a node's input. ok is false when a dependency
// result is missing (the dependency failed or was skipped).
func buildInput(node *Node, state *executionState, seed any) (any, bool) {
	if len(node.inputs) == 0 {
		return seed, true
	}

	input := make(map[string]any, len(node.inputs))
	for _, dep := range node.inputs {
		v, ok := state.result(dep.ID)
		if !ok {
			return nil, false
		}
		input[dep.ID] = v
	}
	return input, true
}

// runNode executes a node with the configured retry policy.
func (d *DAG) runNode(ctx context.Context, node *Node, input any, state *executionState, opts Options) (any, error) {
	attempts := opts.maxRetries() + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			state.incrementRetry(node.ID)
			d.logger.Debug("retrying node", "node", node.ID, "attempt", attempt)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := node.Run(ctx, input)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// checkpointAfter snapshots state after a successful node when automatic
// checkpointing is enabled.
func (d *DAG) checkpointAfter(state *executionState, opts Options) {
	if !opts.EnableCheckpoints || opts.CheckpointID == "" {
		return
	}
	if err := d.SaveCheckpoint(opts.CheckpointID, state.resultsCopy(), state.errorsCopy()); err != nil {
		d.logger.Warn("checkpoint save failed", "checkpoint_id", opts.CheckpointID, "error", err)
	}
}

// executeSequential walks the topological order one node at a time.
func (d *DAG) executeSequential(ctx context.Context, order []*Node, state *executionState, opts Options) error {
	for _, node := range order {
		if ctx.Err() != nil {
			return ctxError(ctx, opts)
		}
		if _, done := state.result(node.ID); done {
			continue // rehydrated from a checkpoint
		}

		input, ready := buildInput(node, state, opts.Seed)
		if !ready {
			// A dependency failed or was skipped; under degradation the
			// node is skipped silently.
			continue
		}

		value, err := d.runNode(ctx, node, input, state, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctxError(ctx, opts)
			}
			state.setError(node.ID, err)
			if !opts.GracefulDegradation {
				return &NodeError{NodeID: node.ID, Err: err}
			}
			continue
		}

		state.setResult(node.ID, value)
		d.checkpointAfter(state, opts)
	}
	return nil
}

// executeConcurrent runs nodes whose dependencies are satisfied with at
// most opts.MaxConcurrency in flight. Within the ready set, ties break by
// insertion order for determinism.
func (d *DAG) executeConcurrent(ctx context.Context, order []*Node, state *executionState, opts Options) error {
	type nodeDone struct {
		node  *Node
		value any
		err   error
	}

	remaining := make(map[string]int, len(order))
	scheduled := make(map[string]bool, len(order))
	var ready []*Node

	enqueue := func(n *Node) {
		ready = append(ready, n)
		sort.Slice(ready, func(i, j int) bool { return ready[i].order < ready[j].order })
	}

	// finish marks a node terminal and unblocks or skips its dependents.
	var finish func(n *Node)
	finish = func(n *Node) {
		for _, child := range n.outputs {
			remaining[child.ID]--
			if remaining[child.ID] > 0 || scheduled[child.ID] {
				continue
			}
			scheduled[child.ID] = true
			if _, ok := state.result(child.ID); ok {
				// Rehydrated; counts as complete.
				finish(child)
				continue
			}
			if _, ok := buildInput(child, state, opts.Seed); ok {
				enqueue(child)
			} else {
				// Missing dependency result: skipped, and terminal for
				// its own dependents.
				finish(child)
			}
		}
	}

	for _, n := range order {
		remaining[n.ID] = len(n.inputs)
	}
	for _, n := range order {
		if remaining[n.ID] > 0 {
			continue
		}
		scheduled[n.ID] = true
		if _, ok := state.result(n.ID); ok {
			finish(n)
			continue
		}
		enqueue(n)
	}

	done := make(chan nodeDone)
	inflight := 0
	stopping := false
	var failures []NodeError

	for {
		for !stopping && inflight < opts.MaxConcurrency && len(ready) > 0 {
			node := ready[0]
			ready = ready[1:]

			input, ok := buildInput(node, state, opts.Seed)
			if !ok {
				finish(node)
				continue
			}

			inflight++
			go func(n *Node, in any) {
				value, err := d.runNode(ctx, n, in, state, opts)
				done <- nodeDone{node: n, value: value, err: err}
			}(node, input)
		}

		if inflight == 0 {
			break
		}

		res := <-done
		inflight--

		if res.err != nil {
			state.setError(res.node.ID, res.err)
			failures = append(failures, NodeError{NodeID: res.node.ID, Err: res.err})
			if opts.GracefulDegradation {
				finish(res.node)
			} else {
				stopping = true
			}
		} else {
			state.setResult(res.node.ID, res.value)
			d.checkpointAfter(state, opts)
			finish(res.node)
		}

		if ctx.Err() != nil {
			stopping = true
		}
	}

	if ctx.Err() != nil {
		return ctxError(ctx, opts)
	}
	if len(failures) > 0 && !opts.GracefulDegradation {
		if len(failures) == 1 {
			return &failures[0]
		}
		return &AggregateError{Errors: failures}
	}
	return nil
}

// requiredNodesError checks RequiredNodes after execution. A required
// node that failed or never produced a result fails the call with an
// aggregate error even under graceful degradation.
func requiredNodesError(state *executionState, opts Options) error {
	if len(opts.RequiredNodes) == 0 {
		return nil
	}

	var failed []NodeError
	for _, id := range opts.RequiredNodes {
		if _, ok := state.result(id); ok {
			continue
		}
		err := state.errorFor(id)
		if err == nil {
			err = fmt.Errorf("node was skipped")
		}
		failed = append(failed, NodeError{NodeID: id, Err: err})
	}
	if len(failed) > 0 {
		return &AggregateError{Errors: failed}
	}
	return nil
}

// shapeResult produces the Execute return value.
func (d *DAG) shapeResult(state *executionState, opts Options) (any, error) {
	if opts.returnsResultMap() {
		return state.resultsCopy(), nil
	}

	sinks := d.sinks()
	if len(sinks) == 0 {
		return nil, wrapExecution(ErrNoSinkNodes)
	}
	if len(sinks) == 1 {
		v, _ := state.result(sinks[0].ID)
		return v, nil
	}

	out := make(map[string]any, len(sinks))
	for _, sink := range sinks {
		if v, ok := state.result(sink.ID); ok {
			out[sink.ID] = v
		}
	}
	return out, nil
}

// Resume re-executes the DAG from a checkpoint: nodes with stored
// results are not re-run, nodes whose dependencies are satisfied
// (including rehydrated ones) execute, and nodes whose dependencies are
// still missing are skipped silently. Returns the full results map.
func (d *DAG) Resume(ctx context.Context, cp *Checkpoint, opts Options) (map[string]any, error) {
	if cp == nil {
		return nil, fmt.Errorf("checkpoint data is nil")
	}

	opts.ExternalCheckpointData = cp.Results
	opts.GracefulDegradation = true

	result, err := d.Execute(ctx, opts)
	if err != nil {
		return nil, err
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected resume result shape %T", result)
	}
	return m, nil
}

// ctxError maps context termination to the engine error taxonomy.
func ctxError(ctx context.Context, opts Options) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && opts.Timeout > 0 {
		return &TimeoutError{Timeout: opts.Timeout}
	}
	return ErrCancelled
}
