package dag

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Topology errors raised by Validate and Execute.
var (
	// ErrEmptyDAG is returned when the DAG has no nodes.
	ErrEmptyDAG = errors.New("DAG is empty")

	// ErrNoSourceNodes is returned when every node has incoming edges.
	ErrNoSourceNodes = errors.New("DAG has no source nodes")

	// ErrNoSinkNodes is returned when execution has nothing to return:
	// no node without outgoing edges exists.
	ErrNoSinkNodes = errors.New("DAG has no sink nodes")

	// ErrCheckpointNotFound is returned when loading an unknown checkpoint.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCancelled is returned when execution is cancelled externally.
	ErrCancelled = errors.New("execution cancelled")
)

// CycleError reports a directed cycle. Path holds the cycle in forward
// traversal order with the entry node repeated at the end, e.g.
// ["a", "b", "c", "a"]. The rendering is part of the contract; callers
// compare paths by value.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Path, " -> ")
}

// TimeoutError reports that the wall-clock execution timeout fired.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Timeout)
}

// NodeError reports a single node failure after any configured retries.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// AggregateError collects multiple node failures, as accrued under
// concurrent execution or graceful degradation with required nodes.
// Errors preserves per-node detail for callers that inspect it.
type AggregateError struct {
	Errors []NodeError
}

func (e *AggregateError) Error() string {
	ids := make([]string, len(e.Errors))
	for i, ne := range e.Errors {
		ids[i] = ne.NodeID
	}
	return fmt.Sprintf("%d nodes failed: %s", len(e.Errors), strings.Join(ids, ", "))
}

// ExecutionError wraps any terminal execution failure with a uniform
// message while preserving the underlying error's structured fields
// (cycle path, node id, aggregate children) through Unwrap.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "DAG execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// wrapExecution wraps err in an ExecutionError unless it already is one.
func wrapExecution(err error) error {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &ExecutionError{Err: err}
}
