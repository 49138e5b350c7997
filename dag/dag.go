// Package dag provides the pipeline execution engine: a directed acyclic
// graph of named nodes executed in dependency order with concurrency
// limits, timeouts, retries, checkpointing, and graceful degradation.
package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// RunFunc is a node's computation. Source nodes receive the execution
// seed; other nodes receive a map of dependency id to dependency result
// (map[string]any). The context carries cancellation and the execution
// timeout; long-running functions should honor it.
type RunFunc func(ctx context.Context, input any) (any, error)

// Node is one named computation in the graph.
type Node struct {
	// ID uniquely identifies the node within its DAG.
	ID string

	// Run is the node's computation.
	Run RunFunc

	inputs  []*Node
	outputs []*Node

	// order is the insertion index, used to break scheduling ties
	// deterministically.
	order int
}

// Inputs returns the node's direct dependencies.
func (n *Node) Inputs() []*Node { return n.inputs }

// Outputs returns the node's direct dependents.
func (n *Node) Outputs() []*Node { return n.outputs }

// DAG is a set of nodes indexed by id. The zero value is not usable;
// create one with New. AddNode and Connect are not safe for concurrent
// use; executions are.
type DAG struct {
	nodes map[string]*Node
	seq   []*Node // insertion order

	checkpointMu sync.Mutex
	checkpoints  CheckpointStore

	logger *slog.Logger
}

// New creates an empty DAG with an in-memory checkpoint store.
func New() *DAG {
	return &DAG{
		nodes:       make(map[string]*Node),
		checkpoints: NewMemoryCheckpointStore(),
		logger:      slog.Default(),
	}
}

// SetCheckpointStore replaces the checkpoint store. Any store exposing
// Save/Load/List/Clear is substitutable for the in-memory default.
func (d *DAG) SetCheckpointStore(store CheckpointStore) {
	d.checkpointMu.Lock()
	defer d.checkpointMu.Unlock()
	d.checkpoints = store
}

// SetLogger replaces the engine logger.
func (d *DAG) SetLogger(logger *slog.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// AddNode adds a named node.
// Fails on empty id, nil run function, or a duplicate id.
func (d *DAG) AddNode(id string, run RunFunc) (*Node, error) {
	if id == "" {
		return nil, fmt.Errorf("node id is empty")
	}
	if run == nil {
		return nil, fmt.Errorf("node %q: run function is nil", id)
	}
	if _, exists := d.nodes[id]; exists {
		return nil, fmt.Errorf("node %q already exists", id)
	}

	node := &Node{ID: id, Run: run, order: len(d.seq)}
	d.nodes[id] = node
	d.seq = append(d.seq, node)
	return node, nil
}

// Node returns the node with the given id, or nil.
func (d *DAG) Node(id string) *Node {
	return d.nodes[id]
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Connect adds a directed edge from fromID to toID.
// Fails when either id is unknown or the edge is a self-loop.
// Duplicate edges are ignored.
func (d *DAG) Connect(fromID, toID string) error {
	from, ok := d.nodes[fromID]
	if !ok {
		return fmt.Errorf("unknown node %q", fromID)
	}
	to, ok := d.nodes[toID]
	if !ok {
		return fmt.Errorf("unknown node %q", toID)
	}
	if from == to {
		return fmt.Errorf("self-loop on node %q", fromID)
	}

	for _, out := range from.outputs {
		if out == to {
			return nil
		}
	}
	from.outputs = append(from.outputs, to)
	to.inputs = append(to.inputs, from)
	return nil
}

// Validate checks the structural invariants required before execution:
// the DAG is non-empty, acyclic, and has at least one source node. The
// cycle check runs before the source check so a fully-cyclic graph
// reports its cycle path rather than the (implied) absence of sources.
func (d *DAG) Validate() error {
	if len(d.nodes) == 0 {
		return ErrEmptyDAG
	}

	if _, err := d.TopoSort(); err != nil {
		return err
	}

	for _, n := range d.seq {
		if len(n.inputs) == 0 {
			return nil
		}
	}
	return ErrNoSourceNodes
}

// Warning describes a non-fatal topology finding.
type Warning struct {
	NodeID  string
	Kind    string
	Message string
}

// ValidateTopology runs Validate plus structural lint checks. Warnings
// cover orphaned nodes (no edges at all in a multi-node graph) and nodes
// unreachable from any source. In strict mode warnings become an error.
func (d *DAG) ValidateTopology(strict bool) ([]Warning, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var warnings []Warning
	if len(d.nodes) > 1 {
		for _, n := range d.seq {
			if len(n.inputs) == 0 && len(n.outputs) == 0 {
				warnings = append(warnings, Warning{
					NodeID:  n.ID,
					Kind:    "orphaned",
					Message: fmt.Sprintf("node %q has no edges", n.ID),
				})
			}
		}
	}

	reachable := make(map[string]bool, len(d.nodes))
	var mark func(n *Node)
	mark = func(n *Node) {
		if reachable[n.ID] {
			return
		}
		reachable[n.ID] = true
		for _, out := range n.outputs {
			mark(out)
		}
	}
	for _, n := range d.seq {
		if len(n.inputs) == 0 {
			mark(n)
		}
	}
	for _, n := range d.seq {
		if !reachable[n.ID] {
			warnings = append(warnings, Warning{
				NodeID:  n.ID,
				Kind:    "unreachable",
				Message: fmt.Sprintf("node %q is not reachable from any source", n.ID),
			})
		}
	}

	if strict && len(warnings) > 0 {
		return warnings, fmt.Errorf("topology has %d warnings (strict mode)", len(warnings))
	}
	return warnings, nil
}

// sinks returns all nodes without outgoing edges, in insertion order.
func (d *DAG) sinks() []*Node {
	var out []*Node
	for _, n := range d.seq {
		if len(n.outputs) == 0 {
			out = append(out, n)
		}
	}
	return out
}
