package dag

import "time"

// defaultMaxRetries bounds per-node retries when RetryFailedNodes is set
// and MaxRetries is left zero.
const defaultMaxRetries = 3

// Options configures one execution.
type Options struct {
	// Seed is the input bound to every source node.
	Seed any

	// RetryFailedNodes retries a failed node up to MaxRetries times
	// before recording its error.
	RetryFailedNodes bool

	// MaxRetries bounds retries per node. Zero means 3.
	MaxRetries int

	// GracefulDegradation records node errors instead of aborting;
	// downstream nodes whose dependencies failed are skipped and the
	// partial results map is returned.
	GracefulDegradation bool

	// RequiredNodes aborts the execution with an aggregate error when
	// any listed node fails, even under graceful degradation.
	RequiredNodes []string

	// CheckpointID names the checkpoint used by EnableCheckpoints and
	// ResumeFromCheckpoint.
	CheckpointID string

	// ResumeFromCheckpoint rehydrates results from the stored checkpoint
	// before executing.
	ResumeFromCheckpoint bool

	// ExternalCheckpointData rehydrates results from a caller-supplied
	// snapshot instead of the checkpoint store.
	ExternalCheckpointData map[string]any

	// Timeout bounds the whole execution in wall-clock time.
	Timeout time.Duration

	// MaxConcurrency caps parallel node executions. Values below 2 mean
	// sequential execution.
	MaxConcurrency int

	// EnableCheckpoints snapshots state under CheckpointID after every
	// successful node.
	EnableCheckpoints bool
}

// maxRetries returns the effective retry bound.
func (o Options) maxRetries() int {
	if !o.RetryFailedNodes {
		return 0
	}
	if o.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return o.MaxRetries
}

// returnsResultMap reports whether Execute returns the full results map
// instead of the sink value: any option that makes partial state
// meaningful switches the return shape.
func (o Options) returnsResultMap() bool {
	return o.RetryFailedNodes ||
		o.GracefulDegradation ||
		o.CheckpointID != "" ||
		len(o.RequiredNodes) > 0
}
