package batch

import (
	"errors"
	"fmt"
)

// ErrNoItems indicates ProcessBatches was called with an empty slice.
var ErrNoItems = errors.New("no items to process")

// ErrNilProcessFn indicates ProcessBatches was called without a function.
var ErrNilProcessFn = errors.New("process function is nil")

// ErrCancelled indicates processing was stopped by Cancel or context
// cancellation. The in-flight batch settles before this is returned.
var ErrCancelled = errors.New("batch processing cancelled")

// BatchError reports a batch that failed after exhausting its retries.
type BatchError struct {
	// BatchIndex is the zero-based index of the failed batch.
	BatchIndex int

	// Attempts is the total number of invocations, including retries.
	Attempts int

	// Err is the last error returned by the process function.
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed after %d attempts: %v", e.BatchIndex, e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ResultLengthError reports a process function returning a result slice
// whose length does not match its input batch.
type ResultLengthError struct {
	BatchIndex int
	Want       int
	Got        int
}

func (e *ResultLengthError) Error() string {
	return fmt.Sprintf("batch %d: process function returned %d results for %d items", e.BatchIndex, e.Got, e.Want)
}
