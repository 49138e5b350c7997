package batch

import (
	"sync"
	"time"
)

// EventType tags a processing event.
type EventType string

const (
	// EventStart fires once per call with TotalItems and EstimatedBatches.
	EventStart EventType = "start"

	// EventProgress fires after each batch with cumulative counts.
	EventProgress EventType = "progress"

	// EventBatchComplete fires when a batch succeeds.
	EventBatchComplete EventType = "batch_complete"

	// EventBatchRetry fires before each reattempt of a failed batch.
	EventBatchRetry EventType = "batch_retry"

	// EventMemoryWarning fires when heap usage crosses the memory limit.
	EventMemoryWarning EventType = "memory_warning"

	// EventCancelled fires once when processing is cancelled.
	EventCancelled EventType = "cancelled"

	// EventError fires when a batch exhausts its retries.
	EventError EventType = "error"

	// EventComplete fires once when all batches succeeded.
	EventComplete EventType = "complete"
)

// Event carries the payload for one processing event. Fields are
// populated according to Type; unrelated fields are zero.
type Event struct {
	Type EventType

	// start, complete
	TotalItems       int
	EstimatedBatches int

	// progress
	Processed  int
	Total      int
	Percentage float64

	// batch_complete, batch_retry, error
	BatchIndex int
	BatchSize  int
	Duration   time.Duration

	// batch_retry
	RetryCount int
	MaxRetries int

	// memory_warning
	MemoryUsedMB  float64
	MemoryLimitMB int

	// error
	Err error

	// complete
	TotalBatches int
	TotalTime    time.Duration
}

// Observer receives processing events. Observers are invoked
// synchronously on the processing goroutine and should return quickly.
type Observer func(Event)

// eventBus fans events out to registered observers.
type eventBus struct {
	mu        sync.RWMutex
	observers []Observer
}

func (b *eventBus) subscribe(obs Observer) {
	if obs == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, obs)
}

func (b *eventBus) emit(ev Event) {
	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()
	for _, obs := range observers {
		obs(ev)
	}
}
