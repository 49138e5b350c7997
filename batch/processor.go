// Package batch turns large item sequences into bounded batches and
// drives a caller-supplied process function over them with retries,
// adaptive sizing, memory back-pressure, and progress events. Input
// order is preserved end to end: batch i results concatenate before
// batch i+1.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// Func processes one batch and returns one result per input item, in
// the same order.
type Func[T, R any] func(ctx context.Context, items []T) ([]R, error)

// Options configures a Processor. Zero values fall back to the model
// preset (or the package defaults when the model is unknown).
type Options struct {
	// Model selects a preset for token and item limits.
	Model string

	// MaxTokensPerBatch caps the estimated token sum per batch.
	MaxTokensPerBatch int

	// MaxItemsPerBatch caps the item count per batch.
	MaxItemsPerBatch int

	// TargetUtilization scales the token budget (0 < u <= 1). Default 1.
	TargetUtilization float64

	// AdaptiveSizing enables latency-based batch size tuning.
	AdaptiveSizing bool

	// MaxMemoryMB enables RSS back-pressure when positive.
	MaxMemoryMB int

	// MaxRetries is the number of reattempts per failed batch. Default 3.
	MaxRetries int

	// RetryDelay is the initial back-off interval. Default 100ms.
	RetryDelay time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	preset, _ := PresetFor(o.Model)
	if o.MaxTokensPerBatch <= 0 {
		o.MaxTokensPerBatch = preset.MaxTokens
	}
	if o.MaxItemsPerBatch <= 0 {
		o.MaxItemsPerBatch = preset.MaxItems
	}
	if o.TargetUtilization <= 0 || o.TargetUtilization > 1 {
		o.TargetUtilization = 1.0
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Metrics accumulates over one ProcessBatches call and persists until
// ResetMetrics.
type Metrics struct {
	TotalItems     int           `json:"total_items"`
	ProcessedItems int           `json:"processed_items"`
	TotalBatches   int           `json:"total_batches"`
	FailedBatches  int           `json:"failed_batches"`
	APICallsSaved  int           `json:"api_calls_saved"`
	AvgBatchSize   float64       `json:"avg_batch_size"`
	TotalTime      time.Duration `json:"total_time"`
	PeakMemoryMB   float64       `json:"peak_memory_mb"`
}

// Throughput returns items per second, or 0 before any work.
func (m Metrics) Throughput() float64 {
	if m.TotalTime <= 0 {
		return 0
	}
	return float64(m.ProcessedItems) / m.TotalTime.Seconds()
}

// Status reports whether a call is in flight and how far it has got.
type Status struct {
	Processing bool    `json:"processing"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Processor batches items of type T into calls producing results of
// type R. A Processor serves one ProcessBatches call at a time; Metrics,
// Status, Cancel, and Subscribe are safe from other goroutines.
type Processor[T, R any] struct {
	opts     Options
	estimate func(T) int
	bus      eventBus
	ring     *sizingRing
	guard    *memoryGuard

	processing atomic.Bool
	cancelled  atomic.Bool
	processed  atomic.Int64
	total      atomic.Int64

	metricsMu sync.Mutex
	metrics   Metrics

	// shrink halves the item cap while memory pressure persists.
	shrink int
}

// New creates a Processor with defaults resolved from opts and its
// model preset.
func New[T, R any](opts Options) *Processor[T, R] {
	resolved := opts.withDefaults()
	return &Processor[T, R]{
		opts:     resolved,
		estimate: estimateTokens[T],
		ring:     newSizingRing(resolved.MaxItemsPerBatch),
		guard:    newMemoryGuard(resolved.MaxMemoryMB),
		shrink:   1,
	}
}

// SetEstimator replaces the default token estimator (len(text)/4,
// rounded up).
func (p *Processor[T, R]) SetEstimator(fn func(T) int) {
	if fn != nil {
		p.estimate = fn
	}
}

// Subscribe registers an observer for processing events. Observers run
// synchronously on the processing goroutine.
func (p *Processor[T, R]) Subscribe(obs Observer) {
	p.bus.subscribe(obs)
}

// Cancel requests cooperative cancellation. The in-flight batch settles
// first; the call then returns ErrCancelled.
func (p *Processor[T, R]) Cancel() {
	p.cancelled.Store(true)
}

// Metrics returns a snapshot of the accumulated metrics.
func (p *Processor[T, R]) Metrics() Metrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	return p.metrics
}

// ResetMetrics zeroes the accumulated metrics.
func (p *Processor[T, R]) ResetMetrics() {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics = Metrics{}
}

// Status reports in-flight progress.
func (p *Processor[T, R]) Status() Status {
	processed := int(p.processed.Load())
	total := int(p.total.Load())
	s := Status{
		Processing: p.processing.Load(),
		Processed:  processed,
		Total:      total,
	}
	if total > 0 {
		s.Percentage = float64(processed) / float64(total) * 100
	}
	return s
}

// ProcessBatches splits items into batches honoring the token and item
// bounds, runs fn over each batch sequentially, and returns the
// concatenated results in input order. An item whose estimated tokens
// exceed the per-batch budget is isolated in its own batch rather than
// dropped.
func (p *Processor[T, R]) ProcessBatches(ctx context.Context, items []T, fn Func[T, R]) ([]R, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if fn == nil {
		return nil, ErrNilProcessFn
	}
	if !p.processing.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("processor already has a call in flight")
	}
	defer p.processing.Store(false)

	p.cancelled.Store(false)
	p.processed.Store(0)
	p.total.Store(int64(len(items)))

	start := time.Now()
	p.metricsMu.Lock()
	p.metrics.TotalItems += len(items)
	p.metricsMu.Unlock()

	p.bus.emit(Event{
		Type:             EventStart,
		TotalItems:       len(items),
		EstimatedBatches: int(math.Ceil(float64(len(items)) / float64(p.opts.MaxItemsPerBatch))),
	})

	results := make([]R, 0, len(items))
	batchIndex := 0
	for next := 0; next < len(items); batchIndex++ {
		if err := p.checkCancelled(ctx); err != nil {
			p.finishTime(start)
			return nil, err
		}

		p.checkMemory()
		chunk := p.nextBatch(items, next)
		next += len(chunk)

		batchStart := time.Now()
		out, err := p.runBatch(ctx, batchIndex, chunk, fn)
		duration := time.Since(batchStart)

		if p.opts.AdaptiveSizing {
			p.ring.record(len(chunk), duration, err == nil)
		}

		if err != nil {
			p.metricsMu.Lock()
			p.metrics.FailedBatches++
			p.metricsMu.Unlock()
			p.finishTime(start)

			if err == ErrCancelled {
				p.bus.emit(Event{Type: EventCancelled})
			} else {
				p.bus.emit(Event{Type: EventError, BatchIndex: batchIndex, Err: err})
			}
			return nil, err
		}

		results = append(results, out...)
		p.processed.Add(int64(len(chunk)))

		p.metricsMu.Lock()
		p.metrics.ProcessedItems += len(chunk)
		p.metrics.TotalBatches++
		p.metrics.APICallsSaved = p.metrics.TotalItems - p.metrics.TotalBatches
		p.metrics.AvgBatchSize = float64(p.metrics.ProcessedItems) / float64(p.metrics.TotalBatches)
		p.metricsMu.Unlock()

		p.bus.emit(Event{
			Type:       EventBatchComplete,
			BatchIndex: batchIndex,
			BatchSize:  len(chunk),
			Duration:   duration,
		})
		processed := int(p.processed.Load())
		p.bus.emit(Event{
			Type:       EventProgress,
			Processed:  processed,
			Total:      len(items),
			Percentage: float64(processed) / float64(len(items)) * 100,
		})
	}

	p.finishTime(start)
	p.bus.emit(Event{
		Type:         EventComplete,
		TotalItems:   len(items),
		TotalBatches: batchIndex,
		TotalTime:    time.Since(start),
	})
	return results, nil
}

// nextBatch greedily fills a batch starting at offset, sealing it when
// the next item would blow the token budget or the item cap.
func (p *Processor[T, R]) nextBatch(items []T, offset int) []T {
	budget := int(float64(p.opts.MaxTokensPerBatch) * p.opts.TargetUtilization)
	cap := p.opts.MaxItemsPerBatch
	if p.opts.AdaptiveSizing {
		cap = p.ring.currentTarget(1, cap)
	}
	if p.shrink > 1 {
		cap = max(1, cap/p.shrink)
	}

	end := offset
	tokens := 0
	for end < len(items) && end-offset < cap {
		t := p.estimate(items[end])
		if tokens+t > budget {
			break
		}
		tokens += t
		end++
	}
	if end == offset {
		// Oversize item: ship it alone rather than drop it.
		end = offset + 1
	}
	return items[offset:end]
}

// runBatch invokes fn with exponential back-off between reattempts.
func (p *Processor[T, R]) runBatch(ctx context.Context, index int, chunk []T, fn Func[T, R]) ([]R, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.RetryDelay
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			p.bus.emit(Event{
				Type:       EventBatchRetry,
				BatchIndex: index,
				BatchSize:  len(chunk),
				RetryCount: attempt,
				MaxRetries: p.opts.MaxRetries,
			})
			if err := p.waitRetry(ctx, bo.NextBackOff()); err != nil {
				return nil, err
			}
		}

		out, err := fn(ctx, chunk)
		if err == nil {
			if len(out) != len(chunk) {
				return nil, &ResultLengthError{BatchIndex: index, Want: len(chunk), Got: len(out)}
			}
			return out, nil
		}
		lastErr = err
		p.opts.Logger.Warn("batch attempt failed",
			"batch", index,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, &BatchError{BatchIndex: index, Attempts: p.opts.MaxRetries + 1, Err: lastErr}
}

// waitRetry sleeps between reattempts, honoring cancellation.
func (p *Processor[T, R]) waitRetry(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-timer.C:
	}
	if p.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}

func (p *Processor[T, R]) checkCancelled(ctx context.Context) error {
	if p.cancelled.Load() || ctx.Err() != nil {
		p.bus.emit(Event{Type: EventCancelled})
		return ErrCancelled
	}
	return nil
}

// checkMemory samples RSS before building a batch. While usage exceeds
// the ceiling, each subsequent batch cap is at least halved; the cap
// restores once usage recedes.
func (p *Processor[T, R]) checkMemory() {
	if p.guard == nil {
		return
	}
	used, over := p.guard.overLimit()

	p.metricsMu.Lock()
	if used > p.metrics.PeakMemoryMB {
		p.metrics.PeakMemoryMB = used
	}
	p.metricsMu.Unlock()

	if over {
		p.shrink *= 2
		p.bus.emit(Event{
			Type:          EventMemoryWarning,
			MemoryUsedMB:  used,
			MemoryLimitMB: p.opts.MaxMemoryMB,
		})
		p.opts.Logger.Warn("memory limit exceeded, shrinking batches",
			"used_mb", used,
			"limit_mb", p.opts.MaxMemoryMB,
		)
	} else {
		p.shrink = 1
	}
}

func (p *Processor[T, R]) finishTime(start time.Time) {
	p.metricsMu.Lock()
	p.metrics.TotalTime += time.Since(start)
	p.metricsMu.Unlock()
}

// estimateTokens is the default token estimator: one token per four
// characters, rounded up.
func estimateTokens[T any](item T) int {
	switch v := any(item).(type) {
	case string:
		return tokenLen(v)
	case []byte:
		return tokenLen(string(v))
	case fmt.Stringer:
		return tokenLen(v.String())
	default:
		return tokenLen(fmt.Sprintf("%v", v))
	}
}

func tokenLen(s string) int {
	return (len(s) + 3) / 4
}
