package batch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upper is a pure element-wise process function.
func upper(_ context.Context, items []string) ([]string, error) {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToUpper(s)
	}
	return out, nil
}

func collectEvents(p *Processor[string, string]) *[]Event {
	var events []Event
	p.Subscribe(func(ev Event) {
		events = append(events, ev)
	})
	return &events
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestProcessBatchesBounds(t *testing.T) {
	items := make([]string, 300)
	for i := range items {
		items[i] = strings.Repeat("x", 40) // 10 tokens each
	}

	p := New[string, string](Options{
		MaxItemsPerBatch:  100,
		MaxTokensPerBatch: 1000,
		RetryDelay:        time.Millisecond,
	})
	events := collectEvents(p)

	results, err := p.ProcessBatches(context.Background(), items, upper)
	require.NoError(t, err)
	require.Len(t, results, 300)

	m := p.Metrics()
	assert.Equal(t, 300, m.TotalItems)
	assert.Equal(t, 300, m.ProcessedItems)
	assert.Equal(t, 3, m.TotalBatches)
	assert.Equal(t, 297, m.APICallsSaved)
	assert.InDelta(t, 100.0, m.AvgBatchSize, 0.001)

	completes := eventsOfType(*events, EventBatchComplete)
	require.Len(t, completes, 3)
	for _, ev := range completes {
		assert.Equal(t, 100, ev.BatchSize)
	}
}

func TestProcessBatchesPreservesOrder(t *testing.T) {
	items := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}

	// Tiny token budget forces uneven batches.
	p := New[string, string](Options{
		MaxItemsPerBatch:  3,
		MaxTokensPerBatch: 2,
		RetryDelay:        time.Millisecond,
	})

	results, err := p.ProcessBatches(context.Background(), items, upper)
	require.NoError(t, err)
	require.Len(t, results, len(items))
	for i, item := range items {
		assert.Equal(t, strings.ToUpper(item), results[i])
	}
	assert.Greater(t, p.Metrics().TotalBatches, 1)
}

func TestProcessBatchesOversizeItemIsolated(t *testing.T) {
	items := []string{"ab", strings.Repeat("z", 400), "cd"}

	p := New[string, string](Options{
		MaxItemsPerBatch:  10,
		MaxTokensPerBatch: 10,
		RetryDelay:        time.Millisecond,
	})

	var batchSizes []int
	results, err := p.ProcessBatches(context.Background(), items, func(ctx context.Context, batch []string) ([]string, error) {
		batchSizes = append(batchSizes, len(batch))
		return upper(ctx, batch)
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, strings.ToUpper(items[1]), results[1])

	// The 100-token item travels alone.
	assert.Contains(t, batchSizes, 1)
}

func TestProcessBatchesInvalidArguments(t *testing.T) {
	p := New[string, string](Options{})

	_, err := p.ProcessBatches(context.Background(), nil, upper)
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = p.ProcessBatches(context.Background(), []string{"a"}, nil)
	assert.ErrorIs(t, err, ErrNilProcessFn)
}

func TestProcessBatchesRetry(t *testing.T) {
	var calls int
	fn := func(ctx context.Context, batch []string) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return upper(ctx, batch)
	}

	p := New[string, string](Options{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	events := collectEvents(p)

	results, err := p.ProcessBatches(context.Background(), []string{"a", "b"}, fn)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, results)

	retries := eventsOfType(*events, EventBatchRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].RetryCount)
	assert.Equal(t, 3, retries[0].MaxRetries)
}

func TestProcessBatchesRetryExhausted(t *testing.T) {
	var calls int
	fn := func(_ context.Context, _ []string) ([]string, error) {
		calls++
		return nil, errors.New("always broken")
	}

	p := New[string, string](Options{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	events := collectEvents(p)

	_, err := p.ProcessBatches(context.Background(), []string{"a"}, fn)
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial + 2 retries

	var berr *BatchError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 0, berr.BatchIndex)
	assert.Equal(t, 3, berr.Attempts)
	assert.Contains(t, berr.Error(), "always broken")

	assert.Len(t, eventsOfType(*events, EventError), 1)
	assert.Equal(t, 1, p.Metrics().FailedBatches)
}

func TestProcessBatchesResultLengthMismatch(t *testing.T) {
	p := New[string, string](Options{RetryDelay: time.Millisecond})

	_, err := p.ProcessBatches(context.Background(), []string{"a", "b"}, func(_ context.Context, _ []string) ([]string, error) {
		return []string{"only-one"}, nil
	})
	require.Error(t, err)

	var lerr *ResultLengthError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 2, lerr.Want)
	assert.Equal(t, 1, lerr.Got)
}

func TestProcessBatchesCancelBetweenBatches(t *testing.T) {
	items := []string{"a", "b", "c"}

	p := New[string, string](Options{
		MaxItemsPerBatch: 1,
		RetryDelay:       time.Millisecond,
	})
	events := collectEvents(p)

	_, err := p.ProcessBatches(context.Background(), items, func(ctx context.Context, batch []string) ([]string, error) {
		p.Cancel() // takes effect before the next batch
		return upper(ctx, batch)
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Len(t, eventsOfType(*events, EventCancelled), 1)
}

func TestProcessBatchesContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := New[string, string](Options{
		MaxItemsPerBatch: 1,
		RetryDelay:       time.Millisecond,
	})

	_, err := p.ProcessBatches(ctx, []string{"a", "b"}, func(c context.Context, batch []string) ([]string, error) {
		cancel()
		return upper(c, batch)
	})
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestProcessBatchesEventsLifecycle(t *testing.T) {
	p := New[string, string](Options{
		MaxItemsPerBatch: 2,
		RetryDelay:       time.Millisecond,
	})
	events := collectEvents(p)

	_, err := p.ProcessBatches(context.Background(), []string{"a", "b", "c"}, upper)
	require.NoError(t, err)

	starts := eventsOfType(*events, EventStart)
	require.Len(t, starts, 1)
	assert.Equal(t, 3, starts[0].TotalItems)
	assert.Equal(t, 2, starts[0].EstimatedBatches)

	progress := eventsOfType(*events, EventProgress)
	require.Len(t, progress, 2)
	assert.Equal(t, 2, progress[0].Processed)
	assert.InDelta(t, 100.0, progress[1].Percentage, 0.001)

	completes := eventsOfType(*events, EventComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, 2, completes[0].TotalBatches)
}

func TestCustomEstimator(t *testing.T) {
	p := New[string, string](Options{
		MaxItemsPerBatch:  100,
		MaxTokensPerBatch: 10,
		RetryDelay:        time.Millisecond,
	})
	p.SetEstimator(func(string) int { return 5 })

	_, err := p.ProcessBatches(context.Background(), []string{"a", "b", "c", "d"}, upper)
	require.NoError(t, err)

	// 5 tokens each against a budget of 10: two per batch.
	assert.Equal(t, 2, p.Metrics().TotalBatches)
}

func TestStatusInsideCall(t *testing.T) {
	p := New[string, string](Options{
		MaxItemsPerBatch: 1,
		RetryDelay:       time.Millisecond,
	})

	var midStatus Status
	_, err := p.ProcessBatches(context.Background(), []string{"a", "b"}, func(ctx context.Context, batch []string) ([]string, error) {
		midStatus = p.Status()
		return upper(ctx, batch)
	})
	require.NoError(t, err)

	assert.True(t, midStatus.Processing)
	assert.Equal(t, 2, midStatus.Total)

	final := p.Status()
	assert.False(t, final.Processing)
	assert.Equal(t, 2, final.Processed)
	assert.InDelta(t, 100.0, final.Percentage, 0.001)
}

func TestResetMetrics(t *testing.T) {
	p := New[string, string](Options{RetryDelay: time.Millisecond})

	_, err := p.ProcessBatches(context.Background(), []string{"a"}, upper)
	require.NoError(t, err)
	require.NotZero(t, p.Metrics().TotalItems)

	p.ResetMetrics()
	assert.Equal(t, Metrics{}, p.Metrics())
}

func TestDefaultEstimator(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 40), 10},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.text); got != tt.want {
			t.Errorf("estimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
