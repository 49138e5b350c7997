package dag

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addOne(_ context.Context, input any) (any, error) {
	return input.(int) + 1, nil
}

// depValue extracts the single dependency value from a node input map.
func depValue(input any) any {
	m := input.(map[string]any)
	for _, v := range m {
		return v
	}
	return nil
}

func TestExecuteSingleSink(t *testing.T) {
	d := New()
	d.AddNode("a", addOne)
	d.AddNode("b", func(_ context.Context, input any) (any, error) {
		return depValue(input).(int) * 2, nil
	})
	require.NoError(t, d.Connect("a", "b"))

	result, err := d.Execute(context.Background(), Options{Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, result)
}

func TestExecuteMultipleSinks(t *testing.T) {
	d := New()
	d.AddNode("src", addOne)
	d.AddNode("double", func(_ context.Context, input any) (any, error) {
		return depValue(input).(int) * 2, nil
	})
	d.AddNode("square", func(_ context.Context, input any) (any, error) {
		v := depValue(input).(int)
		return v * v, nil
	})
	require.NoError(t, d.Connect("src", "double"))
	require.NoError(t, d.Connect("src", "square"))

	result, err := d.Execute(context.Background(), Options{Seed: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"double": 6, "square": 9}, result)
}

func TestExecuteValidatesFirst(t *testing.T) {
	d := New()
	_, err := d.Execute(context.Background(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyDAG)
	assert.Contains(t, err.Error(), "DAG execution failed")
}

func TestExecuteWrapPreservesCyclePath(t *testing.T) {
	d := New()
	d.AddNode("s", passthrough)
	d.AddNode("a", passthrough)
	d.AddNode("b", passthrough)
	d.Connect("s", "a")
	d.Connect("a", "b")
	d.Connect("b", "a")

	_, err := d.Execute(context.Background(), Options{})
	require.Error(t, err)

	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"a", "b", "a"}, cerr.Path)
}

func TestExecuteNodeFailureAborts(t *testing.T) {
	d := New()
	d.AddNode("a", passthrough)
	d.AddNode("boom", func(_ context.Context, _ any) (any, error) {
		return nil, errors.New("kaput")
	})
	d.AddNode("after", passthrough)
	d.Connect("a", "boom")
	d.Connect("boom", "after")

	_, err := d.Execute(context.Background(), Options{Seed: 1})
	require.Error(t, err)

	var nerr *NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "boom", nerr.NodeID)
}

func TestExecuteRetry(t *testing.T) {
	var calls atomic.Int32
	d := New()
	d.AddNode("flaky", func(_ context.Context, input any) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return input, nil
	})

	result, err := d.Execute(context.Background(), Options{
		Seed:             "ok",
		RetryFailedNodes: true,
		MaxRetries:       3,
	})
	require.NoError(t, err)

	// Stateful option: full results map.
	m := result.(map[string]any)
	assert.Equal(t, "ok", m["flaky"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecuteRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	d := New()
	d.AddNode("flaky", func(_ context.Context, _ any) (any, error) {
		calls.Add(1)
		return nil, errors.New("always")
	})

	_, err := d.Execute(context.Background(), Options{
		RetryFailedNodes: true,
		MaxRetries:       2,
	})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load()) // initial + 2 retries
}

// diamond builds src -> (left, right) -> sink with a failing left branch.
func diamond(t *testing.T) *DAG {
	t.Helper()
	d := New()
	d.AddNode("src", passthrough)
	d.AddNode("left", func(_ context.Context, _ any) (any, error) {
		return nil, errors.New("left broke")
	})
	d.AddNode("right", func(_ context.Context, _ any) (any, error) {
		return "right-ok", nil
	})
	d.AddNode("sink", func(_ context.Context, input any) (any, error) {
		return input, nil
	})
	require.NoError(t, d.Connect("src", "left"))
	require.NoError(t, d.Connect("src", "right"))
	require.NoError(t, d.Connect("left", "sink"))
	require.NoError(t, d.Connect("right", "sink"))
	return d
}

func TestExecuteGracefulDegradation(t *testing.T) {
	d := diamond(t)

	result, err := d.Execute(context.Background(), Options{
		Seed:                1,
		GracefulDegradation: true,
	})
	require.NoError(t, err)

	m := result.(map[string]any)
	assert.Equal(t, "right-ok", m["right"])
	assert.NotContains(t, m, "left")
	assert.NotContains(t, m, "sink") // depends on the failed branch
}

func TestExecuteRequiredNodeFailsAggregate(t *testing.T) {
	d := diamond(t)

	_, err := d.Execute(context.Background(), Options{
		Seed:                1,
		GracefulDegradation: true,
		RequiredNodes:       []string{"sink"},
	})
	require.Error(t, err)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Errors, 1)
	assert.Equal(t, "sink", agg.Errors[0].NodeID)
}

func TestExecuteConcurrent(t *testing.T) {
	var inflight, peak atomic.Int32

	d := New()
	d.AddNode("src", passthrough)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("n%d", i)
		d.AddNode(id, func(_ context.Context, input any) (any, error) {
			cur := inflight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
			return depValue(input), nil
		})
		require.NoError(t, d.Connect("src", id))
	}

	result, err := d.Execute(context.Background(), Options{
		Seed:           "x",
		MaxConcurrency: 2,
	})
	require.NoError(t, err)

	m := result.(map[string]any) // six sinks
	assert.Len(t, m, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteConcurrentAggregatesErrors(t *testing.T) {
	d := New()
	d.AddNode("src", passthrough)
	for _, id := range []string{"f1", "f2"} {
		failID := id
		d.AddNode(failID, func(_ context.Context, _ any) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, fmt.Errorf("%s failed", failID)
		})
		require.NoError(t, d.Connect("src", failID))
	}

	_, err := d.Execute(context.Background(), Options{
		Seed:           1,
		MaxConcurrency: 2,
	})
	require.Error(t, err)

	// Both errors may accrue before stop propagates; either a single
	// NodeError or an AggregateError listing both is valid.
	var agg *AggregateError
	var nerr *NodeError
	if errors.As(err, &agg) {
		assert.NotEmpty(t, agg.Errors)
	} else {
		require.ErrorAs(t, err, &nerr)
	}
}

func TestExecuteTimeout(t *testing.T) {
	d := New()
	d.AddNode("slow", func(ctx context.Context, _ any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "done", nil
		}
	})

	start := time.Now()
	_, err := d.Execute(context.Background(), Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 50*time.Millisecond, terr.Timeout)
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	d := New()
	d.AddNode("slow", func(ctx context.Context, _ any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.Execute(ctx, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestExecuteSeedReachesAllSources(t *testing.T) {
	d := New()
	d.AddNode("s1", passthrough)
	d.AddNode("s2", passthrough)
	d.AddNode("join", func(_ context.Context, input any) (any, error) {
		m := input.(map[string]any)
		return m["s1"].(int) + m["s2"].(int), nil
	})
	require.NoError(t, d.Connect("s1", "join"))
	require.NoError(t, d.Connect("s2", "join"))

	result, err := d.Execute(context.Background(), Options{Seed: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}
