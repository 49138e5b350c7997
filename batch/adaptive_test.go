package batch

import (
	"context"
	"testing"
	"time"
)

func TestSizingRingMovesTowardFastestPerItem(t *testing.T) {
	r := newSizingRing(100)

	// Small batches are observed to be faster per item.
	r.record(100, 1000*time.Millisecond, true) // 10ms/item
	r.record(20, 40*time.Millisecond, true)    // 2ms/item

	target := r.currentTarget(1, 100)
	if target >= 100 {
		t.Fatalf("target = %d, want < 100 after faster small batches", target)
	}
	if target < 1 {
		t.Fatalf("target = %d, below clamp", target)
	}
}

func TestSizingRingIgnoresFailures(t *testing.T) {
	r := newSizingRing(50)
	r.record(5, time.Millisecond, false)

	if got := r.currentTarget(1, 100); got != 50 {
		t.Fatalf("target = %d, want unchanged 50 (failed samples excluded)", got)
	}
}

func TestSizingRingClamps(t *testing.T) {
	r := newSizingRing(1000)
	if got := r.currentTarget(1, 10); got != 10 {
		t.Fatalf("target = %d, want clamped to 10", got)
	}
	if got := r.currentTarget(2000, 3000); got != 2000 {
		t.Fatalf("target = %d, want clamped to 2000", got)
	}
}

func TestAdaptiveSizingBiasesBatches(t *testing.T) {
	p := New[string, string](Options{
		MaxItemsPerBatch: 10,
		AdaptiveSizing:   true,
		RetryDelay:       time.Millisecond,
	})

	items := make([]string, 40)
	for i := range items {
		items[i] = "item"
	}

	var sizes []int
	_, err := p.ProcessBatches(context.Background(), items, func(_ context.Context, batch []string) ([]string, error) {
		sizes = append(sizes, len(batch))
		time.Sleep(time.Millisecond)
		return make([]string, len(batch)), nil
	})
	if err != nil {
		t.Fatalf("ProcessBatches failed: %v", err)
	}

	// The hard cap always holds regardless of the adaptive target.
	for _, s := range sizes {
		if s > 10 {
			t.Fatalf("batch size %d exceeds hard cap 10", s)
		}
	}
}

func TestPresetLookup(t *testing.T) {
	p, ok := PresetFor("text-embedding-3-small")
	if !ok {
		t.Fatal("known model not found")
	}
	if p.MaxTokens != 8191 || p.MaxItems != 2048 {
		t.Fatalf("preset = %+v", p)
	}

	d, ok := PresetFor("no-such-model")
	if ok {
		t.Fatal("unknown model reported as found")
	}
	if d != defaultPreset {
		t.Fatalf("fallback = %+v, want defaults", d)
	}
}

func TestPresetAppliedThroughOptions(t *testing.T) {
	p := New[string, string](Options{Model: "text-embedding-3-small"})
	if p.opts.MaxTokensPerBatch != 8191 {
		t.Fatalf("MaxTokensPerBatch = %d, want preset 8191", p.opts.MaxTokensPerBatch)
	}
	if p.opts.MaxItemsPerBatch != 2048 {
		t.Fatalf("MaxItemsPerBatch = %d, want preset 2048", p.opts.MaxItemsPerBatch)
	}
}
