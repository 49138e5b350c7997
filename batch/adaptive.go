package batch

import (
	"sync"
	"time"
)

const sizingRingCapacity = 20

// sizingSample records the outcome of one batch for adaptive sizing.
type sizingSample struct {
	size    int
	perItem time.Duration
	success bool
}

// sizingRing is a fixed-size ring of recent batch outcomes. After each
// batch the target size moves halfway toward the size of the successful
// sample with the lowest per-item latency, clamped to [minSize, maxSize].
type sizingRing struct {
	mu      sync.Mutex
	samples []sizingSample
	next    int
	target  int
}

func newSizingRing(initialTarget int) *sizingRing {
	return &sizingRing{
		samples: make([]sizingSample, 0, sizingRingCapacity),
		target:  initialTarget,
	}
}

func (r *sizingRing) record(size int, duration time.Duration, success bool) {
	if size <= 0 {
		return
	}
	s := sizingSample{
		size:    size,
		perItem: duration / time.Duration(size),
		success: success,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) < sizingRingCapacity {
		r.samples = append(r.samples, s)
	} else {
		r.samples[r.next] = s
		r.next = (r.next + 1) % sizingRingCapacity
	}
	r.recompute()
}

// recompute moves the target toward the best observed size. Failed
// batches never attract the target. Caller holds r.mu.
func (r *sizingRing) recompute() {
	bestSize := 0
	var bestPerItem time.Duration
	for _, s := range r.samples {
		if !s.success {
			continue
		}
		if bestSize == 0 || s.perItem < bestPerItem {
			bestSize = s.size
			bestPerItem = s.perItem
		}
	}
	if bestSize == 0 {
		return
	}
	r.target += (bestSize - r.target) / 2
	if r.target < 1 {
		r.target = 1
	}
}

// currentTarget returns the adaptive target clamped to [minSize, maxSize].
func (r *sizingRing) currentTarget(minSize, maxSize int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.target
	if t < minSize {
		t = minSize
	}
	if t > maxSize {
		t = maxSize
	}
	return t
}
