package camera

import (
	"sync"
	"sync/atomic"
)

// FrameRing is a fixed-capacity frame queue that favors freshness over
// completeness: when full, the oldest frame is evicted before the new one is
// admitted. A single producer (the capture loop) pushes; consumers pop the
// oldest retained frame without blocking.
type FrameRing struct {
	mu     sync.Mutex
	frames []Frame
	head   int // index of the oldest retained frame
	count  int

	pushes  atomic.Uint64
	pops    atomic.Uint64
	dropped atomic.Uint64 // frames evicted unread
}

// RingMetrics is a point-in-time snapshot of ring counters.
type RingMetrics struct {
	Capacity int
	Size     int
	Pushes   uint64
	Pops     uint64
	Dropped  uint64
}

func NewFrameRing(capacity int) *FrameRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameRing{frames: make([]Frame, capacity)}
}

// Push admits a frame, evicting the oldest retained frame first when the
// ring is at capacity.
func (r *FrameRing) Push(f Frame) {
	r.mu.Lock()
	if r.count == len(r.frames) {
		// Evict oldest: advance head over it.
		r.frames[r.head] = Frame{}
		r.head = (r.head + 1) % len(r.frames)
		r.count--
		r.dropped.Add(1)
	}
	tail := (r.head + r.count) % len(r.frames)
	r.frames[tail] = f
	r.count++
	r.mu.Unlock()
	r.pushes.Add(1)
}

// Pop removes and returns the oldest retained frame. It never blocks; the
// second return is false when the ring is empty.
func (r *FrameRing) Pop() (Frame, bool) {
	r.mu.Lock()
	if r.count == 0 {
		r.mu.Unlock()
		return Frame{}, false
	}
	f := r.frames[r.head]
	r.frames[r.head] = Frame{}
	r.head = (r.head + 1) % len(r.frames)
	r.count--
	r.mu.Unlock()
	r.pops.Add(1)
	return f, true
}

// Len returns the number of frames currently retained.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *FrameRing) Cap() int {
	return len(r.frames)
}

// Metrics returns ring counters. Counter reads are individually atomic;
// the snapshot as a whole may be slightly stale.
func (r *FrameRing) Metrics() RingMetrics {
	return RingMetrics{
		Capacity: r.Cap(),
		Size:     r.Len(),
		Pushes:   r.pushes.Load(),
		Pops:     r.pops.Load(),
		Dropped:  r.dropped.Load(),
	}
}
