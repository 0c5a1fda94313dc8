package rhi

import (
	"sync"
)

// FrameResource holds one T per frame-in-flight slot. The active slot
// advances once per frame and is only reused after the GPU fence recorded
// for it has retired.
//
// FrameResource is used from the render goroutine only.
type FrameResource[T any] struct {
	rc     *RenderContext
	slots  []T
	fences []uint64
	index  int
}

// NewFrameResource creates one T per in-flight slot using newSlot.
func NewFrameResource[T any](rc *RenderContext, newSlot func(slot int) T) *FrameResource[T] {
	n := rc.FramesInFlight()
	f := &FrameResource[T]{
		rc:     rc,
		slots:  make([]T, n),
		fences: make([]uint64, n),
	}
	for i := range f.slots {
		f.slots[i] = newSlot(i)
	}
	return f
}

// Current returns the active slot's value.
func (f *FrameResource[T]) Current() T { return f.slots[f.index] }

// Index returns the active slot index.
func (f *FrameResource[T]) Index() int { return f.index }

// Len returns the slot count.
func (f *FrameResource[T]) Len() int { return len(f.slots) }

// SetFence records the fence value that retires the active slot's GPU work.
func (f *FrameResource[T]) SetFence(value uint64) {
	if value > f.fences[f.index] {
		f.fences[f.index] = value
	}
}

// Fence returns the fence value recorded for slot.
func (f *FrameResource[T]) Fence(slot int) uint64 { return f.fences[slot] }

// Advance moves to the next slot and blocks until the GPU has retired the
// work last recorded for it. This is the join point between CPU frame pacing
// and GPU completion.
func (f *FrameResource[T]) Advance() error {
	next := (f.index + 1) % len(f.slots)
	if fence := f.fences[next]; fence > 0 {
		if err := f.rc.waitFence(fence); err != nil {
			return err
		}
	}
	f.index = next
	return nil
}

// Each calls fn for every slot.
func (f *FrameResource[T]) Each(fn func(slot int, v T)) {
	for i, v := range f.slots {
		fn(i, v)
	}
}

type deferredRelease struct {
	fence uint64
	fn    func()
}

// ReleaseQueue defers native destruction until the GPU has retired the last
// submission that could reference an object.
// ReleaseQueue is safe for concurrent use.
type ReleaseQueue struct {
	mu      sync.Mutex
	pending []deferredRelease
}

// Defer schedules fn to run once fence has retired.
func (q *ReleaseQueue) Defer(fence uint64, fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, deferredRelease{fence: fence, fn: fn})
	q.mu.Unlock()
}

// DeferObject schedules obj.Destroy once fence has retired.
func (q *ReleaseQueue) DeferObject(fence uint64, obj NativeObject) {
	if obj == nil {
		return
	}
	q.Defer(fence, obj.Destroy)
}

// Collect runs every release whose fence is at or below completed and
// returns how many ran. Releases run in the order they were deferred.
func (q *ReleaseQueue) Collect(completed uint64) int {
	q.mu.Lock()
	var ready []deferredRelease
	kept := q.pending[:0]
	for _, r := range q.pending {
		if r.fence <= completed {
			ready = append(ready, r)
		} else {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = deferredRelease{}
	}
	q.pending = kept
	q.mu.Unlock()

	for _, r := range ready {
		r.fn()
	}
	return len(ready)
}

// Flush runs every pending release regardless of fence. Only call it once
// the device is idle.
func (q *ReleaseQueue) Flush() int {
	q.mu.Lock()
	all := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, r := range all {
		r.fn()
	}
	return len(all)
}

// Len returns the number of pending releases.
func (q *ReleaseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
