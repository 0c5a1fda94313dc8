package rhi

import (
	"fmt"
	"sync"
)

// Handle is a generation-tagged index into an Arena. A handle stays unique
// after its object is removed: the slot's generation is bumped, so a stale
// handle never aliases the object that reuses the slot.
//
// The zero Handle is invalid.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsValid reports whether h was issued by an Arena.
func (h Handle) IsValid() bool { return h.Generation != 0 }

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores values addressed by generation-tagged handles.
// Arena is safe for concurrent use.
type Arena[T any] struct {
	mu    sync.RWMutex
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

// NewArena creates an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot[T]{})
		idx = uint32(len(a.slots) - 1) //nolint:gosec // G115: arena size bounded by live GPU objects
	}
	s := &a.slots[idx]
	s.generation++
	s.value = v
	s.live = true
	a.live++
	return Handle{Index: idx, Generation: s.generation}
}

// Get returns the value stored under h. The second result is false if h is
// stale or was never issued.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var zero T
	if int(h.Index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return zero, false
	}
	return s.value, true
}

// Remove deletes the value under h and reports whether it was present.
func (a *Arena[T]) Remove(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return false
	}
	var zero T
	s.value = zero
	s.live = false
	a.free = append(a.free, h.Index)
	a.live--
	return true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// Each calls fn for every live value in index order.
// fn must not call back into the arena.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			fn(Handle{Index: uint32(i), Generation: s.generation}, s.value) //nolint:gosec // G115: see Insert
		}
	}
}
