package rhi

import (
	"container/heap"
	"fmt"
	"sync"
)

// Resource is anything GPU-owned: buffers, textures, shaders, descriptor
// layouts, command allocators.
type Resource interface {
	// Release frees native handles. Calls after the first are no-ops.
	Release()

	// Valid reports whether the resource still owns live native handles.
	Valid() bool

	// SetName attaches a debug label.
	SetName(name string)
	Name() string
}

// ResourceManager owns a set of resources created by a factory until they are
// explicitly freed or the manager is torn down.
// ResourceManager is safe for concurrent use.
type ResourceManager[T Resource] struct {
	mu        sync.Mutex
	factory   func() (T, error)
	resources map[Resource]struct{}
}

// NewResourceManager creates a manager that builds resources with factory.
func NewResourceManager[T Resource](factory func() (T, error)) *ResourceManager[T] {
	return &ResourceManager[T]{
		factory:   factory,
		resources: make(map[Resource]struct{}),
	}
}

// CreateResource builds a new resource and takes ownership of it.
func (m *ResourceManager[T]) CreateResource() (T, error) {
	r, err := m.factory()
	if err != nil {
		var zero T
		return zero, err
	}
	m.mu.Lock()
	m.resources[r] = struct{}{}
	m.mu.Unlock()
	return r, nil
}

// FreeResource releases r and drops it from the manager. Resources the
// manager does not own are ignored.
func (m *ResourceManager[T]) FreeResource(r T) {
	m.mu.Lock()
	_, ok := m.resources[r]
	delete(m.resources, r)
	m.mu.Unlock()
	if ok {
		r.Release()
	}
}

// Owns reports whether r is currently owned by the manager.
func (m *ResourceManager[T]) Owns(r T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.resources[r]
	return ok
}

// Len returns the number of owned resources.
func (m *ResourceManager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

// ReleaseAll releases every owned resource. The device must be idle.
func (m *ResourceManager[T]) ReleaseAll() {
	m.mu.Lock()
	owned := m.resources
	m.resources = make(map[Resource]struct{})
	m.mu.Unlock()

	for r := range owned {
		r.Release()
	}
}

// ResourceID is a small integer id handed out by a ResourceCache.
type ResourceID uint32

// idHeap is a min-heap of free ids so the smallest is reused first.
type idHeap []ResourceID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(ResourceID)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type cacheEntry[T Resource] struct {
	res T
	id  ResourceID
}

// ResourceCache is a ResourceManager with a string-keyed lookup that hands out
// stable small integer ids. Ids are never reused while their name is mapped.
// ResourceCache is safe for concurrent use.
type ResourceCache[T Resource] struct {
	manager *ResourceManager[T]

	mu     sync.Mutex
	byName map[string]cacheEntry[T]
	byID   map[ResourceID]string
	free   idHeap
	next   ResourceID
}

// NewResourceCache creates a cache that builds resources with factory.
func NewResourceCache[T Resource](factory func() (T, error)) *ResourceCache[T] {
	return &ResourceCache[T]{
		manager: NewResourceManager(factory),
		byName:  make(map[string]cacheEntry[T]),
		byID:    make(map[ResourceID]string),
	}
}

// AddOrReturn returns the resource registered under name, creating it and
// assigning the smallest free id if absent.
func (c *ResourceCache[T]) AddOrReturn(name string) (T, ResourceID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byName[name]; ok {
		return e.res, e.id, nil
	}

	r, err := c.manager.CreateResource()
	if err != nil {
		var zero T
		return zero, 0, fmt.Errorf("resource cache: create %q: %w", name, err)
	}
	r.SetName(name)

	id := c.allocID()
	c.byName[name] = cacheEntry[T]{res: r, id: id}
	c.byID[id] = name
	return r, id, nil
}

// allocID pops the smallest free id. The counter only grows when the free
// list is empty.
func (c *ResourceCache[T]) allocID() ResourceID {
	if c.free.Len() > 0 {
		return heap.Pop(&c.free).(ResourceID)
	}
	id := c.next
	c.next++
	return id
}

// Get returns the resource registered under name.
func (c *ResourceCache[T]) Get(name string) (T, ResourceID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byName[name]
	return e.res, e.id, ok
}

// GetByID returns the resource registered under id.
func (c *ResourceCache[T]) GetByID(id ResourceID) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return c.byName[name].res, true
}

// NameOf returns the name registered for id.
func (c *ResourceCache[T]) NameOf(id ResourceID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.byID[id]
	return name, ok
}

// Remove releases the resource registered under name and returns its id to
// the free list.
func (c *ResourceCache[T]) Remove(name string) bool {
	c.mu.Lock()
	e, ok := c.byName[name]
	if ok {
		delete(c.byName, name)
		delete(c.byID, e.id)
		heap.Push(&c.free, e.id)
	}
	c.mu.Unlock()

	if ok {
		c.manager.FreeResource(e.res)
	}
	return ok
}

// Len returns the number of mapped names.
func (c *ResourceCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}

// Names returns the mapped names ordered by id.
func (c *ResourceCache[T]) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.byID))
	for id := ResourceID(0); id < c.next; id++ {
		if n, ok := c.byID[id]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Reset clears every mapping and releases every resource. It is a hard
// flush for device-lost recovery, not per-frame use; the device must be idle.
func (c *ResourceCache[T]) Reset() {
	c.mu.Lock()
	c.byName = make(map[string]cacheEntry[T])
	c.byID = make(map[ResourceID]string)
	c.free = c.free[:0]
	c.next = 0
	c.mu.Unlock()

	c.manager.ReleaseAll()
}
