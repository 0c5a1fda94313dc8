package rhi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DescriptorLayout is a cached native descriptor-set layout.
type DescriptorLayout struct {
	desc   DescriptorSetLayoutDesc
	hash   uint64
	native NativeDescriptorLayout
}

// Desc returns the layout description.
func (l *DescriptorLayout) Desc() DescriptorSetLayoutDesc { return l.desc }

// Hash returns the cache key.
func (l *DescriptorLayout) Hash() uint64 { return l.hash }

// Native returns the backend layout.
func (l *DescriptorLayout) Native() NativeDescriptorLayout { return l.native }

// DescriptorLayoutCache deduplicates descriptor-set layouts by set index and
// binding contents.
type DescriptorLayoutCache struct {
	rc *RenderContext

	mu      sync.RWMutex
	layouts map[uint64]*DescriptorLayout

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newDescriptorLayoutCache(rc *RenderContext) *DescriptorLayoutCache {
	return &DescriptorLayoutCache{rc: rc, layouts: make(map[uint64]*DescriptorLayout)}
}

// GetOrCreate returns the layout for set, creating it on first use.
func (c *DescriptorLayoutCache) GetOrCreate(set uint32, desc DescriptorSetLayoutDesc) (*DescriptorLayout, error) {
	desc.Set = set
	key := desc.Hash()

	c.mu.RLock()
	if l, ok := c.layouts[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return l, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.layouts[key]; ok {
		c.hits.Add(1)
		return l, nil
	}
	native, err := c.rc.device.CreateDescriptorLayout(set, desc)
	if err != nil {
		return nil, NativeError("create descriptor layout", err)
	}
	l := &DescriptorLayout{desc: desc, hash: key, native: native}
	c.layouts[key] = l
	c.misses.Add(1)
	Logger().Debug("rhi: descriptor layout created", "set", set, "bindings", len(desc.Bindings))
	return l, nil
}

// Release drops the layout with the given hash.
func (c *DescriptorLayoutCache) Release(hash uint64) bool {
	c.mu.Lock()
	l, ok := c.layouts[hash]
	delete(c.layouts, hash)
	c.mu.Unlock()
	if ok {
		c.rc.DeferRelease(l.native)
	}
	return ok
}

// ReleaseAll drops every layout.
func (c *DescriptorLayoutCache) ReleaseAll() {
	c.mu.Lock()
	layouts := c.layouts
	c.layouts = make(map[uint64]*DescriptorLayout)
	c.mu.Unlock()
	for _, l := range layouts {
		c.rc.DeferRelease(l.native)
	}
}

// Len returns the number of cached layouts.
func (c *DescriptorLayoutCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layouts)
}

// Stats returns hits and misses.
func (c *DescriptorLayoutCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (c *DescriptorLayoutCache) HitRate() float64 {
	return hitRate(c.hits.Load(), c.misses.Load())
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// DefaultDescriptorPageSize is the slot count of a descriptor page when
// neither the caller nor the backend chooses one.
const DefaultDescriptorPageSize = 1024

// Descriptor is a slot in one page of the descriptor allocator.
// Generation ties it to the allocator's pages; ReleaseAll invalidates it.
type Descriptor struct {
	Page       uint32
	Slot       uint32
	Generation uint32
}

type descriptorPage struct {
	native   NativeDescriptorPage
	capacity uint32
	next     uint32
	free     []uint32
}

// IsFull reports whether the page has no slot left, neither freed nor fresh.
func (p *descriptorPage) IsFull() bool {
	return len(p.free) == 0 && p.next >= p.capacity
}

func (p *descriptorPage) alloc() (uint32, bool) {
	if n := len(p.free); n > 0 {
		slot := p.free[n-1]
		p.free = p.free[:n-1]
		return slot, true
	}
	if p.next < p.capacity {
		slot := p.next
		p.next++
		return slot, true
	}
	return 0, false
}

func (p *descriptorPage) used() uint32 {
	return p.next - uint32(len(p.free)) //nolint:gosec // G115: free list never exceeds capacity
}

// DescriptorAllocator hands out descriptor slots from fixed-size native pages.
// It grows by one page only when the current page is full; freed slots return
// to the free list of the page that owns them.
type DescriptorAllocator struct {
	rc       *RenderContext
	pageSize uint32

	mu         sync.Mutex
	pages      []*descriptorPage
	current    int
	generation uint32
}

func newDescriptorAllocator(rc *RenderContext, pageSize uint32) *DescriptorAllocator {
	return &DescriptorAllocator{rc: rc, pageSize: pageSize, generation: 1}
}

// PageSize returns the slot capacity of each page.
func (a *DescriptorAllocator) PageSize() uint32 { return a.pageSize }

// GetNewHandle allocates one descriptor slot.
func (a *DescriptorAllocator) GetNewHandle() (Descriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pages) > 0 {
		p := a.pages[a.current]
		if !p.IsFull() {
			slot, _ := p.alloc()
			return Descriptor{Page: uint32(a.current), Slot: slot, Generation: a.generation}, nil //nolint:gosec // G115: page count is small
		}
		// Prefer an older page with freed slots over growing.
		for i, p := range a.pages {
			if !p.IsFull() {
				a.current = i
				slot, _ := p.alloc()
				return Descriptor{Page: uint32(i), Slot: slot, Generation: a.generation}, nil //nolint:gosec // G115: page count is small
			}
		}
	}

	native, err := a.rc.device.CreateDescriptorPage(a.pageSize)
	if err != nil {
		return Descriptor{}, recoverableError("allocate descriptor",
			fmt.Errorf("%w: %w", ErrDescriptorExhausted, err))
	}
	p := &descriptorPage{native: native, capacity: a.pageSize}
	a.pages = append(a.pages, p)
	a.current = len(a.pages) - 1
	Logger().Debug("rhi: descriptor page allocated", "page", a.current, "capacity", a.pageSize)

	slot, _ := p.alloc()
	return Descriptor{Page: uint32(a.current), Slot: slot, Generation: a.generation}, nil //nolint:gosec // G115: page count is small
}

func (a *DescriptorAllocator) pageOf(d Descriptor) (*descriptorPage, error) {
	if int(d.Page) >= len(a.pages) {
		return nil, fmt.Errorf("%w: descriptor page %d", ErrOutOfRange, d.Page)
	}
	p := a.pages[d.Page]
	if d.Slot >= p.next {
		return nil, fmt.Errorf("%w: descriptor slot %d", ErrOutOfRange, d.Slot)
	}
	if d.Generation != a.generation {
		return nil, fmt.Errorf("%w: descriptor from generation %d, allocator at %d", ErrReleased, d.Generation, a.generation)
	}
	return p, nil
}

// Free returns d to its page's free list.
func (a *DescriptorAllocator) Free(d Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.pageOf(d)
	if err != nil {
		return contractError("free descriptor", err)
	}
	for _, s := range p.free {
		if s == d.Slot {
			return contractError("free descriptor", fmt.Errorf("%w: slot %d freed twice", ErrInvalidState, d.Slot))
		}
	}
	p.free = append(p.free, d.Slot)
	return nil
}

// Write fills the slot d with resources laid out per layout.
func (a *DescriptorAllocator) Write(d Descriptor, layout *DescriptorLayout, writes []DescriptorWrite) error {
	if layout == nil {
		return contractError("write descriptor", ErrNilResource)
	}
	a.mu.Lock()
	p, err := a.pageOf(d)
	a.mu.Unlock()
	if err != nil {
		return contractError("write descriptor", err)
	}
	if err := p.native.Write(d.Slot, layout.native, writes); err != nil {
		return NativeError("write descriptor", err)
	}
	return nil
}

// NativePage returns the native page owning d, for binding.
func (a *DescriptorAllocator) NativePage(d Descriptor) (NativeDescriptorPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.pageOf(d)
	if err != nil {
		return nil, contractError("descriptor page", err)
	}
	return p.native, nil
}

// Pages returns the number of allocated pages.
func (a *DescriptorAllocator) Pages() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pages)
}

// Used returns the number of live slots across all pages.
func (a *DescriptorAllocator) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, p := range a.pages {
		n += int(p.used())
	}
	return n
}

// ReleaseAll destroys every page. Outstanding descriptors become invalid.
func (a *DescriptorAllocator) ReleaseAll() {
	a.mu.Lock()
	pages := a.pages
	a.pages = nil
	a.current = 0
	a.generation++
	a.mu.Unlock()
	for _, p := range pages {
		a.rc.DeferRelease(p.native)
	}
}

// BufferWrite binds a buffer range to binding.
func BufferWrite(binding uint32, kind DescriptorKind, view BufferView) DescriptorWrite {
	var native NativeBuffer
	if view.Buffer != nil {
		native = view.Buffer.Native()
	}
	return DescriptorWrite{Binding: binding, Kind: kind, Buffer: native, Offset: view.Offset, Size: view.Size}
}

// TextureWrite binds a texture view to binding.
func TextureWrite(binding uint32, kind DescriptorKind, view NativeTextureView) DescriptorWrite {
	return DescriptorWrite{Binding: binding, Kind: kind, View: view}
}

// SamplerWrite binds a sampler to binding.
func SamplerWrite(binding uint32, s *Sampler) DescriptorWrite {
	w := DescriptorWrite{Binding: binding, Kind: DescriptorSampler}
	if s != nil {
		w.Sampler = s.native
	}
	return w
}
