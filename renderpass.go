package rhi

import (
	"fmt"
	"hash"
	"sync"
	"sync/atomic"
)

// AttachmentDescription describes one renderpass attachment.
type AttachmentDescription struct {
	Format Format
	Load   LoadOp
	Store  StoreOp

	StencilLoad  LoadOp
	StencilStore StoreOp

	InitialLayout ImageLayout
	FinalLayout   ImageLayout
	Samples       uint32
}

// Hash returns a structural hash.
func (a AttachmentDescription) Hash() uint64 {
	h := newHasher()
	a.hashInto(h)
	return h.Sum64()
}

func (a AttachmentDescription) hashInto(h hash.Hash64) {
	hashWriteUint8(h, uint8(a.Format))
	hashWriteUint8(h, uint8(a.Load))
	hashWriteUint8(h, uint8(a.Store))
	hashWriteUint8(h, uint8(a.StencilLoad))
	hashWriteUint8(h, uint8(a.StencilStore))
	hashWriteUint8(h, uint8(a.InitialLayout))
	hashWriteUint8(h, uint8(a.FinalLayout))
	hashWriteUint32(h, max(a.Samples, 1))
}

// RenderpassDescription lists the attachments of a renderpass.
type RenderpassDescription struct {
	Colors []AttachmentDescription
	Depth  *AttachmentDescription
}

// Hash combines every attachment in order.
func (d RenderpassDescription) Hash() uint64 {
	h := newHasher()
	hashWriteUint32(h, uint32(len(d.Colors))) //nolint:gosec // G115: attachment count is small
	for _, c := range d.Colors {
		c.hashInto(h)
	}
	hashWriteBool(h, d.Depth != nil)
	if d.Depth != nil {
		d.Depth.hashInto(h)
	}
	return h.Sum64()
}

// IsValid reports whether the description has at least one attachment and
// every attachment has a defined final layout.
func (d RenderpassDescription) IsValid() bool {
	if len(d.Colors) == 0 && d.Depth == nil {
		return false
	}
	for _, c := range d.Colors {
		if c.FinalLayout == LayoutUndefined || c.Format.IsDepth() {
			return false
		}
	}
	if d.Depth != nil && (d.Depth.FinalLayout == LayoutUndefined || !d.Depth.Format.IsDepth()) {
		return false
	}
	return true
}

// Renderpass is a cached native renderpass.
type Renderpass struct {
	desc   RenderpassDescription
	hash   uint64
	native NativeRenderpass
}

// Desc returns the description.
func (r *Renderpass) Desc() RenderpassDescription { return r.desc }

// Hash returns the cache key.
func (r *Renderpass) Hash() uint64 { return r.hash }

// Native returns the backend renderpass.
func (r *Renderpass) Native() NativeRenderpass { return r.native }

// RenderpassCache deduplicates renderpasses by attachment description.
type RenderpassCache struct {
	rc *RenderContext

	mu     sync.RWMutex
	passes map[uint64]*Renderpass

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newRenderpassCache(rc *RenderContext) *RenderpassCache {
	return &RenderpassCache{rc: rc, passes: make(map[uint64]*Renderpass)}
}

// GetOrCreate returns the renderpass for desc.
func (c *RenderpassCache) GetOrCreate(desc RenderpassDescription) (*Renderpass, error) {
	if !desc.IsValid() {
		return nil, contractError("create renderpass", fmt.Errorf("%w: invalid renderpass description", ErrInvalidArgument))
	}
	if limit := c.rc.caps.MaxColorAttachments; limit > 0 && len(desc.Colors) > limit {
		return nil, contractError("create renderpass",
			fmt.Errorf("%w: %d colour attachments, device allows %d", ErrOutOfRange, len(desc.Colors), limit))
	}
	key := desc.Hash()

	c.mu.RLock()
	if r, ok := c.passes[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return r, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.passes[key]; ok {
		c.hits.Add(1)
		return r, nil
	}
	// The cache owns its copy of the attachment slice.
	own := RenderpassDescription{Colors: append([]AttachmentDescription(nil), desc.Colors...)}
	if desc.Depth != nil {
		d := *desc.Depth
		own.Depth = &d
	}
	native, err := c.rc.device.CreateRenderpass(own)
	if err != nil {
		return nil, NativeError("create renderpass", err)
	}
	r := &Renderpass{desc: own, hash: key, native: native}
	c.passes[key] = r
	c.misses.Add(1)
	Logger().Debug("rhi: renderpass created", "colors", len(own.Colors), "depth", own.Depth != nil)
	return r, nil
}

// Release drops the renderpass with the given hash.
func (c *RenderpassCache) Release(hash uint64) bool {
	c.mu.Lock()
	r, ok := c.passes[hash]
	delete(c.passes, hash)
	c.mu.Unlock()
	if ok {
		c.rc.DeferRelease(r.native)
	}
	return ok
}

// ReleaseAll drops every renderpass.
func (c *RenderpassCache) ReleaseAll() {
	c.mu.Lock()
	passes := c.passes
	c.passes = make(map[uint64]*Renderpass)
	c.mu.Unlock()
	for _, r := range passes {
		c.rc.DeferRelease(r.native)
	}
}

// Len returns the number of cached renderpasses.
func (c *RenderpassCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.passes)
}

// Stats returns hits and misses.
func (c *RenderpassCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns hits / (hits + misses).
func (c *RenderpassCache) HitRate() float64 { return hitRate(c.hits.Load(), c.misses.Load()) }
