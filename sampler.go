package rhi

import (
	"sync"
	"sync/atomic"
)

// SamplerCreateInfo describes a sampler. Two infos with equal hashes share a
// native sampler.
type SamplerCreateInfo struct {
	MinFilter FilterMode
	MagFilter FilterMode
	MipFilter FilterMode

	AddressU AddressMode
	AddressV AddressMode
	AddressW AddressMode

	MinLOD float32
	MaxLOD float32

	// Anisotropy is the maximum anisotropy; 0 or 1 disables it.
	Anisotropy uint8

	CompareEnable bool
	Compare       CompareOp
}

// LinearClamp is the usual sampler for full-screen passes.
var LinearClamp = SamplerCreateInfo{
	MinFilter: FilterLinear,
	MagFilter: FilterLinear,
	MipFilter: FilterLinear,
	AddressU:  AddressClampToEdge,
	AddressV:  AddressClampToEdge,
	AddressW:  AddressClampToEdge,
	MaxLOD:    32,
}

// Hash returns a structural hash.
func (s SamplerCreateInfo) Hash() uint64 {
	h := newHasher()
	hashWriteUint8(h, uint8(s.MinFilter))
	hashWriteUint8(h, uint8(s.MagFilter))
	hashWriteUint8(h, uint8(s.MipFilter))
	hashWriteUint8(h, uint8(s.AddressU))
	hashWriteUint8(h, uint8(s.AddressV))
	hashWriteUint8(h, uint8(s.AddressW))
	hashWriteFloat32(h, s.MinLOD)
	hashWriteFloat32(h, s.MaxLOD)
	hashWriteUint8(h, s.Anisotropy)
	hashWriteBool(h, s.CompareEnable)
	if s.CompareEnable {
		hashWriteUint8(h, uint8(s.Compare))
	}
	return h.Sum64()
}

// Sampler is a cached native sampler.
type Sampler struct {
	info   SamplerCreateInfo
	hash   uint64
	native NativeSampler
}

// Info returns the create info.
func (s *Sampler) Info() SamplerCreateInfo { return s.info }

// Hash returns the cache key.
func (s *Sampler) Hash() uint64 { return s.hash }

// Native returns the backend sampler.
func (s *Sampler) Native() NativeSampler { return s.native }

// SamplerCache deduplicates samplers by create info.
type SamplerCache struct {
	rc *RenderContext

	mu       sync.RWMutex
	samplers map[uint64]*Sampler

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newSamplerCache(rc *RenderContext) *SamplerCache {
	return &SamplerCache{rc: rc, samplers: make(map[uint64]*Sampler)}
}

// GetOrCreate returns the sampler for info.
func (c *SamplerCache) GetOrCreate(info SamplerCreateInfo) (*Sampler, error) {
	if info.MaxLOD < info.MinLOD {
		return nil, contractError("create sampler", ErrInvalidArgument)
	}
	key := info.Hash()

	c.mu.RLock()
	if s, ok := c.samplers[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.samplers[key]; ok {
		c.hits.Add(1)
		return s, nil
	}
	native, err := c.rc.device.CreateSampler(info)
	if err != nil {
		return nil, NativeError("create sampler", err)
	}
	s := &Sampler{info: info, hash: key, native: native}
	c.samplers[key] = s
	c.misses.Add(1)
	return s, nil
}

// Release drops the sampler with the given hash.
func (c *SamplerCache) Release(hash uint64) bool {
	c.mu.Lock()
	s, ok := c.samplers[hash]
	delete(c.samplers, hash)
	c.mu.Unlock()
	if ok {
		c.rc.DeferRelease(s.native)
	}
	return ok
}

// ReleaseAll drops every sampler.
func (c *SamplerCache) ReleaseAll() {
	c.mu.Lock()
	samplers := c.samplers
	c.samplers = make(map[uint64]*Sampler)
	c.mu.Unlock()
	for _, s := range samplers {
		c.rc.DeferRelease(s.native)
	}
}

// Len returns the number of cached samplers.
func (c *SamplerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samplers)
}

// Stats returns hits and misses.
func (c *SamplerCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns hits / (hits + misses).
func (c *SamplerCache) HitRate() float64 { return hitRate(c.hits.Load(), c.misses.Load()) }
