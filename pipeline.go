package rhi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxColorAttachments bounds the colour targets of one pipeline.
const MaxColorAttachments = 8

// RasterizerState controls primitive rasterisation.
type RasterizerState struct {
	Cull      CullMode
	Fill      FillMode
	FrontCCW  bool
	DepthBias float32
	DepthClip bool
}

// DepthState controls the depth test.
type DepthState struct {
	Test    bool
	Write   bool
	Compare CompareOp
}

// PipelineStateObject is the full fixed-function state of a graphics
// pipeline. It is a comparable value; caches copy it.
type PipelineStateObject struct {
	Shader Handle

	ColorFormats [MaxColorAttachments]Format
	ColorCount   uint8
	DepthFormat  Format

	Topology   Topology
	Rasterizer RasterizerState
	Blend      BlendMode
	Depth      DepthState
	Samples    uint32

	// Swapchain marks pipelines that render to the back buffer.
	Swapchain bool
}

// SetColorFormats replaces the colour target formats.
func (p *PipelineStateObject) SetColorFormats(formats ...Format) {
	p.ColorFormats = [MaxColorAttachments]Format{}
	n := copy(p.ColorFormats[:], formats)
	p.ColorCount = uint8(n) //nolint:gosec // G115: n <= MaxColorAttachments
}

// Colors returns the used colour formats. A ColorCount past
// MaxColorAttachments is clamped.
func (p PipelineStateObject) Colors() []Format {
	return p.ColorFormats[:min(int(p.ColorCount), MaxColorAttachments)]
}

// Hash combines every field.
func (p PipelineStateObject) Hash() uint64 {
	h := newHasher()
	hashWriteHandle(h, p.Shader)
	hashWriteUint8(h, p.ColorCount)
	for _, f := range p.Colors() {
		hashWriteUint8(h, uint8(f))
	}
	hashWriteUint8(h, uint8(p.DepthFormat))
	hashWriteUint8(h, uint8(p.Topology))
	hashWriteUint8(h, uint8(p.Rasterizer.Cull))
	hashWriteUint8(h, uint8(p.Rasterizer.Fill))
	hashWriteBool(h, p.Rasterizer.FrontCCW)
	hashWriteFloat32(h, p.Rasterizer.DepthBias)
	hashWriteBool(h, p.Rasterizer.DepthClip)
	hashWriteUint8(h, uint8(p.Blend))
	hashWriteBool(h, p.Depth.Test)
	hashWriteBool(h, p.Depth.Write)
	hashWriteUint8(h, uint8(p.Depth.Compare))
	hashWriteUint32(h, max(p.Samples, 1))
	hashWriteBool(h, p.Swapchain)
	return h.Sum64()
}

// Validate checks the state for contract violations.
func (p PipelineStateObject) Validate() error {
	switch {
	case !p.Shader.IsValid():
		return fmt.Errorf("%w: pipeline without shader", ErrInvalidArgument)
	case int(p.ColorCount) > MaxColorAttachments:
		return fmt.Errorf("%w: %d colour targets", ErrOutOfRange, p.ColorCount)
	case p.ColorCount == 0 && p.DepthFormat == FormatUndefined:
		return fmt.Errorf("%w: pipeline without render targets", ErrInvalidArgument)
	case p.DepthFormat != FormatUndefined && !p.DepthFormat.IsDepth():
		return fmt.Errorf("%w: depth target format %d", ErrInvalidArgument, p.DepthFormat)
	case (p.Depth.Test || p.Depth.Write) && p.DepthFormat == FormatUndefined:
		return fmt.Errorf("%w: depth test without depth target", ErrInvalidArgument)
	}
	for i, f := range p.Colors() {
		if f == FormatUndefined || f.IsDepth() {
			return fmt.Errorf("%w: colour target %d format %d", ErrInvalidArgument, i, f)
		}
	}
	return nil
}

// renderpass returns a renderpass compatible with the state's targets.
func (p PipelineStateObject) renderpass() RenderpassDescription {
	final := LayoutColorAttachment
	if p.Swapchain {
		final = LayoutPresent
	}
	var desc RenderpassDescription
	for _, f := range p.Colors() {
		desc.Colors = append(desc.Colors, AttachmentDescription{
			Format: f, Load: LoadOpLoad, Store: StoreOpStore,
			InitialLayout: LayoutColorAttachment, FinalLayout: final, Samples: p.Samples,
		})
	}
	if p.DepthFormat != FormatUndefined {
		desc.Depth = &AttachmentDescription{
			Format: p.DepthFormat, Load: LoadOpLoad, Store: StoreOpStore,
			InitialLayout: LayoutDepthStencilAttachment, FinalLayout: LayoutDepthStencilAttachment, Samples: p.Samples,
		}
	}
	return desc
}

// Pipeline is a cached native pipeline.
type Pipeline struct {
	state   PipelineStateObject
	hash    uint64
	shader  *Shader
	layouts []*DescriptorLayout
	pass    *Renderpass
	native  NativePipeline
}

// State returns a copy of the state the pipeline was built from.
func (p *Pipeline) State() PipelineStateObject { return p.state }

// Hash returns the cache key.
func (p *Pipeline) Hash() uint64 { return p.hash }

// Shader returns the shader program.
func (p *Pipeline) Shader() *Shader { return p.shader }

// Layouts returns the descriptor-set layouts indexed by set.
func (p *Pipeline) Layouts() []*DescriptorLayout { return p.layouts }

// Renderpass returns the compatible renderpass.
func (p *Pipeline) Renderpass() *Renderpass { return p.pass }

// Native returns the backend pipeline.
func (p *Pipeline) Native() NativePipeline { return p.native }

// PipelineCache deduplicates pipelines by state hash.
type PipelineCache struct {
	rc *RenderContext

	mu        sync.RWMutex
	pipelines map[uint64]*Pipeline

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newPipelineCache(rc *RenderContext) *PipelineCache {
	return &PipelineCache{rc: rc, pipelines: make(map[uint64]*Pipeline)}
}

// GetOrCreate returns the pipeline for pso, building it on first use.
func (c *PipelineCache) GetOrCreate(pso PipelineStateObject) (*Pipeline, error) {
	if err := pso.Validate(); err != nil {
		return nil, contractError("create pipeline", err)
	}
	key := pso.Hash()

	c.mu.RLock()
	if p, ok := c.pipelines[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[key]; ok {
		c.hits.Add(1)
		return p, nil
	}

	p, err := c.build(pso, key)
	if err != nil {
		return nil, err
	}
	c.pipelines[key] = p
	c.misses.Add(1)
	Logger().Debug("rhi: pipeline created", "shader", p.shader.Name(), "colors", pso.ColorCount, "hash", key)
	return p, nil
}

func (c *PipelineCache) build(pso PipelineStateObject, key uint64) (*Pipeline, error) {
	shader, ok := c.rc.shaders.ShaderByHandle(pso.Shader)
	if !ok || !shader.Valid() {
		return nil, contractError("create pipeline", fmt.Errorf("%w: shader %s", ErrReleased, pso.Shader))
	}

	sets := shader.DescriptorSets()
	var layouts []*DescriptorLayout
	if n := len(sets); n > 0 {
		layouts = make([]*DescriptorLayout, sets[n-1].Set+1)
	}
	for _, s := range sets {
		l, err := c.rc.layouts.GetOrCreate(s.Set, s)
		if err != nil {
			return nil, err
		}
		layouts[s.Set] = l
	}
	// Sparse set indices get empty layouts.
	for i, l := range layouts {
		if l == nil {
			empty, err := c.rc.layouts.GetOrCreate(uint32(i), DescriptorSetLayoutDesc{}) //nolint:gosec // G115: set index is small
			if err != nil {
				return nil, err
			}
			layouts[i] = empty
		}
	}

	pass, err := c.rc.renderpasses.GetOrCreate(pso.renderpass())
	if err != nil {
		return nil, err
	}

	push := shader.PushConstants()
	if push.Size > 0 && push.Size > c.rc.caps.MaxPushConstantSize {
		return nil, contractError("create pipeline",
			fmt.Errorf("%w: push constants %d bytes, device allows %d", ErrUnsupported, push.Size, c.rc.caps.MaxPushConstantSize))
	}

	natives := make([]NativeDescriptorLayout, len(layouts))
	for i, l := range layouts {
		natives[i] = l.native
	}
	native, err := c.rc.device.CreatePipeline(PipelineCreateInfo{
		Label:         shader.Name(),
		Stages:        shader.stageModules(),
		Layouts:       natives,
		PushConstants: push,
		VertexLayout:  shader.VertexLayout(),
		State:         pso,
		Renderpass:    pass.native,
	})
	if err != nil {
		return nil, NativeError("create pipeline", err)
	}
	return &Pipeline{state: pso, hash: key, shader: shader, layouts: layouts, pass: pass, native: native}, nil
}

// releaseByShader drops every pipeline built from the shader.
func (c *PipelineCache) releaseByShader(h Handle) int {
	c.mu.Lock()
	var dropped []*Pipeline
	for k, p := range c.pipelines {
		if p.state.Shader == h {
			dropped = append(dropped, p)
			delete(c.pipelines, k)
		}
	}
	c.mu.Unlock()
	for _, p := range dropped {
		c.rc.DeferRelease(p.native)
	}
	return len(dropped)
}

// Release drops the pipeline with the given hash.
func (c *PipelineCache) Release(hash uint64) bool {
	c.mu.Lock()
	p, ok := c.pipelines[hash]
	delete(c.pipelines, hash)
	c.mu.Unlock()
	if ok {
		c.rc.DeferRelease(p.native)
	}
	return ok
}

// ReleaseAll drops every pipeline.
func (c *PipelineCache) ReleaseAll() {
	c.mu.Lock()
	pipelines := c.pipelines
	c.pipelines = make(map[uint64]*Pipeline)
	c.mu.Unlock()
	for _, p := range pipelines {
		c.rc.DeferRelease(p.native)
	}
}

// Len returns the number of cached pipelines.
func (c *PipelineCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pipelines)
}

// Stats returns hits and misses.
func (c *PipelineCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns hits / (hits + misses).
func (c *PipelineCache) HitRate() float64 { return hitRate(c.hits.Load(), c.misses.Load()) }
