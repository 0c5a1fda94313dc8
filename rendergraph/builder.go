package rendergraph

import (
	"fmt"

	"github.com/gogpu/rhi"
)

// TextureHandle names a texture within one graph build. The zero value is
// invalid.
type TextureHandle uint32

// IsValid reports whether h was returned by a Builder.
func (h TextureHandle) IsValid() bool { return h != 0 }

// Builder declares the resources and state of one pass. It is only valid
// inside the setup callback passed to AddPass.
type Builder struct {
	graph *Graph
	pass  *pass
}

// CreateTexture declares a graph-owned texture. Within one build the same
// name always yields the same handle; the first declaration's info wins.
// The texture persists across frames and is recreated when its info changes.
func (b *Builder) CreateTexture(name string, info rhi.TextureInfo) TextureHandle {
	h, err := b.graph.declare(name, info, nil)
	if err != nil {
		b.pass.fail(err)
		return 0
	}
	b.pass.addCreate(h)
	return h
}

// ImportTexture makes an externally owned texture available to the graph.
// The graph tracks its layout but never releases it.
func (b *Builder) ImportTexture(name string, tex *rhi.Texture) TextureHandle {
	if tex == nil {
		b.pass.fail(fmt.Errorf("%w: import %q", rhi.ErrNilResource, name))
		return 0
	}
	h, err := b.graph.declare(name, tex.Info(), tex)
	if err != nil {
		b.pass.fail(err)
		return 0
	}
	return h
}

func (b *Builder) use(h TextureHandle, u usage) TextureHandle {
	e := b.graph.entry(h)
	if e == nil {
		b.pass.fail(fmt.Errorf("%w: pass %q uses unknown texture handle %d", rhi.ErrInvalidArgument, b.pass.name, h))
		return h
	}
	if u == usageDepthWrite && !e.info.Format.IsDepth() {
		b.pass.fail(fmt.Errorf("%w: %q is not a depth format", rhi.ErrInvalidArgument, e.name))
		return h
	}
	if u == usageColorWrite && e.info.Format.IsDepth() {
		b.pass.fail(fmt.Errorf("%w: depth texture %q written as colour", rhi.ErrInvalidArgument, e.name))
		return h
	}
	e.usage |= u.textureUsage()
	b.pass.addAccess(h, u)
	return h
}

// ReadTexture declares that the pass samples h.
func (b *Builder) ReadTexture(h TextureHandle) TextureHandle { return b.use(h, usageShaderRead) }

// WriteTexture declares h as a colour attachment of the pass.
func (b *Builder) WriteTexture(h TextureHandle) TextureHandle { return b.use(h, usageColorWrite) }

// WriteDepthStencil declares h as the depth attachment of the pass.
func (b *Builder) WriteDepthStencil(h TextureHandle) TextureHandle { return b.use(h, usageDepthWrite) }

// CopyFrom declares h as a transfer source.
func (b *Builder) CopyFrom(h TextureHandle) TextureHandle { return b.use(h, usageCopySrc) }

// CopyTo declares h as a transfer destination.
func (b *Builder) CopyTo(h TextureHandle) TextureHandle { return b.use(h, usageCopyDst) }

// SetShader sets the shader the pass's pipeline is built from.
func (b *Builder) SetShader(desc rhi.ShaderDesc) { b.pass.shader = &desc }

// SetPipeline sets the fixed-function state. Its shader handle and target
// formats are filled in from SetShader and the attachments when unset.
func (b *Builder) SetPipeline(pso rhi.PipelineStateObject) { b.pass.pso = &pso }

// SetRenderpass replaces the synthesised renderpass. Its attachments must
// match the pass's colour and depth writes in order.
func (b *Builder) SetRenderpass(desc rhi.RenderpassDescription) { b.pass.renderpass = &desc }

// SetViewport overrides the full-target viewport.
func (b *Builder) SetViewport(v rhi.Viewport) { b.pass.viewport = &v }

// SetScissor overrides the full-target scissor.
func (b *Builder) SetScissor(r rhi.Rect) { b.pass.scissor = &r }

// SetSwapchainTarget makes the graph's back buffer a colour attachment of
// the pass. Only the last pass may target the swapchain.
func (b *Builder) SetSwapchainTarget() { b.pass.swapchain = true }

// SkipTextureWriteBarriers suppresses barriers into write layouts. The
// tracked layout still advances; the pass transitions its targets itself.
func (b *Builder) SkipTextureWriteBarriers() { b.pass.skipWrite = true }

// SkipTextureReadBarriers suppresses barriers into read layouts.
func (b *Builder) SkipTextureReadBarriers() { b.pass.skipRead = true }

// SetClearColor clears every colour attachment when the pass begins.
// Without it attachments are loaded.
func (b *Builder) SetClearColor(c rhi.Color) { b.pass.clear = &c }

// SetClearDepth clears the depth attachment to d when the pass begins.
func (b *Builder) SetClearDepth(d float32) { b.pass.clearDepth = &d }

// AddPass declares a pass. setup runs immediately with a fresh *T; exec runs
// during Execute with the same *T while the pass's renderpass is open.
func AddPass[T any](g *Graph, name string, setup func(*Builder, *T), exec func(*PassContext, *T)) {
	data := new(T)
	p := &pass{name: name}
	if setup != nil {
		setup(&Builder{graph: g, pass: p}, data)
	}
	if exec != nil {
		p.exec = func(pc *PassContext) { exec(pc, data) }
	}
	g.passes = append(g.passes, p)
}
