package rendergraph

import (
	"fmt"

	"github.com/gogpu/rhi"
)

// usage is how a pass touches a texture.
type usage uint8

const (
	usageShaderRead usage = iota
	usageColorWrite
	usageDepthWrite
	usageCopySrc
	usageCopyDst
)

var usageNames = [...]string{"shader read", "colour write", "depth write", "copy source", "copy destination"}

func (u usage) String() string {
	if int(u) < len(usageNames) {
		return usageNames[u]
	}
	return fmt.Sprintf("usage(%d)", u)
}

// write reports whether the usage modifies the texture.
func (u usage) write() bool {
	return u == usageColorWrite || u == usageDepthWrite || u == usageCopyDst
}

// layout returns the image layout the usage requires for a texture of
// format f.
func (u usage) layout(f rhi.Format) rhi.ImageLayout {
	switch u {
	case usageColorWrite:
		return rhi.LayoutColorAttachment
	case usageDepthWrite:
		return rhi.LayoutDepthStencilAttachment
	case usageCopySrc:
		return rhi.LayoutTransferSrc
	case usageCopyDst:
		return rhi.LayoutTransferDst
	}
	if f.IsDepth() {
		return rhi.LayoutDepthStencilReadOnly
	}
	return rhi.LayoutShaderReadOnly
}

// textureUsage returns the creation usage bit a texture needs for u.
func (u usage) textureUsage() rhi.TextureUsage {
	switch u {
	case usageColorWrite:
		return rhi.TextureUsageRenderTarget
	case usageDepthWrite:
		return rhi.TextureUsageDepthStencil
	case usageCopySrc:
		return rhi.TextureUsageCopySrc
	case usageCopyDst:
		return rhi.TextureUsageCopyDst
	default:
		return rhi.TextureUsageSampled
	}
}

type access struct {
	handle TextureHandle
	usage  usage
}

// pass is one declared pass of the current build.
type pass struct {
	name string

	creates  []TextureHandle
	accesses []access

	shader     *rhi.ShaderDesc
	pso        *rhi.PipelineStateObject
	renderpass *rhi.RenderpassDescription
	viewport   *rhi.Viewport
	scissor    *rhi.Rect

	swapchain bool
	skipRead  bool
	skipWrite bool

	clear      *rhi.Color
	clearDepth *float32

	exec func(*PassContext)
	err  error
}

func (p *pass) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// addAccess records h with u unless it is already there. A handle used two
// different ways by one pass is a contract violation.
func (p *pass) addAccess(h TextureHandle, u usage) {
	for _, a := range p.accesses {
		if a.handle != h {
			continue
		}
		if a.usage != u {
			p.fail(fmt.Errorf("%w: pass %q uses texture %d as %s and %s", rhi.ErrInvalidArgument, p.name, h, a.usage, u))
		}
		return
	}
	p.accesses = append(p.accesses, access{handle: h, usage: u})
}

func (p *pass) addCreate(h TextureHandle) {
	for _, c := range p.creates {
		if c == h {
			return
		}
	}
	p.creates = append(p.creates, h)
}

// PassContext is handed to a pass callback while its renderpass is open.
type PassContext struct {
	// Cmd records the pass's commands.
	Cmd *rhi.CommandList

	// Pipeline is the pass's bound pipeline, or nil if it declared none.
	Pipeline *rhi.Pipeline

	// Width and Height are the render target extent, zero for passes
	// without attachments.
	Width, Height uint32

	graph *Graph
	name  string
}

// Name returns the pass name.
func (c *PassContext) Name() string { return c.name }

// Texture resolves a handle declared during setup.
func (c *PassContext) Texture(h TextureHandle) *rhi.Texture { return c.graph.resolved(h) }

// RenderContext returns the context the graph records on.
func (c *PassContext) RenderContext() *rhi.RenderContext { return c.graph.rc }
