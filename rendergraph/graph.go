// Package rendergraph schedules a frame as a sequence of declared passes.
//
// Each frame the caller declares passes with AddPass. A pass's setup
// callback names the textures it creates, reads and writes and the pipeline
// it draws with; Execute then runs the passes in declaration order, issuing
// one batched layout transition before each pass and opening a renderpass
// over its attachments before calling the pass's exec callback.
//
// Graph-created textures are owned by the graph and persist across frames,
// keyed by name, so history buffers survive from one frame to the next.
//
//	g, _ := rendergraph.New(rc)
//	rendergraph.AddPass(g, "forward", func(b *rendergraph.Builder, d *forwardData) {
//		d.color = b.WriteTexture(b.CreateTexture("hdr", hdrInfo))
//		b.SetShader(forwardShader)
//	}, func(pc *rendergraph.PassContext, d *forwardData) {
//		pc.Cmd.Draw(3, 1, 0, 0)
//	})
//	fence, err := g.Execute(ctx)
package rendergraph

import (
	"context"
	"fmt"

	"github.com/gogpu/rhi"
)

// graphTexture is a named texture kept by the graph between frames.
type graphTexture struct {
	name string
	tex  *rhi.Texture
}

func (t *graphTexture) Release() {
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func (t *graphTexture) Valid() bool         { return t.tex != nil && t.tex.Valid() }
func (t *graphTexture) SetName(name string) { t.name = name }
func (t *graphTexture) Name() string        { return t.name }

// textureEntry is a texture declared in the current build.
type textureEntry struct {
	name     string
	info     rhi.TextureInfo
	usage    rhi.TextureUsage
	imported *rhi.Texture

	// tex is set while Execute runs.
	tex *rhi.Texture
}

// Graph records passes for one frame at a time and executes them on a
// RenderContext. A Graph is not safe for concurrent use; it belongs to the
// render goroutine.
type Graph struct {
	rc         *rhi.RenderContext
	textures   *rhi.ResourceCache[*graphTexture]
	backbuffer *rhi.Texture

	// Current build.
	passes  []*pass
	entries []*textureEntry
	byName  map[string]TextureHandle

	// Last execution.
	executed []string
	barriers []PassBarriers
}

// New creates a graph recording on rc.
func New(rc *rhi.RenderContext) (*Graph, error) {
	if rc == nil {
		return nil, &rhi.Error{Op: "new render graph", Kind: rhi.KindContract, Err: rhi.ErrNilContext}
	}
	return &Graph{
		rc: rc,
		textures: rhi.NewResourceCache(func() (*graphTexture, error) {
			return &graphTexture{}, nil
		}),
		byName: make(map[string]TextureHandle),
	}, nil
}

// SetBackbuffer sets the texture swapchain passes render into. The caller
// owns it; a windowing layer swaps it every frame.
func (g *Graph) SetBackbuffer(tex *rhi.Texture) { g.backbuffer = tex }

// Backbuffer returns the current swapchain target.
func (g *Graph) Backbuffer() *rhi.Texture { return g.backbuffer }

// declare registers name in the current build, returning the existing
// handle if the name is already declared.
func (g *Graph) declare(name string, info rhi.TextureInfo, imported *rhi.Texture) (TextureHandle, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: texture without a name", rhi.ErrInvalidArgument)
	}
	if h, ok := g.byName[name]; ok {
		e := g.entries[h-1]
		if (e.imported == nil) != (imported == nil) || (imported != nil && e.imported != imported) {
			return 0, fmt.Errorf("%w: texture %q declared as both created and imported", rhi.ErrInvalidArgument, name)
		}
		return h, nil
	}
	g.entries = append(g.entries, &textureEntry{name: name, info: info, imported: imported})
	h := TextureHandle(len(g.entries)) //nolint:gosec // G115: entry count is small
	g.byName[name] = h
	return h, nil
}

func (g *Graph) entry(h TextureHandle) *textureEntry {
	if h == 0 || int(h) > len(g.entries) {
		return nil
	}
	return g.entries[h-1]
}

func (g *Graph) resolved(h TextureHandle) *rhi.Texture {
	if e := g.entry(h); e != nil {
		return e.tex
	}
	return nil
}

// resolve binds e to a live texture, creating or recreating the persistent
// texture behind a graph-owned name when its description changed.
func (g *Graph) resolve(e *textureEntry) error {
	if e.imported != nil {
		if !e.imported.Valid() {
			return fmt.Errorf("%w: imported texture %q", rhi.ErrReleased, e.name)
		}
		e.tex = e.imported
		return nil
	}

	want := e.info
	want.Name = e.name
	want.Usage |= e.usage
	want = want.Normalized()

	gt, _, err := g.textures.AddOrReturn(e.name)
	if err != nil {
		return err
	}
	if gt.Valid() && gt.tex.Info() == want {
		e.tex = gt.tex
		return nil
	}
	if gt.tex != nil {
		rhi.Logger().Debug("rendergraph: texture recreated", "name", e.name,
			"width", want.Width, "height", want.Height, "format", want.Format)
		gt.Release()
	}
	tex, err := rhi.CreateTexture(g.rc, want)
	if err != nil {
		return err
	}
	gt.tex = tex
	e.tex = tex
	return nil
}

// Texture returns the persistent texture created under name, if it exists.
func (g *Graph) Texture(name string) (*rhi.Texture, bool) {
	gt, _, ok := g.textures.Get(name)
	if !ok || !gt.Valid() {
		return nil, false
	}
	return gt.tex, true
}

// TextureNames lists the persistent textures in creation order.
func (g *Graph) TextureNames() []string { return g.textures.Names() }

// RemoveTexture releases the persistent texture created under name.
func (g *Graph) RemoveTexture(name string) bool { return g.textures.Remove(name) }

// PendingPasses returns the number of passes declared since the last Execute.
func (g *Graph) PendingPasses() int { return len(g.passes) }

// Passes returns the pass names of the last execution in execution order.
func (g *Graph) Passes() []string { return append([]string(nil), g.executed...) }

// Barriers returns the barrier batches of the last execution, one per pass.
func (g *Graph) Barriers() []PassBarriers { return append([]PassBarriers(nil), g.barriers...) }

// Reset drops the passes declared since the last Execute.
func (g *Graph) Reset() {
	g.passes = nil
	g.entries = nil
	g.byName = make(map[string]TextureHandle)
}

// Release frees every persistent texture. The device must be idle.
func (g *Graph) Release() {
	g.Reset()
	g.textures.Reset()
}

// validate checks the declared passes before anything is recorded.
func (g *Graph) validate() error {
	for i, p := range g.passes {
		if p.err != nil {
			return p.err
		}
		if !p.swapchain {
			continue
		}
		if i != len(g.passes)-1 {
			return fmt.Errorf("%w: swapchain pass %q is not the last pass", rhi.ErrInvalidState, p.name)
		}
		if g.backbuffer == nil || !g.backbuffer.Valid() {
			return fmt.Errorf("%w: swapchain pass %q without a back buffer", rhi.ErrInvalidState, p.name)
		}
	}
	return nil
}

// Execute records every declared pass in declaration order into one command
// list and submits it, returning the submission's fence value. The build is
// consumed whether or not Execute succeeds. Cancelling ctx stops recording
// between passes; nothing is submitted.
func (g *Graph) Execute(ctx context.Context) (uint64, error) {
	defer g.Reset()
	if len(g.passes) == 0 {
		return 0, nil
	}
	if err := g.validate(); err != nil {
		return 0, &rhi.Error{Op: "execute render graph", Kind: rhi.KindContract, Err: err}
	}
	for _, e := range g.entries {
		if err := g.resolve(e); err != nil {
			return 0, fmt.Errorf("rendergraph: resolve %q: %w", e.name, err)
		}
	}

	cl, err := g.rc.NewCommandList("rendergraph")
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(g.passes))
	report := make([]PassBarriers, 0, len(g.passes))
	for _, p := range g.passes {
		if err := ctx.Err(); err != nil {
			cl.Discard()
			return 0, err
		}
		rec, err := g.run(cl, p)
		if err != nil {
			cl.Discard()
			return 0, err
		}
		names = append(names, p.name)
		report = append(report, rec)
	}

	fence, err := cl.Submit()
	if err != nil {
		return 0, fmt.Errorf("rendergraph: submit: %w", err)
	}
	g.executed = names
	g.barriers = report
	return fence, nil
}

// bind resolves the accesses of p, with the back buffer appended as the
// last colour target of a swapchain pass.
func (g *Graph) bind(p *pass) []boundTexture {
	bound := make([]boundTexture, 0, len(p.accesses)+1)
	for _, a := range p.accesses {
		bound = append(bound, boundTexture{tex: g.resolved(a.handle), usage: a.usage})
	}
	if p.swapchain {
		bound = append(bound, boundTexture{tex: g.backbuffer, usage: usageColorWrite})
	}
	return bound
}

func (g *Graph) run(cl *rhi.CommandList, p *pass) (PassBarriers, error) {
	rec := PassBarriers{Pass: p.name}
	bound := g.bind(p)

	var colors []*rhi.Texture
	var depth *rhi.Texture
	for _, b := range bound {
		switch b.usage {
		case usageColorWrite:
			colors = append(colors, b.tex)
		case usageDepthWrite:
			depth = b.tex
		}
	}

	pipe, err := g.pipeline(p, colors, depth)
	if err != nil {
		if rhi.IsRecoverable(err) {
			rhi.Logger().Warn("rendergraph: pass skipped", "pass", p.name, "err", err)
			rec.Skipped = true
			return rec, nil
		}
		return rec, fmt.Errorf("rendergraph: pass %q: %w", p.name, err)
	}

	rec.Barriers, rec.Suppressed = p.transitions(cl, bound)
	cl.PipelineBarrier(rec.Barriers)
	if len(rec.Barriers) > 0 {
		rhi.Logger().Debug("rendergraph: barriers", "pass", p.name, "count", len(rec.Barriers))
	}

	pc := &PassContext{Cmd: cl, Pipeline: pipe, graph: g, name: p.name}
	if len(colors) == 0 && depth == nil {
		if p.exec != nil {
			p.exec(pc)
		}
		return rec, cl.Err()
	}

	desc, err := p.renderpassDesc(colors, depth)
	if err != nil {
		return rec, err
	}
	rp, err := g.rc.Renderpasses().GetOrCreate(desc)
	if err != nil {
		return rec, fmt.Errorf("rendergraph: pass %q: %w", p.name, err)
	}
	targets := p.targets(colors, depth)
	pc.Width, pc.Height = targets.Width, targets.Height

	cl.BeginRenderpass(rp, targets)
	if pipe != nil {
		cl.BindPipeline(pipe)
	}
	if p.viewport != nil {
		cl.SetViewport(*p.viewport)
	}
	if p.scissor != nil {
		cl.SetScissor(*p.scissor)
	}
	if p.exec != nil {
		p.exec(pc)
	}
	cl.EndRenderpass()

	for i, t := range colors {
		cl.SetTextureLayout(t, desc.Colors[i].FinalLayout)
	}
	if depth != nil {
		cl.SetTextureLayout(depth, desc.Depth.FinalLayout)
	}
	if err := cl.Err(); err != nil {
		return rec, fmt.Errorf("rendergraph: pass %q: %w", p.name, err)
	}
	return rec, nil
}

// pipeline returns the pass's pipeline, or nil if it declared neither a
// shader nor a pipeline state. Unset target formats are taken from the
// attachments.
func (g *Graph) pipeline(p *pass, colors []*rhi.Texture, depth *rhi.Texture) (*rhi.Pipeline, error) {
	if p.pso == nil && p.shader == nil {
		return nil, nil
	}
	var pso rhi.PipelineStateObject
	if p.pso != nil {
		pso = *p.pso
	}
	if p.shader != nil {
		s, err := g.rc.Shaders().GetOrCreateShader(*p.shader)
		if err != nil {
			return nil, err
		}
		pso.Shader = s.Handle()
	}
	if pso.ColorCount == 0 && pso.DepthFormat == rhi.FormatUndefined {
		formats := make([]rhi.Format, len(colors))
		for i, t := range colors {
			formats[i] = t.Format()
		}
		pso.SetColorFormats(formats...)
		if depth != nil {
			pso.DepthFormat = depth.Format()
		}
	}
	pso.Swapchain = p.swapchain
	return g.rc.Pipelines().GetOrCreate(pso)
}

// renderpassDesc returns the explicit renderpass of p, checked against its
// attachments, or one synthesised from them.
func (p *pass) renderpassDesc(colors []*rhi.Texture, depth *rhi.Texture) (rhi.RenderpassDescription, error) {
	if p.renderpass != nil {
		desc := *p.renderpass
		if len(desc.Colors) != len(colors) || (desc.Depth != nil) != (depth != nil) {
			return desc, &rhi.Error{Op: "execute render graph", Kind: rhi.KindContract,
				Err: fmt.Errorf("%w: pass %q renderpass does not match its attachments", rhi.ErrInvalidArgument, p.name)}
		}
		return desc, nil
	}

	load := rhi.LoadOpLoad
	if p.clear != nil {
		load = rhi.LoadOpClear
	}
	var desc rhi.RenderpassDescription
	for i, t := range colors {
		final := rhi.LayoutColorAttachment
		if p.swapchain && i == len(colors)-1 {
			final = rhi.LayoutPresent
		}
		desc.Colors = append(desc.Colors, rhi.AttachmentDescription{
			Format: t.Format(), Load: load, Store: rhi.StoreOpStore,
			InitialLayout: rhi.LayoutColorAttachment, FinalLayout: final, Samples: t.Info().Samples,
		})
	}
	if depth != nil {
		dload, sload := rhi.LoadOpLoad, rhi.LoadOpDontCare
		if p.clearDepth != nil {
			dload = rhi.LoadOpClear
		}
		if depth.Format().HasStencil() {
			sload = dload
		}
		desc.Depth = &rhi.AttachmentDescription{
			Format: depth.Format(), Load: dload, Store: rhi.StoreOpStore,
			StencilLoad: sload, StencilStore: rhi.StoreOpDontCare,
			InitialLayout: rhi.LayoutDepthStencilAttachment, FinalLayout: rhi.LayoutDepthStencilAttachment,
			Samples: depth.Info().Samples,
		}
	}
	return desc, nil
}

func (p *pass) targets(colors []*rhi.Texture, depth *rhi.Texture) rhi.RenderTargets {
	var t rhi.RenderTargets
	var clear rhi.Color
	if p.clear != nil {
		clear = *p.clear
	}
	for _, c := range colors {
		t.Color = append(t.Color, rhi.ColorTarget{View: c.DefaultView(), Clear: clear})
	}
	if depth != nil {
		d := float32(1)
		if p.clearDepth != nil {
			d = *p.clearDepth
		}
		t.Depth = &rhi.DepthTarget{View: depth.DefaultView(), ClearDepth: d}
	}
	switch {
	case len(colors) > 0:
		t.Width, t.Height = colors[0].Width(), colors[0].Height()
	case depth != nil:
		t.Width, t.Height = depth.Width(), depth.Height()
	}
	return t
}
