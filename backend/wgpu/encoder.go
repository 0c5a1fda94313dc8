package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

type encoder struct {
	dev   *Device
	raw   hal.CommandEncoder
	label string
	pass  hal.RenderPassEncoder
	err   error
	done  bool
}

func (e *encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("wgpu: %s: "+format, append([]any{e.label}, args...)...)
	}
}

func (e *encoder) ok() bool { return e.err == nil && !e.done }

func (e *encoder) inPass(cmd string) bool {
	if !e.ok() {
		return false
	}
	if e.pass == nil {
		e.fail("%s outside a renderpass", cmd)
		return false
	}
	return true
}

func (e *encoder) outsidePass(cmd string) bool {
	if !e.ok() {
		return false
	}
	if e.pass != nil {
		e.fail("%s inside a renderpass", cmd)
		return false
	}
	return true
}

func (e *encoder) CopyBuffer(src, dst rhi.NativeBuffer, srcOffset, dstOffset, size uint64) {
	if !e.outsidePass("copy buffer") {
		return
	}
	s, ok1 := src.(*buffer)
	d, ok2 := dst.(*buffer)
	if !ok1 || !ok2 {
		e.fail("copy buffer: foreign buffer")
		return
	}
	e.raw.CopyBufferToBuffer(s.raw, d.raw, []hal.BufferCopy{{
		SrcOffset: srcOffset, DstOffset: dstOffset, Size: size,
	}})
}

func (e *encoder) textureCopy(c rhi.TextureCopy) (*texture, []hal.BufferTextureCopy, bool) {
	t, ok := c.Texture.(*texture)
	if !ok {
		e.fail("texture copy: foreign texture")
		return nil, nil, false
	}
	if c.BytesPerRow%copyPitchAlignment != 0 {
		e.fail("texture copy: bytes per row %d not aligned to %d", c.BytesPerRow, copyPitchAlignment)
		return nil, nil, false
	}
	return t, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: c.BufferOffset, BytesPerRow: c.BytesPerRow, RowsPerImage: c.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: t.raw, MipLevel: c.Mip, Origin: hal.Origin3D{Z: c.Layer}},
		Size:         extent(c.Width, c.Height, c.Depth),
	}}, true
}

func (e *encoder) CopyBufferToTexture(src rhi.NativeBuffer, dst rhi.TextureCopy) {
	if !e.outsidePass("copy buffer to texture") {
		return
	}
	b, ok := src.(*buffer)
	if !ok {
		e.fail("copy buffer to texture: foreign buffer")
		return
	}
	t, regions, ok := e.textureCopy(dst)
	if !ok {
		return
	}
	e.raw.CopyBufferToTexture(b.raw, t.raw, regions)
}

func (e *encoder) CopyTextureToBuffer(src rhi.TextureCopy, dst rhi.NativeBuffer) {
	if !e.outsidePass("copy texture to buffer") {
		return
	}
	b, ok := dst.(*buffer)
	if !ok {
		e.fail("copy texture to buffer: foreign buffer")
		return
	}
	t, regions, ok := e.textureCopy(src)
	if !ok {
		return
	}
	e.raw.CopyTextureToBuffer(t.raw, b.raw, regions)
}

// PipelineBarrier issues one TransitionTextures call for the whole batch.
// hal tracks usages, not layouts, so transitions between layouts that map
// to the same usage are dropped.
func (e *encoder) PipelineBarrier(barriers []rhi.NativeBarrier) {
	if !e.outsidePass("pipeline barrier") {
		return
	}
	out := make([]hal.TextureBarrier, 0, len(barriers))
	for _, b := range barriers {
		t, ok := b.Texture.(*texture)
		if !ok {
			e.fail("pipeline barrier: foreign texture")
			return
		}
		oldUsage, newUsage := layoutUsage(b.OldLayout), layoutUsage(b.NewLayout)
		if oldUsage == newUsage && b.OldLayout != rhi.LayoutUndefined {
			continue
		}
		out = append(out, hal.TextureBarrier{
			Texture: t.raw,
			Usage:   hal.TextureUsageTransition{OldUsage: oldUsage, NewUsage: newUsage},
		})
	}
	if len(out) > 0 {
		e.raw.TransitionTextures(out)
	}
}

func (e *encoder) BeginRenderpass(rp rhi.NativeRenderpass, targets rhi.RenderTargets) {
	if !e.outsidePass("begin renderpass") {
		return
	}
	pass, ok := rp.(*renderpass)
	if !ok {
		e.fail("begin renderpass: foreign renderpass")
		return
	}
	if len(targets.Color) != len(pass.desc.Colors) || (targets.Depth != nil) != (pass.desc.Depth != nil) {
		e.fail("begin renderpass: targets do not match attachments")
		return
	}
	desc := &hal.RenderPassDescriptor{Label: e.label}
	for i, c := range targets.Color {
		v, ok := c.View.(*textureView)
		if !ok {
			e.fail("begin renderpass: colour target %d is %T", i, c.View)
			return
		}
		a := pass.desc.Colors[i]
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:    v.raw,
			LoadOp:  loadOp(a.Load),
			StoreOp: storeOp(a.Store),
			ClearValue: gputypes.Color{
				R: float64(c.Clear.R), G: float64(c.Clear.G), B: float64(c.Clear.B), A: float64(c.Clear.A),
			},
		})
	}
	if targets.Depth != nil {
		v, ok := targets.Depth.View.(*textureView)
		if !ok {
			e.fail("begin renderpass: depth target is %T", targets.Depth.View)
			return
		}
		a := pass.desc.Depth
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              v.raw,
			DepthLoadOp:       loadOp(a.Load),
			DepthStoreOp:      storeOp(a.Store),
			DepthClearValue:   targets.Depth.ClearDepth,
			StencilLoadOp:     loadOp(a.StencilLoad),
			StencilStoreOp:    storeOp(a.StencilStore),
			StencilClearValue: targets.Depth.ClearStencil,
		}
	}
	e.pass = e.raw.BeginRenderPass(desc)
}

func (e *encoder) EndRenderpass() {
	if !e.inPass("end renderpass") {
		return
	}
	e.pass.End()
	e.pass = nil
}

func (e *encoder) BindPipeline(p rhi.NativePipeline) {
	if !e.inPass("bind pipeline") {
		return
	}
	pp, ok := p.(*pipeline)
	if !ok {
		e.fail("bind pipeline: foreign pipeline")
		return
	}
	e.pass.SetPipeline(pp.raw)
}

func (e *encoder) BindDescriptorSet(set uint32, page rhi.NativeDescriptorPage, slot uint32) {
	if !e.inPass("bind descriptor set") {
		return
	}
	p, ok := page.(*descriptorPage)
	if !ok {
		e.fail("bind descriptor set %d: foreign page", set)
		return
	}
	bg := p.group(slot)
	if bg == nil {
		e.fail("bind descriptor set %d: slot %d never written", set, slot)
		return
	}
	e.pass.SetBindGroup(set, bg, nil)
}

func (e *encoder) PushConstants(rhi.ShaderStage, uint32, []byte) {
	if e.ok() {
		e.fail("push constants: %v", rhi.ErrUnsupported)
	}
}

func (e *encoder) SetVertexBuffer(slot uint32, buf rhi.NativeBuffer, offset uint64) {
	if !e.inPass("set vertex buffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok {
		e.fail("set vertex buffer %d: foreign buffer", slot)
		return
	}
	e.pass.SetVertexBuffer(slot, b.raw, offset)
}

func (e *encoder) SetIndexBuffer(buf rhi.NativeBuffer, format rhi.IndexFormat, offset uint64) {
	if !e.inPass("set index buffer") {
		return
	}
	b, ok := buf.(*buffer)
	if !ok {
		e.fail("set index buffer: foreign buffer")
		return
	}
	e.pass.SetIndexBuffer(b.raw, indexFormat(format), offset)
}

func (e *encoder) SetViewport(v rhi.Viewport) {
	if e.inPass("set viewport") {
		e.pass.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
	}
}

func (e *encoder) SetScissor(r rhi.Rect) {
	if e.inPass("set scissor") {
		e.pass.SetScissorRect(r.X, r.Y, r.Width, r.Height)
	}
}

func (e *encoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if e.inPass("draw") {
		e.pass.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (e *encoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if e.inPass("draw indexed") {
		e.pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	}
}

func (e *encoder) Finish() (rhi.NativeCommandBuffer, error) {
	if e.done {
		return nil, fmt.Errorf("wgpu: %s: encoder already finished", e.label)
	}
	if e.err == nil && e.pass != nil {
		e.fail("finish with open renderpass")
	}
	if e.err != nil {
		e.Discard()
		return nil, e.err
	}
	e.done = true
	raw, err := e.raw.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding %q: %w", e.label, err)
	}
	return &commandBuffer{dev: e.dev, raw: raw}, nil
}

func (e *encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
	e.raw.DiscardEncoding()
}
