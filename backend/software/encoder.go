package software

import (
	"errors"
	"fmt"

	"github.com/gogpu/rhi"
)

// encoder records operations as closures that run when the command buffer
// is submitted. The first recording error is reported by Finish.
type encoder struct {
	dev    *Device
	label  string
	ops    []func(*Device) error
	err    error
	inPass bool
	pipe   *pipeline
	done   bool
}

func (e *encoder) fail(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf("software: %s: "+format, append([]any{e.label}, args...)...)
	}
}

func (e *encoder) record(op func(*Device) error) {
	if e.err == nil && !e.done {
		e.ops = append(e.ops, op)
	}
}

func (e *encoder) outsidePass(cmd string) bool {
	if e.inPass {
		e.fail("%s inside a renderpass", cmd)
		return false
	}
	return true
}

func (e *encoder) insidePass(cmd string) bool {
	if !e.inPass {
		e.fail("%s outside a renderpass", cmd)
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
	if size%4 != 0 || srcOffset%4 != 0 || dstOffset%4 != 0 {
		e.fail("copy buffer: offsets and size must be multiples of 4")
		return
	}
	e.record(func(dev *Device) error {
		tmp := make([]byte, size)
		if err := s.read(srcOffset, tmp); err != nil {
			return err
		}
		if err := d.write(dstOffset, tmp); err != nil {
			return err
		}
		dev.count(func(st *Stats) { st.Copies++ })
		return nil
	})
}

func (e *encoder) checkCopy(c rhi.TextureCopy) (*texture, bool) {
	t, ok := c.Texture.(*texture)
	if !ok {
		e.fail("texture copy: foreign texture")
		return nil, false
	}
	bpp := t.info.Format.BytesPerPixel()
	if c.BytesPerRow%e.dev.cfg.RowPitchAlignment != 0 {
		e.fail("texture copy: bytes per row %d not aligned to %d", c.BytesPerRow, e.dev.cfg.RowPitchAlignment)
		return nil, false
	}
	if c.BytesPerRow < c.Width*bpp {
		e.fail("texture copy: bytes per row %d below row size %d", c.BytesPerRow, c.Width*bpp)
		return nil, false
	}
	if w, h, d := t.mipExtent(c.Mip); c.Width != w || c.Height != h || max(c.Depth, 1) != d {
		e.fail("texture copy: partial copies are not supported")
		return nil, false
	}
	return t, true
}

func (e *encoder) CopyBufferToTexture(src rhi.NativeBuffer, dst rhi.TextureCopy) {
	if !e.outsidePass("copy buffer to texture") {
		return
	}
	s, ok := src.(*buffer)
	if !ok {
		e.fail("copy buffer to texture: foreign buffer")
		return
	}
	t, ok := e.checkCopy(dst)
	if !ok {
		return
	}
	e.record(func(dev *Device) error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.layout != rhi.LayoutTransferDst && t.layout != rhi.LayoutGeneral {
			return fmt.Errorf("copy into %q in layout %s", t.info.Name, t.layout)
		}
		img, err := t.image(dst.Mip, dst.Layer)
		if err != nil {
			return err
		}
		row := dst.Width * t.info.Format.BytesPerPixel()
		rows := dst.Height * max(dst.Depth, 1)
		for r := range rows {
			off := dst.BufferOffset + uint64(r)*uint64(dst.BytesPerRow)
			if err := s.read(off, img[r*row:(r+1)*row]); err != nil {
				return err
			}
		}
		dev.count(func(st *Stats) { st.Copies++ })
		return nil
	})
}

func (e *encoder) CopyTextureToBuffer(src rhi.TextureCopy, dst rhi.NativeBuffer) {
	if !e.outsidePass("copy texture to buffer") {
		return
	}
	d, ok := dst.(*buffer)
	if !ok {
		e.fail("copy texture to buffer: foreign buffer")
		return
	}
	t, ok := e.checkCopy(src)
	if !ok {
		return
	}
	e.record(func(dev *Device) error {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.layout != rhi.LayoutTransferSrc && t.layout != rhi.LayoutGeneral {
			return fmt.Errorf("copy from %q in layout %s", t.info.Name, t.layout)
		}
		img, err := t.image(src.Mip, src.Layer)
		if err != nil {
			return err
		}
		row := src.Width * t.info.Format.BytesPerPixel()
		rows := src.Height * max(src.Depth, 1)
		for r := range rows {
			off := src.BufferOffset + uint64(r)*uint64(src.BytesPerRow)
			if err := d.write(off, img[r*row:(r+1)*row]); err != nil {
				return err
			}
		}
		dev.count(func(st *Stats) { st.Copies++ })
		return nil
	})
}

// PipelineBarrier moves each texture to its new layout. An old layout that
// does not match the device's view is counted, not rejected, since a
// discard from Undefined is always legal.
func (e *encoder) PipelineBarrier(barriers []rhi.NativeBarrier) {
	if !e.outsidePass("pipeline barrier") {
		return
	}
	for _, b := range barriers {
		if _, ok := b.Texture.(*texture); !ok {
			e.fail("pipeline barrier: foreign texture")
			return
		}
	}
	batch := append([]rhi.NativeBarrier(nil), barriers...)
	e.record(func(dev *Device) error {
		mismatches := 0
		for _, b := range batch {
			t := b.Texture.(*texture)
			t.mu.Lock()
			if b.OldLayout != rhi.LayoutUndefined && b.OldLayout != t.layout {
				mismatches++
				slogger().Debug("software: barrier layout mismatch",
					"texture", t.info.Name, "have", t.layout, "old", b.OldLayout, "new", b.NewLayout)
			}
			t.layout = b.NewLayout
			t.mu.Unlock()
		}
		dev.count(func(st *Stats) {
			st.Barriers += len(batch)
			st.LayoutMismatches += mismatches
		})
		return nil
	})
}

func (e *encoder) BeginRenderpass(rp rhi.NativeRenderpass, targets rhi.RenderTargets) {
	if !e.outsidePass("begin renderpass") {
		return
	}
	pass, ok := rp.(*renderpass)
	if !ok || pass.isDestroyed() {
		e.fail("begin renderpass: invalid renderpass")
		return
	}
	if len(targets.Color) != len(pass.desc.Colors) || (targets.Depth != nil) != (pass.desc.Depth != nil) {
		e.fail("begin renderpass: targets do not match attachments")
		return
	}
	views := make([]*textureView, len(targets.Color))
	for i, c := range targets.Color {
		v, ok := c.View.(*textureView)
		if !ok || v.isDestroyed() {
			e.fail("begin renderpass: colour target %d invalid", i)
			return
		}
		if v.tex.info.Format != pass.desc.Colors[i].Format {
			e.fail("begin renderpass: colour target %d is %s, renderpass wants %s",
				i, v.tex.info.Format, pass.desc.Colors[i].Format)
			return
		}
		views[i] = v
	}
	var depth *textureView
	if targets.Depth != nil {
		v, ok := targets.Depth.View.(*textureView)
		if !ok || v.isDestroyed() {
			e.fail("begin renderpass: depth target invalid")
			return
		}
		depth = v
	}
	e.inPass = true
	desc := pass.desc
	tg := targets
	e.record(func(dev *Device) error {
		for i, v := range views {
			if desc.Colors[i].Load == rhi.LoadOpClear {
				v.fill(encodeColor(v.tex.info.Format, tg.Color[i].Clear))
				dev.count(func(st *Stats) { st.Clears++ })
			}
		}
		if depth != nil && desc.Depth.Load == rhi.LoadOpClear {
			depth.fill(encodeDepth(depth.tex.info.Format, tg.Depth.ClearDepth, tg.Depth.ClearStencil))
			dev.count(func(st *Stats) { st.Clears++ })
		}
		return nil
	})
}

func (e *encoder) EndRenderpass() {
	if !e.insidePass("end renderpass") {
		return
	}
	e.inPass = false
	e.pipe = nil
}

func (e *encoder) BindPipeline(p rhi.NativePipeline) {
	if !e.insidePass("bind pipeline") {
		return
	}
	pp, ok := p.(*pipeline)
	if !ok || pp.isDestroyed() {
		e.fail("bind pipeline: invalid pipeline")
		return
	}
	e.pipe = pp
}

func (e *encoder) BindDescriptorSet(set uint32, page rhi.NativeDescriptorPage, slot uint32) {
	if !e.insidePass("bind descriptor set") {
		return
	}
	p, ok := page.(*descriptorPage)
	if !ok || p.isDestroyed() || slot >= p.capacity {
		e.fail("bind descriptor set %d: invalid page or slot", set)
		return
	}
	if e.pipe == nil || int(set) >= len(e.pipe.info.Layouts) {
		e.fail("bind descriptor set %d: not in pipeline layout", set)
	}
}

func (e *encoder) PushConstants(stages rhi.ShaderStage, offset uint32, data []byte) {
	if !e.insidePass("push constants") {
		return
	}
	if e.pipe == nil {
		e.fail("push constants: no pipeline")
		return
	}
	if pc := e.pipe.info.PushConstants; offset+uint32(len(data)) > pc.Size || stages&^pc.Stages != 0 { //nolint:gosec // G115: push data is tiny
		e.fail("push constants: range %d+%d outside block", offset, len(data))
	}
}

func (e *encoder) SetVertexBuffer(slot uint32, buf rhi.NativeBuffer, offset uint64) {
	if !e.insidePass("set vertex buffer") {
		return
	}
	if b, ok := buf.(*buffer); !ok || b.isDestroyed() || offset > b.Size() {
		e.fail("set vertex buffer %d: invalid buffer", slot)
	}
}

func (e *encoder) SetIndexBuffer(buf rhi.NativeBuffer, format rhi.IndexFormat, offset uint64) {
	if !e.insidePass("set index buffer") {
		return
	}
	if b, ok := buf.(*buffer); !ok || b.isDestroyed() || offset%uint64(format.Size()) != 0 {
		e.fail("set index buffer: invalid buffer or offset")
	}
}

func (e *encoder) SetViewport(v rhi.Viewport) {
	if e.insidePass("set viewport") && (v.Width <= 0 || v.Height <= 0) {
		e.fail("set viewport: empty viewport")
	}
}

func (e *encoder) SetScissor(rhi.Rect) {
	e.insidePass("set scissor")
}

func (e *encoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !e.insidePass("draw") {
		return
	}
	if e.pipe == nil {
		e.fail("draw without pipeline")
		return
	}
	e.record(func(dev *Device) error {
		dev.count(func(st *Stats) { st.Draws++ })
		return nil
	})
}

func (e *encoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if !e.insidePass("draw indexed") {
		return
	}
	if e.pipe == nil {
		e.fail("draw indexed without pipeline")
		return
	}
	e.record(func(dev *Device) error {
		dev.count(func(st *Stats) { st.DrawsIndexed++ })
		return nil
	})
}

func (e *encoder) Finish() (rhi.NativeCommandBuffer, error) {
	if e.done {
		return nil, errors.New("software: encoder already finished")
	}
	e.done = true
	if e.err == nil && e.inPass {
		e.fail("finish with open renderpass")
	}
	if e.err != nil {
		return nil, e.err
	}
	cb := &commandBuffer{label: e.label, ops: e.ops}
	cb.init(e.dev, func(s *Stats, n int) { s.CommandBuffers += n })
	return cb, nil
}

func (e *encoder) Discard() {
	e.done = true
	e.ops = nil
}
