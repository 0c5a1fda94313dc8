package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

// release runs fn once. Every wrapper embeds it so Destroy is idempotent.
type release struct{ once sync.Once }

func (r *release) do(fn func()) { r.once.Do(fn) }

type buffer struct {
	release
	dev  *Device
	raw  hal.Buffer
	desc rhi.NativeBufferDesc
}

func (b *buffer) Size() uint64 { return b.desc.Size }

// Write goes through the queue; the bytes land before the next submission.
func (b *buffer) Write(offset uint64, data []byte) error {
	if !b.desc.HostVisible {
		return fmt.Errorf("%w: buffer %q is not host visible", rhi.ErrInvalidState, b.desc.Label)
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("%w: write %d+%d into %q", rhi.ErrOutOfRange, offset, len(data), b.desc.Label)
	}
	b.dev.queue.WriteBuffer(b.raw, offset, data)
	return nil
}

func (b *buffer) Read(offset uint64, dst []byte) error {
	if !b.desc.HostVisible {
		return fmt.Errorf("%w: buffer %q is not host visible", rhi.ErrInvalidState, b.desc.Label)
	}
	if offset+uint64(len(dst)) > b.desc.Size {
		return fmt.Errorf("%w: read %d+%d from %q", rhi.ErrOutOfRange, offset, len(dst), b.desc.Label)
	}
	if err := b.dev.queue.ReadBuffer(b.raw, offset, dst); err != nil {
		return fmt.Errorf("read buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

func (b *buffer) Destroy() { b.do(func() { b.dev.device.DestroyBuffer(b.raw) }) }

type texture struct {
	release
	dev  *Device
	raw  hal.Texture
	info rhi.TextureInfo
}

func (t *texture) Destroy() { t.do(func() { t.dev.device.DestroyTexture(t.raw) }) }

type textureView struct {
	release
	dev *Device
	raw hal.TextureView
	tex *texture
}

func (v *textureView) Destroy() { v.do(func() { v.dev.device.DestroyTextureView(v.raw) }) }

type shaderModule struct {
	release
	dev *Device
	raw hal.ShaderModule
}

func (m *shaderModule) Destroy() { m.do(func() { m.dev.device.DestroyShaderModule(m.raw) }) }

type sampler struct {
	release
	dev *Device
	raw hal.Sampler
}

func (s *sampler) Destroy() { s.do(func() { s.dev.device.DestroySampler(s.raw) }) }

type descriptorLayout struct {
	release
	dev *Device
	raw hal.BindGroupLayout
	set uint32
}

func (l *descriptorLayout) Destroy() { l.do(func() { l.dev.device.DestroyBindGroupLayout(l.raw) }) }

// descriptorPage holds one bind group per slot. A slot is rewritten only
// after the allocator has freed it, so the replaced group is idle.
type descriptorPage struct {
	release
	dev      *Device
	capacity uint32

	mu     sync.Mutex
	groups []hal.BindGroup
}

func (p *descriptorPage) Capacity() uint32 { return p.capacity }

func (p *descriptorPage) Write(slot uint32, layout rhi.NativeDescriptorLayout, writes []rhi.DescriptorWrite) error {
	if slot >= p.capacity {
		return fmt.Errorf("%w: descriptor slot %d of %d", rhi.ErrOutOfRange, slot, p.capacity)
	}
	l, ok := layout.(*descriptorLayout)
	if !ok {
		return fmt.Errorf("%w: layout %T", rhi.ErrInvalidArgument, layout)
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(writes))
	for _, w := range writes {
		e, err := bindGroupEntry(w)
		if err != nil {
			return fmt.Errorf("set %d: %w", l.set, err)
		}
		entries = append(entries, e)
	}
	bg, err := p.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("rhi_set%d_slot%d", l.set, slot),
		Layout:  l.raw,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group for set %d: %w", l.set, err)
	}
	p.mu.Lock()
	old := p.groups[slot]
	p.groups[slot] = bg
	p.mu.Unlock()
	if old != nil {
		p.dev.device.DestroyBindGroup(old)
	}
	return nil
}

func (p *descriptorPage) group(slot uint32) hal.BindGroup {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot >= p.capacity {
		return nil
	}
	return p.groups[slot]
}

func (p *descriptorPage) Destroy() {
	p.do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, bg := range p.groups {
			if bg != nil {
				p.dev.device.DestroyBindGroup(bg)
				p.groups[i] = nil
			}
		}
	})
}

func bindGroupEntry(w rhi.DescriptorWrite) (gputypes.BindGroupEntry, error) {
	switch w.Kind {
	case rhi.DescriptorUniformBuffer, rhi.DescriptorStorageBuffer:
		b, ok := w.Buffer.(*buffer)
		if !ok {
			return gputypes.BindGroupEntry{}, fmt.Errorf("%w: binding %d buffer %T", rhi.ErrInvalidArgument, w.Binding, w.Buffer)
		}
		size := w.Size
		if size == 0 {
			size = b.desc.Size - w.Offset
		}
		return gputypes.BindGroupEntry{Binding: w.Binding, Resource: gputypes.BufferBinding{
			Buffer: b.raw.NativeHandle(), Offset: w.Offset, Size: size,
		}}, nil
	case rhi.DescriptorSampledTexture, rhi.DescriptorStorageTexture:
		v, ok := w.View.(*textureView)
		if !ok {
			return gputypes.BindGroupEntry{}, fmt.Errorf("%w: binding %d view %T", rhi.ErrInvalidArgument, w.Binding, w.View)
		}
		return gputypes.BindGroupEntry{Binding: w.Binding, Resource: gputypes.TextureViewBinding{
			TextureView: v.raw.NativeHandle(),
		}}, nil
	case rhi.DescriptorSampler:
		s, ok := w.Sampler.(*sampler)
		if !ok {
			return gputypes.BindGroupEntry{}, fmt.Errorf("%w: binding %d sampler %T", rhi.ErrInvalidArgument, w.Binding, w.Sampler)
		}
		return gputypes.BindGroupEntry{Binding: w.Binding, Resource: gputypes.SamplerBinding{
			Sampler: s.raw.NativeHandle(),
		}}, nil
	}
	return gputypes.BindGroupEntry{}, fmt.Errorf("%w: descriptor kind %d", rhi.ErrUnsupported, w.Kind)
}

// renderpass is only a description; hal has no renderpass object.
type renderpass struct {
	desc rhi.RenderpassDescription
}

func (*renderpass) Destroy() {}

type pipeline struct {
	release
	dev    *Device
	raw    hal.RenderPipeline
	layout hal.PipelineLayout
}

func (p *pipeline) Destroy() {
	p.do(func() {
		p.dev.device.DestroyRenderPipeline(p.raw)
		p.dev.device.DestroyPipelineLayout(p.layout)
	})
}

type commandBuffer struct {
	release
	dev *Device
	raw hal.CommandBuffer
}

func (c *commandBuffer) Destroy() { c.do(func() { c.dev.device.FreeCommandBuffer(c.raw) }) }
