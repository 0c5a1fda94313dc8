package software

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gogpu/rhi"
)

// object is embedded by every device object. Destroy is idempotent and
// keeps the device's live counters in step.
type object struct {
	dev       *Device
	counter   func(*Stats, int)
	destroyed atomic.Bool
}

func (o *object) init(d *Device, counter func(*Stats, int)) {
	o.dev = d
	o.counter = counter
	d.count(func(s *Stats) { counter(s, 1) })
}

func (o *object) Destroy() {
	if o.destroyed.CompareAndSwap(false, true) {
		o.dev.count(func(s *Stats) { o.counter(s, -1) })
	}
}

func (o *object) isDestroyed() bool { return o.destroyed.Load() }

type buffer struct {
	object
	desc rhi.NativeBufferDesc

	mu   sync.Mutex
	data []byte
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }

func (b *buffer) Write(offset uint64, data []byte) error {
	if !b.desc.HostVisible {
		return fmt.Errorf("software: buffer %q is not host visible", b.desc.Label)
	}
	return b.write(offset, data)
}

func (b *buffer) Read(offset uint64, dst []byte) error {
	if !b.desc.HostVisible {
		return fmt.Errorf("software: buffer %q is not host visible", b.desc.Label)
	}
	return b.read(offset, dst)
}

func (b *buffer) write(offset uint64, data []byte) error {
	if b.isDestroyed() {
		return fmt.Errorf("software: buffer %q destroyed", b.desc.Label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("software: write %d+%d past end of %q (%d)", offset, len(data), b.desc.Label, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *buffer) read(offset uint64, dst []byte) error {
	if b.isDestroyed() {
		return fmt.Errorf("software: buffer %q destroyed", b.desc.Label)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset+uint64(len(dst)) > uint64(len(b.data)) {
		return fmt.Errorf("software: read %d+%d past end of %q (%d)", offset, len(dst), b.desc.Label, len(b.data))
	}
	copy(dst, b.data[offset:])
	return nil
}

// texture stores every subresource tightly packed, indexed mip-major.
type texture struct {
	object
	info rhi.TextureInfo

	mu     sync.Mutex
	images [][]byte
	layout rhi.ImageLayout
}

func newTexture(info rhi.TextureInfo) *texture {
	t := &texture{info: info}
	layers := info.Layers()
	t.images = make([][]byte, info.MipLevels*layers)
	for mip := range info.MipLevels {
		w, h, d := t.mipExtent(mip)
		for l := range layers {
			t.images[mip*layers+l] = make([]byte, uint64(w)*uint64(h)*uint64(d)*uint64(info.Format.BytesPerPixel()))
		}
	}
	return t
}

func (t *texture) mipExtent(mip uint32) (w, h, d uint32) {
	return max(t.info.Width>>mip, 1), max(t.info.Height>>mip, 1), max(t.info.Depth()>>mip, 1)
}

func (t *texture) image(mip, layer uint32) ([]byte, error) {
	if mip >= t.info.MipLevels || layer >= t.info.Layers() {
		return nil, fmt.Errorf("texture %q: mip %d layer %d out of range", t.info.Name, mip, layer)
	}
	return t.images[mip*t.info.Layers()+layer], nil
}

// Pixels returns a copy of one subresource. Tests use it to check results
// without a readback.
func Pixels(tex rhi.NativeTexture, mip, layer uint32) ([]byte, error) {
	t, ok := tex.(*texture)
	if !ok {
		return nil, fmt.Errorf("software: not a software texture: %T", tex)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	img, err := t.image(mip, layer)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), img...), nil
}

// Layout returns the layout the device last transitioned tex to.
func Layout(tex rhi.NativeTexture) rhi.ImageLayout {
	t, ok := tex.(*texture)
	if !ok {
		return rhi.LayoutUndefined
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.layout
}

type textureView struct {
	object
	tex  *texture
	desc rhi.TextureViewDesc
}

// fill writes one texel value to every texel of the view's subresources.
func (v *textureView) fill(texel []byte) {
	t := v.tex
	t.mu.Lock()
	defer t.mu.Unlock()
	for mip := v.desc.BaseMip; mip < v.desc.BaseMip+v.desc.MipCount; mip++ {
		for l := v.desc.BaseLayer; l < v.desc.BaseLayer+v.desc.LayerCount; l++ {
			img, err := t.image(mip, l)
			if err != nil {
				continue
			}
			for i := 0; i+len(texel) <= len(img); i += len(texel) {
				copy(img[i:], texel)
			}
		}
	}
}

// encodeColor converts c to one texel of f.
func encodeColor(f rhi.Format, c rhi.Color) []byte {
	unorm := func(v float32) byte {
		return byte(math.Round(float64(min(max(v, 0), 1)) * 255))
	}
	f32 := func(vs ...float32) []byte {
		out := make([]byte, 4*len(vs))
		for i, v := range vs {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	}
	switch f {
	case rhi.FormatR8Unorm:
		return []byte{unorm(c.R)}
	case rhi.FormatRGBA8Unorm, rhi.FormatRGBA8UnormSrgb:
		return []byte{unorm(c.R), unorm(c.G), unorm(c.B), unorm(c.A)}
	case rhi.FormatBGRA8Unorm, rhi.FormatBGRA8UnormSrgb:
		return []byte{unorm(c.B), unorm(c.G), unorm(c.R), unorm(c.A)}
	case rhi.FormatR32Float:
		return f32(c.R)
	case rhi.FormatRG32Float:
		return f32(c.R, c.G)
	case rhi.FormatRGBA32Float:
		return f32(c.R, c.G, c.B, c.A)
	default:
		return make([]byte, max(f.BytesPerPixel(), 1))
	}
}

func encodeDepth(f rhi.Format, depth float32, stencil uint32) []byte {
	switch f {
	case rhi.FormatDepth32Float:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(depth))
		return out
	case rhi.FormatDepth24PlusStencil8:
		d := uint32(math.Round(float64(min(max(depth, 0), 1)) * 0xFFFFFF))
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, d|stencil<<24)
		return out
	default:
		return make([]byte, max(f.BytesPerPixel(), 1))
	}
}

type shaderModule struct {
	object
	stage rhi.ShaderStage
	code  []byte
	label string
}

type sampler struct {
	object
	info rhi.SamplerCreateInfo
}

type descriptorLayout struct {
	object
	set  uint32
	desc rhi.DescriptorSetLayoutDesc
}

func (l *descriptorLayout) binding(b uint32) (rhi.DescriptorBinding, bool) {
	for _, db := range l.desc.Bindings {
		if db.Binding == b {
			return db, true
		}
	}
	return rhi.DescriptorBinding{}, false
}

// descriptorPage emulates a descriptor heap (one slot per descriptor table)
// or a descriptor pool (one slot per set).
type descriptorPage struct {
	object
	model    rhi.DescriptorModel
	capacity uint32

	mu    sync.Mutex
	slots map[uint32][]rhi.DescriptorWrite
}

func (p *descriptorPage) Capacity() uint32 { return p.capacity }

func (p *descriptorPage) Write(slot uint32, layout rhi.NativeDescriptorLayout, writes []rhi.DescriptorWrite) error {
	if p.isDestroyed() {
		return fmt.Errorf("software: descriptor page destroyed")
	}
	if slot >= p.capacity {
		return fmt.Errorf("software: descriptor slot %d of %d", slot, p.capacity)
	}
	l, ok := layout.(*descriptorLayout)
	if !ok || l.isDestroyed() {
		return fmt.Errorf("software: invalid descriptor layout")
	}
	for _, w := range writes {
		b, ok := l.binding(w.Binding)
		if !ok {
			return fmt.Errorf("software: set %d has no binding %d", l.set, w.Binding)
		}
		if b.Kind != w.Kind {
			return fmt.Errorf("software: set %d binding %d is %d, write is %d", l.set, w.Binding, b.Kind, w.Kind)
		}
		if err := checkWrite(w); err != nil {
			return fmt.Errorf("software: set %d binding %d: %w", l.set, w.Binding, err)
		}
	}
	p.mu.Lock()
	p.slots[slot] = append([]rhi.DescriptorWrite(nil), writes...)
	p.mu.Unlock()
	p.dev.count(func(s *Stats) { s.DescriptorWrites++ })
	return nil
}

func checkWrite(w rhi.DescriptorWrite) error {
	switch w.Kind {
	case rhi.DescriptorUniformBuffer, rhi.DescriptorStorageBuffer:
		b, ok := w.Buffer.(*buffer)
		if !ok || b.isDestroyed() {
			return fmt.Errorf("buffer missing or destroyed")
		}
		if w.Offset+w.Size > b.Size() {
			return fmt.Errorf("range %d+%d past end of buffer (%d)", w.Offset, w.Size, b.Size())
		}
	case rhi.DescriptorSampledTexture, rhi.DescriptorStorageTexture:
		if v, ok := w.View.(*textureView); !ok || v.isDestroyed() {
			return fmt.Errorf("texture view missing or destroyed")
		}
	case rhi.DescriptorSampler:
		if s, ok := w.Sampler.(*sampler); !ok || s.isDestroyed() {
			return fmt.Errorf("sampler missing or destroyed")
		}
	case rhi.DescriptorCombinedImageSampler:
		if v, ok := w.View.(*textureView); !ok || v.isDestroyed() {
			return fmt.Errorf("texture view missing or destroyed")
		}
		if s, ok := w.Sampler.(*sampler); !ok || s.isDestroyed() {
			return fmt.Errorf("sampler missing or destroyed")
		}
	}
	return nil
}

// Written returns the writes recorded for slot of page.
func Written(page rhi.NativeDescriptorPage, slot uint32) []rhi.DescriptorWrite {
	p, ok := page.(*descriptorPage)
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[slot]
}

type renderpass struct {
	object
	desc rhi.RenderpassDescription
}

type pipeline struct {
	object
	info rhi.PipelineCreateInfo
}

type commandBuffer struct {
	object
	label     string
	ops       []func(*Device) error
	submitted bool
}
