package rhi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// TextureInfo is the immutable description of a texture. Changing any field
// means destroying the texture and creating a new one.
type TextureInfo struct {
	Type   TextureType
	Width  uint32
	Height uint32

	// DepthOrLayers is the depth of a 3D texture or the layer count of any
	// other type. Zero means 1 (6 for cubes).
	DepthOrLayers uint32

	// MipLevels of zero means 1.
	MipLevels uint32
	Format    Format
	Usage     TextureUsage

	// Samples of zero means 1.
	Samples uint32
	Name    string
}

// Normalized returns info with zero counts replaced by their defaults.
func (info TextureInfo) Normalized() TextureInfo {
	if info.DepthOrLayers == 0 {
		info.DepthOrLayers = 1
		if info.Type == TextureCube {
			info.DepthOrLayers = 6
		}
	}
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.Samples == 0 {
		info.Samples = 1
	}
	return info
}

// Validate checks that info describes a texture a backend can create.
func (info TextureInfo) Validate() error {
	info = info.Normalized()
	switch {
	case info.Width == 0 || info.Height == 0:
		return fmt.Errorf("%w: texture %q has zero extent", ErrInvalidArgument, info.Name)
	case info.Format == FormatUndefined:
		return fmt.Errorf("%w: texture %q has undefined format", ErrInvalidArgument, info.Name)
	case info.Type > Texture3D:
		return fmt.Errorf("%w: texture %q type %d", ErrInvalidArgument, info.Name, info.Type)
	case info.Type == TextureCube && info.DepthOrLayers%6 != 0:
		return fmt.Errorf("%w: cube texture %q needs a multiple of 6 layers", ErrInvalidArgument, info.Name)
	case info.Usage == 0:
		return fmt.Errorf("%w: texture %q has no usage", ErrInvalidArgument, info.Name)
	case info.Format.IsDepth() && info.Usage&TextureUsageRenderTarget != 0:
		return fmt.Errorf("%w: depth texture %q used as colour target", ErrInvalidArgument, info.Name)
	case info.Usage&TextureUsageDepthStencil != 0 && !info.Format.IsDepth():
		return fmt.Errorf("%w: colour texture %q used as depth target", ErrInvalidArgument, info.Name)
	}
	maxMips := uint32(1)
	for d := max(info.Width, info.Height); d > 1; d >>= 1 {
		maxMips++
	}
	if info.MipLevels > maxMips {
		return fmt.Errorf("%w: texture %q has %d mips, at most %d", ErrInvalidArgument, info.Name, info.MipLevels, maxMips)
	}
	return nil
}

// Layers returns the array layer count (1 for 3D textures).
func (info TextureInfo) Layers() uint32 {
	if info.Type == Texture3D {
		return 1
	}
	return info.Normalized().DepthOrLayers
}

// Depth returns the depth of one layer (1 except for 3D textures).
func (info TextureInfo) Depth() uint32 {
	if info.Type == Texture3D {
		return info.Normalized().DepthOrLayers
	}
	return 1
}

// AllLayers selects every layer of a mip in Texture.View.
const AllLayers = ^uint32(0)

type viewKey struct {
	mip, layer uint32
}

// Texture is a GPU image and the views derived from it. Views are created
// on demand and cached per (mip, layer) pair.
type Texture struct {
	rc     *RenderContext
	info   TextureInfo
	handle Handle

	mu     sync.Mutex
	native NativeTexture
	views  map[viewKey]NativeTextureView
	name   string

	// layout is the last layout recorded on the render goroutine.
	layout ImageLayout

	upload atomic.Pointer[UploadRequest]
}

// CreateTexture allocates a texture and its default view.
func CreateTexture(rc *RenderContext, info TextureInfo) (*Texture, error) {
	if rc == nil {
		return nil, contractError("create texture", ErrNilContext)
	}
	if err := info.Validate(); err != nil {
		return nil, contractError("create texture", err)
	}
	info = info.Normalized()

	native, err := rc.device.CreateTexture(info)
	if err != nil {
		return nil, NativeError("create texture", err)
	}
	t := &Texture{
		rc:     rc,
		info:   info,
		native: native,
		views:  make(map[viewKey]NativeTextureView),
		name:   info.Name,
	}
	if _, err := t.View(0, AllLayers); err != nil {
		native.Destroy()
		return nil, err
	}
	t.handle = rc.textures.Insert(t)
	Logger().Debug("rhi: texture created", "name", info.Name,
		"width", info.Width, "height", info.Height, "format", info.Format, "handle", t.handle)
	return t, nil
}

// Info returns the creation info.
func (t *Texture) Info() TextureInfo { return t.info }

// Width returns the base mip width.
func (t *Texture) Width() uint32 { return t.info.Width }

// Height returns the base mip height.
func (t *Texture) Height() uint32 { return t.info.Height }

// Format returns the texel format.
func (t *Texture) Format() Format { return t.info.Format }

// Handle returns the texture's generation-tagged handle.
func (t *Texture) Handle() Handle { return t.handle }

// Native returns the native texture.
func (t *Texture) Native() NativeTexture {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.native
}

// Layout returns the last layout recorded for the texture.
func (t *Texture) Layout() ImageLayout { return t.layout }

// SetLayout records the layout the texture will be in after already
// recorded commands execute.
func (t *Texture) SetLayout(l ImageLayout) { t.layout = l }

// DefaultView returns the view of mip 0 across all layers.
func (t *Texture) DefaultView() NativeTextureView {
	v, _ := t.View(0, AllLayers)
	return v
}

// View returns the cached view of one mip and one layer (or AllLayers),
// creating it on first use.
func (t *Texture) View(mip, layer uint32) (NativeTextureView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.native == nil {
		return nil, contractError("texture view", ErrReleased)
	}
	if mip >= t.info.MipLevels || (layer != AllLayers && layer >= t.info.Layers()) {
		return nil, contractError("texture view",
			fmt.Errorf("%w: mip %d layer %d of %q", ErrOutOfRange, mip, layer, t.name))
	}
	key := viewKey{mip: mip, layer: layer}
	if v, ok := t.views[key]; ok {
		return v, nil
	}

	desc := TextureViewDesc{
		Label:      fmt.Sprintf("%s mip%d", t.name, mip),
		Format:     t.info.Format,
		BaseMip:    mip,
		MipCount:   1,
		BaseLayer:  0,
		LayerCount: t.info.Layers(),
	}
	if layer != AllLayers {
		desc.BaseLayer = layer
		desc.LayerCount = 1
	}
	v, err := t.rc.device.CreateTextureView(t.native, desc)
	if err != nil {
		return nil, NativeError("create texture view", err)
	}
	t.views[key] = v
	return v, nil
}

// ViewCount returns the number of cached views.
func (t *Texture) ViewCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.views)
}

// imageSize returns the tightly packed byte size of mip 0 across all layers.
func (t *Texture) imageSize() uint64 {
	i := t.info
	return uint64(i.Width) * uint64(i.Height) * uint64(i.Depth()) * uint64(i.Format.BytesPerPixel()) * uint64(i.Layers())
}

// rowPitch returns the padded bytes per row used in staging buffers.
func (t *Texture) rowPitch() uint32 {
	tight := t.info.Width * t.info.Format.BytesPerPixel()
	a := t.rc.caps.CopyRowPitchAlignment
	if a <= 1 {
		return tight
	}
	return (tight + a - 1) / a * a
}

// packRows lays tightly packed rows out at pitch bytes apart.
func packRows(data []byte, rows int, tight, pitch uint32) []byte {
	if tight == pitch {
		return data
	}
	out := make([]byte, rows*int(pitch))
	for r := range rows {
		copy(out[r*int(pitch):], data[r*int(tight):(r+1)*int(tight)])
	}
	return out
}

// unpackRows is the inverse of packRows.
func unpackRows(data []byte, rows int, tight, pitch uint32) []byte {
	if tight == pitch {
		return data[:rows*int(tight)]
	}
	out := make([]byte, rows*int(tight))
	for r := range rows {
		copy(out[r*int(tight):(r+1)*int(tight)], data[r*int(pitch):])
	}
	return out
}

// copies returns one region per layer of mip 0 for a staging buffer laid out
// with pitch bytes per row.
func (t *Texture) copies(pitch uint32) []TextureCopy {
	layers := t.info.Layers()
	rows := uint64(t.info.Height) * uint64(t.info.Depth())
	regions := make([]TextureCopy, layers)
	for l := range layers {
		regions[l] = TextureCopy{
			Texture:      t.native,
			Layer:        l,
			Width:        t.info.Width,
			Height:       t.info.Height,
			Depth:        t.info.Depth(),
			BufferOffset: uint64(l) * rows * uint64(pitch),
			BytesPerRow:  pitch,
		}
	}
	return regions
}

func (t *Texture) transition(to ImageLayout) NativeBarrier {
	b := NewImageBarrier(t, t.layout, to)
	t.layout = to
	return b.native()
}

// restingLayout is the layout a texture is left in after an upload.
func (t *Texture) restingLayout() ImageLayout {
	if t.info.Usage&TextureUsageSampled != 0 {
		return LayoutShaderReadOnly
	}
	return LayoutTransferDst
}

// Upload replaces the base mip of every layer with data, tightly packed
// row by row. It blocks until the staging copy completes.
func (t *Texture) Upload(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	staging, pitch, err := t.stageLocked(data)
	if err != nil {
		return err
	}
	defer staging.Destroy()
	regions := t.copies(pitch)

	return t.rc.submitAndWait("texture upload", func(enc CommandEncoder) {
		t.recordUpload(enc, staging, regions)
	})
}

// stageLocked validates data and copies it into a new staging buffer.
func (t *Texture) stageLocked(data []byte) (NativeBuffer, uint32, error) {
	if t.native == nil {
		return nil, 0, contractError("texture upload", ErrReleased)
	}
	if t.info.Usage&TextureUsageCopyDst == 0 {
		return nil, 0, contractError("texture upload",
			fmt.Errorf("%w: %q lacks CopyDst usage", ErrInvalidArgument, t.name))
	}
	if uint64(len(data)) != t.imageSize() {
		return nil, 0, contractError("texture upload",
			fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidArgument, len(data), t.imageSize()))
	}
	tight := t.info.Width * t.info.Format.BytesPerPixel()
	pitch := t.rowPitch()
	rows := int(t.info.Height * t.info.Depth() * t.info.Layers())
	packed := packRows(data, rows, tight, pitch)

	staging, _, err := t.rc.newStaging(t.name, packed, uint64(len(packed)))
	if err != nil {
		return nil, 0, err
	}
	return staging, pitch, nil
}

func (t *Texture) recordUpload(enc CommandEncoder, staging NativeBuffer, regions []TextureCopy) {
	enc.PipelineBarrier([]NativeBarrier{t.transition(LayoutTransferDst)})
	for _, r := range regions {
		enc.CopyBufferToTexture(staging, r)
	}
	if rest := t.restingLayout(); rest != LayoutTransferDst {
		enc.PipelineBarrier([]NativeBarrier{t.transition(rest)})
	}
}

// Download returns the base mip of every layer, tightly packed. It blocks
// until the readback copy completes.
func (t *Texture) Download() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.native == nil {
		return nil, contractError("texture download", ErrReleased)
	}
	if t.info.Usage&TextureUsageCopySrc == 0 {
		return nil, contractError("texture download",
			fmt.Errorf("%w: %q lacks CopySrc usage", ErrInvalidArgument, t.name))
	}
	tight := t.info.Width * t.info.Format.BytesPerPixel()
	pitch := t.rowPitch()
	rows := int(t.info.Height * t.info.Depth() * t.info.Layers())
	size := uint64(rows) * uint64(pitch)

	readback, err := t.rc.device.CreateBuffer(NativeBufferDesc{
		Label:       t.name + " readback",
		Size:        align4(size),
		Usage:       BufferReadback.DefaultUsage(),
		HostVisible: true,
	})
	if err != nil {
		return nil, NativeError("create readback buffer", err)
	}
	defer readback.Destroy()

	prev := t.layout
	regions := t.copies(pitch)
	if err := t.rc.submitAndWait("texture download", func(enc CommandEncoder) {
		enc.PipelineBarrier([]NativeBarrier{t.transition(LayoutTransferSrc)})
		for _, r := range regions {
			enc.CopyTextureToBuffer(r, readback)
		}
		if prev != LayoutUndefined {
			enc.PipelineBarrier([]NativeBarrier{t.transition(prev)})
		}
	}); err != nil {
		return nil, err
	}

	raw := make([]byte, size)
	if err := readback.Read(0, raw); err != nil {
		return nil, NativeError("readback read", err)
	}
	return unpackRows(raw, rows, tight, pitch), nil
}

// QueueUpload schedules an asynchronous upload of the base mip.
func (t *Texture) QueueUpload(data []byte) (*UploadRequest, error) {
	return t.rc.uploads.QueueTextureUpload(t, data)
}

// UploadStatus returns the status of the most recent queued upload.
func (t *Texture) UploadStatus() DeviceUploadStatus {
	if r := t.upload.Load(); r != nil {
		return r.Status()
	}
	return UploadCompleted
}

// Release destroys the views and the texture once in-flight work retires.
func (t *Texture) Release() {
	t.mu.Lock()
	native := t.native
	views := t.views
	t.native = nil
	t.views = make(map[viewKey]NativeTextureView)
	t.mu.Unlock()

	if native == nil {
		return
	}
	for _, v := range views {
		t.rc.DeferRelease(v)
	}
	t.rc.DeferRelease(native)
	t.rc.textures.Remove(t.handle)
	t.rc.uploads.cancel(t)
}

// Valid reports whether the texture still owns a native image.
func (t *Texture) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.native != nil
}

// SetName sets the debug label.
func (t *Texture) SetName(name string) {
	t.mu.Lock()
	t.name = name
	t.mu.Unlock()
}

// Name returns the debug label.
func (t *Texture) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}
