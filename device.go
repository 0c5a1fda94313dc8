package rhi

import "time"

// DeviceCaps describes what a native device offers. It is fixed for the
// lifetime of the device.
type DeviceCaps struct {
	API             GraphicsAPI
	DescriptorModel DescriptorModel
	AdapterName     string

	// DescriptorPageSize is the slot count the backend prefers per
	// descriptor heap or pool page.
	DescriptorPageSize uint32

	// CopyRowPitchAlignment is the required alignment of BytesPerRow in
	// buffer/texture copies.
	CopyRowPitchAlignment uint32

	MaxPushConstantSize uint32
	MaxColorAttachments int
}

// NativeObject is any object owned by a native device.
// Destroy releases it; backends make a second call a no-op.
type NativeObject interface {
	Destroy()
}

// NativeBufferDesc describes a native buffer allocation.
type NativeBufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage

	// HostVisible places the buffer in CPU-mapped memory
	// (upload or readback heap).
	HostVisible bool
}

// NativeBuffer is a block of device memory.
type NativeBuffer interface {
	NativeObject
	Size() uint64

	// Write copies data at offset. Only valid for host-visible buffers.
	Write(offset uint64, data []byte) error

	// Read copies len(dst) bytes at offset. Only valid for host-visible buffers.
	Read(offset uint64, dst []byte) error
}

// NativeTexture is a device image.
type NativeTexture interface {
	NativeObject
}

// TextureViewDesc selects a subresource range of a texture.
type TextureViewDesc struct {
	Label      string
	Format     Format
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// NativeTextureView is a view of a texture subresource range. It doubles as
// the descriptor handle used for sampling and render-target binding.
type NativeTextureView interface {
	NativeObject
}

// NativeShaderModule is a compiled stage ready for pipeline creation.
type NativeShaderModule interface {
	NativeObject
}

// NativeSampler is a native sampler object.
type NativeSampler interface {
	NativeObject
}

// NativeDescriptorLayout is a native descriptor-set layout.
type NativeDescriptorLayout interface {
	NativeObject
}

// DescriptorWrite binds one resource into a descriptor slot.
type DescriptorWrite struct {
	Binding uint32
	Kind    DescriptorKind

	Buffer NativeBuffer
	Offset uint64
	Size   uint64

	View    NativeTextureView
	Sampler NativeSampler
}

// NativeDescriptorPage is one fixed-capacity descriptor heap (heap model) or
// pool (pool model).
type NativeDescriptorPage interface {
	NativeObject
	Capacity() uint32

	// Write fills slot with the given resources laid out per layout.
	Write(slot uint32, layout NativeDescriptorLayout, writes []DescriptorWrite) error
}

// NativeRenderpass is the render-target binding info for a RenderpassDescription.
type NativeRenderpass interface {
	NativeObject
}

// NativePipeline is a compiled graphics pipeline state.
type NativePipeline interface {
	NativeObject
}

// NativeCommandBuffer is a finished recording ready for submission.
type NativeCommandBuffer interface {
	NativeObject
}

// ShaderStageModule is one stage handed to pipeline creation.
type ShaderStageModule struct {
	Stage      ShaderStage
	Module     NativeShaderModule
	EntryPoint string
}

// PipelineCreateInfo is everything a backend needs to build a NativePipeline.
type PipelineCreateInfo struct {
	Label         string
	Stages        []ShaderStageModule
	Layouts       []NativeDescriptorLayout
	PushConstants PushConstantRange
	VertexLayout  VertexLayout
	State         PipelineStateObject
	Renderpass    NativeRenderpass
}

// ColorTarget binds a view as a colour attachment.
type ColorTarget struct {
	View  NativeTextureView
	Clear Color
}

// DepthTarget binds a view as the depth-stencil attachment.
type DepthTarget struct {
	View         NativeTextureView
	ClearDepth   float32
	ClearStencil uint32
}

// RenderTargets are the concrete views bound when a renderpass begins.
type RenderTargets struct {
	Width, Height uint32
	Color         []ColorTarget
	Depth         *DepthTarget
}

// TextureCopy addresses one image of a texture in a buffer/texture copy.
type TextureCopy struct {
	Texture       NativeTexture
	Mip, Layer    uint32
	Width, Height uint32
	Depth         uint32
	BufferOffset  uint64
	BytesPerRow   uint32
}

// NativeBarrier is an ImageBarrier resolved to native objects.
type NativeBarrier struct {
	Texture   NativeTexture
	Format    Format
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Range     SubresourceRange
}

// CommandEncoder records native commands. Recording methods do not return
// errors; backends accumulate the first failure and report it from Finish.
type CommandEncoder interface {
	CopyBuffer(src, dst NativeBuffer, srcOffset, dstOffset, size uint64)
	CopyBufferToTexture(src NativeBuffer, dst TextureCopy)
	CopyTextureToBuffer(src TextureCopy, dst NativeBuffer)

	PipelineBarrier(barriers []NativeBarrier)

	BeginRenderpass(rp NativeRenderpass, targets RenderTargets)
	EndRenderpass()

	BindPipeline(p NativePipeline)
	BindDescriptorSet(set uint32, page NativeDescriptorPage, slot uint32)
	PushConstants(stages ShaderStage, offset uint32, data []byte)
	SetVertexBuffer(slot uint32, buf NativeBuffer, offset uint64)
	SetIndexBuffer(buf NativeBuffer, format IndexFormat, offset uint64)
	SetViewport(v Viewport)
	SetScissor(r Rect)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)

	Finish() (NativeCommandBuffer, error)
	Discard()
}

// Device is the narrow native interface every backend implements. All GPU
// work in rhi flows through it.
type Device interface {
	Caps() DeviceCaps

	CreateBuffer(desc NativeBufferDesc) (NativeBuffer, error)
	CreateTexture(info TextureInfo) (NativeTexture, error)
	CreateTextureView(tex NativeTexture, desc TextureViewDesc) (NativeTextureView, error)
	CreateShaderModule(stage ShaderStage, code []byte, label string) (NativeShaderModule, error)
	CreateSampler(info SamplerCreateInfo) (NativeSampler, error)
	CreateDescriptorLayout(set uint32, desc DescriptorSetLayoutDesc) (NativeDescriptorLayout, error)
	CreateDescriptorPage(capacity uint32) (NativeDescriptorPage, error)
	CreateRenderpass(desc RenderpassDescription) (NativeRenderpass, error)
	CreatePipeline(info PipelineCreateInfo) (NativePipeline, error)
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit queues command buffers and returns the fence value that will be
	// reached once they complete. Fence values increase monotonically.
	Submit(cmds ...NativeCommandBuffer) (uint64, error)

	// CompletedValue returns the highest fence value the GPU has retired.
	CompletedValue() uint64

	// Wait blocks until value has retired or timeout elapses.
	Wait(value uint64, timeout time.Duration) error

	// WaitIdle blocks until all submitted work has retired.
	WaitIdle() error

	Destroy()
}
