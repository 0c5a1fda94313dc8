package rhi

import (
	"fmt"
	"strings"
)

// GraphicsAPI identifies the native graphics API behind a Device.
type GraphicsAPI uint8

const (
	// APIUnknown is the zero value; it selects the highest-priority backend.
	APIUnknown GraphicsAPI = iota
	// APIVulkan is the descriptor-pool/command-buffer model.
	APIVulkan
	// APIDX12 is the descriptor-heap/command-list model.
	APIDX12
	// APISoftware is the CPU reference device.
	APISoftware
)

// String returns the API name as shown in statistics and logs.
func (a GraphicsAPI) String() string {
	switch a {
	case APIVulkan:
		return "Vulkan"
	case APIDX12:
		return "DX12"
	case APISoftware:
		return "Software"
	default:
		return "Unknown"
	}
}

// ParseGraphicsAPI converts a case-sensitive lower-case name ("vulkan", "dx12",
// "software") into a GraphicsAPI. Empty input yields APIUnknown.
func ParseGraphicsAPI(s string) (GraphicsAPI, error) {
	switch s {
	case "":
		return APIUnknown, nil
	case "vulkan":
		return APIVulkan, nil
	case "dx12":
		return APIDX12, nil
	case "software":
		return APISoftware, nil
	}
	return APIUnknown, fmt.Errorf("%w: graphics api %q", ErrInvalidArgument, s)
}

// DescriptorModel identifies how a backend hands out descriptor storage.
type DescriptorModel uint8

const (
	// DescriptorModelHeap allocates descriptors from shader-visible heaps.
	DescriptorModelHeap DescriptorModel = iota
	// DescriptorModelPool allocates descriptor sets from pools.
	DescriptorModelPool
)

func (m DescriptorModel) String() string {
	if m == DescriptorModelPool {
		return "pool"
	}
	return "heap"
}

// Format is a texel format.
type Format uint8

// Texel formats.
const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatRGBA8Unorm
	FormatRGBA8UnormSrgb
	FormatBGRA8Unorm
	FormatBGRA8UnormSrgb
	FormatR32Float
	FormatRG32Float
	FormatRGBA16Float
	FormatRGBA32Float
	FormatDepth32Float
	FormatDepth24PlusStencil8
)

var formatNames = [...]string{
	FormatUndefined:           "undefined",
	FormatR8Unorm:             "r8unorm",
	FormatRGBA8Unorm:          "rgba8unorm",
	FormatRGBA8UnormSrgb:      "rgba8unorm-srgb",
	FormatBGRA8Unorm:          "bgra8unorm",
	FormatBGRA8UnormSrgb:      "bgra8unorm-srgb",
	FormatR32Float:            "r32float",
	FormatRG32Float:           "rg32float",
	FormatRGBA16Float:         "rgba16float",
	FormatRGBA32Float:         "rgba32float",
	FormatDepth32Float:        "depth32float",
	FormatDepth24PlusStencil8: "depth24plus-stencil8",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// ParseFormat parses the names printed by Format.String.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(s, name) {
			return Format(f), nil //nolint:gosec // G115: table is small
		}
	}
	return FormatUndefined, fmt.Errorf("%w: unknown format %q", ErrInvalidArgument, s)
}

// BytesPerPixel returns the texel size in bytes, or 0 for FormatUndefined.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRGBA8Unorm, FormatRGBA8UnormSrgb, FormatBGRA8Unorm, FormatBGRA8UnormSrgb,
		FormatR32Float, FormatDepth32Float, FormatDepth24PlusStencil8:
		return 4
	case FormatRG32Float, FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// IsDepth reports whether f is a depth or depth-stencil format.
func (f Format) IsDepth() bool {
	return f == FormatDepth32Float || f == FormatDepth24PlusStencil8
}

// HasStencil reports whether f carries a stencil aspect.
func (f Format) HasStencil() bool { return f == FormatDepth24PlusStencil8 }

// ImageLayout is the layout a texture is in between GPU operations.
type ImageLayout uint8

// Image layouts.
const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutDepthStencilReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

var layoutNames = [...]string{
	"Undefined", "General", "ColorAttachment", "DepthStencilAttachment",
	"DepthStencilReadOnly", "ShaderReadOnly", "TransferSrc", "TransferDst", "Present",
}

func (l ImageLayout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("ImageLayout(%d)", l)
}

// IsWrite reports whether a resource in this layout is being written.
func (l ImageLayout) IsWrite() bool {
	switch l {
	case LayoutGeneral, LayoutColorAttachment, LayoutDepthStencilAttachment, LayoutTransferDst:
		return true
	}
	return false
}

// AccessFlags describes memory accesses a barrier makes visible.
type AccessFlags uint32

// Access flags.
const (
	AccessNone                AccessFlags = 0
	AccessColorAttachmentRead AccessFlags = 1 << iota
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessShaderRead
	AccessShaderWrite
	AccessTransferRead
	AccessTransferWrite
	AccessMemoryRead
)

// PipelineStage is a bitmask of pipeline stages a barrier waits on or blocks.
type PipelineStage uint32

// Pipeline stages.
const (
	PipelineStageNone        PipelineStage = 0
	PipelineStageTopOfPipe   PipelineStage = 1 << iota
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageEarlyFragmentTests
	PipelineStageLateFragmentTests
	PipelineStageColorAttachmentOutput
	PipelineStageComputeShader
	PipelineStageTransfer
	PipelineStageBottomOfPipe
)

// LayoutAccess returns the stage and access masks that accompany a layout.
func LayoutAccess(l ImageLayout) (PipelineStage, AccessFlags) {
	switch l {
	case LayoutColorAttachment:
		return PipelineStageColorAttachmentOutput, AccessColorAttachmentRead | AccessColorAttachmentWrite
	case LayoutDepthStencilAttachment:
		return PipelineStageEarlyFragmentTests | PipelineStageLateFragmentTests,
			AccessDepthStencilRead | AccessDepthStencilWrite
	case LayoutDepthStencilReadOnly:
		return PipelineStageEarlyFragmentTests | PipelineStageFragmentShader,
			AccessDepthStencilRead | AccessShaderRead
	case LayoutShaderReadOnly:
		return PipelineStageVertexShader | PipelineStageFragmentShader | PipelineStageComputeShader, AccessShaderRead
	case LayoutTransferSrc:
		return PipelineStageTransfer, AccessTransferRead
	case LayoutTransferDst:
		return PipelineStageTransfer, AccessTransferWrite
	case LayoutGeneral:
		return PipelineStageComputeShader, AccessShaderRead | AccessShaderWrite
	case LayoutPresent:
		return PipelineStageBottomOfPipe, AccessMemoryRead
	default:
		return PipelineStageTopOfPipe, AccessNone
	}
}

// ShaderStage is a bitmask of programmable stages.
type ShaderStage uint32

// Shader stages.
const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageTessControl
	ShaderStageTessEval
	ShaderStageGeometry
	ShaderStagePixel
	ShaderStageCompute

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageTessControl |
		ShaderStageTessEval | ShaderStageGeometry | ShaderStagePixel
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageTessControl:
		return "tess_control"
	case ShaderStageTessEval:
		return "tess_eval"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStagePixel:
		return "pixel"
	case ShaderStageCompute:
		return "compute"
	default:
		return fmt.Sprintf("ShaderStage(%#x)", uint32(s))
	}
}

// LoadOp selects what happens to an attachment at renderpass begin.
type LoadOp uint8

// Load operations.
const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

// StoreOp selects what happens to an attachment at renderpass end.
type StoreOp uint8

// Store operations.
const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// Topology is the primitive assembly mode.
type Topology uint8

// Primitive topologies.
const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

// CullMode selects which faces are discarded.
type CullMode uint8

// Cull modes.
const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

// FillMode selects polygon rasterization.
type FillMode uint8

// Fill modes.
const (
	FillSolid FillMode = iota
	FillWireframe
)

// CompareOp is a depth, stencil or sampler comparison.
type CompareOp uint8

// Comparison operations.
const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLessEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterEqual
	CompareAlways
)

// BlendMode is a preset colour blend state.
type BlendMode uint8

// Blend presets.
const (
	BlendOpaque BlendMode = iota
	BlendAlpha
	BlendPremultiplied
	BlendAdditive
)

// IndexFormat is the element type of an index buffer.
type IndexFormat uint8

// Index formats.
const (
	IndexUint16 IndexFormat = iota
	IndexUint32
)

// Size returns the index size in bytes.
func (f IndexFormat) Size() uint32 {
	if f == IndexUint32 {
		return 4
	}
	return 2
}

// VertexFormat is the type of one vertex attribute.
type VertexFormat uint8

// Vertex attribute formats.
const (
	VertexFormatUndefined VertexFormat = iota
	VertexFloat32
	VertexFloat32x2
	VertexFloat32x3
	VertexFloat32x4
	VertexUint32
	VertexSint32
	VertexUnorm8x4
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFloat32, VertexUint32, VertexSint32, VertexUnorm8x4:
		return 4
	case VertexFloat32x2:
		return 8
	case VertexFloat32x3:
		return 12
	case VertexFloat32x4:
		return 16
	default:
		return 0
	}
}

// DescriptorKind is the type of resource bound at a descriptor slot.
type DescriptorKind uint8

// Descriptor kinds.
const (
	DescriptorUniformBuffer DescriptorKind = iota
	DescriptorStorageBuffer
	DescriptorSampledTexture
	DescriptorStorageTexture
	DescriptorSampler
	DescriptorCombinedImageSampler
)

// FilterMode selects texel filtering.
type FilterMode uint8

// Filter modes.
const (
	FilterNearest FilterMode = iota
	FilterLinear
)

// AddressMode selects how out-of-range texture coordinates are resolved.
type AddressMode uint8

// Address modes.
const (
	AddressRepeat AddressMode = iota
	AddressMirrorRepeat
	AddressClampToEdge
	AddressClampToBorder
)

// TextureType is the dimensionality of a texture.
type TextureType uint8

// Texture types.
const (
	Texture2D TextureType = iota
	Texture2DArray
	TextureCube
	Texture3D
)

// TextureUsage is a bitmask of the ways a texture may be bound.
type TextureUsage uint32

// Texture usages.
const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageRenderTarget
	TextureUsageDepthStencil
	TextureUsageCopySrc
	TextureUsageCopyDst
)

// BufferUsage is a bitmask of the ways a buffer may be bound.
type BufferUsage uint32

// Buffer usages.
const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageMapRead
	BufferUsageMapWrite
	BufferUsageIndirect
)

// Viewport is a render-target viewport in pixels.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is a scissor rectangle in pixels.
type Rect struct {
	X, Y          uint32
	Width, Height uint32
}

// Color is a linear RGBA clear colour.
type Color struct {
	R, G, B, A float32
}
