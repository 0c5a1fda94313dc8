package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

var textureFormats = map[rhi.Format]gputypes.TextureFormat{
	rhi.FormatR8Unorm:             gputypes.TextureFormatR8Unorm,
	rhi.FormatRGBA8Unorm:          gputypes.TextureFormatRGBA8Unorm,
	rhi.FormatRGBA8UnormSrgb:      gputypes.TextureFormatRGBA8UnormSrgb,
	rhi.FormatBGRA8Unorm:          gputypes.TextureFormatBGRA8Unorm,
	rhi.FormatBGRA8UnormSrgb:      gputypes.TextureFormatBGRA8UnormSrgb,
	rhi.FormatR32Float:            gputypes.TextureFormatR32Float,
	rhi.FormatRG32Float:           gputypes.TextureFormatRG32Float,
	rhi.FormatRGBA16Float:         gputypes.TextureFormatRGBA16Float,
	rhi.FormatRGBA32Float:         gputypes.TextureFormatRGBA32Float,
	rhi.FormatDepth32Float:        gputypes.TextureFormatDepth32Float,
	rhi.FormatDepth24PlusStencil8: gputypes.TextureFormatDepth24PlusStencil8,
}

func textureFormat(f rhi.Format) (gputypes.TextureFormat, error) {
	tf, ok := textureFormats[f]
	if !ok {
		return gputypes.TextureFormatUndefined, fmt.Errorf("%w: format %s", rhi.ErrUnsupported, f)
	}
	return tf, nil
}

func bufferUsage(u rhi.BufferUsage, hostVisible bool) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	pairs := []struct {
		in  rhi.BufferUsage
		out gputypes.BufferUsage
	}{
		{rhi.BufferUsageVertex, gputypes.BufferUsageVertex},
		{rhi.BufferUsageIndex, gputypes.BufferUsageIndex},
		{rhi.BufferUsageUniform, gputypes.BufferUsageUniform},
		{rhi.BufferUsageStorage, gputypes.BufferUsageStorage},
		{rhi.BufferUsageCopySrc, gputypes.BufferUsageCopySrc},
		{rhi.BufferUsageCopyDst, gputypes.BufferUsageCopyDst},
		{rhi.BufferUsageMapRead, gputypes.BufferUsageMapRead},
		{rhi.BufferUsageMapWrite, gputypes.BufferUsageMapWrite},
		{rhi.BufferUsageIndirect, gputypes.BufferUsageIndirect},
	}
	for _, p := range pairs {
		if u&p.in != 0 {
			out |= p.out
		}
	}
	// Host writes go through the queue, which needs a copy destination.
	if hostVisible {
		out |= gputypes.BufferUsageCopyDst
	}
	return out
}

func textureUsage(u rhi.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&rhi.TextureUsageSampled != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&rhi.TextureUsageStorage != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&(rhi.TextureUsageRenderTarget|rhi.TextureUsageDepthStencil) != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	if u&rhi.TextureUsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&rhi.TextureUsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	return out
}

// layoutUsage maps an image layout onto the usage hal tracks for barriers.
func layoutUsage(l rhi.ImageLayout) gputypes.TextureUsage {
	switch l {
	case rhi.LayoutColorAttachment, rhi.LayoutDepthStencilAttachment, rhi.LayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	case rhi.LayoutShaderReadOnly, rhi.LayoutDepthStencilReadOnly:
		return gputypes.TextureUsageTextureBinding
	case rhi.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case rhi.LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case rhi.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	default:
		return 0
	}
}

func textureDimension(t rhi.TextureType) gputypes.TextureDimension {
	if t == rhi.Texture3D {
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}

// setVisibility copies the stages hal can express onto e.
func setVisibility(e *gputypes.BindGroupLayoutEntry, s rhi.ShaderStage) {
	if s&rhi.ShaderStageVertex != 0 {
		e.Visibility |= gputypes.ShaderStageVertex
	}
	if s&rhi.ShaderStagePixel != 0 {
		e.Visibility |= gputypes.ShaderStageFragment
	}
	if s&rhi.ShaderStageCompute != 0 {
		e.Visibility |= gputypes.ShaderStageCompute
	}
}

func layoutEntry(b rhi.DescriptorBinding) (gputypes.BindGroupLayoutEntry, error) {
	e := gputypes.BindGroupLayoutEntry{Binding: b.Binding}
	setVisibility(&e, b.Stages)
	switch b.Kind {
	case rhi.DescriptorUniformBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case rhi.DescriptorStorageBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case rhi.DescriptorSampledTexture:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case rhi.DescriptorStorageTexture:
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessReadWrite,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case rhi.DescriptorSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	default:
		return e, fmt.Errorf("%w: descriptor kind %d at binding %d", rhi.ErrUnsupported, b.Kind, b.Binding)
	}
	return e, nil
}

func loadOp(op rhi.LoadOp) gputypes.LoadOp {
	if op == rhi.LoadOpLoad {
		return gputypes.LoadOpLoad
	}
	// DontCare has no WebGPU equivalent.
	return gputypes.LoadOpClear
}

func storeOp(op rhi.StoreOp) gputypes.StoreOp {
	if op == rhi.StoreOpStore {
		return gputypes.StoreOpStore
	}
	return gputypes.StoreOpDiscard
}

var compareFunctions = map[rhi.CompareOp]gputypes.CompareFunction{
	rhi.CompareNever:        gputypes.CompareFunctionNever,
	rhi.CompareLess:         gputypes.CompareFunctionLess,
	rhi.CompareEqual:        gputypes.CompareFunctionEqual,
	rhi.CompareLessEqual:    gputypes.CompareFunctionLessEqual,
	rhi.CompareGreater:      gputypes.CompareFunctionGreater,
	rhi.CompareNotEqual:     gputypes.CompareFunctionNotEqual,
	rhi.CompareGreaterEqual: gputypes.CompareFunctionGreaterEqual,
	rhi.CompareAlways:       gputypes.CompareFunctionAlways,
}

func topology(t rhi.Topology) gputypes.PrimitiveTopology {
	switch t {
	case rhi.TopologyTriangleStrip:
		return gputypes.PrimitiveTopologyTriangleStrip
	case rhi.TopologyLineList:
		return gputypes.PrimitiveTopologyLineList
	case rhi.TopologyPointList:
		return gputypes.PrimitiveTopologyPointList
	default:
		return gputypes.PrimitiveTopologyTriangleList
	}
}

func cullMode(c rhi.CullMode) gputypes.CullMode {
	switch c {
	case rhi.CullFront:
		return gputypes.CullModeFront
	case rhi.CullBack:
		return gputypes.CullModeBack
	default:
		return gputypes.CullModeNone
	}
}

func frontFace(ccw bool) gputypes.FrontFace {
	if ccw {
		return gputypes.FrontFaceCCW
	}
	return gputypes.FrontFaceCW
}

// blendState returns nil for opaque targets.
func blendState(m rhi.BlendMode) *gputypes.BlendState {
	b := gputypes.BlendStatePremultiplied()
	switch m {
	case rhi.BlendPremultiplied:
	case rhi.BlendAlpha:
		b.Color.SrcFactor = gputypes.BlendFactorSrcAlpha
	case rhi.BlendAdditive:
		b.Color.SrcFactor = gputypes.BlendFactorOne
		b.Color.DstFactor = gputypes.BlendFactorOne
		b.Alpha.DstFactor = gputypes.BlendFactorOne
	default:
		return nil
	}
	return &b
}

var vertexFormats = map[rhi.VertexFormat]gputypes.VertexFormat{
	rhi.VertexFloat32:   gputypes.VertexFormatFloat32,
	rhi.VertexFloat32x2: gputypes.VertexFormatFloat32x2,
	rhi.VertexFloat32x3: gputypes.VertexFormatFloat32x3,
	rhi.VertexFloat32x4: gputypes.VertexFormatFloat32x4,
	rhi.VertexUint32:    gputypes.VertexFormatUint32,
	rhi.VertexSint32:    gputypes.VertexFormatSint32,
	rhi.VertexUnorm8x4:  gputypes.VertexFormatUnorm8x4,
}

func vertexBuffers(l rhi.VertexLayout) ([]gputypes.VertexBufferLayout, error) {
	if len(l.Attributes) == 0 {
		return nil, nil
	}
	attrs := make([]gputypes.VertexAttribute, 0, len(l.Attributes))
	for _, a := range l.Attributes {
		vf, ok := vertexFormats[a.Format]
		if !ok {
			return nil, fmt.Errorf("%w: vertex format %d at location %d", rhi.ErrUnsupported, a.Format, a.Location)
		}
		attrs = append(attrs, gputypes.VertexAttribute{Format: vf, Offset: uint64(a.Offset), ShaderLocation: a.Location})
	}
	step := gputypes.VertexStepModeVertex
	if l.PerInstance {
		step = gputypes.VertexStepModeInstance
	}
	return []gputypes.VertexBufferLayout{{
		ArrayStride: uint64(l.Stride),
		StepMode:    step,
		Attributes:  attrs,
	}}, nil
}

func indexFormat(f rhi.IndexFormat) gputypes.IndexFormat {
	if f == rhi.IndexUint32 {
		return gputypes.IndexFormatUint32
	}
	return gputypes.IndexFormatUint16
}

func filterMode(f rhi.FilterMode) gputypes.FilterMode {
	if f == rhi.FilterLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}

func addressMode(a rhi.AddressMode) gputypes.AddressMode {
	switch a {
	case rhi.AddressMirrorRepeat:
		return gputypes.AddressModeMirrorRepeat
	case rhi.AddressClampToEdge, rhi.AddressClampToBorder:
		return gputypes.AddressModeClampToEdge
	default:
		return gputypes.AddressModeRepeat
	}
}

func extent(w, h, d uint32) hal.Extent3D {
	return hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: max(d, 1)}
}
