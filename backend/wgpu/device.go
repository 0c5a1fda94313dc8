package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

// copyPitchAlignment is the BytesPerRow alignment WebGPU requires for
// buffer/texture copies.
const copyPitchAlignment = 256

// Config configures a hal-backed device.
type Config struct {
	Label string

	// API selects the hal backend opened by Open. APIVulkan and APIDX12 are
	// accepted.
	API rhi.GraphicsAPI

	// DescriptorPageSize is the bind-group slot count of one emulated
	// descriptor page. Zero means 256.
	DescriptorPageSize uint32
}

// Device adapts a hal device and queue to rhi.Device. Descriptor pages are
// emulated with bind groups and renderpasses exist only as descriptions;
// hal builds the native pass when one begins.
type Device struct {
	cfg  Config
	caps rhi.DeviceCaps

	instance hal.Instance // nil when the device came from a provider
	device   hal.Device
	queue    hal.Queue

	mu        sync.Mutex
	fence     hal.Fence
	submitted uint64
	completed uint64
	destroyed bool
}

var _ rhi.Device = (*Device)(nil)

// Open creates an instance for cfg.API, picks the first discrete or
// integrated adapter and opens a device on it.
func Open(cfg Config) (*Device, error) {
	api := gputypes.BackendVulkan
	if cfg.API == rhi.APIDX12 {
		api = gputypes.BackendDX12
	}
	backend, ok := hal.GetBackend(api)
	if !ok {
		return nil, fmt.Errorf("%w: hal %s", rhi.ErrBackendNotAvailable, cfg.API)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no %s adapters", rhi.ErrBackendNotAvailable, cfg.API)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	d, err := newDevice(cfg, openDev.Device, openDev.Queue, selected.Info.Name)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	return d, nil
}

// Wrap adapts a device and queue owned by the caller. Destroy releases the
// objects rhi created but leaves device and queue alone.
func Wrap(cfg Config, device hal.Device, queue hal.Queue, adapterName string) (*Device, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil hal device or queue", rhi.ErrInvalidArgument)
	}
	return newDevice(cfg, device, queue, adapterName)
}

func newDevice(cfg Config, device hal.Device, queue hal.Queue, adapterName string) (*Device, error) {
	if cfg.DescriptorPageSize == 0 {
		cfg.DescriptorPageSize = 256
	}
	if cfg.API == rhi.APIUnknown {
		cfg.API = rhi.APIVulkan
	}
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	model := rhi.DescriptorModelPool
	if cfg.API == rhi.APIDX12 {
		model = rhi.DescriptorModelHeap
	}
	d := &Device{
		cfg: cfg,
		caps: rhi.DeviceCaps{
			API:                   cfg.API,
			DescriptorModel:       model,
			AdapterName:           adapterName,
			DescriptorPageSize:    cfg.DescriptorPageSize,
			CopyRowPitchAlignment: copyPitchAlignment,
			MaxColorAttachments:   rhi.MaxColorAttachments,
		},
		device: device,
		queue:  queue,
		fence:  fence,
	}
	slogger().Info("wgpu: device ready", "api", cfg.API, "adapter", adapterName, "label", cfg.Label)
	return d, nil
}

// Caps reports no push constants: hal pipelines bind data through groups only.
func (d *Device) Caps() rhi.DeviceCaps { return d.caps }

// Hal returns the wrapped device and queue.
func (d *Device) Hal() (hal.Device, hal.Queue) { return d.device, d.queue }

func (d *Device) CreateBuffer(desc rhi.NativeBufferDesc) (rhi.NativeBuffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", rhi.ErrInvalidArgument, desc.Label)
	}
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage, desc.HostVisible),
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	return &buffer{dev: d, raw: raw, desc: desc}, nil
}

func (d *Device) CreateTexture(info rhi.TextureInfo) (rhi.NativeTexture, error) {
	info = info.Normalized()
	if err := info.Validate(); err != nil {
		return nil, err
	}
	format, err := textureFormat(info.Format)
	if err != nil {
		return nil, err
	}
	raw, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         info.Name,
		Size:          extent(info.Width, info.Height, info.DepthOrLayers),
		MipLevelCount: info.MipLevels,
		SampleCount:   info.Samples,
		Dimension:     textureDimension(info.Type),
		Format:        format,
		Usage:         textureUsage(info.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", info.Name, err)
	}
	return &texture{dev: d, raw: raw, info: info}, nil
}

func (d *Device) CreateTextureView(tex rhi.NativeTexture, desc rhi.TextureViewDesc) (rhi.NativeTextureView, error) {
	t, ok := tex.(*texture)
	if !ok {
		return nil, fmt.Errorf("%w: foreign texture %T", rhi.ErrInvalidArgument, tex)
	}
	format, err := textureFormat(desc.Format)
	if err != nil {
		return nil, err
	}
	raw, err := d.device.CreateTextureView(t.raw, &hal.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          format,
		BaseMipLevel:    desc.BaseMip,
		MipLevelCount:   desc.MipCount,
		BaseArrayLayer:  desc.BaseLayer,
		ArrayLayerCount: desc.LayerCount,
	})
	if err != nil {
		return nil, fmt.Errorf("create view %q: %w", desc.Label, err)
	}
	return &textureView{dev: d, raw: raw, tex: t}, nil
}

// CreateShaderModule accepts SPIR-V words or WGSL text.
func (d *Device) CreateShaderModule(stage rhi.ShaderStage, code []byte, label string) (rhi.NativeShaderModule, error) {
	var src hal.ShaderSource
	if words, ok := rhi.SPIRVWords(code); ok {
		src.SPIRV = words
	} else {
		src.WGSL = string(code)
	}
	raw, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: label, Source: src})
	if err != nil {
		return nil, fmt.Errorf("create %s module %q: %w", stage, label, err)
	}
	return &shaderModule{dev: d, raw: raw}, nil
}

func (d *Device) CreateSampler(info rhi.SamplerCreateInfo) (rhi.NativeSampler, error) {
	raw, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "rhi_sampler",
		AddressModeU: addressMode(info.AddressU),
		AddressModeV: addressMode(info.AddressV),
		AddressModeW: addressMode(info.AddressW),
		MagFilter:    filterMode(info.MagFilter),
		MinFilter:    filterMode(info.MinFilter),
		MipmapFilter: filterMode(info.MipFilter),
	})
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}
	return &sampler{dev: d, raw: raw}, nil
}

func (d *Device) CreateDescriptorLayout(set uint32, desc rhi.DescriptorSetLayoutDesc) (rhi.NativeDescriptorLayout, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(desc.Bindings))
	for _, b := range desc.Bindings {
		e, err := layoutEntry(b)
		if err != nil {
			return nil, fmt.Errorf("set %d: %w", set, err)
		}
		entries = append(entries, e)
	}
	raw, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   fmt.Sprintf("rhi_set%d", set),
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create layout for set %d: %w", set, err)
	}
	return &descriptorLayout{dev: d, raw: raw, set: set}, nil
}

// CreateDescriptorPage reserves capacity bind-group slots. Groups are created
// lazily by Write.
func (d *Device) CreateDescriptorPage(capacity uint32) (rhi.NativeDescriptorPage, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%w: descriptor page of zero capacity", rhi.ErrInvalidArgument)
	}
	return &descriptorPage{dev: d, capacity: capacity, groups: make([]hal.BindGroup, capacity)}, nil
}

func (d *Device) CreateRenderpass(desc rhi.RenderpassDescription) (rhi.NativeRenderpass, error) {
	if !desc.IsValid() {
		return nil, fmt.Errorf("%w: renderpass description", rhi.ErrInvalidArgument)
	}
	for _, c := range desc.Colors {
		if _, err := textureFormat(c.Format); err != nil {
			return nil, err
		}
	}
	return &renderpass{desc: desc}, nil
}

func (d *Device) CreatePipeline(info rhi.PipelineCreateInfo) (rhi.NativePipeline, error) {
	if info.PushConstants.Size > 0 {
		return nil, fmt.Errorf("%w: push constants", rhi.ErrUnsupported)
	}
	layouts := make([]hal.BindGroupLayout, 0, len(info.Layouts))
	for i, l := range info.Layouts {
		dl, ok := l.(*descriptorLayout)
		if !ok {
			return nil, fmt.Errorf("%w: layout %d is %T", rhi.ErrInvalidArgument, i, l)
		}
		layouts = append(layouts, dl.raw)
	}
	pl, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            info.Label + "_layout",
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout %q: %w", info.Label, err)
	}
	desc, err := d.pipelineDescriptor(info, pl)
	if err != nil {
		d.device.DestroyPipelineLayout(pl)
		return nil, err
	}
	raw, err := d.device.CreateRenderPipeline(desc)
	if err != nil {
		d.device.DestroyPipelineLayout(pl)
		return nil, fmt.Errorf("create render pipeline %q: %w", info.Label, err)
	}
	return &pipeline{dev: d, raw: raw, layout: pl}, nil
}

func (d *Device) pipelineDescriptor(info rhi.PipelineCreateInfo, pl hal.PipelineLayout) (*hal.RenderPipelineDescriptor, error) {
	desc := &hal.RenderPipelineDescriptor{
		Label:  info.Label,
		Layout: pl,
		Primitive: gputypes.PrimitiveState{
			Topology:  topology(info.State.Topology),
			FrontFace: frontFace(info.State.Rasterizer.FrontCCW),
			CullMode:  cullMode(info.State.Rasterizer.Cull),
		},
		Multisample: gputypes.MultisampleState{
			Count: max(info.State.Samples, 1),
			Mask:  0xFFFFFFFF,
		},
	}
	buffers, err := vertexBuffers(info.VertexLayout)
	if err != nil {
		return nil, err
	}
	for _, st := range info.Stages {
		m, ok := st.Module.(*shaderModule)
		if !ok {
			return nil, fmt.Errorf("%w: %s module is %T", rhi.ErrInvalidArgument, st.Stage, st.Module)
		}
		switch st.Stage {
		case rhi.ShaderStageVertex:
			desc.Vertex = hal.VertexState{Module: m.raw, EntryPoint: st.EntryPoint, Buffers: buffers}
		case rhi.ShaderStagePixel:
			targets := make([]gputypes.ColorTargetState, 0, info.State.ColorCount)
			for _, f := range info.State.Colors() {
				tf, err := textureFormat(f)
				if err != nil {
					return nil, err
				}
				targets = append(targets, gputypes.ColorTargetState{
					Format:    tf,
					Blend:     blendState(info.State.Blend),
					WriteMask: gputypes.ColorWriteMaskAll,
				})
			}
			desc.Fragment = &hal.FragmentState{Module: m.raw, EntryPoint: st.EntryPoint, Targets: targets}
		default:
			return nil, fmt.Errorf("%w: %s stage", rhi.ErrUnsupported, st.Stage)
		}
	}
	if info.State.DepthFormat != rhi.FormatUndefined {
		tf, err := textureFormat(info.State.DepthFormat)
		if err != nil {
			return nil, err
		}
		compare := gputypes.CompareFunctionAlways
		if info.State.Depth.Test {
			compare = compareFunctions[info.State.Depth.Compare]
		}
		keep := hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
		desc.DepthStencil = &hal.DepthStencilState{
			Format:            tf,
			DepthWriteEnabled: info.State.Depth.Write,
			DepthCompare:      compare,
			StencilFront:      keep,
			StencilBack:       keep,
		}
	}
	return desc, nil
}

func (d *Device) CreateCommandEncoder(label string) (rhi.CommandEncoder, error) {
	if d.isDestroyed() {
		return nil, rhi.ErrDeviceLost
	}
	raw, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder %q: %w", label, err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin encoding %q: %w", label, err)
	}
	return &encoder{dev: d, raw: raw, label: label}, nil
}

// Submit signals the device fence with the next value once cmds retire.
func (d *Device) Submit(cmds ...rhi.NativeCommandBuffer) (uint64, error) {
	bufs := make([]hal.CommandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.raw == nil {
			return 0, fmt.Errorf("%w: command buffer %T", rhi.ErrInvalidArgument, c)
		}
		bufs = append(bufs, cb.raw)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return 0, rhi.ErrDeviceLost
	}
	value := d.submitted + 1
	if err := d.queue.Submit(bufs, d.fence, value); err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}
	d.submitted = value
	return value, nil
}

// CompletedValue polls the fence for the last submitted value.
func (d *Device) CompletedValue() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.completed < d.submitted {
		if ok, err := d.device.Wait(d.fence, d.submitted, 0); err == nil && ok {
			d.completed = d.submitted
		}
	}
	return d.completed
}

func (d *Device) Wait(value uint64, timeout time.Duration) error {
	d.mu.Lock()
	if value <= d.completed {
		d.mu.Unlock()
		return nil
	}
	if value > d.submitted {
		d.mu.Unlock()
		return fmt.Errorf("%w: wait for unsubmitted fence %d", rhi.ErrInvalidState, value)
	}
	fence := d.fence
	d.mu.Unlock()

	ok, err := d.device.Wait(fence, value, timeout)
	if err != nil {
		return fmt.Errorf("wait fence %d: %w", value, err)
	}
	if !ok {
		return fmt.Errorf("%w: fence %d after %s", rhi.ErrFenceTimeout, value, timeout)
	}
	d.mu.Lock()
	d.completed = max(d.completed, value)
	d.mu.Unlock()
	return nil
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	value := d.submitted
	d.mu.Unlock()
	if value == 0 {
		return nil
	}
	return d.Wait(value, 5*time.Second)
}

// Destroy waits for outstanding work, then releases the fence and, for a
// device created by Open, the hal device and instance.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	if err := d.WaitIdle(); err != nil && !errors.Is(err, rhi.ErrDeviceLost) {
		slogger().Warn("wgpu: destroy with pending work", "err", err)
	}
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()

	d.device.DestroyFence(d.fence)
	if d.instance != nil {
		d.device.Destroy()
		d.instance.Destroy()
	}
}

func (d *Device) isDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}
