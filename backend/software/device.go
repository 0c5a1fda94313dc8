package software

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/rhi"
)

// Config configures a software device.
type Config struct {
	Label           string
	DescriptorModel rhi.DescriptorModel

	// PageSize is the preferred descriptor page capacity. Zero means 256.
	PageSize uint32

	// RowPitchAlignment is the required BytesPerRow alignment of
	// buffer/texture copies. Zero means 256, as on D3D12.
	RowPitchAlignment uint32

	// MaxDescriptorPages limits descriptor pages; zero is unlimited.
	MaxDescriptorPages int

	// ManualFences keeps submitted work pending until Signal is called.
	// Tests use it to observe in-flight states.
	ManualFences bool
}

// Stats counts live objects and executed commands.
type Stats struct {
	Buffers, Textures, Views, ShaderModules, Samplers int
	Layouts, Pages, Renderpasses, Pipelines           int
	CommandBuffers                                    int

	Submits          int
	Draws            int
	DrawsIndexed     int
	Barriers         int
	Copies           int
	Clears           int
	DescriptorWrites int
	LayoutMismatches int
}

// Live returns the total number of live objects.
func (s Stats) Live() int {
	return s.Buffers + s.Textures + s.Views + s.ShaderModules + s.Samplers +
		s.Layouts + s.Pages + s.Renderpasses + s.Pipelines + s.CommandBuffers
}

// Device is a CPU rhi.Device. It is safe for concurrent use.
type Device struct {
	cfg  Config
	caps rhi.DeviceCaps

	mu        sync.Mutex
	stats     Stats
	submitted uint64
	completed uint64
	signal    chan struct{}
	destroyed bool
}

var _ rhi.Device = (*Device)(nil)

// New creates a software device.
func New(cfg Config) *Device {
	if cfg.PageSize == 0 {
		cfg.PageSize = 256
	}
	if cfg.RowPitchAlignment == 0 {
		cfg.RowPitchAlignment = 256
	}
	name := "rhi software (heap model)"
	if cfg.DescriptorModel == rhi.DescriptorModelPool {
		name = "rhi software (pool model)"
	}
	d := &Device{
		cfg: cfg,
		caps: rhi.DeviceCaps{
			API:                   rhi.APISoftware,
			DescriptorModel:       cfg.DescriptorModel,
			AdapterName:           name,
			DescriptorPageSize:    cfg.PageSize,
			CopyRowPitchAlignment: cfg.RowPitchAlignment,
			MaxPushConstantSize:   128,
			MaxColorAttachments:   rhi.MaxColorAttachments,
		},
		signal: make(chan struct{}),
	}
	slogger().Debug("software: device created", "label", cfg.Label, "model", cfg.DescriptorModel)
	return d
}

// Caps returns the emulated capabilities.
func (d *Device) Caps() rhi.DeviceCaps { return d.caps }

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Device) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

// CreateBuffer allocates host memory. Only host-visible buffers accept
// Write and Read; the rest must be filled with copies.
func (d *Device) CreateBuffer(desc rhi.NativeBufferDesc) (rhi.NativeBuffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("software: create buffer %q: zero size", desc.Label)
	}
	b := &buffer{data: make([]byte, desc.Size), desc: desc}
	b.init(d, func(s *Stats, n int) { s.Buffers += n })
	return b, nil
}

// CreateTexture allocates every mip of every layer.
func (d *Device) CreateTexture(info rhi.TextureInfo) (rhi.NativeTexture, error) {
	info = info.Normalized()
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("software: create texture: %w", err)
	}
	t := newTexture(info)
	t.init(d, func(s *Stats, n int) { s.Textures += n })
	return t, nil
}

// CreateTextureView checks the range against the texture.
func (d *Device) CreateTextureView(tex rhi.NativeTexture, desc rhi.TextureViewDesc) (rhi.NativeTextureView, error) {
	t, ok := tex.(*texture)
	if !ok || t.isDestroyed() {
		return nil, errors.New("software: create view: invalid texture")
	}
	if desc.BaseMip+desc.MipCount > t.info.MipLevels || desc.BaseLayer+desc.LayerCount > t.info.Layers() {
		return nil, fmt.Errorf("software: create view %q: range outside texture", desc.Label)
	}
	v := &textureView{tex: t, desc: desc}
	v.init(d, func(s *Stats, n int) { s.Views += n })
	return v, nil
}

// CreateShaderModule keeps a copy of code.
func (d *Device) CreateShaderModule(stage rhi.ShaderStage, code []byte, label string) (rhi.NativeShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("software: shader module %q: empty code", label)
	}
	m := &shaderModule{stage: stage, code: append([]byte(nil), code...), label: label}
	m.init(d, func(s *Stats, n int) { s.ShaderModules += n })
	return m, nil
}

// CreateSampler records info.
func (d *Device) CreateSampler(info rhi.SamplerCreateInfo) (rhi.NativeSampler, error) {
	s := &sampler{info: info}
	s.init(d, func(st *Stats, n int) { st.Samplers += n })
	return s, nil
}

// CreateDescriptorLayout checks for duplicate bindings.
func (d *Device) CreateDescriptorLayout(set uint32, desc rhi.DescriptorSetLayoutDesc) (rhi.NativeDescriptorLayout, error) {
	seen := make(map[uint32]bool, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if seen[b.Binding] {
			return nil, fmt.Errorf("software: set %d: binding %d declared twice", set, b.Binding)
		}
		seen[b.Binding] = true
	}
	l := &descriptorLayout{set: set, desc: desc}
	l.init(d, func(s *Stats, n int) { s.Layouts += n })
	return l, nil
}

// CreateDescriptorPage creates a heap (heap model) or pool (pool model)
// of capacity slots.
func (d *Device) CreateDescriptorPage(capacity uint32) (rhi.NativeDescriptorPage, error) {
	if capacity == 0 {
		return nil, errors.New("software: descriptor page: zero capacity")
	}
	if limit := d.cfg.MaxDescriptorPages; limit > 0 && d.Stats().Pages >= limit {
		return nil, fmt.Errorf("software: descriptor page limit %d reached", limit)
	}
	p := &descriptorPage{model: d.cfg.DescriptorModel, capacity: capacity, slots: make(map[uint32][]rhi.DescriptorWrite)}
	p.init(d, func(s *Stats, n int) { s.Pages += n })
	return p, nil
}

// CreateRenderpass records the attachment description.
func (d *Device) CreateRenderpass(desc rhi.RenderpassDescription) (rhi.NativeRenderpass, error) {
	if !desc.IsValid() {
		return nil, errors.New("software: invalid renderpass description")
	}
	rp := &renderpass{desc: desc}
	rp.init(d, func(s *Stats, n int) { s.Renderpasses += n })
	return rp, nil
}

// CreatePipeline checks that every referenced object is alive.
func (d *Device) CreatePipeline(info rhi.PipelineCreateInfo) (rhi.NativePipeline, error) {
	if len(info.Stages) == 0 {
		return nil, fmt.Errorf("software: pipeline %q: no stages", info.Label)
	}
	for _, st := range info.Stages {
		m, ok := st.Module.(*shaderModule)
		if !ok || m.isDestroyed() {
			return nil, fmt.Errorf("software: pipeline %q: %s module destroyed", info.Label, st.Stage)
		}
	}
	for i, l := range info.Layouts {
		if dl, ok := l.(*descriptorLayout); !ok || dl.isDestroyed() {
			return nil, fmt.Errorf("software: pipeline %q: layout %d invalid", info.Label, i)
		}
	}
	if rp, ok := info.Renderpass.(*renderpass); !ok || rp.isDestroyed() {
		return nil, fmt.Errorf("software: pipeline %q: renderpass invalid", info.Label)
	}
	p := &pipeline{info: info}
	p.init(d, func(s *Stats, n int) { s.Pipelines += n })
	return p, nil
}

// CreateCommandEncoder starts a recording.
func (d *Device) CreateCommandEncoder(label string) (rhi.CommandEncoder, error) {
	if d.isDestroyed() {
		return nil, rhi.ErrDeviceLost
	}
	return &encoder{dev: d, label: label}, nil
}

// Submit executes the command buffers in order on the calling goroutine and
// returns their fence value. With ManualFences the value is not completed
// until Signal.
func (d *Device) Submit(cmds ...rhi.NativeCommandBuffer) (uint64, error) {
	if d.isDestroyed() {
		return 0, rhi.ErrDeviceLost
	}
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.isDestroyed() {
			return 0, errors.New("software: submit: invalid command buffer")
		}
		if cb.submitted {
			return 0, fmt.Errorf("software: submit: %q submitted twice", cb.label)
		}
		cb.submitted = true
		for _, op := range cb.ops {
			if err := op(d); err != nil {
				return 0, fmt.Errorf("software: %q: %w", cb.label, err)
			}
		}
	}

	d.mu.Lock()
	d.submitted++
	fence := d.submitted
	d.stats.Submits++
	manual := d.cfg.ManualFences
	d.mu.Unlock()

	if !manual {
		d.Signal(fence)
	}
	slogger().Debug("software: submit", "cmds", len(cmds), "fence", fence)
	return fence, nil
}

// Signal completes every fence value up to value.
func (d *Device) Signal(value uint64) {
	d.mu.Lock()
	if value > d.submitted {
		value = d.submitted
	}
	if value > d.completed {
		d.completed = value
		close(d.signal)
		d.signal = make(chan struct{})
	}
	d.mu.Unlock()
}

// SubmittedValue returns the last fence value handed out by Submit.
func (d *Device) SubmittedValue() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

// CompletedValue returns the highest completed fence value.
func (d *Device) CompletedValue() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// Wait blocks until value completes or timeout elapses.
func (d *Device) Wait(value uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		d.mu.Lock()
		if d.completed >= value {
			d.mu.Unlock()
			return nil
		}
		if value > d.submitted {
			d.mu.Unlock()
			return fmt.Errorf("software: wait for unsubmitted fence %d", value)
		}
		ch := d.signal
		d.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return fmt.Errorf("%w: fence %d after %s", rhi.ErrFenceTimeout, value, timeout)
		}
	}
}

// WaitIdle completes all submitted work. Software work has already executed
// by the time Submit returns, so pending manual fences are signalled.
func (d *Device) WaitIdle() error {
	d.Signal(d.SubmittedValue())
	return nil
}

// Destroy marks the device lost. Objects still alive are logged.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	live := d.stats.Live()
	d.mu.Unlock()
	if live > 0 {
		slogger().Warn("software: device destroyed with live objects", "live", live)
	}
}

func (d *Device) isDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}
