package rhi

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// RenderContext owns one native device and every cache built on it. It is
// constructed once at startup and passed explicitly to the components that
// need it.
type RenderContext struct {
	device Device
	caps   DeviceCaps
	opts   contextOptions

	releases     *ReleaseQueue
	shaders      *ShaderManager
	layouts      *DescriptorLayoutCache
	descriptors  *DescriptorAllocator
	samplers     *SamplerCache
	renderpasses *RenderpassCache
	pipelines    *PipelineCache
	uploads      *UploadQueue
	frames       *FrameResource[*FrameStats]
	watcher      *Watcher

	textures *Arena[*Texture]

	lastSubmitted atomic.Uint64
	submits       atomic.Uint64
	frameNumber   uint64
	inFrame       bool
	closed        atomic.Bool
}

// FrameStats are the per-frame counters accumulated by command lists.
type FrameStats struct {
	Frame        uint64
	CommandLists int
	Commands     CommandStats
}

// RenderStats is a read-only snapshot for editor and tool consumers.
type RenderStats struct {
	API               GraphicsAPI
	Adapter           string
	Frame             uint64
	Submits           uint64
	Shaders           int
	Pipelines         int
	Renderpasses      int
	Samplers          int
	DescriptorLayouts int
	DescriptorPages   int
	PendingUploads    int
	PendingReleases   int
	PipelineHitRate   float64
	LastFrame         FrameStats
}

// NewRenderContext opens a device (or adopts one passed through WithDevice)
// and builds the caches on top of it.
func NewRenderContext(opts ...Option) (*RenderContext, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}

	dev := o.device
	if dev == nil {
		var err error
		dev, err = OpenDevice(o.api, o.backendConfig)
		if err != nil {
			return nil, err
		}
	}

	rc := &RenderContext{
		device:   dev,
		caps:     dev.Caps(),
		opts:     o,
		releases: &ReleaseQueue{},
		textures: NewArena[*Texture](),
	}

	pageSize := o.descriptorPage
	if pageSize == 0 {
		pageSize = rc.caps.DescriptorPageSize
	}
	if pageSize == 0 {
		pageSize = DefaultDescriptorPageSize
	}

	shaderFS := o.shaderFS
	if shaderFS == nil && o.shaderRoot != "" {
		shaderFS = os.DirFS(o.shaderRoot)
	}
	compiler := o.compiler
	if compiler == nil {
		compiler = NagaCompiler{}
	}

	rc.shaders = newShaderManager(rc, compiler, shaderFS, o.blobCacheSize)
	rc.layouts = newDescriptorLayoutCache(rc)
	rc.descriptors = newDescriptorAllocator(rc, pageSize)
	rc.samplers = newSamplerCache(rc)
	rc.renderpasses = newRenderpassCache(rc)
	rc.pipelines = newPipelineCache(rc)
	rc.uploads = newUploadQueue(rc)
	rc.frames = NewFrameResource(rc, func(int) *FrameStats { return &FrameStats{} })

	if o.hotReload {
		if o.shaderRoot == "" {
			Logger().Warn("rhi: hot reload requested without a shader root")
		} else {
			w, err := NewWatcher(rc.shaders, o.shaderRoot)
			if err != nil {
				dev.Destroy()
				return nil, fmt.Errorf("rhi: start shader watcher: %w", err)
			}
			rc.watcher = w
		}
	}

	Logger().Info("rhi: render context ready",
		"api", rc.caps.API,
		"adapter", rc.caps.AdapterName,
		"frames", o.framesInFlight,
		"descriptor_model", rc.caps.DescriptorModel)
	return rc, nil
}

// Device returns the native device.
func (rc *RenderContext) Device() Device { return rc.device }

// Caps returns the device capabilities.
func (rc *RenderContext) Caps() DeviceCaps { return rc.caps }

// GetGraphicsAPI reports the active backend.
func (rc *RenderContext) GetGraphicsAPI() GraphicsAPI { return rc.caps.API }

// FramesInFlight returns the number of frame-resource slots.
func (rc *RenderContext) FramesInFlight() int { return rc.opts.framesInFlight }

// SwapchainFormat returns the back-buffer format.
func (rc *RenderContext) SwapchainFormat() Format { return rc.opts.swapchainFormat }

// FrameNumber returns the number of completed EndFrame calls.
func (rc *RenderContext) FrameNumber() uint64 { return rc.frameNumber }

// Shaders returns the shader manager.
func (rc *RenderContext) Shaders() *ShaderManager { return rc.shaders }

// DescriptorLayouts returns the descriptor-set layout cache.
func (rc *RenderContext) DescriptorLayouts() *DescriptorLayoutCache { return rc.layouts }

// Descriptors returns the paged descriptor allocator.
func (rc *RenderContext) Descriptors() *DescriptorAllocator { return rc.descriptors }

// Samplers returns the sampler cache.
func (rc *RenderContext) Samplers() *SamplerCache { return rc.samplers }

// Renderpasses returns the renderpass cache.
func (rc *RenderContext) Renderpasses() *RenderpassCache { return rc.renderpasses }

// Pipelines returns the pipeline cache.
func (rc *RenderContext) Pipelines() *PipelineCache { return rc.pipelines }

// Uploads returns the asynchronous upload queue.
func (rc *RenderContext) Uploads() *UploadQueue { return rc.uploads }

// Releases returns the deferred release queue.
func (rc *RenderContext) Releases() *ReleaseQueue { return rc.releases }

// Textures returns the arena of live textures.
func (rc *RenderContext) Textures() *Arena[*Texture] { return rc.textures }

// BeginFrame retires completed GPU work and submits queued uploads so the
// frame's draws are ordered after them.
func (rc *RenderContext) BeginFrame() error {
	if rc.closed.Load() {
		return contractError("begin frame", ErrReleased)
	}
	if rc.inFrame {
		return contractError("begin frame", fmt.Errorf("%w: frame already begun", ErrInvalidState))
	}
	rc.inFrame = true

	rc.Collect()
	stats := rc.frames.Current()
	*stats = FrameStats{Frame: rc.frameNumber}

	if err := rc.uploads.Flush(); err != nil {
		// Uploads stay below Completed; consumers skip them this frame.
		Logger().Warn("rhi: upload flush failed", "err", err)
	}
	return nil
}

// EndFrame records the fence that retires this frame's work, then moves to
// the next frame slot, waiting for the GPU to finish with it.
func (rc *RenderContext) EndFrame() error {
	if !rc.inFrame {
		return contractError("end frame", fmt.Errorf("%w: frame not begun", ErrInvalidState))
	}
	rc.inFrame = false
	rc.frames.SetFence(rc.lastSubmitted.Load())
	rc.frameNumber++
	return rc.frames.Advance()
}

// CurrentFrame returns the active slot's statistics.
func (rc *RenderContext) CurrentFrame() *FrameStats { return rc.frames.Current() }

// Collect runs deferred releases whose fence has retired and completes
// finished uploads. BeginFrame calls it; tools without a frame loop may call
// it directly.
func (rc *RenderContext) Collect() {
	completed := rc.device.CompletedValue()
	rc.releases.Collect(completed)
	rc.uploads.Poll()
}

// Submit hands a finished command buffer to the device. The command buffer
// is destroyed once its fence retires.
func (rc *RenderContext) Submit(cmd NativeCommandBuffer) (uint64, error) {
	fence, err := rc.device.Submit(cmd)
	if err != nil {
		cmd.Destroy()
		return 0, NativeError("submit", err)
	}
	for {
		cur := rc.lastSubmitted.Load()
		if fence <= cur || rc.lastSubmitted.CompareAndSwap(cur, fence) {
			break
		}
	}
	rc.submits.Add(1)
	rc.releases.DeferObject(fence, cmd)
	return fence, nil
}

// LastSubmitted returns the highest fence value handed out by Submit.
func (rc *RenderContext) LastSubmitted() uint64 { return rc.lastSubmitted.Load() }

// DeferRelease destroys obj once every submission made so far has retired.
func (rc *RenderContext) DeferRelease(obj NativeObject) {
	rc.releases.DeferObject(rc.lastSubmitted.Load(), obj)
}

func (rc *RenderContext) waitFence(value uint64) error {
	if value == 0 || rc.device.CompletedValue() >= value {
		return nil
	}
	if err := rc.device.Wait(value, rc.opts.fenceTimeout); err != nil {
		if errors.Is(err, ErrFenceTimeout) {
			return &Error{Op: "wait fence", Kind: KindRecoverable, Err: err}
		}
		return NativeError("wait fence", err)
	}
	return nil
}

// submitAndWait records a one-off command buffer, submits it and blocks
// until the GPU has finished it. It is the staging fallback of Upload and
// Download.
func (rc *RenderContext) submitAndWait(label string, record func(CommandEncoder)) error {
	enc, err := rc.device.CreateCommandEncoder(label)
	if err != nil {
		return NativeError(label, err)
	}
	record(enc)
	cmd, err := enc.Finish()
	if err != nil {
		return NativeError(label, err)
	}
	fence, err := rc.Submit(cmd)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := rc.waitFence(fence); err != nil {
		return err
	}
	Logger().Debug("rhi: blocking submit", "label", label, "fence", fence, "wait", time.Since(start))
	return nil
}

// WaitIdle blocks until all submitted GPU work has retired.
func (rc *RenderContext) WaitIdle() error {
	if err := rc.device.WaitIdle(); err != nil {
		return NativeError("wait idle", err)
	}
	return nil
}

// Stats returns a snapshot of cache sizes and the last frame's counters.
func (rc *RenderContext) Stats() RenderStats {
	last := rc.frames.slots[(rc.frames.index+rc.frames.Len()-1)%rc.frames.Len()]
	return RenderStats{
		API:               rc.caps.API,
		Adapter:           rc.caps.AdapterName,
		Frame:             rc.frameNumber,
		Submits:           rc.submits.Load(),
		Shaders:           rc.shaders.Len(),
		Pipelines:         rc.pipelines.Len(),
		Renderpasses:      rc.renderpasses.Len(),
		Samplers:          rc.samplers.Len(),
		DescriptorLayouts: rc.layouts.Len(),
		DescriptorPages:   rc.descriptors.Pages(),
		PendingUploads:    rc.uploads.Pending() + rc.uploads.InFlight(),
		PendingReleases:   rc.releases.Len(),
		PipelineHitRate:   rc.pipelines.HitRate(),
		LastFrame:         *last,
	}
}

// ReleaseCaches clears every hash-keyed cache after waiting for the device
// to go idle. Call it on swapchain resize, when formats and layouts may
// change.
func (rc *RenderContext) ReleaseCaches() error {
	if err := rc.WaitIdle(); err != nil {
		return err
	}
	rc.pipelines.ReleaseAll()
	rc.renderpasses.ReleaseAll()
	rc.descriptors.ReleaseAll()
	rc.layouts.ReleaseAll()
	rc.samplers.ReleaseAll()
	rc.releases.Flush()
	return nil
}

// Close waits for the device to go idle, releases every cache and destroys
// the device. Resources created by callers must be released before Close.
func (rc *RenderContext) Close() error {
	if !rc.closed.CompareAndSwap(false, true) {
		return nil
	}
	if rc.watcher != nil {
		_ = rc.watcher.Close()
	}

	idleErr := rc.WaitIdle()
	rc.uploads.Poll()
	rc.pipelines.ReleaseAll()
	rc.renderpasses.ReleaseAll()
	rc.descriptors.ReleaseAll()
	rc.layouts.ReleaseAll()
	rc.samplers.ReleaseAll()
	rc.shaders.ReleaseAll()
	rc.uploads.discard()
	rc.releases.Flush()
	rc.device.Destroy()
	return idleErr
}
