package rhi

import (
	"io/fs"
	"log/slog"
	"time"
)

// Option configures a RenderContext during creation.
//
// Example:
//
//	rc, err := rhi.NewRenderContext(
//	    rhi.WithBackend(rhi.APIVulkan),
//	    rhi.WithFramesInFlight(3),
//	    rhi.WithShaderRoot("assets/shaders"),
//	)
type Option func(*contextOptions)

// contextOptions holds optional configuration for RenderContext creation.
type contextOptions struct {
	api             GraphicsAPI
	device          Device
	backendConfig   BackendConfig
	framesInFlight  int
	compiler        Compiler
	shaderFS        fs.FS
	shaderRoot      string
	hotReload       bool
	descriptorPage  uint32
	fenceTimeout    time.Duration
	logger          *slog.Logger
	blobCacheSize   int
	swapchainFormat Format
}

// DefaultFramesInFlight is the number of frame-resource slots.
const DefaultFramesInFlight = 2

// DefaultFenceTimeout bounds every blocking fence wait.
const DefaultFenceTimeout = 5 * time.Second

func defaultOptions() contextOptions {
	return contextOptions{
		framesInFlight:  DefaultFramesInFlight,
		fenceTimeout:    DefaultFenceTimeout,
		swapchainFormat: FormatBGRA8Unorm,
	}
}

// WithBackend selects the graphics API. The default, APIUnknown, picks the
// highest-priority registered backend.
func WithBackend(api GraphicsAPI) Option {
	return func(o *contextOptions) {
		o.api = api
	}
}

// WithDevice uses an already opened native device instead of opening one
// through the backend registry. The RenderContext takes ownership of it.
func WithDevice(d Device) Option {
	return func(o *contextOptions) {
		o.device = d
	}
}

// WithBackendConfig sets the configuration passed to Backend.Open.
func WithBackendConfig(cfg BackendConfig) Option {
	return func(o *contextOptions) {
		o.backendConfig = cfg
	}
}

// WithFramesInFlight sets the number of frames the CPU may run ahead of the
// GPU. Values below 1 are ignored.
func WithFramesInFlight(n int) Option {
	return func(o *contextOptions) {
		if n >= 1 {
			o.framesInFlight = n
		}
	}
}

// WithCompiler replaces the shader compiler used for non-SPIR-V sources.
// The default is NagaCompiler.
func WithCompiler(c Compiler) Option {
	return func(o *contextOptions) {
		o.compiler = c
	}
}

// WithShaderRoot reads shader sources from a directory on disk. Hot reload
// watches this directory.
func WithShaderRoot(dir string) Option {
	return func(o *contextOptions) {
		o.shaderRoot = dir
	}
}

// WithShaderFS reads shader sources from fsys. It takes precedence over
// WithShaderRoot for reading; hot reload still needs a root on disk.
func WithShaderFS(fsys fs.FS) Option {
	return func(o *contextOptions) {
		o.shaderFS = fsys
	}
}

// WithHotReload watches the shader root and queues changed shaders for
// recompilation.
func WithHotReload(enabled bool) Option {
	return func(o *contextOptions) {
		o.hotReload = enabled
	}
}

// WithDescriptorPageSize overrides the number of slots per descriptor page.
func WithDescriptorPageSize(n uint32) Option {
	return func(o *contextOptions) {
		o.descriptorPage = n
	}
}

// WithFenceTimeout bounds blocking fence waits.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *contextOptions) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithLogger calls SetLogger before the context is built.
func WithLogger(l *slog.Logger) Option {
	return func(o *contextOptions) {
		o.logger = l
	}
}

// WithShaderBlobCache sets the per-shard entry count of the compiled blob cache.
func WithShaderBlobCache(entries int) Option {
	return func(o *contextOptions) {
		o.blobCacheSize = entries
	}
}

// WithSwapchainFormat sets the back-buffer format used by swapchain passes.
func WithSwapchainFormat(f Format) Option {
	return func(o *contextOptions) {
		if f != FormatUndefined {
			o.swapchainFormat = f
		}
	}
}
