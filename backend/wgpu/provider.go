package wgpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

// halProvider is implemented by gpucontext providers backed by gogpu/wgpu.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewFromProvider wraps the hal device of an application-owned provider,
// such as a gogpu window. The provider keeps ownership of device and queue.
func NewFromProvider(p gpucontext.DeviceProvider, cfg Config) (*Device, error) {
	hp, ok := p.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %T does not expose hal objects", rhi.ErrInvalidArgument, p)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", rhi.ErrInvalidArgument)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", rhi.ErrInvalidArgument)
	}
	return Wrap(cfg, device, queue, "provider")
}

// SurfaceFormat returns the provider's swapchain format as an rhi.Format.
func SurfaceFormat(p gpucontext.DeviceProvider) (rhi.Format, error) {
	return fromTextureFormat(p.SurfaceFormat())
}

func fromTextureFormat(tf gputypes.TextureFormat) (rhi.Format, error) {
	for f, g := range textureFormats {
		if g == tf {
			return f, nil
		}
	}
	return rhi.FormatUndefined, fmt.Errorf("%w: surface format %v", rhi.ErrUnsupported, tf)
}
