// Package software is a CPU implementation of rhi.Device.
//
// It executes copies, clears and descriptor writes on host memory and
// validates usage the way a native driver's validation layer would, but it
// does not rasterise draws; draws are counted. It backs the tests of rhi and
// its render graph and runs headless tools without a GPU.
//
// Importing the package registers it for rhi.APISoftware:
//
//	import _ "github.com/gogpu/rhi/backend/software"
package software

import (
	"log/slog"

	"github.com/gogpu/rhi"
)

func init() {
	rhi.RegisterBackend(Backend{})
}

// Backend opens software devices through the rhi registry.
type Backend struct{}

// API returns rhi.APISoftware.
func (Backend) API() rhi.GraphicsAPI { return rhi.APISoftware }

// Open creates a device emulating the descriptor model requested in cfg.
func (Backend) Open(cfg rhi.BackendConfig) (rhi.Device, error) {
	return New(Config{Label: cfg.Label, DescriptorModel: cfg.DescriptorModel}), nil
}

// SetLogger receives the logger configured with rhi.SetLogger.
func (Backend) SetLogger(l *slog.Logger) { setLogger(l) }
