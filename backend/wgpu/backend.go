// Package wgpu implements rhi.Device on the gogpu/wgpu hardware abstraction
// layer, reaching Vulkan everywhere and DX12 on Windows.
//
// hal has no push constants and no renderpass objects, so the device
// reports MaxPushConstantSize 0 and builds native passes when a renderpass
// begins. Descriptor pages are arrays of bind groups.
//
// Importing the package registers the backend:
//
//	import _ "github.com/gogpu/rhi/backend/wgpu"
package wgpu

import (
	"log/slog"

	"github.com/gogpu/rhi"
)

// Backend opens hal devices for one API through the rhi registry.
type Backend struct {
	api rhi.GraphicsAPI
}

// API returns the API this backend opens.
func (b Backend) API() rhi.GraphicsAPI { return b.api }

// Open opens a device on the first suitable adapter.
func (b Backend) Open(cfg rhi.BackendConfig) (rhi.Device, error) {
	return Open(Config{Label: cfg.Label, API: b.api})
}

// SetLogger receives the logger configured with rhi.SetLogger.
func (Backend) SetLogger(l *slog.Logger) { setLogger(l) }
