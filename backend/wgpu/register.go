//go:build !nogpu

package wgpu

import (
	"github.com/gogpu/rhi"

	// Register the Vulkan hal backend via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	rhi.RegisterBackend(Backend{api: rhi.APIVulkan})
}
