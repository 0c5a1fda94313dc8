//go:build windows && !nogpu

package wgpu

import (
	"github.com/gogpu/rhi"

	_ "github.com/gogpu/wgpu/hal/dx12"
)

func init() {
	rhi.RegisterBackend(Backend{api: rhi.APIDX12})
}
