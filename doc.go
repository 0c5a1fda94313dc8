// Package rhi provides a render hardware interface for Go.
//
// # Overview
//
// rhi presents one API over two structurally different native graphics
// models: a descriptor-heap/command-list model and a descriptor-pool/
// command-buffer model. On top of the native [Device] it manages GPU object
// lifetime across frames in flight, deduplicates expensive object creation by
// content hash, and moves data between CPU and GPU memory.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/rhi"
//	    _ "github.com/gogpu/rhi/backend/software"
//	)
//
//	rc, err := rhi.NewRenderContext(rhi.WithBackend(rhi.APISoftware))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rc.Close()
//
//	vb, _ := rhi.CreateBuffer(rc, rhi.BufferDesc{Type: rhi.BufferVertex, Size: 1024})
//	_, _ = vb.Upload(vertices, 0, 4)
//
// # Architecture
//
// The package is organized into:
//   - Resources: [Buffer], [Texture], [Shader], generic [ResourceManager] and [ResourceCache]
//   - Caches: [ShaderManager], [DescriptorLayoutCache], [DescriptorAllocator],
//     [SamplerCache], [RenderpassCache], [PipelineCache]
//   - Frame layer: [CommandList], [UploadQueue], [FrameResource], [ReleaseQueue]
//   - [RenderContext], which owns all of the above for one device
//
// Per-frame pass scheduling lives in the rendergraph sub-package. Native
// backends live under backend/ and register themselves with [RegisterBackend].
//
// # Thread Safety
//
// Recording and graph execution happen on a single render goroutine. The
// hash-keyed caches, the shader reload queue and the upload queue are safe for
// concurrent use, each guarded by its own lock.
package rhi
