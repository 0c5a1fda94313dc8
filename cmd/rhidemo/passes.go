package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/rendergraph"
)

const shadowMapSize = 1024

var shadowShader = rhi.ShaderDesc{Vertex: "fullscreen.vert.wgsl"}

var forwardShader = rhi.ShaderDesc{
	Vertex: "fullscreen.vert.wgsl",
	Pixel:  "forward.frag.wgsl",
}

var compositeShader = rhi.ShaderDesc{
	Vertex: "fullscreen.vert.wgsl",
	Pixel:  "composite.frag.wgsl",
}

type shadowData struct {
	depth rendergraph.TextureHandle
}

type forwardData struct {
	shadow, color, depth rendergraph.TextureHandle
}

type compositeData struct {
	hdr rendergraph.TextureHandle
}

func drawFullscreen(pc *rendergraph.PassContext) {
	if pc.Pipeline != nil {
		pc.Cmd.Draw(3, 1, 0, 0)
	}
}

func addShadowPass(g *rendergraph.Graph) {
	rendergraph.AddPass(g, "shadow", func(b *rendergraph.Builder, d *shadowData) {
		d.depth = b.WriteDepthStencil(b.CreateTexture("shadow_map", rhi.TextureInfo{
			Width: shadowMapSize, Height: shadowMapSize,
			Format: rhi.FormatDepth32Float, Usage: rhi.TextureUsageSampled,
		}))
		b.SetShader(shadowShader)
		b.SetPipeline(rhi.PipelineStateObject{
			Rasterizer: rhi.RasterizerState{Cull: rhi.CullBack, DepthBias: 1.5, DepthClip: true},
			Depth:      rhi.DepthState{Test: true, Write: true, Compare: rhi.CompareLess},
		})
		b.SetClearDepth(1)
	}, func(pc *rendergraph.PassContext, _ *shadowData) {
		drawFullscreen(pc)
	})
}

func addForwardPass(g *rendergraph.Graph, width, height uint32) {
	rendergraph.AddPass(g, "forward", func(b *rendergraph.Builder, d *forwardData) {
		d.shadow = b.ReadTexture(b.CreateTexture("shadow_map", rhi.TextureInfo{
			Width: shadowMapSize, Height: shadowMapSize,
			Format: rhi.FormatDepth32Float, Usage: rhi.TextureUsageSampled,
		}))
		d.color = b.WriteTexture(b.CreateTexture("hdr", rhi.TextureInfo{
			Width: width, Height: height, Format: rhi.FormatRGBA16Float, Usage: rhi.TextureUsageSampled,
		}))
		d.depth = b.WriteDepthStencil(b.CreateTexture("scene_depth", rhi.TextureInfo{
			Width: width, Height: height, Format: rhi.FormatDepth32Float,
		}))
		b.SetShader(forwardShader)
		b.SetPipeline(rhi.PipelineStateObject{
			Rasterizer: rhi.RasterizerState{Cull: rhi.CullBack, FrontCCW: true},
			Depth:      rhi.DepthState{Test: true, Write: true, Compare: rhi.CompareLessEqual},
		})
		b.SetClearColor(rhi.Color{R: 0.05, G: 0.05, B: 0.08, A: 1})
		b.SetClearDepth(1)
	}, func(pc *rendergraph.PassContext, _ *forwardData) {
		drawFullscreen(pc)
	})
}

func addCompositePass(g *rendergraph.Graph, width, height uint32) {
	rendergraph.AddPass(g, "composite", func(b *rendergraph.Builder, d *compositeData) {
		d.hdr = b.ReadTexture(b.CreateTexture("hdr", rhi.TextureInfo{
			Width: width, Height: height, Format: rhi.FormatRGBA16Float, Usage: rhi.TextureUsageSampled,
		}))
		b.SetShader(compositeShader)
		b.SetSwapchainTarget()
		b.SetClearColor(rhi.Color{A: 1})
	}, func(pc *rendergraph.PassContext, _ *compositeData) {
		drawFullscreen(pc)
	})
}

// savePNG reads the back buffer and encodes it. Only 8-bit RGBA and BGRA
// formats are supported.
func savePNG(tex *rhi.Texture, path string) error {
	var swap bool
	switch tex.Format() {
	case rhi.FormatRGBA8Unorm, rhi.FormatRGBA8UnormSrgb:
	case rhi.FormatBGRA8Unorm, rhi.FormatBGRA8UnormSrgb:
		swap = true
	default:
		return fmt.Errorf("save %s: unsupported format %s", path, tex.Format())
	}
	pixels, err := tex.Download()
	if err != nil {
		return fmt.Errorf("download back buffer: %w", err)
	}

	w, h := int(tex.Width()), int(tex.Height())
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i+3 < len(pixels) && i/4 < w*h; i += 4 {
		c := color.NRGBA{R: pixels[i], G: pixels[i+1], B: pixels[i+2], A: pixels[i+3]}
		if swap {
			c.R, c.B = c.B, c.R
		}
		img.SetNRGBA((i/4)%w, (i/4)/w, c)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
