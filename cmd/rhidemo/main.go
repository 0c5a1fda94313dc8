// Command rhidemo renders a shadow, forward and composite frame sequence
// through the render graph and prints the resulting statistics.
package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/rendergraph"

	_ "github.com/gogpu/rhi/backend/software"
	_ "github.com/gogpu/rhi/backend/wgpu"
)

//go:embed shaders/*.wgsl
var shaderFiles embed.FS

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file")
		backend    = flag.String("backend", "software", "graphics API: software, vulkan or dx12")
		width      = flag.Int("width", 800, "back buffer width")
		height     = flag.Int("height", 600, "back buffer height")
		frames     = flag.Int("frames", 3, "frames to render")
		output     = flag.String("output", "", "write the last back buffer to this PNG file")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	cfg := &rhi.Config{Backend: *backend}
	if *configPath != "" {
		loaded, err := rhi.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		if cfg.Backend == "" {
			cfg.Backend = *backend
		}
	}

	level, err := cfg.Level()
	if err != nil {
		log.Fatalf("Bad config: %v", err)
	}
	if *verbose {
		level = slog.LevelDebug
	}

	opts, err := cfg.Options()
	if err != nil {
		log.Fatalf("Bad config: %v", err)
	}
	opts = append(opts, rhi.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))))
	if cfg.Shaders.Root == "" {
		sub, err := fs.Sub(shaderFiles, "shaders")
		if err != nil {
			log.Fatalf("Embedded shaders: %v", err)
		}
		opts = append(opts, rhi.WithShaderFS(sub))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, uint32(max(*width, 1)), uint32(max(*height, 1)), *frames, *output); err != nil { //nolint:gosec // G115: clamped positive
		log.Fatalf("rhidemo: %v", err)
	}
}

func run(ctx context.Context, opts []rhi.Option, width, height uint32, frames int, output string) error {
	rc, err := rhi.NewRenderContext(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	g, err := rendergraph.New(rc)
	if err != nil {
		return err
	}
	defer g.Release()

	backbuffer, err := rhi.CreateTexture(rc, rhi.TextureInfo{
		Width: width, Height: height, Format: rc.SwapchainFormat(),
		Usage: rhi.TextureUsageRenderTarget | rhi.TextureUsageCopySrc,
		Name:  "backbuffer",
	})
	if err != nil {
		return err
	}
	defer backbuffer.Release()
	g.SetBackbuffer(backbuffer)

	for i := 0; i < frames; i++ {
		if err := renderFrame(ctx, rc, g, width, height); err != nil {
			return err
		}
	}
	if err := rc.WaitIdle(); err != nil {
		return err
	}
	report(rc, g)

	if output != "" {
		if err := savePNG(backbuffer, output); err != nil {
			return err
		}
		log.Printf("Back buffer saved to %s (%dx%d)\n", output, width, height)
	}
	return nil
}

func renderFrame(ctx context.Context, rc *rhi.RenderContext, g *rendergraph.Graph, width, height uint32) error {
	if err := rc.BeginFrame(); err != nil {
		return err
	}
	if n := rc.Shaders().PendingReloads(); n > 0 {
		if _, err := rc.Shaders().ProcessReloads(ctx); err != nil {
			log.Printf("shader reload: %v", err)
		}
	}

	addShadowPass(g)
	addForwardPass(g, width, height)
	addCompositePass(g, width, height)

	if _, err := g.Execute(ctx); err != nil {
		_ = rc.EndFrame()
		return err
	}
	return rc.EndFrame()
}

func report(rc *rhi.RenderContext, g *rendergraph.Graph) {
	st := rc.Stats()
	log.Printf("backend %s (%s), %d frames, %d submits", st.API, st.Adapter, st.Frame, st.Submits)
	log.Printf("cached: %d shaders, %d pipelines, %d renderpasses, %d descriptor pages",
		st.Shaders, st.Pipelines, st.Renderpasses, st.DescriptorPages)
	log.Printf("pipeline hit rate %.2f", st.PipelineHitRate)
	for _, pb := range g.Barriers() {
		if pb.Skipped {
			log.Printf("  %-10s skipped", pb.Pass)
			continue
		}
		log.Printf("  %-10s %d barriers", pb.Pass, len(pb.Barriers))
		for _, b := range pb.Barriers {
			log.Printf("    %s", b)
		}
	}
}
