package rhi_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

var testShaders = fstest.MapFS{
	"tri.vert":  {Data: []byte("vertex source")},
	"tri.frag":  {Data: []byte("fragment source")},
	"blit.frag": {Data: []byte("blit source")},
}

var triangle = rhi.ShaderDesc{Vertex: "tri.vert", Pixel: "tri.frag"}

// passthrough hands the source through as the compiled blob.
var passthrough = rhi.CompilerFunc(func(_ rhi.ShaderStage, src []byte, _ string) ([]byte, error) {
	return src, nil
})

// newTestContext builds a render context on a fresh software device.
func newTestContext(t *testing.T, cfg software.Config, opts ...rhi.Option) (*rhi.RenderContext, *software.Device) {
	t.Helper()
	if cfg.Label == "" {
		cfg.Label = t.Name()
	}
	dev := software.New(cfg)
	opts = append([]rhi.Option{
		rhi.WithDevice(dev),
		rhi.WithShaderFS(testShaders),
		rhi.WithCompiler(passthrough),
	}, opts...)
	rc, err := rhi.NewRenderContext(opts...)
	if err != nil {
		t.Fatalf("NewRenderContext: %v", err)
	}
	t.Cleanup(func() {
		if err := rc.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return rc, dev
}

func TestFrameLoop(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})

	if err := rc.EndFrame(); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("EndFrame before BeginFrame = %v, want ErrInvalidState", err)
	}
	for i := 0; i < 5; i++ {
		if err := rc.BeginFrame(); err != nil {
			t.Fatalf("frame %d: BeginFrame: %v", i, err)
		}
		if err := rc.BeginFrame(); !errors.Is(err, rhi.ErrInvalidState) {
			t.Fatalf("frame %d: nested BeginFrame = %v, want ErrInvalidState", i, err)
		}
		cl, err := rc.NewCommandList("frame")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := cl.Submit(); err != nil {
			t.Fatalf("frame %d: Submit: %v", i, err)
		}
		if err := rc.EndFrame(); err != nil {
			t.Fatalf("frame %d: EndFrame: %v", i, err)
		}
	}

	st := rc.Stats()
	if st.Frame != 5 || st.Submits != 5 {
		t.Errorf("Stats frame %d submits %d, want 5 and 5", st.Frame, st.Submits)
	}
	if st.API != rhi.APISoftware {
		t.Errorf("Stats API = %s", st.API)
	}
	if st.LastFrame.CommandLists != 1 {
		t.Errorf("LastFrame.CommandLists = %d, want 1", st.LastFrame.CommandLists)
	}
}

func TestClosedContext(t *testing.T) {
	dev := software.New(software.Config{Label: "closed"})
	rc, err := rhi.NewRenderContext(rhi.WithDevice(dev))
	if err != nil {
		t.Fatal(err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := rc.BeginFrame(); !errors.Is(err, rhi.ErrReleased) {
		t.Errorf("BeginFrame after Close = %v, want ErrReleased", err)
	}
	if _, err := rc.NewCommandList("late"); !errors.Is(err, rhi.ErrReleased) {
		t.Errorf("NewCommandList after Close = %v, want ErrReleased", err)
	}
}

func TestDeferredReleaseWaitsForFence(t *testing.T) {
	rc, dev := newTestContext(t, software.Config{ManualFences: true})

	buf, err := rhi.CreateBuffer(rc, rhi.BufferDesc{Type: rhi.BufferUniform, Size: 64, Name: "ubo"})
	if err != nil {
		t.Fatal(err)
	}
	cl, err := rc.NewCommandList("in flight")
	if err != nil {
		t.Fatal(err)
	}
	fence, err := cl.Submit()
	if err != nil {
		t.Fatal(err)
	}

	buf.Release()
	if buf.Valid() {
		t.Error("buffer still valid after Release")
	}
	rc.Collect()
	if got := dev.Stats().Buffers; got != 1 {
		t.Fatalf("native buffers before fence = %d, want 1", got)
	}

	dev.Signal(fence)
	rc.Collect()
	if got := dev.Stats().Buffers; got != 0 {
		t.Errorf("native buffers after fence = %d, want 0", got)
	}
	if n := rc.Releases().Len(); n != 0 {
		t.Errorf("pending releases = %d, want 0", n)
	}
}

func TestCloseReleasesCaches(t *testing.T) {
	dev := software.New(software.Config{Label: "close"})
	rc, err := rhi.NewRenderContext(rhi.WithDevice(dev), rhi.WithShaderFS(testShaders), rhi.WithCompiler(passthrough))
	if err != nil {
		t.Fatal(err)
	}
	shader, err := rc.Shaders().GetOrCreateShader(triangle)
	if err != nil {
		t.Fatal(err)
	}
	pso := rhi.PipelineStateObject{Shader: shader.Handle()}
	pso.SetColorFormats(rhi.FormatRGBA8Unorm)
	if _, err := rc.Pipelines().GetOrCreate(pso); err != nil {
		t.Fatal(err)
	}
	if _, err := rc.Samplers().GetOrCreate(rhi.LinearClamp); err != nil {
		t.Fatal(err)
	}

	if err := rc.Close(); err != nil {
		t.Fatal(err)
	}
	if live := dev.Stats().Live(); live != 0 {
		t.Errorf("live native objects after Close = %d, want 0 (%+v)", live, dev.Stats())
	}
}
