package rhi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

type drawFixture struct {
	rc       *rhi.RenderContext
	target   *rhi.Texture
	clear    *rhi.Renderpass
	pipeline *rhi.Pipeline
	index    *rhi.Buffer
}

func newDrawFixture(t *testing.T) (*drawFixture, *software.Device) {
	t.Helper()
	rc, dev := newTestContext(t, software.Config{})
	target, err := rhi.CreateTexture(rc, rhi.TextureInfo{
		Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm,
		Usage: rhi.TextureUsageRenderTarget | rhi.TextureUsageCopySrc, Name: "target",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(target.Release)

	clear, err := rc.Renderpasses().GetOrCreate(rhi.RenderpassDescription{
		Colors: []rhi.AttachmentDescription{{
			Format: rhi.FormatRGBA8Unorm, Load: rhi.LoadOpClear, Store: rhi.StoreOpStore,
			InitialLayout: rhi.LayoutColorAttachment, FinalLayout: rhi.LayoutColorAttachment,
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := rc.Pipelines().GetOrCreate(colorPSO(t, rc, triangle))
	if err != nil {
		t.Fatal(err)
	}
	return &drawFixture{
		rc: rc, target: target, clear: clear, pipeline: p,
		index: mustBuffer(t, rc, rhi.BufferIndex, 64),
	}, dev
}

func (f *drawFixture) targets() rhi.RenderTargets {
	return rhi.RenderTargets{
		Width: 4, Height: 4,
		Color: []rhi.ColorTarget{{View: f.target.DefaultView(), Clear: rhi.Color{R: 1, A: 1}}},
	}
}

func (f *drawFixture) begin(cl *rhi.CommandList) {
	cl.PipelineBarrier([]rhi.ImageBarrier{rhi.NewImageBarrier(f.target, f.target.Layout(), rhi.LayoutColorAttachment)})
	cl.BeginRenderpass(f.clear, f.targets())
}

func TestCommandListDraw(t *testing.T) {
	f, dev := newDrawFixture(t)
	cl, err := f.rc.NewCommandList("draw")
	if err != nil {
		t.Fatal(err)
	}

	f.begin(cl)
	if !cl.InRenderpass() {
		t.Fatal("renderpass not open")
	}
	cl.BindPipeline(f.pipeline)
	cl.BindPipeline(f.pipeline)
	cl.Draw(3, 1, 0, 0)
	cl.Draw(0, 1, 0, 0)
	cl.SetIndexBuffer(rhi.BufferView{Buffer: f.index, Size: 64}, rhi.IndexUint16)
	cl.DrawIndexed(6, 1, 0, 0, 0)
	cl.EndRenderpass()

	if err := cl.SubmitAndWait(); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	want := rhi.CommandStats{Draws: 1, DrawsIndexed: 1, Barriers: 1, BarrierBatches: 1, Renderpasses: 1, PipelineBinds: 1}
	if got := cl.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
	if st := dev.Stats(); st.Draws != 1 || st.DrawsIndexed != 1 || st.Clears != 1 {
		t.Errorf("device draws %d indexed %d clears %d", st.Draws, st.DrawsIndexed, st.Clears)
	}
	if f.rc.CurrentFrame().Commands.Draws != 1 {
		t.Errorf("frame stats = %+v", f.rc.CurrentFrame().Commands)
	}

	pixels, err := f.target.Download()
	if err != nil {
		t.Fatal(err)
	}
	red := bytes.Repeat([]byte{255, 0, 0, 255}, 16)
	if !bytes.Equal(pixels, red) {
		t.Errorf("cleared target = %v", pixels[:8])
	}
}

func TestCommandListContractErrors(t *testing.T) {
	tests := []struct {
		name   string
		record func(*drawFixture, *rhi.CommandList)
		want   error
	}{
		{"draw outside renderpass", func(f *drawFixture, cl *rhi.CommandList) {
			cl.Draw(3, 1, 0, 0)
		}, rhi.ErrInvalidState},
		{"draw without pipeline", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			cl.Draw(3, 1, 0, 0)
			cl.EndRenderpass()
		}, rhi.ErrInvalidState},
		{"indexed draw without index buffer", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			cl.BindPipeline(f.pipeline)
			cl.DrawIndexed(3, 1, 0, 0, 0)
			cl.EndRenderpass()
		}, rhi.ErrInvalidState},
		{"misaligned index buffer", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			cl.SetIndexBuffer(rhi.BufferView{Buffer: f.index, Offset: 2, Size: 8}, rhi.IndexUint32)
			cl.EndRenderpass()
		}, rhi.ErrInvalidArgument},
		{"barrier inside renderpass", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			cl.PipelineBarrier([]rhi.ImageBarrier{rhi.NewImageBarrier(f.target, rhi.LayoutColorAttachment, rhi.LayoutShaderReadOnly)})
			cl.EndRenderpass()
		}, rhi.ErrInvalidState},
		{"submit with open renderpass", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
		}, rhi.ErrInvalidState},
		{"end without begin", func(f *drawFixture, cl *rhi.CommandList) {
			cl.EndRenderpass()
		}, rhi.ErrInvalidState},
		{"mismatched targets", func(f *drawFixture, cl *rhi.CommandList) {
			cl.BeginRenderpass(f.clear, rhi.RenderTargets{Width: 4, Height: 4})
		}, rhi.ErrInvalidArgument},
		{"nil pipeline", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			cl.BindPipeline(nil)
			cl.EndRenderpass()
		}, rhi.ErrNilResource},
		{"descriptor set past layout", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			cl.BindPipeline(f.pipeline)
			cl.BindDescriptorSet(0, rhi.Descriptor{})
			cl.EndRenderpass()
		}, rhi.ErrOutOfRange},
		{"push constants without block", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			cl.BindPipeline(f.pipeline)
			cl.PushConstants(0, make([]byte, 4))
			cl.EndRenderpass()
		}, rhi.ErrOutOfRange},
		{"copy inside renderpass", func(f *drawFixture, cl *rhi.CommandList) {
			f.begin(cl)
			v := rhi.BufferView{Buffer: f.index, Size: 16}
			cl.CopyBuffer(v, v, 16)
			cl.EndRenderpass()
		}, rhi.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, dev := newDrawFixture(t)
			cl, err := f.rc.NewCommandList(tt.name)
			if err != nil {
				t.Fatal(err)
			}
			tt.record(f, cl)
			_, err = cl.Submit()
			if !errors.Is(err, tt.want) || rhi.KindOf(err) != rhi.KindContract {
				t.Errorf("Submit = %v, want contract %v", err, tt.want)
			}
			if cl.Err() != err {
				t.Errorf("Err = %v, want the first recorded error", cl.Err())
			}
			if dev.Stats().Submits != 0 {
				t.Error("a failed list reached the device")
			}
		})
	}
}

func TestCommandListLifecycle(t *testing.T) {
	f, _ := newDrawFixture(t)

	cl, err := f.rc.NewCommandList("once")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cl.Submit(); err != nil {
		t.Fatal(err)
	}
	cl.Discard()
	if _, err := cl.Submit(); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("second Submit = %v, want ErrInvalidState", err)
	}

	discarded, err := f.rc.NewCommandList("discarded")
	if err != nil {
		t.Fatal(err)
	}
	discarded.Discard()
	discarded.Draw(3, 1, 0, 0)
	if _, err := discarded.Submit(); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("Submit after Discard = %v, want ErrInvalidState", err)
	}
}

func TestCommandListCopyBuffer(t *testing.T) {
	rc, dev := newTestContext(t, software.Config{})
	src := mustBuffer(t, rc, rhi.BufferUniform, 32)
	dst := mustBuffer(t, rc, rhi.BufferStorage, 32)
	data := seq(16, 3)
	srcView, err := src.Upload(data, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	dstView, err := rhi.NewBufferView(dst, 16, 16)
	if err != nil {
		t.Fatal(err)
	}

	cl, err := rc.NewCommandList("copy")
	if err != nil {
		t.Fatal(err)
	}
	cl.CopyBuffer(srcView, dstView, 16)
	if err := cl.SubmitAndWait(); err != nil {
		t.Fatal(err)
	}
	got, err := dst.Download()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[16:], data) {
		t.Errorf("copied bytes = %v", got[16:])
	}
	if cl.Stats().Copies != 1 || dev.Stats().Copies != 1 {
		t.Errorf("copies: list %d device %d", cl.Stats().Copies, dev.Stats().Copies)
	}

	over, err := rc.NewCommandList("oversized copy")
	if err != nil {
		t.Fatal(err)
	}
	over.CopyBuffer(srcView, dstView, 32)
	if !errors.Is(over.Err(), rhi.ErrOutOfRange) {
		t.Errorf("oversized copy = %v, want ErrOutOfRange", over.Err())
	}
	over.Discard()
}

func TestDiscardRestoresLayouts(t *testing.T) {
	f, _ := newDrawFixture(t)
	before := f.target.Layout()

	cl, err := f.rc.NewCommandList("discarded")
	if err != nil {
		t.Fatal(err)
	}
	f.begin(cl)
	cl.EndRenderpass()
	cl.SetTextureLayout(f.target, rhi.LayoutShaderReadOnly)
	if f.target.Layout() != rhi.LayoutShaderReadOnly {
		t.Fatalf("layout while recording = %s", f.target.Layout())
	}
	cl.Discard()
	if f.target.Layout() != before {
		t.Errorf("layout after Discard = %s, want %s", f.target.Layout(), before)
	}

	failed, err := f.rc.NewCommandList("failed")
	if err != nil {
		t.Fatal(err)
	}
	f.begin(failed)
	failed.Draw(3, 1, 0, 0)
	if _, err := failed.Submit(); err == nil {
		t.Fatal("Submit without a pipeline succeeded")
	}
	if f.target.Layout() != before {
		t.Errorf("layout after a failed Submit = %s, want %s", f.target.Layout(), before)
	}

	ok, err := f.rc.NewCommandList("submitted")
	if err != nil {
		t.Fatal(err)
	}
	f.begin(ok)
	ok.EndRenderpass()
	if err := ok.SubmitAndWait(); err != nil {
		t.Fatal(err)
	}
	ok.Discard()
	if f.target.Layout() != rhi.LayoutColorAttachment {
		t.Errorf("layout after Submit = %s, want ColorAttachment", f.target.Layout())
	}
}
