package rhi_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

func frame(t *testing.T, rc *rhi.RenderContext) {
	t.Helper()
	if err := rc.BeginFrame(); err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	if err := rc.EndFrame(); err != nil {
		t.Fatalf("EndFrame: %v", err)
	}
}

func TestQueuedUploadStatus(t *testing.T) {
	rc, dev := newTestContext(t, software.Config{ManualFences: true})
	b := mustBuffer(t, rc, rhi.BufferVertex, 64)

	req, err := b.QueueUpload(seq(16, 1), 16)
	if err != nil {
		t.Fatalf("QueueUpload: %v", err)
	}
	completions := 0
	req.OnComplete(func(*rhi.UploadRequest) { completions++ })

	if req.Status() != rhi.UploadPending || rhi.Renderable(b) {
		t.Fatalf("queued status = %s, renderable %v", req.Status(), rhi.Renderable(b))
	}
	if rc.Uploads().Pending() != 1 {
		t.Errorf("Pending = %d, want 1", rc.Uploads().Pending())
	}

	frame(t, rc)
	if req.Status() != rhi.UploadInProgress {
		t.Errorf("status after flush = %s, want InProgress", req.Status())
	}
	if req.Fence() == 0 || rc.Uploads().InFlight() != 1 {
		t.Errorf("fence %d in flight %d", req.Fence(), rc.Uploads().InFlight())
	}

	dev.Signal(req.Fence())
	frame(t, rc)
	if req.Status() != rhi.UploadCompleted || b.UploadStatus() != rhi.UploadCompleted {
		t.Errorf("status after fence = %s, want Completed", req.Status())
	}
	if !rhi.Renderable(b) {
		t.Error("buffer not renderable after completion")
	}
	if completions != 1 || rc.Uploads().Completed() != 1 {
		t.Errorf("completions %d, queue completed %d, want 1 and 1", completions, rc.Uploads().Completed())
	}

	req.Complete()
	if completions != 1 {
		t.Errorf("callbacks ran %d times, want once", completions)
	}
}

func TestQueuedUploadContents(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	b := mustBuffer(t, rc, rhi.BufferIndex, 32)
	tex, err := rhi.CreateTexture(rc, rhi.TextureInfo{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: copyUsage})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tex.Release)

	// Six bytes: the copy is padded to the next word.
	bufData := seq(6, 40)
	texData := seq(16, 90)
	bufReq, err := b.QueueUpload(bufData, 8)
	if err != nil {
		t.Fatal(err)
	}
	texReq, err := tex.QueueUpload(texData)
	if err != nil {
		t.Fatal(err)
	}

	frame(t, rc)
	frame(t, rc)
	if !rhi.Renderable(b, tex) {
		t.Fatalf("statuses %s %s, want both completed", bufReq.Status(), texReq.Status())
	}

	got, err := b.Download()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[8:14], bufData) {
		t.Errorf("buffer contents = %v", got)
	}
	gotTex, err := tex.Download()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotTex, texData) {
		t.Errorf("texture contents = %v", gotTex)
	}
}

func TestHostVisibleUploadCompletesImmediately(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{ManualFences: true})
	b := mustBuffer(t, rc, rhi.BufferUniform, 16)

	req, err := b.QueueUpload([]byte{1, 2, 3}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if req.Status() != rhi.UploadCompleted {
		t.Errorf("status = %s, want Completed", req.Status())
	}
	ran := false
	req.OnComplete(func(r *rhi.UploadRequest) { ran = r == req })
	if !ran {
		t.Error("OnComplete on a completed request did not run")
	}
	if rc.Uploads().Pending() != 0 {
		t.Errorf("Pending = %d, want 0", rc.Uploads().Pending())
	}
}

func TestQueueUploadErrors(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	b := mustBuffer(t, rc, rhi.BufferVertex, 16)

	if _, err := b.QueueUpload([]byte{1, 2, 3, 4}, 2); !errors.Is(err, rhi.ErrInvalidArgument) {
		t.Errorf("unaligned offset = %v, want ErrInvalidArgument", err)
	}
	if _, err := b.QueueUpload(seq(17, 0), 0); !errors.Is(err, rhi.ErrOutOfRange) {
		t.Errorf("oversized upload = %v, want ErrOutOfRange", err)
	}
	if _, err := rc.Uploads().QueueBufferUpload(nil, nil, 0); !errors.Is(err, rhi.ErrNilResource) {
		t.Errorf("nil buffer = %v, want ErrNilResource", err)
	}
	if b.UploadStatus() != rhi.UploadCompleted {
		t.Errorf("rejected uploads changed the status to %s", b.UploadStatus())
	}
}

func TestBlockingUploadTimesOut(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{ManualFences: true}, rhi.WithFenceTimeout(10*time.Millisecond))
	b := mustBuffer(t, rc, rhi.BufferVertex, 16)

	_, err := b.Upload(seq(8, 0), 0, 1)
	if !errors.Is(err, rhi.ErrFenceTimeout) || !rhi.IsRecoverable(err) {
		t.Errorf("Upload with a stalled fence = %v, want recoverable ErrFenceTimeout", err)
	}
}

func TestReleasedTargetLeavesOtherUploads(t *testing.T) {
	tests := []struct {
		name  string
		queue func(t *testing.T, rc *rhi.RenderContext) (*rhi.UploadRequest, func())
	}{
		{"buffer", func(t *testing.T, rc *rhi.RenderContext) (*rhi.UploadRequest, func()) {
			b := mustBuffer(t, rc, rhi.BufferVertex, 16)
			req, err := b.QueueUpload(seq(16, 1), 0)
			if err != nil {
				t.Fatal(err)
			}
			return req, b.Release
		}},
		{"texture", func(t *testing.T, rc *rhi.RenderContext) (*rhi.UploadRequest, func()) {
			tex, err := rhi.CreateTexture(rc, rhi.TextureInfo{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: copyUsage})
			if err != nil {
				t.Fatal(err)
			}
			req, err := tex.QueueUpload(seq(16, 1))
			if err != nil {
				t.Fatal(err)
			}
			return req, tex.Release
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, _ := newTestContext(t, software.Config{})
			a := mustBuffer(t, rc, rhi.BufferVertex, 16)
			aReq, err := a.QueueUpload(seq(16, 50), 0)
			if err != nil {
				t.Fatal(err)
			}
			gone, release := tt.queue(t, rc)
			release()
			if rc.Uploads().Pending() != 1 {
				t.Errorf("Pending after release = %d, want 1", rc.Uploads().Pending())
			}

			for range 5 {
				frame(t, rc)
			}
			if aReq.Status() != rhi.UploadCompleted {
				t.Errorf("live upload status = %s, want Completed", aReq.Status())
			}
			if gone.Status() != rhi.UploadPending {
				t.Errorf("released upload status = %s, want Pending", gone.Status())
			}
			if n := rc.Uploads().Pending() + rc.Uploads().InFlight(); n != 0 {
				t.Errorf("%d uploads still queued", n)
			}
			got, err := a.Download()
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, seq(16, 50)) {
				t.Errorf("buffer contents = %v", got)
			}
		})
	}
}
