package rhi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

func seq(n int, start byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}

func mustBuffer(t *testing.T, rc *rhi.RenderContext, typ rhi.BufferType, size uint64) *rhi.Buffer {
	t.Helper()
	b, err := rhi.CreateBuffer(rc, rhi.BufferDesc{Type: typ, Size: size, Name: typ.String()})
	if err != nil {
		t.Fatalf("CreateBuffer(%s): %v", typ, err)
	}
	t.Cleanup(b.Release)
	return b
}

func TestBufferUploadDownload(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})

	// Uniform buffers are written directly, vertex buffers through staging.
	for _, typ := range []rhi.BufferType{rhi.BufferUniform, rhi.BufferVertex} {
		t.Run(typ.String(), func(t *testing.T) {
			b := mustBuffer(t, rc, typ, 32)
			data := seq(16, 1)
			view, err := b.Upload(data, 8, 1)
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if view.Offset != 8 || view.Size != 16 || view.Buffer != b {
				t.Errorf("view = %+v", view)
			}
			got, err := b.Download()
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if !bytes.Equal(got[8:24], data) {
				t.Errorf("contents = %v", got)
			}
		})
	}
}

func TestBufferUploadAlignment(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	b := mustBuffer(t, rc, rhi.BufferUniform, 64)

	view, err := b.Upload(seq(4, 1), 3, 16)
	if err != nil {
		t.Fatal(err)
	}
	if view.Offset != 16 {
		t.Errorf("offset = %d, want 16", view.Offset)
	}
}

func TestBufferUnalignedDeviceUpload(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	b := mustBuffer(t, rc, rhi.BufferVertex, 16)

	if _, err := b.Upload(seq(8, 1), 0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Upload([]byte{0xaa, 0xbb, 0xcc}, 5, 1); err != nil {
		t.Fatalf("unaligned Upload: %v", err)
	}
	got, err := b.Download()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4, 5, 0xaa, 0xbb, 0xcc, 0, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("contents = %v, want %v", got, want)
	}
}

func TestBufferUploadOutOfRange(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	b := mustBuffer(t, rc, rhi.BufferStorage, 16)

	_, err := b.Upload(seq(20, 0), 0, 1)
	if !errors.Is(err, rhi.ErrOutOfRange) || rhi.KindOf(err) != rhi.KindContract {
		t.Errorf("Upload past end = %v, want contract ErrOutOfRange", err)
	}
	if _, err := rhi.NewBufferView(b, 8, 16); !errors.Is(err, rhi.ErrOutOfRange) {
		t.Errorf("NewBufferView past end = %v, want ErrOutOfRange", err)
	}
	if _, err := rhi.CreateBuffer(rc, rhi.BufferDesc{Type: rhi.BufferIndex}); !errors.Is(err, rhi.ErrInvalidArgument) {
		t.Errorf("zero-size buffer = %v, want ErrInvalidArgument", err)
	}
}

func TestBufferResizeGrowsOnly(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	b := mustBuffer(t, rc, rhi.BufferIndex, 16)
	data := seq(16, 10)
	if _, err := b.Upload(data, 0, 1); err != nil {
		t.Fatal(err)
	}

	if err := b.Resize(64); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if b.Size() != 64 {
		t.Errorf("Size = %d, want 64", b.Size())
	}
	if err := b.Resize(8); err != nil || b.Size() != 64 {
		t.Errorf("shrinking Resize = %v, size %d", err, b.Size())
	}

	got, err := b.Download()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:16], data) {
		t.Errorf("contents after resize = %v", got[:16])
	}
}

func TestReleasedBuffer(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	b, err := rhi.CreateBuffer(rc, rhi.BufferDesc{Type: rhi.BufferUniform, Size: 16})
	if err != nil {
		t.Fatal(err)
	}
	b.Release()
	b.Release()

	if _, err := b.Upload([]byte{1}, 0, 1); !errors.Is(err, rhi.ErrReleased) {
		t.Errorf("Upload after Release = %v, want ErrReleased", err)
	}
	if _, err := b.Download(); !errors.Is(err, rhi.ErrReleased) {
		t.Errorf("Download after Release = %v, want ErrReleased", err)
	}
	if view := (rhi.BufferView{Buffer: b, Size: 4}); view.IsValid() {
		t.Error("view of a released buffer is valid")
	}
}

func TestDynamicBufferDoubles(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	d, err := rhi.NewDynamicBuffer(rc, rhi.BufferUniform, 0, "per-draw")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Release)

	if d.Capacity() != 256 {
		t.Fatalf("Capacity = %d, want 256", d.Capacity())
	}
	first := seq(200, 0)
	v1, err := d.Upload(first, 1)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := d.Upload(seq(100, 1), 256)
	if err != nil {
		t.Fatal(err)
	}

	if v1.Offset != 0 || v2.Offset != 256 {
		t.Errorf("offsets = %d, %d, want 0, 256", v1.Offset, v2.Offset)
	}
	if d.Capacity() != 512 || d.Grows() != 1 {
		t.Errorf("capacity %d grows %d, want 512 and 1", d.Capacity(), d.Grows())
	}
	if d.Used() != 356 {
		t.Errorf("Used = %d, want 356", d.Used())
	}

	got, err := d.Buffer().Download()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:200], first) {
		t.Error("grow lost earlier contents")
	}

	d.Reset()
	if d.Used() != 0 || d.Capacity() != 512 {
		t.Errorf("after Reset used %d capacity %d", d.Used(), d.Capacity())
	}
}
