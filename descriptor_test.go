package rhi_test

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

func mustHandle(t *testing.T, a *rhi.DescriptorAllocator) rhi.Descriptor {
	t.Helper()
	d, err := a.GetNewHandle()
	if err != nil {
		t.Fatalf("GetNewHandle: %v", err)
	}
	return d
}

func TestDescriptorAllocatorPaging(t *testing.T) {
	for _, model := range []rhi.DescriptorModel{rhi.DescriptorModelHeap, rhi.DescriptorModelPool} {
		t.Run(model.String(), func(t *testing.T) {
			rc, dev := newTestContext(t, software.Config{DescriptorModel: model}, rhi.WithDescriptorPageSize(2))
			a := rc.Descriptors()
			if a.PageSize() != 2 {
				t.Fatalf("PageSize = %d, want 2", a.PageSize())
			}

			d0 := mustHandle(t, a)
			d1 := mustHandle(t, a)
			if a.Pages() != 1 {
				t.Fatalf("two slots used %d pages, want 1", a.Pages())
			}
			d2 := mustHandle(t, a)
			if a.Pages() != 2 || d2.Page != 1 || d2.Slot != 0 {
				t.Fatalf("third slot = %+v on %d pages, want page 1 slot 0", d2, a.Pages())
			}
			if d0 == d1 || a.Used() != 3 {
				t.Errorf("handles %+v %+v, used %d", d0, d1, a.Used())
			}

			if err := a.Free(d1); err != nil {
				t.Fatalf("Free: %v", err)
			}
			_ = mustHandle(t, a) // fills page 1
			reused := mustHandle(t, a)
			if reused != d1 {
				t.Errorf("after a free got %+v, want the freed slot %+v", reused, d1)
			}
			if a.Pages() != 2 || dev.Stats().Pages != 2 {
				t.Errorf("pages = %d (native %d), want 2", a.Pages(), dev.Stats().Pages)
			}
		})
	}
}

func TestDescriptorFreeErrors(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	a := rc.Descriptors()
	d := mustHandle(t, a)

	if err := a.Free(d); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(d); !errors.Is(err, rhi.ErrInvalidState) {
		t.Errorf("double free = %v, want ErrInvalidState", err)
	}
	if err := a.Free(rhi.Descriptor{Page: 9}); !errors.Is(err, rhi.ErrOutOfRange) {
		t.Errorf("free of unknown page = %v, want ErrOutOfRange", err)
	}
	if err := a.Free(rhi.Descriptor{Slot: 100}); !errors.Is(err, rhi.ErrOutOfRange) {
		t.Errorf("free of unallocated slot = %v, want ErrOutOfRange", err)
	}
}

func TestDescriptorStaleAfterReleaseAll(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})
	a := rc.Descriptors()
	layout, err := rc.DescriptorLayouts().GetOrCreate(0, uniformAndSampler)
	if err != nil {
		t.Fatal(err)
	}
	stale := mustHandle(t, a)
	a.ReleaseAll()
	fresh := mustHandle(t, a)
	if fresh.Page != stale.Page || fresh.Slot != stale.Slot {
		t.Fatalf("regrown slot %+v, want the position of %+v", fresh, stale)
	}

	tests := []struct {
		name string
		call func(rhi.Descriptor) error
	}{
		{"Free", a.Free},
		{"Write", func(d rhi.Descriptor) error { return a.Write(d, layout, nil) }},
		{"NativePage", func(d rhi.Descriptor) error {
			_, err := a.NativePage(d)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(stale); !errors.Is(err, rhi.ErrReleased) {
				t.Errorf("%s of a stale descriptor = %v, want ErrReleased", tt.name, err)
			}
		})
	}
	if err := a.Free(fresh); err != nil {
		t.Errorf("Free of the live descriptor: %v", err)
	}
}

func TestDescriptorExhaustion(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{MaxDescriptorPages: 1}, rhi.WithDescriptorPageSize(1))
	a := rc.Descriptors()
	_ = mustHandle(t, a)

	_, err := a.GetNewHandle()
	if !errors.Is(err, rhi.ErrDescriptorExhausted) || !rhi.IsRecoverable(err) {
		t.Errorf("GetNewHandle past the page limit = %v, want recoverable ErrDescriptorExhausted", err)
	}
}

var uniformAndSampler = rhi.DescriptorSetLayoutDesc{Bindings: []rhi.DescriptorBinding{
	{Binding: 0, Kind: rhi.DescriptorUniformBuffer, Count: 1, Stages: rhi.ShaderStageVertex},
	{Binding: 1, Kind: rhi.DescriptorSampler, Count: 1, Stages: rhi.ShaderStagePixel},
}}

func TestDescriptorLayoutCache(t *testing.T) {
	rc, dev := newTestContext(t, software.Config{})
	c := rc.DescriptorLayouts()

	l1, err := c.GetOrCreate(0, uniformAndSampler)
	if err != nil {
		t.Fatal(err)
	}
	l2, err := c.GetOrCreate(0, uniformAndSampler)
	if err != nil {
		t.Fatal(err)
	}
	l3, err := c.GetOrCreate(1, uniformAndSampler)
	if err != nil {
		t.Fatal(err)
	}
	if l1 != l2 {
		t.Error("same set and bindings built two layouts")
	}
	if l1 == l3 || l3.Desc().Set != 1 {
		t.Error("layouts of different sets were shared")
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 2 {
		t.Errorf("hits %d misses %d, want 1 and 2", hits, misses)
	}
	if c.Len() != 2 || dev.Stats().Layouts != 2 {
		t.Errorf("cached %d, native %d, want 2", c.Len(), dev.Stats().Layouts)
	}

	if !c.Release(l3.Hash()) || c.Release(l3.Hash()) {
		t.Error("Release should succeed exactly once")
	}
}

func TestDescriptorWrite(t *testing.T) {
	rc, dev := newTestContext(t, software.Config{})
	layout, err := rc.DescriptorLayouts().GetOrCreate(0, uniformAndSampler)
	if err != nil {
		t.Fatal(err)
	}
	b := mustBuffer(t, rc, rhi.BufferUniform, 256)
	view, err := rhi.NewBufferView(b, 0, 64)
	if err != nil {
		t.Fatal(err)
	}
	s, err := rc.Samplers().GetOrCreate(rhi.LinearClamp)
	if err != nil {
		t.Fatal(err)
	}

	a := rc.Descriptors()
	d := mustHandle(t, a)
	writes := []rhi.DescriptorWrite{
		rhi.BufferWrite(0, rhi.DescriptorUniformBuffer, view),
		rhi.SamplerWrite(1, s),
	}
	if err := a.Write(d, layout, writes); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if dev.Stats().DescriptorWrites != 1 {
		t.Errorf("native writes = %d, want 1", dev.Stats().DescriptorWrites)
	}

	wrongKind := []rhi.DescriptorWrite{rhi.BufferWrite(1, rhi.DescriptorUniformBuffer, view)}
	if err := a.Write(d, layout, wrongKind); rhi.KindOf(err) != rhi.KindNative {
		t.Errorf("write of the wrong kind = %v, want a native error", err)
	}
	if err := a.Write(d, nil, writes); !errors.Is(err, rhi.ErrNilResource) {
		t.Errorf("write without layout = %v, want ErrNilResource", err)
	}
}
