package rhi_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

func TestFrameResourceRotates(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{}, rhi.WithFramesInFlight(3))
	fr := rhi.NewFrameResource(rc, func(slot int) []int { return []int{slot} })

	if fr.Len() != 3 {
		t.Fatalf("Len = %d, want 3", fr.Len())
	}
	var seen []int
	for i := 0; i < 4; i++ {
		seen = append(seen, fr.Current()[0])
		if err := fr.Advance(); err != nil {
			t.Fatal(err)
		}
	}
	if want := []int{0, 1, 2, 0}; !reflect.DeepEqual(seen, want) {
		t.Errorf("slots = %v, want %v", seen, want)
	}

	n := 0
	fr.Each(func(slot int, v []int) {
		if v[0] != slot {
			t.Errorf("slot %d holds %v", slot, v)
		}
		n++
	})
	if n != 3 {
		t.Errorf("Each visited %d slots", n)
	}
}

func TestFrameResourceWaitsForSlotFence(t *testing.T) {
	rc, dev := newTestContext(t, software.Config{ManualFences: true},
		rhi.WithFramesInFlight(2), rhi.WithFenceTimeout(20*time.Millisecond))
	fr := rhi.NewFrameResource(rc, func(int) struct{} { return struct{}{} })

	cl, err := rc.NewCommandList("slot 0")
	if err != nil {
		t.Fatal(err)
	}
	fence, err := cl.Submit()
	if err != nil {
		t.Fatal(err)
	}
	fr.SetFence(fence)
	fr.SetFence(0)
	if fr.Fence(0) != fence {
		t.Errorf("SetFence lowered the slot fence to %d", fr.Fence(0))
	}

	if err := fr.Advance(); err != nil {
		t.Fatalf("advance to the unused slot: %v", err)
	}
	err = fr.Advance()
	if !errors.Is(err, rhi.ErrFenceTimeout) {
		t.Fatalf("advance onto a busy slot = %v, want ErrFenceTimeout", err)
	}
	if fr.Index() != 1 {
		t.Errorf("Index after failed advance = %d, want 1", fr.Index())
	}

	dev.Signal(fence)
	if err := fr.Advance(); err != nil || fr.Index() != 0 {
		t.Errorf("advance after signal = %v, index %d", err, fr.Index())
	}
}

func TestReleaseQueueOrder(t *testing.T) {
	var q rhi.ReleaseQueue
	var order []string
	q.Defer(2, func() { order = append(order, "a") })
	q.Defer(1, func() { order = append(order, "b") })
	q.Defer(3, func() { order = append(order, "c") })
	q.Defer(1, func() { order = append(order, "d") })
	q.DeferObject(1, nil)

	if q.Len() != 4 {
		t.Fatalf("Len = %d, want 4", q.Len())
	}
	if n := q.Collect(0); n != 0 {
		t.Errorf("Collect(0) ran %d", n)
	}
	if n := q.Collect(2); n != 3 {
		t.Errorf("Collect(2) ran %d, want 3", n)
	}
	if want := []string{"a", "b", "d"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if n := q.Flush(); n != 1 || q.Len() != 0 {
		t.Errorf("Flush ran %d, %d left", n, q.Len())
	}
}
