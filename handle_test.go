package rhi

import "testing"

func TestArenaHandles(t *testing.T) {
	a := NewArena[string]()
	h1 := a.Insert("one")
	h2 := a.Insert("two")
	if !h1.IsValid() || !h2.IsValid() {
		t.Fatal("Insert returned an invalid handle")
	}
	if (Handle{}).IsValid() {
		t.Error("zero handle is valid")
	}
	if v, ok := a.Get(h2); !ok || v != "two" {
		t.Errorf("Get(h2) = %q, %v", v, ok)
	}

	if !a.Remove(h1) {
		t.Fatal("Remove(h1) = false")
	}
	if a.Remove(h1) {
		t.Error("second Remove(h1) = true")
	}
	if _, ok := a.Get(h1); ok {
		t.Error("stale handle still resolves")
	}

	h3 := a.Insert("three")
	if h3.Index != h1.Index {
		t.Errorf("slot not reused: index %d, want %d", h3.Index, h1.Index)
	}
	if h3 == h1 {
		t.Error("reused slot kept its generation")
	}
	if _, ok := a.Get(h1); ok {
		t.Error("stale handle aliases the new value")
	}
	if a.Len() != 2 {
		t.Errorf("Len() = %d, want 2", a.Len())
	}

	var seen []string
	a.Each(func(_ Handle, v string) { seen = append(seen, v) })
	if len(seen) != 2 || seen[0] != "three" || seen[1] != "two" {
		t.Errorf("Each visited %v, want [three two]", seen)
	}
	if _, ok := a.Get(Handle{Index: 99, Generation: 1}); ok {
		t.Error("out-of-range handle resolves")
	}
}
