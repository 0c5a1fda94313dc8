package rhi

import (
	"errors"
	"testing"
)

type fakeResource struct {
	name     string
	released int
}

func (r *fakeResource) Release()            { r.released++ }
func (r *fakeResource) Valid() bool         { return r.released == 0 }
func (r *fakeResource) SetName(name string) { r.name = name }
func (r *fakeResource) Name() string        { return r.name }

func newFakeCache() *ResourceCache[*fakeResource] {
	return NewResourceCache(func() (*fakeResource, error) { return &fakeResource{}, nil })
}

func mustAdd(t *testing.T, c *ResourceCache[*fakeResource], name string) (*fakeResource, ResourceID) {
	t.Helper()
	r, id, err := c.AddOrReturn(name)
	if err != nil {
		t.Fatalf("AddOrReturn(%q): %v", name, err)
	}
	return r, id
}

func TestResourceCacheIDs(t *testing.T) {
	c := newFakeCache()
	_, a := mustAdd(t, c, "a")
	_, b := mustAdd(t, c, "b")
	_, cc := mustAdd(t, c, "c")
	if a != 0 || b != 1 || cc != 2 {
		t.Fatalf("ids = %d %d %d, want 0 1 2", a, b, cc)
	}

	r, again := mustAdd(t, c, "b")
	if again != b || r.Name() != "b" {
		t.Errorf("AddOrReturn(b) again = %d %q", again, r.Name())
	}

	c.Remove("c")
	c.Remove("a")
	if _, id := mustAdd(t, c, "d"); id != 0 {
		t.Errorf("d got id %d, want smallest free id 0", id)
	}
	if _, id := mustAdd(t, c, "e"); id != 2 {
		t.Errorf("e got id %d, want 2", id)
	}
	if _, id := mustAdd(t, c, "f"); id != 3 {
		t.Errorf("f got id %d, want fresh id 3", id)
	}

	if got := c.Names(); len(got) != 4 || got[0] != "d" || got[1] != "b" || got[2] != "e" || got[3] != "f" {
		t.Errorf("Names() = %v, want [d b e f]", got)
	}
	if name, ok := c.NameOf(1); !ok || name != "b" {
		t.Errorf("NameOf(1) = %q, %v", name, ok)
	}
	if r, ok := c.GetByID(2); !ok || r.Name() != "e" {
		t.Errorf("GetByID(2) = %v, %v", r, ok)
	}
}

func TestResourceCacheRemoveReleases(t *testing.T) {
	c := newFakeCache()
	r, _ := mustAdd(t, c, "tex")
	if !c.Remove("tex") {
		t.Fatal("Remove = false")
	}
	if r.released != 1 {
		t.Errorf("released %d times, want 1", r.released)
	}
	if c.Remove("tex") {
		t.Error("second Remove = true")
	}
	if _, _, ok := c.Get("tex"); ok {
		t.Error("removed name still mapped")
	}
}

func TestResourceCacheReset(t *testing.T) {
	c := newFakeCache()
	a, _ := mustAdd(t, c, "a")
	b, _ := mustAdd(t, c, "b")
	c.Reset()
	if a.released != 1 || b.released != 1 {
		t.Error("Reset did not release every resource")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Reset", c.Len())
	}
	if _, id := mustAdd(t, c, "c"); id != 0 {
		t.Errorf("id after Reset = %d, want 0", id)
	}
}

func TestResourceCacheFactoryError(t *testing.T) {
	boom := errors.New("boom")
	c := NewResourceCache(func() (*fakeResource, error) { return nil, boom })
	if _, _, err := c.AddOrReturn("x"); !errors.Is(err, boom) {
		t.Fatalf("AddOrReturn = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Error("failed creation left a mapping")
	}
}

func TestResourceManager(t *testing.T) {
	m := NewResourceManager(func() (*fakeResource, error) { return &fakeResource{}, nil })
	r, err := m.CreateResource()
	if err != nil {
		t.Fatal(err)
	}
	if !m.Owns(r) || m.Len() != 1 {
		t.Fatal("manager does not own the created resource")
	}
	m.FreeResource(r)
	m.FreeResource(r)
	if r.released != 1 {
		t.Errorf("released %d times, want 1", r.released)
	}
	m.FreeResource(&fakeResource{})
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}
