package rhi_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

func TestWatcherQueuesReload(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// write replaces the file by rename so a watcher never sees it truncated.
	write := func(name, src string) {
		t.Helper()
		tmp := filepath.Join(dir, name+".tmp")
		if err := os.WriteFile(tmp, []byte(src), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	write("tri.vert", "vertex v1")
	write("unused.frag", "unused")

	rc, _ := newTestContext(t, software.Config{}, rhi.WithShaderFS(os.DirFS(dir)))
	m := rc.Shaders()
	s, err := m.GetOrCreateShader(rhi.ShaderDesc{Vertex: "tri.vert"})
	if err != nil {
		t.Fatal(err)
	}

	w, err := rhi.NewWatcher(m, dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() {
		if err := w.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	write("unused.frag", "changed")
	write("tri.vert", "vertex v2")

	deadline := time.Now().Add(5 * time.Second)
	for m.PendingReloads() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no reload queued after the source changed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := m.ProcessReloads(context.Background()); err != nil {
		t.Fatalf("ProcessReloads: %v", err)
	}
	if got := string(s.Blob(rhi.ShaderStageVertex)); got != "vertex v2" {
		t.Errorf("vertex blob = %q, want the edited source", got)
	}

	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
