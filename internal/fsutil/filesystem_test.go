package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_CreateMakesParents(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "plots", "u1")
	path := filepath.Join(dir, "accuracy.png")

	w, err := fsys.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("png")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fsys.Exists(dir) {
		t.Fatal("parent directory should exist")
	}

	r, err := fsys.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "png" {
		t.Errorf("got %q", data)
	}
	if fsys.Exists(filepath.Join(dir, "missing")) {
		t.Error("missing file reported as existing")
	}
}

func TestMemoryFileSystem_Open(t *testing.T) {
	m := NewMemoryFileSystem()
	m.WriteFile("/replays/session.jsonl", []byte(`{"cycle":0}`))

	r, err := m.Open("/replays/./session.jsonl")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != `{"cycle":0}` {
		t.Errorf("got %q", data)
	}
	if !m.Exists("/replays") {
		t.Error("seeded file's directory should exist")
	}

	data[0] = 'X'
	again, _ := m.ReadFile("/replays/session.jsonl")
	if again[0] != '{' {
		t.Error("reads must return a copy")
	}

	if _, err := m.Open("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	m := NewMemoryFileSystem()
	w, err := m.Create("/out/a/plot.png")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, _ = w.Write([]byte("abc"))
	_, _ = w.Write([]byte("def"))

	if data, _ := m.ReadFile("/out/a/plot.png"); len(data) != 0 {
		t.Errorf("data visible before Close: %q", data)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, _ := m.ReadFile("/out/a/plot.png")
	if string(data) != "abcdef" {
		t.Errorf("got %q", data)
	}
	for _, p := range []string{"/out", "/out/a"} {
		if !m.Exists(p) {
			t.Errorf("%s should exist", p)
		}
	}
	if m.Exists("/out/b") {
		t.Error("/out/b should not exist")
	}
}

func TestFileSystemInterface(t *testing.T) {
	var _ FileSystem = OSFileSystem{}
	var _ FileSystem = NewMemoryFileSystem()
}
