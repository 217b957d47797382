package assets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirStoreGetAndAbsence(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.ulaw"), []byte{0x7F, 0x7F}, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore() error = %v", err)
	}

	b, ok, err := s.Get("default.ulaw")
	if err != nil || !ok {
		t.Fatalf("Get() = %v %v, want present", ok, err)
	}
	if len(b) != 2 {
		t.Fatalf("asset size = %d, want 2", len(b))
	}

	_, ok, err = s.Get("missing.ulaw")
	if err != nil {
		t.Fatalf("absence should not be an error, got %v", err)
	}
	if ok {
		t.Fatalf("missing asset reported present")
	}
}

func TestDirStoreRejectsPathEscape(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"../etc/passwd", "a/b", `a\b`, "..", ""} {
		if _, ok, err := s.Get(name); ok || err != nil {
			t.Fatalf("Get(%q) = %v %v, want absent with nil error", name, ok, err)
		}
	}
}

func TestDirStoreList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.ulaw", "a.ulaw"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	infos, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "a.ulaw" || infos[1].Name != "b.ulaw" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	s.Put("tone", []byte{1, 2, 3})
	b, ok, err := s.Get("tone")
	if err != nil || !ok || len(b) != 3 {
		t.Fatalf("Get() = %v %v %v", b, ok, err)
	}
	if _, ok, _ := s.Get("other"); ok {
		t.Fatalf("unexpected hit for absent asset")
	}
}
