// Package assets stores named audio files used for hold music. Absence of
// a track is a normal outcome, not an error.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type Info struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Store exposes named audio byte blobs.
type Store interface {
	// Get returns the asset bytes and whether the asset exists.
	Get(name string) ([]byte, bool, error)
	List() ([]Info, error)
}

// DirStore serves assets from a flat directory. Track names map to file
// names; path separators are rejected so callers cannot escape the root.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("asset dir is required")
	}
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("asset dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("asset dir %q is not a directory", root)
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) Get(name string) ([]byte, bool, error) {
	if !validName(name) {
		return nil, false, nil
	}
	b, err := os.ReadFile(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read asset %q: %w", name, err)
	}
	return b, true, nil
}

func (s *DirStore) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Size: fi.Size()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func validName(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return false
	}
	return true
}

// MemStore is an in-memory store used when no asset directory is configured
// and by tests.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

func (s *MemStore) Put(name string, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = append([]byte(nil), b...)
}

func (s *MemStore) Get(name string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *MemStore) List() ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]Info, 0, len(s.blobs))
	for name, b := range s.blobs {
		infos = append(infos, Info{Name: name, Size: int64(len(b))})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
