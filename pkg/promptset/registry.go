package promptset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry maps clean prompt-set names to files under a prompts directory.
// It re-scans the directory on each List so newly dropped files are picked
// up without a restart.
type Registry struct {
	dir string

	mu    sync.RWMutex
	files map[string]string // name → path, refreshed by List/scan
}

// NewRegistry creates a registry over dir. The directory is scanned lazily.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, files: make(map[string]string)}
}

// List returns the available prompt-set names, sorted.
func (r *Registry) List() ([]string, error) {
	if err := r.scan(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Open loads the named prompt set.
func (r *Registry) Open(name string) (*Document, error) {
	r.mu.RLock()
	path, ok := r.files[name]
	r.mu.RUnlock()
	if !ok {
		if err := r.scan(); err != nil {
			return nil, err
		}
		r.mu.RLock()
		path, ok = r.files[name]
		r.mu.RUnlock()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSetNotFound, name)
	}
	return LoadFile(path)
}

func (r *Registry) scan() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("scan prompts dir %s: %w", r.dir, err)
	}
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		files[name] = filepath.Join(r.dir, e.Name())
	}
	r.mu.Lock()
	r.files = files
	r.mu.Unlock()
	return nil
}
