package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Loader discovers extensions in the filesystem.
type Loader struct {
	mu sync.RWMutex

	// Search paths for extensions (checked in order)
	paths []string

	// Discovered extensions by id
	discovered map[string]*Record

	// Directories that failed to load
	failures map[string]error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the extension search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new extension loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPaths(),
		discovered: make(map[string]*Record),
		failures:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPaths returns the default extension search paths.
func DefaultPaths() []string {
	paths := make([]string, 0, 2)

	// User extensions: ~/.config/exthost/extensions/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "exthost", "extensions"))
	}

	// Project extensions: .exthost/extensions/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".exthost", "extensions"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.paths...)
}

// Discover finds all extensions in the search paths. Records are returned
// sorted by identifier; when two paths hold the same identifier the first
// path wins.
func (l *Loader) Discover() ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.discovered = make(map[string]*Record)
	l.failures = make(map[string]error)

	for _, basePath := range l.paths {
		if err := l.discoverInPath(basePath); err != nil {
			return nil, fmt.Errorf("scan %s: %w", basePath, err)
		}
	}

	records := make([]*Record, 0, len(l.discovered))
	for _, r := range l.discovered {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// discoverInPath finds extensions in a single directory.
// Must be called with mu held.
func (l *Loader) discoverInPath(basePath string) error {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(basePath, entry.Name())
		record, err := LoadManifest(dir)
		if err != nil {
			l.failures[dir] = err
			continue
		}
		if _, exists := l.discovered[record.ID]; !exists {
			l.discovered[record.ID] = record
		}
	}
	return nil
}

// Get returns a discovered extension by identifier.
func (l *Loader) Get(id string) (*Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.discovered[id]
	return r, ok
}

// Find returns a discovered extension or ErrExtensionNotFound.
func (l *Loader) Find(id string) (*Record, error) {
	if r, ok := l.Get(id); ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, id)
}

// Failures returns the directories whose manifests failed to load.
func (l *Loader) Failures() map[string]error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]error, len(l.failures))
	for k, v := range l.failures {
		out[k] = v
	}
	return out
}

// Count returns the number of discovered extensions.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.discovered)
}
