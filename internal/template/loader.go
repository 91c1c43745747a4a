package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Loader reads every template document in a directory and indexes them
// by name.
//
// Thread Safety: All methods are safe for concurrent use. Reload swaps
// the index atomically; lookups during a reload see either the old or
// the new set, never a partial one.
type Loader struct {
	dir string

	mu     sync.RWMutex
	byName map[string]*Template
}

// NewLoader creates a Loader for the given directory. Call Load before
// the first Get.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:    dir,
		byName: make(map[string]*Template),
	}
}

// Load parses every .yaml/.yml file in the directory. Any invalid
// template fails the whole load, naming the offending file; the
// previously loaded set stays in place.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("reading template directory: %w", err)
	}

	next := make(map[string]*Template)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", name, err)
		}

		tpl, err := parseTemplate(data)
		if err != nil {
			return fmt.Errorf("template file %s: %w", name, err)
		}

		if _, dup := next[tpl.Name]; dup {
			return fmt.Errorf("%w: template name %q defined more than once", ErrInvalid, tpl.Name)
		}
		next[tpl.Name] = tpl
	}

	l.mu.Lock()
	l.byName = next
	l.mu.Unlock()

	return nil
}

// Reload rescans the directory. On failure the previous set is kept.
func (l *Loader) Reload() error {
	return l.Load()
}

// Get returns the template with the given name.
func (l *Loader) Get(name string) (*Template, error) {
	l.mu.RLock()
	tpl, ok := l.byName[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return tpl, nil
}

// Names returns the loaded template names in sorted order.
func (l *Loader) Names() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.byName))
	for name := range l.byName {
		names = append(names, name)
	}
	l.mu.RUnlock()
	sort.Strings(names)
	return names
}
