package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"oneiric/internal/api"

	"gopkg.in/yaml.v3"
)

// SelectionSource yields the desired {key: provider} mapping for one
// domain. Watchers poll it and react to differences against the currently
// active providers.
type SelectionSource interface {
	// Load returns the current selection mapping. A missing source yields
	// an empty mapping, not an error.
	Load() (map[string]string, error)
}

// FilePath is implemented by sources backed by a watchable file.
type FilePath interface {
	Path() string
}

// FileSelectionSource reads selections from selections/<domain>.yaml under
// the configuration directory.
type FileSelectionSource struct {
	path string
}

// NewFileSelectionSource creates a file-backed selection source for the
// given domain.
func NewFileSelectionSource(configDir string, domain api.Domain) *FileSelectionSource {
	return &FileSelectionSource{
		path: filepath.Join(configDir, "selections", string(domain)+".yaml"),
	}
}

// Path returns the backing file path for change notification.
func (f *FileSelectionSource) Path() string {
	return f.path
}

// Load reads and parses the selection file.
func (f *FileSelectionSource) Load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading selection file %s: %w", f.path, err)
	}
	selections := map[string]string{}
	if err := yaml.Unmarshal(data, &selections); err != nil {
		return nil, api.NewConfigError(f.path, "malformed selection mapping", err)
	}
	return selections, nil
}

// StaticSelectionSource is an in-memory selection source, mutable at
// runtime. Used by embedding hosts and tests.
type StaticSelectionSource struct {
	mu         sync.RWMutex
	selections map[string]string
}

// NewStaticSelectionSource creates an in-memory selection source seeded
// with the given mapping.
func NewStaticSelectionSource(initial map[string]string) *StaticSelectionSource {
	selections := make(map[string]string, len(initial))
	for k, v := range initial {
		selections[k] = v
	}
	return &StaticSelectionSource{selections: selections}
}

// Load returns a copy of the current mapping.
func (s *StaticSelectionSource) Load() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.selections))
	for k, v := range s.selections {
		out[k] = v
	}
	return out, nil
}

// Set updates the selected provider for a key.
func (s *StaticSelectionSource) Set(key, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[key] = provider
}

// Delete removes a key's selection.
func (s *StaticSelectionSource) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selections, key)
}
