package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pagecast/narrator/internal/voices"
)

// FileStore persists the settings as a YAML document
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the YAML file at path. The file is
// created on the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Get(_ context.Context) (voices.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return voices.DefaultSettings(), nil
	}
	if err != nil {
		return voices.Settings{}, fmt.Errorf("settings: read %q: %w", f.path, err)
	}

	var s voices.Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return voices.Settings{}, fmt.Errorf("settings: decode %q: %w", f.path, err)
	}
	if err := s.Validate(); err != nil {
		return voices.Settings{}, fmt.Errorf("settings: %q: %w", f.path, err)
	}
	return s, nil
}

func (f *FileStore) Set(_ context.Context, s voices.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("settings: create dir: %w", err)
		}
	}
	// Replaced via rename; readers never observe a partial file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("settings: rename %q: %w", tmp, err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
