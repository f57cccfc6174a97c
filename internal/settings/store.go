// Package settings persists the user's voice settings selection.
package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/pagecast/narrator/internal/voices"
)

// Store is the process-wide settings persistence interface. Get returns the
// built-in defaults until Set has been called.
type Store interface {
	Get(ctx context.Context) (voices.Settings, error)
	Set(ctx context.Context, s voices.Settings) error
	Close() error
}

// Options selects and configures a store backend
type Options struct {
	Backend     string // memory, file or postgres
	File        string
	DatabaseURL string
}

// NewStore creates the store for the configured backend
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(opts.File), nil
	case "postgres":
		return NewPostgresStore(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown settings backend %q", opts.Backend)
	}
}

// MemoryStore keeps the settings in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	settings *voices.Settings
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context) (voices.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return voices.DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *MemoryStore) Set(_ context.Context, s voices.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}

func (m *MemoryStore) Close() error { return nil }
