package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/alanyoungcy/pollypilot/internal/domain"
)

// SettingsStore implements domain.SettingsStore with a map.
type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettingsStore creates an empty SettingsStore.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: make(map[string]string)}
}

// All returns a copy of every stored pair.
func (s *SettingsStore) All(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values), nil
}

// Set stores a single pair.
func (s *SettingsStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// SeedDefaults stores each pair whose key is absent.
func (s *SettingsStore) SeedDefaults(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if _, ok := s.values[k]; !ok {
			s.values[k] = v
		}
	}
	return nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
