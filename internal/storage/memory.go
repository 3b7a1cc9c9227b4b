// Package storage provides settings persistence implementations.
package storage

import (
	"sync"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Compile-time interface check.
var _ domain.SettingsStore = (*MemoryStore)(nil)

// MemoryStore keeps settings in memory. Safe for concurrent access.
// Used when persistence is disabled and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
	saves  int
	log    *logger.Logger
}

// NewMemoryStore creates a store seeded with initial (may be nil).
func NewMemoryStore(initial map[string]any, log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		values: copyMap(initial),
		log:    log,
	}
}

// Load returns a copy of the saved values.
func (s *MemoryStore) Load() (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.values), nil
}

// Save replaces the saved values.
func (s *MemoryStore) Save(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = copyMap(values)
	s.saves++
	s.log.Debug("memory settings saved (%d keys, save #%d)", len(values), s.saves)
	return nil
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
