package config

import "sync"

// SettingsStore holds the current model settings behind a read-write lock.
// Reads never block on other reads; the selector calls Current on every
// model call so runtime updates take effect on the next iteration.
type SettingsStore struct {
	mu      sync.RWMutex
	current ModelSettings
}

// NewSettingsStore creates a store seeded with the given settings.
func NewSettingsStore(initial ModelSettings) *SettingsStore {
	return &SettingsStore{current: initial}
}

// Current returns a copy of the current settings. The fallback slice is
// copied so callers cannot mutate the stored value.
func (s *SettingsStore) Current() ModelSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.current
	out.Fallbacks = append([]string(nil), s.current.Fallbacks...)
	return out
}

// Update replaces the current settings.
func (s *SettingsStore) Update(ms ModelSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ms
}
