package memory

import (
	"errors"
	"maps"
	"strings"
	"sync"

	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore keeps dotted config keys in a map. Nothing is persisted;
// it backs tests and runs that should not touch ~/.detectsearch.
type ConfigStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewConfigStore creates a config store holding the seed maps merged in order.
func NewConfigStore(seed ...map[string]any) *ConfigStore {
	values := make(map[string]any)
	for _, m := range seed {
		maps.Copy(values, m)
	}
	return &ConfigStore{values: values}
}

func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok
}

func (s *ConfigStore) GetString(key string) string {
	return valueAs[string](s, key)
}

func (s *ConfigStore) GetBool(key string) bool {
	return valueAs[bool](s, key)
}

// GetInt accepts any numeric value; floats are truncated.
func (s *ConfigStore) GetInt(key string) int {
	f, _ := s.number(key)
	return int(f)
}

// GetFloat accepts any numeric value.
func (s *ConfigStore) GetFloat(key string) float64 {
	f, _ := s.number(key)
	return f
}

func (s *ConfigStore) number(key string) (float64, bool) {
	val, _ := s.Get(key)
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// valueAs returns the value for key when it has type T, otherwise T's zero value.
func valueAs[T any](s *ConfigStore, key string) T {
	val, _ := s.Get(key)
	v, _ := val.(T)
	return v
}

func (s *ConfigStore) Set(key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("set config: empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Save is a no-op.
func (s *ConfigStore) Save() error { return nil }

// Load is a no-op.
func (s *ConfigStore) Load() error { return nil }

// Path reports ":memory:".
func (s *ConfigStore) Path() string { return ":memory:" }
