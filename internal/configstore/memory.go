package configstore

import (
	"context"
	"maps"
	"strings"
	"sync"

	"github.com/alecthomas/errors"
)

// Memory is an in-process Store, used in tests.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
	writes int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (m *Memory) String() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", errors.Errorf("%s: %w", key, ErrNotFound)
	}
	return value, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.writes++
	return nil
}

func (m *Memory) Unset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		delete(m.values, key)
		m.writes++
	}
	return nil
}

func (m *Memory) SetSection(_ context.Context, section string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, value := range values {
		m.values[section+"."+name] = value
	}
	m.writes++
	return nil
}

func (m *Memory) RemoveSection(_ context.Context, section string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := false
	for key := range m.values {
		if strings.HasPrefix(key, section+".") {
			delete(m.values, key)
			removed = true
		}
	}
	if removed {
		m.writes++
	}
	return nil
}

// Snapshot returns a copy of every key currently set.
func (m *Memory) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.values)
}

// Writes returns how many mutating calls changed the store.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
