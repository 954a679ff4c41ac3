package channel

import (
	"context"
	"sync"

	"relay/pkg/domain"
)

// Manager holds the live Adapter instances the gateway has connected,
// keyed by channel id. It implements the pipeline's Senders interface.
type Manager struct {
	mu       sync.RWMutex
	adapters map[domain.ChannelID]Adapter
}

func NewManager() *Manager {
	return &Manager{adapters: make(map[domain.ChannelID]Adapter)}
}

// Add registers a connected adapter under its own ID.
func (m *Manager) Add(a Adapter) {
	m.mu.Lock()
	m.adapters[a.ID()] = a
	m.mu.Unlock()
}

func (m *Manager) Get(id domain.ChannelID) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[id]
	return a, ok
}

// All returns every registered adapter, for status reporting and
// coordinated shutdown.
func (m *Manager) All() []Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		out = append(out, a)
	}
	return out
}

// DisconnectAll shuts down every connected adapter, collecting the
// first error encountered but attempting every adapter regardless.
func (m *Manager) DisconnectAll(_ context.Context) error {
	m.mu.RLock()
	adapters := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, a := range adapters {
		if err := a.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
