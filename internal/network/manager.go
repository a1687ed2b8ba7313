package network

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manager is the registry of named channels. Handlers registered on the
// manager are attached to every channel it owns.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	hooks    notifier
}

func NewManager() *Manager {
	return &Manager{
		channels: make(map[string]*Channel),
	}
}

func (m *Manager) OnConnected(fn ConnectedHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.hooks.addConnected(fn)
	for _, ch := range m.channels {
		ch.OnConnected(fn)
	}
}

func (m *Manager) OnClosed(fn ClosedHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.hooks.addClosed(fn)
	for _, ch := range m.channels {
		ch.OnClosed(fn)
	}
}

func (m *Manager) OnMissHeartbeat(fn MissHeartbeatHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.hooks.addMissHeartbeat(fn)
	for _, ch := range m.channels {
		ch.OnMissHeartbeat(fn)
	}
}

func (m *Manager) OnError(fn ErrorHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.hooks.addError(fn)
	for _, ch := range m.channels {
		ch.OnError(fn)
	}
}

func (m *Manager) OnCustomError(fn CustomErrorHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.hooks.addCustomError(fn)
	for _, ch := range m.channels {
		ch.OnCustomError(fn)
	}
}

// Create builds and registers a channel. Names are unique per manager.
func (m *Manager) Create(name string, helper Helper, cfg Config) (*Channel, error) {
	key := strings.TrimSpace(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[key]; ok {
		return nil, fmt.Errorf("%w: %q", ErrChannelExists, key)
	}
	ch, err := NewChannel(key, helper, cfg)
	if err != nil {
		return nil, err
	}

	m.hooks.mu.RLock()
	for _, fn := range m.hooks.connected {
		ch.OnConnected(fn)
	}
	for _, fn := range m.hooks.closed {
		ch.OnClosed(fn)
	}
	for _, fn := range m.hooks.missHeartbeat {
		ch.OnMissHeartbeat(fn)
	}
	for _, fn := range m.hooks.errs {
		ch.OnError(fn)
	}
	for _, fn := range m.hooks.custom {
		ch.OnCustomError(fn)
	}
	m.hooks.mu.RUnlock()

	m.channels[key] = ch
	return ch, nil
}

func (m *Manager) Get(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[strings.TrimSpace(name)]
	return ch, ok
}

func (m *Manager) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Destroy shuts the named channel down and removes it.
func (m *Manager) Destroy(name string) error {
	key := strings.TrimSpace(name)
	m.mu.Lock()
	ch, ok := m.channels[key]
	delete(m.channels, key)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrChannelNotFound, key)
	}
	ch.Shutdown()
	return nil
}

// Channels returns the registered channels sorted by name.
func (m *Manager) Channels() []*Channel {
	m.mu.RLock()
	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Update ticks every channel and joins their errors.
func (m *Manager) Update(elapsed time.Duration) error {
	var errs []error
	for _, ch := range m.Channels() {
		if err := ch.Update(elapsed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown destroys every channel.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	channels := m.channels
	m.channels = make(map[string]*Channel)
	m.mu.Unlock()
	for _, ch := range channels {
		ch.Shutdown()
	}
}
