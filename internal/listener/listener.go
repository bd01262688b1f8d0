package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/prefixgate/internal/logging"
)

// Listener represents a network listener that can accept connections
type Listener interface {
	// ID returns the unique identifier for this listener
	ID() string

	// Protocol returns the protocol type
	Protocol() string

	// Start binds and begins accepting connections without blocking
	Start(ctx context.Context) error

	// Stop gracefully stops the listener
	Stop(ctx context.Context) error

	// Addr returns the address the listener is bound to
	Addr() string
}

// Manager starts and stops a fixed set of listeners together
type Manager struct {
	mu        sync.RWMutex
	order     []string
	listeners map[string]Listener
}

// NewManager creates a new listener manager
func NewManager() *Manager {
	return &Manager{listeners: make(map[string]Listener)}
}

// Add adds a listener to the manager
func (m *Manager) Add(l Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listeners[l.ID()]; exists {
		return fmt.Errorf("listener with id %s already exists", l.ID())
	}

	m.listeners[l.ID()] = l
	m.order = append(m.order, l.ID())
	return nil
}

// Get returns a listener by ID
func (m *Manager) Get(id string) (Listener, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listeners[id]
	return l, ok
}

// StartAll starts listeners in the order they were added. If one fails,
// those already started are stopped and the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, id := range m.order {
		l := m.listeners[id]
		if err := l.Start(ctx); err != nil {
			for _, started := range m.order[:i] {
				m.listeners[started].Stop(ctx)
			}
			return fmt.Errorf("listener %s: %w", id, err)
		}
		logging.Info("listener started",
			zap.String("id", id),
			zap.String("protocol", l.Protocol()),
			zap.String("address", l.Addr()),
		)
	}
	return nil
}

// StopAll gracefully stops all listeners concurrently
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(m.listeners))

	for _, l := range m.listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logging.Info("stopping listener", zap.String("id", l.ID()))
			if err := l.Stop(ctx); err != nil {
				errCh <- fmt.Errorf("listener %s: %w", l.ID(), err)
			}
		}()
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Count returns the number of registered listeners
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// List returns listener IDs in the order they were added
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}
