// Package lifecycle tracks client connections against an agent instance and
// tears the instance down when it is idle past the timeout or a deletion was
// requested. Teardown runs exactly once.
package lifecycle

import (
	"sync"
	"time"

	"github.com/chartmesh/chartmesh/logging"
)

const (
	// DefaultIdleTimeout destroys an instance no client has touched for this
	// long.
	DefaultIdleTimeout = 15 * time.Minute

	// DefaultDeleteGrace delays a requested deletion briefly so an in-flight
	// final request can still complete.
	DefaultDeleteGrace = 250 * time.Millisecond
)

// ManagerOptions configures a lifecycle Manager.
type ManagerOptions struct {
	IdleTimeout time.Duration
	DeleteGrace time.Duration
	Logger      logging.Logger
}

// Manager counts open connections and schedules destruction when the count
// drops to zero. Timers fired against a stale state re-check under the lock
// before destroying, so a reconnect between schedule and fire wins.
type Manager struct {
	mu          sync.Mutex
	connections int
	deleteAsked bool
	destroyed   bool
	timer       *time.Timer

	idleTimeout time.Duration
	deleteGrace time.Duration
	log         logging.Logger
	onDestroy   func()
	destroyedCh chan struct{}
}

// NewManager creates a Manager. onDestroy runs exactly once, outside the
// manager lock, when the instance is torn down.
func NewManager(onDestroy func(), optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		IdleTimeout: DefaultIdleTimeout,
		DeleteGrace: DefaultDeleteGrace,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		idleTimeout: opts.IdleTimeout,
		deleteGrace: opts.DeleteGrace,
		log:         opts.Logger,
		onDestroy:   onDestroy,
		destroyedCh: make(chan struct{}),
	}
}

// ConnectionOpened registers a client connection and cancels any pending
// idle destruction.
func (m *Manager) ConnectionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.connections++
	m.cancelTimerLocked()
}

// ConnectionClosed unregisters a client connection. When the last connection
// closes, destruction is scheduled after the idle timeout, or after the
// deletion grace period when a delete was requested.
func (m *Manager) ConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	if m.connections > 0 {
		m.connections--
	}
	if m.connections > 0 {
		return
	}
	if m.deleteAsked {
		m.scheduleLocked(m.deleteGrace)
	} else {
		m.scheduleLocked(m.idleTimeout)
	}
}

// RequestDelete marks the instance for deletion. With no open connections the
// teardown fires after the grace period; otherwise it fires once the last
// connection closes.
func (m *Manager) RequestDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.deleteAsked = true
	if m.connections == 0 {
		m.scheduleLocked(m.deleteGrace)
	}
}

// Connections reports the current open connection count.
func (m *Manager) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections
}

// Destroyed returns a channel closed when teardown has run.
func (m *Manager) Destroyed() <-chan struct{} { return m.destroyedCh }

// IsDestroyed reports whether teardown has run.
func (m *Manager) IsDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

func (m *Manager) scheduleLocked(after time.Duration) {
	m.cancelTimerLocked()
	m.timer = time.AfterFunc(after, m.fire)
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// fire re-validates the destroy condition under the lock; a connection that
// arrived after scheduling aborts the teardown.
func (m *Manager) fire() {
	m.mu.Lock()
	if m.destroyed || m.connections > 0 {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.cancelTimerLocked()
	onDestroy := m.onDestroy
	m.mu.Unlock()

	m.log.Info("lifecycle.destroyed")
	if onDestroy != nil {
		onDestroy()
	}
	close(m.destroyedCh)
}
