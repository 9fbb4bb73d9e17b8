package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/logging"
	"github.com/chartmesh/chartmesh/retry"
)

const defaultConnectTimeout = 10 * time.Second

// ManagerOptions configures a connection Manager.
type ManagerOptions struct {
	// ConnectAttempts bounds retries per activation or deactivation.
	ConnectAttempts int

	// ConnectTimeout is the per-attempt deadline.
	ConnectTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Manager owns the connection lifecycle of every configured tool server. It
// seeds one disconnected ServerConnectionEntry per configured server at
// construction and mutates entries, retry stats and the event log through
// the shared StateStore, so each terminal activation outcome is one atomic
// version bump.
type Manager struct {
	client   Client
	store    *core.StateStore
	log      logging.Logger
	attempts int
	timeout  time.Duration

	ensureMu sync.Mutex
	ensuring chan struct{}
}

// NewManager creates a Manager and registers configured servers as
// disconnected entries in the runtime snapshot.
func NewManager(client Client, store *core.StateStore, configs []core.ServerConfig, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		ConnectAttempts: 3,
		ConnectTimeout:  defaultConnectTimeout,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Manager{
		client:   client,
		store:    store,
		log:      opts.Logger,
		attempts: opts.ConnectAttempts,
		timeout:  opts.ConnectTimeout,
	}

	if len(configs) > 0 {
		store.Mutate(func(snap *core.RuntimeSnapshot) {
			for _, cfg := range configs {
				if snap.Server(cfg.Name) != nil {
					continue
				}
				snap.Servers = append(snap.Servers, core.ServerConnectionEntry{Name: cfg.Name, Config: cfg})
			}
		})
	}
	return m
}

// Activate connects the named server, retrying transient failures with the
// connection classifier. Re-activating an already connected server re-runs
// the connect attempt (last write wins on server id). Returns the resulting
// state version; unknown names produce a NotFoundError with no state change.
func (m *Manager) Activate(ctx context.Context, name string) (int64, error) {
	entry := m.store.Snapshot().Server(name)
	if entry == nil {
		return m.store.Version(), &core.NotFoundError{Kind: "server", Key: name}
	}
	cfg := entry.Config

	opts := ConnectOptions{CallbackHost: cfg.CallbackHost}
	if cfg.AuthToken != "" {
		opts.AuthHeader = "Bearer " + cfg.AuthToken
	}

	serverID, attempts, err := retry.Do(ctx, retry.Config{
		MaxAttempts: m.attempts,
		Timeout:     m.timeout,
		ShouldRetry: retry.RetryableConnection,
	}, func(ctx context.Context) (string, error) {
		return m.client.Connect(ctx, cfg.Name, cfg.URL, opts)
	})

	if err != nil {
		connErr := &core.ConnectionError{Server: name, Err: err}
		m.log.Error("mcp.connect.failed", "server", name, "attempts", attempts, "error", err.Error())
		version := m.store.Mutate(func(snap *core.RuntimeSnapshot) {
			snap.RetryStats.Connection.Attempts += int64(attempts)
			snap.RetryStats.Connection.Exhausted++
			if e := snap.Server(name); e != nil {
				e.LastError = connErr.Error()
			}
			snap.PushEvent(m.store.NewEvent(core.LevelError, core.SourceMCP, "server_connect_failed",
				fmt.Sprintf("failed to connect %s", name), map[string]any{"server": name, "error": err.Error()}))
		})
		return version, connErr
	}

	m.log.Info("mcp.connect.success", "server", name, "server_id", serverID, "attempts", attempts)
	version := m.store.Mutate(func(snap *core.RuntimeSnapshot) {
		snap.RetryStats.Connection.Attempts += int64(attempts)
		snap.RetryStats.Connection.Success++
		if e := snap.Server(name); e != nil {
			e.ServerID = serverID
			e.Connected = true
			e.LastError = ""
		}
		snap.PushEvent(m.store.NewEvent(core.LevelSuccess, core.SourceMCP, "server_connected",
			fmt.Sprintf("connected %s", name), map[string]any{"server": name, "server_id": serverID}))
	})
	return version, nil
}

// Deactivate disconnects the named server, retrying removal on transient
// failures. A server that is not connected is a no-op success. Unknown names
// produce a NotFoundError.
func (m *Manager) Deactivate(ctx context.Context, name string) (int64, error) {
	entry := m.store.Snapshot().Server(name)
	if entry == nil {
		return m.store.Version(), &core.NotFoundError{Kind: "server", Key: name}
	}
	if !entry.Connected {
		return m.store.Version(), nil
	}
	serverID := entry.ServerID

	_, attempts, err := retry.Do(ctx, retry.Config{
		MaxAttempts: m.attempts,
		Timeout:     m.timeout,
		ShouldRetry: retry.RetryableConnection,
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.client.Disconnect(ctx, serverID)
	})

	if err != nil {
		connErr := &core.ConnectionError{Server: name, Err: err}
		m.log.Error("mcp.disconnect.failed", "server", name, "error", err.Error())
		version := m.store.Mutate(func(snap *core.RuntimeSnapshot) {
			snap.RetryStats.Connection.Attempts += int64(attempts)
			snap.RetryStats.Connection.Exhausted++
			if e := snap.Server(name); e != nil {
				e.LastError = connErr.Error()
			}
			snap.PushEvent(m.store.NewEvent(core.LevelError, core.SourceMCP, "server_disconnect_failed",
				fmt.Sprintf("failed to disconnect %s", name), map[string]any{"server": name, "error": err.Error()}))
		})
		return version, connErr
	}

	m.log.Info("mcp.disconnect.success", "server", name)
	version := m.store.Mutate(func(snap *core.RuntimeSnapshot) {
		snap.RetryStats.Connection.Attempts += int64(attempts)
		snap.RetryStats.Connection.Success++
		if e := snap.Server(name); e != nil {
			e.ServerID = ""
			e.Connected = false
			e.LastError = ""
		}
		snap.PushEvent(m.store.NewEvent(core.LevelInfo, core.SourceMCP, "server_disconnected",
			fmt.Sprintf("disconnected %s", name), map[string]any{"server": name}))
	})
	return version, nil
}

// EnsureConnections activates every autostart server that is not yet
// connected. Concurrent callers await the single in-flight initialization
// rather than racing duplicate connects. With no autostart servers this is a
// no-op.
func (m *Manager) EnsureConnections(ctx context.Context) error {
	m.ensureMu.Lock()
	if m.ensuring != nil {
		wait := m.ensuring
		m.ensureMu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	m.ensuring = done
	m.ensureMu.Unlock()

	defer func() {
		m.ensureMu.Lock()
		m.ensuring = nil
		m.ensureMu.Unlock()
		close(done)
	}()

	var pending []string
	for _, entry := range m.store.Snapshot().Servers {
		if entry.Config.AutoStart && !entry.Connected {
			pending = append(pending, entry.Name)
		}
	}
	for _, name := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Individual failures are recorded on the entry; a dead autostart
		// server must not block the rest of the turn.
		if _, err := m.Activate(ctx, name); err != nil {
			m.log.Warn("mcp.ensure.activate_failed", "server", name, "error", err.Error())
		}
	}
	return nil
}

// ListTools aggregates tool listings from every connected server. Listing
// failures from one server are logged and skipped so a flaky server does not
// hide the others' tools.
func (m *Manager) ListTools(ctx context.Context) []ToolInfo {
	var tools []ToolInfo
	for _, entry := range m.store.Snapshot().Servers {
		if !entry.Connected {
			continue
		}
		infos, err := m.client.ListTools(ctx, entry.ServerID)
		if err != nil {
			m.log.Warn("mcp.list_tools.failed", "server", entry.Name, "error", err.Error())
			m.store.RecordEvent(core.LevelError, core.SourceMCP, "list_tools_failed",
				fmt.Sprintf("listing tools on %s failed", entry.Name),
				map[string]any{"server": entry.Name, "error": err.Error()})
			continue
		}
		for i := range infos {
			if infos[i].ServerID == "" {
				infos[i].ServerID = entry.ServerID
			}
		}
		tools = append(tools, infos...)
	}
	return tools
}

// Client exposes the underlying transport for the dispatcher.
func (m *Manager) Client() Client { return m.client }
