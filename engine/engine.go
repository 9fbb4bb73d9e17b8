// Package engine wires the connection manager, approval gate, tool
// dispatcher, model client and lifecycle manager into one agent instance
// bound to a single session, and exposes the operation surface clients drive.
package engine

import (
	"context"
	"fmt"

	"github.com/chartmesh/chartmesh/approval"
	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/lifecycle"
	"github.com/chartmesh/chartmesh/logging"
	"github.com/chartmesh/chartmesh/mcp"
	"github.com/chartmesh/chartmesh/model"
	"github.com/chartmesh/chartmesh/session"
	"github.com/chartmesh/chartmesh/tool"
)

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains the operational parameters. Defaults to DefaultConfig.
	Config Config

	// SessionID binds the instance to a conversation. A fresh id is generated
	// when empty.
	SessionID string

	// SessionStore persists conversation history. Defaults to in-memory.
	SessionStore session.Store

	// Client is the tool-server transport. Defaults to the JSON HTTP client.
	Client mcp.Client

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// OpResult is the uniform outcome of management operations: success or a
// client-presentable error string, plus the state version after the
// operation so callers can cheaply detect staleness.
type OpResult struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	StateVersion int64  `json:"state_version"`
}

// Engine is one agent instance. All methods are safe for concurrent use.
type Engine struct {
	cfg        Config
	sessionID  string
	store      *core.StateStore
	sessions   session.Store
	manager    *mcp.Manager
	dispatcher *tool.Dispatcher
	client     model.Client
	life       *lifecycle.Manager
	log        logging.Logger
}

// New creates an Engine around the given model client.
func New(modelClient model.Client, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:       DefaultConfig,
		SessionID:    core.NewID(),
		SessionStore: session.NewInMemoryStore(),
		Client:       mcp.NewHTTPClient(nil),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	store := core.NewStateStore()
	e := &Engine{
		cfg:       opts.Config,
		sessionID: opts.SessionID,
		store:     store,
		sessions:  opts.SessionStore,
		client:    modelClient,
		log:       opts.Logger,
	}

	e.manager = mcp.NewManager(opts.Client, store, opts.Config.Servers, func(o *mcp.ManagerOptions) {
		o.ConnectAttempts = opts.Config.ConnectAttempts
		o.ConnectTimeout = opts.Config.ConnectTimeout.Std()
		o.Logger = opts.Logger
	})
	e.dispatcher = tool.NewDispatcher(opts.Client, store, func(o *tool.DispatcherOptions) {
		o.MaxAttempts = opts.Config.ToolMaxAttempts
		o.CallTimeout = opts.Config.ToolTimeout.Std()
		o.Logger = opts.Logger
	})
	e.life = lifecycle.NewManager(e.destroy, func(o *lifecycle.ManagerOptions) {
		o.IdleTimeout = opts.Config.IdleTimeout.Std()
		o.Logger = opts.Logger
	})
	return e
}

// SessionID returns the session this instance is bound to.
func (e *Engine) SessionID() string { return e.sessionID }

// Snapshot returns a consistent copy of the runtime state.
func (e *Engine) Snapshot() *core.RuntimeSnapshot { return e.store.Snapshot() }

// StateVersion returns the current state version without copying.
func (e *Engine) StateVersion() int64 { return e.store.Version() }

// History returns the persisted conversation.
func (e *Engine) History(ctx context.Context) ([]core.Message, error) {
	return e.sessions.LoadMessages(ctx, e.sessionID)
}

// ActivateServer connects the named tool server.
func (e *Engine) ActivateServer(ctx context.Context, name string) OpResult {
	version, err := e.manager.Activate(ctx, name)
	return opResult(version, err)
}

// DeactivateServer disconnects the named tool server.
func (e *Engine) DeactivateServer(ctx context.Context, name string) OpResult {
	version, err := e.manager.Deactivate(ctx, name)
	return opResult(version, err)
}

// ToggleServer flips the named server's connection state.
func (e *Engine) ToggleServer(ctx context.Context, name string) OpResult {
	entry := e.store.Snapshot().Server(name)
	if entry == nil {
		err := &core.NotFoundError{Kind: "server", Key: name}
		return OpResult{Error: err.Error(), StateVersion: e.store.Version()}
	}
	if entry.Connected {
		return e.DeactivateServer(ctx, name)
	}
	return e.ActivateServer(ctx, name)
}

// ListToolApprovals returns the pending approval requests followed by the
// recently resolved ones still retained for audit, each group oldest first.
func (e *Engine) ListToolApprovals() []core.ApprovalRequest {
	var pending, resolved []core.ApprovalRequest
	for _, req := range e.store.Snapshot().Approvals {
		if req.Status == core.ApprovalPending {
			pending = append(pending, req)
		} else {
			resolved = append(resolved, req)
		}
	}
	return append(pending, resolved...)
}

// ApproveToolCall grants the identified approval request, arming a single-use
// time-boxed signature for the matching call.
func (e *Engine) ApproveToolCall(id string) OpResult {
	var opErr error
	version := e.store.Mutate(func(snap *core.RuntimeSnapshot) {
		now := e.store.Now()
		if opErr = approval.Approve(snap, id, now); opErr != nil {
			return
		}
		approval.Prune(snap, now)
		snap.PushEvent(e.store.NewEvent(core.LevelSuccess, core.SourceSystem, "approval_granted",
			"tool call approved", map[string]any{"approval_id": id}))
	})
	if opErr != nil {
		e.log.Warn("engine.approve.failed", "approval_id", id, "error", opErr.Error())
	}
	return opResult(version, opErr)
}

// RejectToolCall denies the identified approval request.
func (e *Engine) RejectToolCall(id, reason string) OpResult {
	var opErr error
	version := e.store.Mutate(func(snap *core.RuntimeSnapshot) {
		now := e.store.Now()
		if opErr = approval.Reject(snap, id, reason, now); opErr != nil {
			return
		}
		approval.Prune(snap, now)
		snap.PushEvent(e.store.NewEvent(core.LevelInfo, core.SourceSystem, "approval_rejected",
			"tool call rejected", map[string]any{"approval_id": id, "reason": reason}))
	})
	if opErr != nil {
		e.log.Warn("engine.reject.failed", "approval_id", id, "error", opErr.Error())
	}
	return opResult(version, opErr)
}

// ConnectionOpened registers a client connection with the lifecycle manager.
func (e *Engine) ConnectionOpened() { e.life.ConnectionOpened() }

// ConnectionClosed unregisters a client connection.
func (e *Engine) ConnectionClosed() { e.life.ConnectionClosed() }

// RequestDelete marks the instance for deletion. Teardown clears the session
// history and fires after a short grace once no connections remain.
func (e *Engine) RequestDelete() { e.life.RequestDelete() }

// Destroyed returns a channel closed when the instance has been torn down.
func (e *Engine) Destroyed() <-chan struct{} { return e.life.Destroyed() }

// destroy is the lifecycle teardown hook.
func (e *Engine) destroy() {
	ctx := context.Background()
	if err := e.sessions.Clear(ctx, e.sessionID); err != nil {
		e.log.Warn("engine.destroy.clear_failed", "session_id", e.sessionID, "error", err.Error())
	}
	for _, entry := range e.store.Snapshot().Servers {
		if !entry.Connected {
			continue
		}
		if _, err := e.manager.Deactivate(ctx, entry.Name); err != nil {
			e.log.Warn("engine.destroy.disconnect_failed", "server", entry.Name, "error", err.Error())
		}
	}
	e.store.RecordEvent(core.LevelInfo, core.SourceSystem, "instance_destroyed",
		fmt.Sprintf("session %s destroyed", e.sessionID), nil)
	e.log.Info("engine.destroyed", "session_id", e.sessionID)
}

func opResult(version int64, err error) OpResult {
	if err != nil {
		return OpResult{Error: err.Error(), StateVersion: version}
	}
	return OpResult{Success: true, StateVersion: version}
}
