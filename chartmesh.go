// Package chartmesh provides a high-level façade over the agent engine for
// chart-authoring chat sessions. Most applications interact with this package
// by:
//  1. Creating a ChartMesh via New() with a model client (optionally
//     overriding the default in-memory session store and HTTP tool transport)
//  2. Managing tool servers and approvals (ActivateServer, ApproveToolCall)
//  3. Running turns asynchronously (Chat) or synchronously (ChatSync)
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development; production
// deployments typically supply a durable session store and a structured
// logger.
package chartmesh

import (
	"context"

	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/engine"
	"github.com/chartmesh/chartmesh/logging"
	"github.com/chartmesh/chartmesh/mcp"
	"github.com/chartmesh/chartmesh/model"
	"github.com/chartmesh/chartmesh/session"
)

// Options configures the ChartMesh instance.
type Options struct {
	// EngineConfig carries the operational parameters (model tuning, retry
	// bounds, timeouts, servers).
	EngineConfig engine.Config

	// SessionID binds the instance to a conversation; generated when empty.
	SessionID string

	// SessionStore defaults to an in-memory implementation.
	SessionStore session.Store

	// Client is the tool-server transport; defaults to the JSON HTTP client.
	Client mcp.Client

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger
}

// ChartMesh is the high-level façade around one agent instance.
type ChartMesh struct {
	opts   Options
	engine *engine.Engine
}

// New creates a ChartMesh instance with optional overrides.
func New(modelClient model.Client, optFns ...func(o *Options)) *ChartMesh {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		SessionID:    core.NewID(),
		SessionStore: session.NewInMemoryStore(),
		Client:       mcp.NewHTTPClient(nil),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(modelClient, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.SessionID = opts.SessionID
		o.SessionStore = opts.SessionStore
		o.Client = opts.Client
		o.Logger = opts.Logger
	})
	return &ChartMesh{opts: opts, engine: e}
}

// Engine exposes the underlying engine for advanced use.
func (m *ChartMesh) Engine() *engine.Engine { return m.engine }

// SessionID returns the bound session id.
func (m *ChartMesh) SessionID() string { return m.engine.SessionID() }

// Chat starts an asynchronous turn returning progress and error channels.
func (m *ChartMesh) Chat(ctx context.Context, text string) (string, <-chan engine.ProgressEvent, <-chan error, error) {
	return m.engine.Chat(ctx, text)
}

// ChatSync runs a turn to completion and returns the final assistant text.
func (m *ChartMesh) ChatSync(ctx context.Context, text string) (string, error) {
	return m.engine.ChatSync(ctx, text)
}

// RegenerateFrom rewinds to the turn containing the given message and replays it.
func (m *ChartMesh) RegenerateFrom(ctx context.Context, messageID string) (string, <-chan engine.ProgressEvent, <-chan error, error) {
	return m.engine.RegenerateFrom(ctx, messageID)
}

// ForkSession copies history through the given message into a new session id.
func (m *ChartMesh) ForkSession(ctx context.Context, messageID string) (string, error) {
	return m.engine.ForkSession(ctx, messageID)
}

// History returns the persisted conversation.
func (m *ChartMesh) History(ctx context.Context) ([]core.Message, error) {
	return m.engine.History(ctx)
}

// Snapshot returns a consistent copy of the runtime state.
func (m *ChartMesh) Snapshot() *core.RuntimeSnapshot { return m.engine.Snapshot() }

// ActivateServer connects the named tool server.
func (m *ChartMesh) ActivateServer(ctx context.Context, name string) engine.OpResult {
	return m.engine.ActivateServer(ctx, name)
}

// DeactivateServer disconnects the named tool server.
func (m *ChartMesh) DeactivateServer(ctx context.Context, name string) engine.OpResult {
	return m.engine.DeactivateServer(ctx, name)
}

// ToggleServer flips the named server's connection state.
func (m *ChartMesh) ToggleServer(ctx context.Context, name string) engine.OpResult {
	return m.engine.ToggleServer(ctx, name)
}

// ListToolApprovals returns pending approval requests.
func (m *ChartMesh) ListToolApprovals() []core.ApprovalRequest {
	return m.engine.ListToolApprovals()
}

// ApproveToolCall grants a pending approval request.
func (m *ChartMesh) ApproveToolCall(id string) engine.OpResult {
	return m.engine.ApproveToolCall(id)
}

// RejectToolCall denies a pending approval request.
func (m *ChartMesh) RejectToolCall(id, reason string) engine.OpResult {
	return m.engine.RejectToolCall(id, reason)
}

// ConnectionOpened registers a client connection with the lifecycle manager.
func (m *ChartMesh) ConnectionOpened() { m.engine.ConnectionOpened() }

// ConnectionClosed unregisters a client connection.
func (m *ChartMesh) ConnectionClosed() { m.engine.ConnectionClosed() }

// RequestDelete marks the instance for deletion.
func (m *ChartMesh) RequestDelete() { m.engine.RequestDelete() }

// Destroyed returns a channel closed once teardown has run.
func (m *ChartMesh) Destroyed() <-chan struct{} { return m.engine.Destroyed() }
