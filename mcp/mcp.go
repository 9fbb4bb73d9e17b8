// Package mcp defines the tool-server collaborator contract and the
// connection manager that activates and deactivates configured servers with
// bounded retries, recording every connection state change in the runtime
// snapshot.
package mcp

import "context"

// ConnectOptions carries optional connection parameters built from server
// configuration at activation time.
type ConnectOptions struct {
	// AuthHeader is the full Authorization header value, empty when the
	// server needs no credential.
	AuthHeader string

	// CallbackHost advertises where the server can reach this agent back,
	// when the deployment requires it.
	CallbackHost string
}

// ToolInfo describes one callable tool exposed by a connected server. Names
// may be namespaced as "server.tool".
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	ServerID    string         `json:"server_id"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// CallRequest identifies one tool invocation against a connected server.
type CallRequest struct {
	Name      string         `json:"name"`
	ServerID  string         `json:"server_id"`
	Arguments map[string]any `json:"arguments"`
}

// Client is the transport-level contract to external tool servers. A Connect
// that succeeds yields an opaque server id used for all subsequent calls.
// Implementations must be safe for concurrent use.
type Client interface {
	Connect(ctx context.Context, name, url string, opts ConnectOptions) (string, error)
	Disconnect(ctx context.Context, serverID string) error
	ListTools(ctx context.Context, serverID string) ([]ToolInfo, error)
	CallTool(ctx context.Context, req CallRequest) (any, error)
}
