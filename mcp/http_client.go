package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient is a minimal Client implementation speaking a JSON-over-HTTP
// tool-server protocol: POST /connect, /disconnect, /tools and /call against
// the server's base URL. The auth header from ConnectOptions is replayed on
// every subsequent request for that server.
type HTTPClient struct {
	http *http.Client

	mu      sync.Mutex
	servers map[string]httpServerSession
}

type httpServerSession struct {
	baseURL    string
	authHeader string
}

// NewHTTPClient creates an HTTPClient with the given underlying client, or a
// default one with a 30s overall request timeout when nil.
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{http: client, servers: make(map[string]httpServerSession)}
}

// Connect implements Client.
func (c *HTTPClient) Connect(ctx context.Context, name, url string, opts ConnectOptions) (string, error) {
	var resp struct {
		ServerID string `json:"server_id"`
	}
	payload := map[string]any{"name": name}
	if opts.CallbackHost != "" {
		payload["callback_host"] = opts.CallbackHost
	}
	if err := c.post(ctx, url, opts.AuthHeader, "/connect", payload, &resp); err != nil {
		return "", err
	}
	if resp.ServerID == "" {
		return "", fmt.Errorf("connect to %s returned no server id", name)
	}
	c.mu.Lock()
	c.servers[resp.ServerID] = httpServerSession{baseURL: url, authHeader: opts.AuthHeader}
	c.mu.Unlock()
	return resp.ServerID, nil
}

// Disconnect implements Client.
func (c *HTTPClient) Disconnect(ctx context.Context, serverID string) error {
	sess, err := c.session(serverID)
	if err != nil {
		return err
	}
	if err := c.post(ctx, sess.baseURL, sess.authHeader, "/disconnect", map[string]any{"server_id": serverID}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.servers, serverID)
	c.mu.Unlock()
	return nil
}

// ListTools implements Client.
func (c *HTTPClient) ListTools(ctx context.Context, serverID string) ([]ToolInfo, error) {
	sess, err := c.session(serverID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.post(ctx, sess.baseURL, sess.authHeader, "/tools", map[string]any{"server_id": serverID}, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Tools {
		resp.Tools[i].ServerID = serverID
	}
	return resp.Tools, nil
}

// CallTool implements Client.
func (c *HTTPClient) CallTool(ctx context.Context, req CallRequest) (any, error) {
	sess, err := c.session(req.ServerID)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result any    `json:"result"`
		Error  string `json:"error"`
	}
	payload := map[string]any{
		"server_id": req.ServerID,
		"name":      req.Name,
		"arguments": req.Arguments,
	}
	if err := c.post(ctx, sess.baseURL, sess.authHeader, "/call", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("tool %s: %s", req.Name, resp.Error)
	}
	return resp.Result, nil
}

func (c *HTTPClient) session(serverID string) (httpServerSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.servers[serverID]
	if !ok {
		return httpServerSession{}, fmt.Errorf("unknown server id %s", serverID)
	}
	return sess, nil
}

func (c *HTTPClient) post(ctx context.Context, baseURL, authHeader, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
