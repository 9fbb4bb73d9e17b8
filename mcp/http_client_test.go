package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newToolServer(t *testing.T) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var mu sync.Mutex
	var seen []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Clone(context.Background()))
		mu.Unlock()

		switch r.URL.Path {
		case "/connect":
			_ = json.NewEncoder(w).Encode(map[string]any{"server_id": "srv-1"})
		case "/tools":
			_ = json.NewEncoder(w).Encode(map[string]any{"tools": []map[string]any{
				{"name": "web.fetch_url", "description": "fetch a page"},
			}})
		case "/call":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["name"] == "web.broken" {
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "upstream exploded"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"ok": true}})
		case "/disconnect":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestHTTPClientConnectAndListTools(t *testing.T) {
	ctx := context.Background()
	srv, seen := newToolServer(t)
	client := NewHTTPClient(srv.Client())

	serverID, err := client.Connect(ctx, "web", srv.URL, ConnectOptions{AuthHeader: "Bearer token-1"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", serverID)

	tools, err := client.ListTools(ctx, serverID)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "web.fetch_url", tools[0].Name)
	assert.Equal(t, serverID, tools[0].ServerID)

	for _, r := range *seen {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"), "auth header replayed on every request")
	}
}

func TestHTTPClientCallToolErrorField(t *testing.T) {
	ctx := context.Background()
	srv, _ := newToolServer(t)
	client := NewHTTPClient(srv.Client())

	serverID, err := client.Connect(ctx, "web", srv.URL, ConnectOptions{})
	require.NoError(t, err)

	result, err := client.CallTool(ctx, CallRequest{Name: "web.fetch_url", ServerID: serverID})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, result)

	_, err = client.CallTool(ctx, CallRequest{Name: "web.broken", ServerID: serverID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestHTTPClientUnknownServerID(t *testing.T) {
	client := NewHTTPClient(nil)
	_, err := client.ListTools(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestHTTPClientDisconnectForgetsSession(t *testing.T) {
	ctx := context.Background()
	srv, _ := newToolServer(t)
	client := NewHTTPClient(srv.Client())

	serverID, err := client.Connect(ctx, "web", srv.URL, ConnectOptions{})
	require.NoError(t, err)
	require.NoError(t, client.Disconnect(ctx, serverID))

	_, err = client.ListTools(ctx, serverID)
	assert.Error(t, err)
}

func TestHTTPClientHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(srv.Client())
	_, err := client.Connect(context.Background(), "web", srv.URL, ConnectOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
