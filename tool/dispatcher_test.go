package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chartmesh/chartmesh/approval"
	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callClient is a scriptable transport for dispatch tests.
type callClient struct {
	mu        sync.Mutex
	calls     []mcp.CallRequest
	failFirst int
	failWith  error
	result    any
}

func (c *callClient) Connect(context.Context, string, string, mcp.ConnectOptions) (string, error) {
	return "", errors.New("not used")
}

func (c *callClient) Disconnect(context.Context, string) error { return nil }

func (c *callClient) ListTools(context.Context, string) ([]mcp.ToolInfo, error) { return nil, nil }

func (c *callClient) CallTool(_ context.Context, req mcp.CallRequest) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if c.failWith != nil {
		return nil, c.failWith
	}
	if len(c.calls) <= c.failFirst {
		return nil, errors.New("503 service unavailable")
	}
	if c.result != nil {
		return c.result, nil
	}
	return map[string]any{"ok": true}, nil
}

func quickDispatch(o *DispatcherOptions) {
	o.MaxAttempts = 2
	o.CallTimeout = time.Second
}

func fetchRegistry() *Registry {
	return BuildRegistry([]mcp.ToolInfo{{
		Name:     "web.fetch_url",
		ServerID: "srv-web",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []any{"url"},
		},
	}})
}

func TestDispatchSuccessRecordsRun(t *testing.T) {
	store := core.NewStateStore()
	client := &callClient{result: "fetched 12kb"}
	d := NewDispatcher(client, store, quickDispatch)

	out := d.Dispatch(context.Background(), fetchRegistry(), "fetch_url", map[string]any{"url": "https://example.com"})
	assert.Equal(t, map[string]any{"result": "fetched 12kb"}, out)

	snap := store.Snapshot()
	require.Len(t, snap.ToolRuns, 1)
	run := snap.ToolRuns[0]
	assert.Equal(t, core.RunSuccess, run.Status)
	assert.Equal(t, "web.fetch_url", run.ToolName)
	assert.NotNil(t, run.FinishedAt)
	assert.Contains(t, run.ResultSnippet, "fetched 12kb")
	assert.Equal(t, int64(1), snap.RetryStats.Tool.Attempts)
	assert.Equal(t, int64(1), snap.RetryStats.Tool.Success)
}

func TestDispatchNormalizesSynonymArguments(t *testing.T) {
	store := core.NewStateStore()
	client := &callClient{}
	d := NewDispatcher(client, store, quickDispatch)

	out := d.Dispatch(context.Background(), fetchRegistry(), "fetch_url", map[string]any{"link": "https://example.com"})
	_, failed := out["error"]
	require.False(t, failed, "synonym key must satisfy the required field")
	require.Len(t, client.calls, 1)
	assert.Equal(t, map[string]any{"url": "https://example.com"}, client.calls[0].Arguments)
}

func TestDispatchUnknownToolReturnsErrorMap(t *testing.T) {
	store := core.NewStateStore()
	d := NewDispatcher(&callClient{}, store, quickDispatch)

	out := d.Dispatch(context.Background(), fetchRegistry(), "nonexistent", nil)
	assert.Contains(t, out["error"], "unknown tool")
	assert.Empty(t, store.Snapshot().ToolRuns, "unknown aliases never create run records")
}

func TestDispatchValidationFailureSkipsCall(t *testing.T) {
	store := core.NewStateStore()
	client := &callClient{}
	d := NewDispatcher(client, store, quickDispatch)

	out := d.Dispatch(context.Background(), fetchRegistry(), "fetch_url", map[string]any{"depth": 2})
	assert.Contains(t, out["error"], "invalid arguments")
	assert.Empty(t, client.calls)
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	store := core.NewStateStore()
	client := &callClient{failFirst: 1}
	d := NewDispatcher(client, store, quickDispatch)

	out := d.Dispatch(context.Background(), fetchRegistry(), "fetch_url", map[string]any{"url": "https://example.com"})
	_, failed := out["error"]
	assert.False(t, failed)

	snap := store.Snapshot()
	assert.Equal(t, int64(2), snap.RetryStats.Tool.Attempts)
	assert.Equal(t, int64(1), snap.RetryStats.Tool.Success)
}

func TestDispatchFailureSurfacedAsContent(t *testing.T) {
	store := core.NewStateStore()
	client := &callClient{failWith: errors.New("chart id does not exist")}
	d := NewDispatcher(client, store, quickDispatch)

	out := d.Dispatch(context.Background(), fetchRegistry(), "fetch_url", map[string]any{"url": "https://example.com"})
	require.Contains(t, out, "error")
	assert.Contains(t, out["error"], "chart id does not exist")
	require.Len(t, client.calls, 1, "non-transient errors are not retried")

	snap := store.Snapshot()
	require.Len(t, snap.ToolRuns, 1)
	assert.Equal(t, core.RunError, snap.ToolRuns[0].Status)
	assert.Equal(t, int64(1), snap.RetryStats.Tool.Exhausted)

	var sawFailureEvent bool
	for _, ev := range snap.Events {
		if ev.Type == "tool_call_failed" && ev.Level == core.LevelError {
			sawFailureEvent = true
		}
	}
	assert.True(t, sawFailureEvent)
}

func mutatingRegistry() *Registry {
	return BuildRegistry([]mcp.ToolInfo{{
		Name:     "files.delete_file",
		ServerID: "srv-files",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
	}})
}

func TestDispatchGatedCallBlocksThenRunsAfterApproval(t *testing.T) {
	store := core.NewStateStore()
	client := &callClient{}
	d := NewDispatcher(client, store, quickDispatch)
	reg := mutatingRegistry()
	args := map[string]any{"path": "/tmp/report.csv"}

	out := d.Dispatch(context.Background(), reg, "delete_file", args)
	assert.Equal(t, "pending_approval", out["status"])
	approvalID, _ := out["approval_id"].(string)
	require.NotEmpty(t, approvalID)
	assert.Empty(t, client.calls, "gated calls must not reach the server")

	snap := store.Snapshot()
	require.Len(t, snap.ToolRuns, 1)
	assert.Equal(t, core.RunBlocked, snap.ToolRuns[0].Status)

	// Re-dispatching before resolution reuses the pending request.
	out = d.Dispatch(context.Background(), reg, "delete_file", args)
	assert.Equal(t, approvalID, out["approval_id"])

	store.Mutate(func(s *core.RuntimeSnapshot) {
		require.NoError(t, approval.Approve(s, approvalID, store.Now()))
	})

	out = d.Dispatch(context.Background(), reg, "delete_file", args)
	require.Contains(t, out, "result")
	require.Len(t, client.calls, 1)

	// The approval is single use; an identical call is gated again.
	out = d.Dispatch(context.Background(), reg, "delete_file", args)
	assert.Equal(t, "pending_approval", out["status"])
	assert.NotEqual(t, approvalID, out["approval_id"])
	assert.Len(t, client.calls, 1)
}

func TestDispatchRunRingStaysBounded(t *testing.T) {
	store := core.NewStateStore()
	d := NewDispatcher(&callClient{}, store, quickDispatch)
	reg := fetchRegistry()

	for i := 0; i < core.ToolRunCapacity+15; i++ {
		d.Dispatch(context.Background(), reg, "fetch_url", map[string]any{"url": "https://example.com"})
	}
	assert.Len(t, store.Snapshot().ToolRuns, core.ToolRunCapacity)
}
