package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chartmesh/chartmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable in-memory tool server transport.
type fakeClient struct {
	mu           sync.Mutex
	connectCalls int
	failFirst    int
	failAlways   bool
	tools        map[string][]ToolInfo
	disconnected []string
}

func (f *fakeClient) Connect(_ context.Context, name, _ string, _ ConnectOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.failAlways || f.connectCalls <= f.failFirst {
		return "", errors.New("connection refused")
	}
	return "srv-" + name, nil
}

func (f *fakeClient) Disconnect(_ context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, serverID)
	return nil
}

func (f *fakeClient) ListTools(_ context.Context, serverID string) ([]ToolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools[serverID], nil
}

func (f *fakeClient) CallTool(_ context.Context, _ CallRequest) (any, error) {
	return nil, errors.New("not implemented")
}

func quickRetries(o *ManagerOptions) {
	o.ConnectAttempts = 3
	o.ConnectTimeout = time.Second
}

func webReaderConfig() []core.ServerConfig {
	return []core.ServerConfig{{Name: "web-reader", URL: "http://localhost:9301"}}
}

func TestManagerSeedsDisconnectedEntries(t *testing.T) {
	store := core.NewStateStore()
	NewManager(&fakeClient{}, store, []core.ServerConfig{
		{Name: "web-reader"},
		{Name: "chart-store", AutoStart: true},
	}, quickRetries)

	snap := store.Snapshot()
	require.Len(t, snap.Servers, 2)
	for _, entry := range snap.Servers {
		assert.False(t, entry.Connected)
		assert.Empty(t, entry.ServerID)
	}
}

func TestActivateSuccess(t *testing.T) {
	store := core.NewStateStore()
	mgr := NewManager(&fakeClient{}, store, webReaderConfig(), quickRetries)
	before := store.Version()

	version, err := mgr.Activate(context.Background(), "web-reader")
	require.NoError(t, err)
	assert.Equal(t, before+1, version, "one externally visible mutation")

	snap := store.Snapshot()
	entry := snap.Server("web-reader")
	require.NotNil(t, entry)
	assert.True(t, entry.Connected)
	assert.Equal(t, "srv-web-reader", entry.ServerID)
	assert.Empty(t, entry.LastError)
	assert.Equal(t, int64(1), snap.RetryStats.Connection.Attempts)
	assert.Equal(t, int64(1), snap.RetryStats.Connection.Success)
}

func TestActivateUnknownServerNoStateChange(t *testing.T) {
	store := core.NewStateStore()
	mgr := NewManager(&fakeClient{}, store, webReaderConfig(), quickRetries)
	before := store.Version()

	version, err := mgr.Activate(context.Background(), "nope")
	var nf *core.NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, before, version, "unknown name must not mutate state")
}

func TestActivateRetriesTransientFailures(t *testing.T) {
	store := core.NewStateStore()
	client := &fakeClient{failFirst: 2}
	mgr := NewManager(client, store, webReaderConfig(), quickRetries)

	_, err := mgr.Activate(context.Background(), "web-reader")
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, int64(3), snap.RetryStats.Connection.Attempts)
	assert.Equal(t, int64(1), snap.RetryStats.Connection.Success)
	assert.Equal(t, int64(0), snap.RetryStats.Connection.Exhausted)
	assert.True(t, snap.Server("web-reader").Connected)
}

func TestActivateExhaustedRecordsError(t *testing.T) {
	store := core.NewStateStore()
	mgr := NewManager(&fakeClient{failAlways: true}, store, webReaderConfig(), quickRetries)

	_, err := mgr.Activate(context.Background(), "web-reader")
	var connErr *core.ConnectionError
	require.ErrorAs(t, err, &connErr)

	snap := store.Snapshot()
	entry := snap.Server("web-reader")
	assert.False(t, entry.Connected)
	assert.NotEmpty(t, entry.LastError)
	assert.Equal(t, int64(3), snap.RetryStats.Connection.Attempts)
	assert.Equal(t, int64(1), snap.RetryStats.Connection.Exhausted)

	var sawErrorEvent bool
	for _, ev := range snap.Events {
		if ev.Type == "server_connect_failed" && ev.Level == core.LevelError {
			sawErrorEvent = true
		}
	}
	assert.True(t, sawErrorEvent, "every error path writes an event log entry")
}

func TestDeactivateNotConnectedIsNoOp(t *testing.T) {
	store := core.NewStateStore()
	mgr := NewManager(&fakeClient{}, store, webReaderConfig(), quickRetries)
	before := store.Version()

	version, err := mgr.Deactivate(context.Background(), "web-reader")
	require.NoError(t, err)
	assert.Equal(t, before, version)
}

func TestActivateThenDeactivate(t *testing.T) {
	store := core.NewStateStore()
	client := &fakeClient{}
	mgr := NewManager(client, store, webReaderConfig(), quickRetries)

	_, err := mgr.Activate(context.Background(), "web-reader")
	require.NoError(t, err)
	_, err = mgr.Deactivate(context.Background(), "web-reader")
	require.NoError(t, err)

	entry := store.Snapshot().Server("web-reader")
	assert.False(t, entry.Connected)
	assert.Empty(t, entry.ServerID, "server id present iff connected")
	assert.Equal(t, []string{"srv-web-reader"}, client.disconnected)
}

func TestEnsureConnectionsAutostartOnly(t *testing.T) {
	store := core.NewStateStore()
	client := &fakeClient{}
	mgr := NewManager(client, store, []core.ServerConfig{
		{Name: "auto-one", AutoStart: true},
		{Name: "manual", AutoStart: false},
	}, quickRetries)

	require.NoError(t, mgr.EnsureConnections(context.Background()))

	snap := store.Snapshot()
	assert.True(t, snap.Server("auto-one").Connected)
	assert.False(t, snap.Server("manual").Connected)
}

func TestEnsureConnectionsNoAutostartIsNoOp(t *testing.T) {
	store := core.NewStateStore()
	client := &fakeClient{}
	mgr := NewManager(client, store, webReaderConfig(), quickRetries)
	before := store.Version()

	require.NoError(t, mgr.EnsureConnections(context.Background()))
	assert.Equal(t, before, store.Version())
	assert.Equal(t, 0, client.connectCalls)
}

func TestEnsureConnectionsSingleFlight(t *testing.T) {
	store := core.NewStateStore()
	client := &fakeClient{}
	mgr := NewManager(client, store, []core.ServerConfig{
		{Name: "auto-one", AutoStart: true},
	}, quickRetries)

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, mgr.EnsureConnections(context.Background()))
			done.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), done.Load())
	// Concurrent ensures await a single in-flight initialization; the worst
	// case is one connect per non-overlapping call, never one per caller.
	assert.LessOrEqual(t, client.connectCalls, 2)
	assert.True(t, store.Snapshot().Server("auto-one").Connected)
}

func TestListToolsAggregatesConnectedServers(t *testing.T) {
	store := core.NewStateStore()
	client := &fakeClient{tools: map[string][]ToolInfo{
		"srv-a": {{Name: "a.fetch_url"}},
		"srv-b": {{Name: "b.render_chart"}},
	}}
	mgr := NewManager(client, store, []core.ServerConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}, quickRetries)

	_, err := mgr.Activate(context.Background(), "a")
	require.NoError(t, err)
	_, err = mgr.Activate(context.Background(), "b")
	require.NoError(t, err)

	tools := mgr.ListTools(context.Background())
	names := make([]string, 0, len(tools))
	for _, ti := range tools {
		names = append(names, ti.Name)
		assert.NotEmpty(t, ti.ServerID)
	}
	assert.ElementsMatch(t, []string{"a.fetch_url", "b.render_chart"}, names)
}
