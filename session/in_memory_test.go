package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/chartmesh/chartmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownSessionYieldsEmptyHistory(t *testing.T) {
	store := NewInMemoryStore()
	msgs, err := store.LoadMessages(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReplaceMessagesSwapsWholeHistory(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := []core.Message{core.NewUserMessage("draw a bar chart")}
	require.NoError(t, store.ReplaceMessages(ctx, "s1", first))

	second := []core.Message{
		core.NewUserMessage("draw a bar chart"),
		core.NewAssistantMessage("done"),
	}
	require.NoError(t, store.ReplaceMessages(ctx, "s1", second))

	msgs, err := store.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, second[0].ID, msgs[0].ID)
	assert.Equal(t, second[1].ID, msgs[1].ID)
}

func TestLoadedHistoryDoesNotAliasStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	msg := core.NewAssistantMessage("summary")
	msg.ToolCalls = []core.ToolCallDetail{{ID: "tc-1", Name: "fetch_url"}}
	require.NoError(t, store.ReplaceMessages(ctx, "s1", []core.Message{msg}))

	loaded, err := store.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	loaded[0].Content = "mutated"
	loaded[0].ToolCalls[0].Name = "mutated"

	again, err := store.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "summary", again[0].Content)
	assert.Equal(t, "fetch_url", again[0].ToolCalls[0].Name)
}

func TestClearRemovesSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.ReplaceMessages(ctx, "s1", []core.Message{core.NewUserMessage("hi")}))
	require.NoError(t, store.Clear(ctx, "s1"))

	msgs, err := store.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConcurrentAccessIsSafe(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n%4)
			_ = store.ReplaceMessages(ctx, id, []core.Message{core.NewUserMessage("hi")})
			_, _ = store.LoadMessages(ctx, id)
		}(i)
	}
	wg.Wait()
}
