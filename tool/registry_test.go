package tool

import (
	"testing"

	"github.com/chartmesh/chartmesh/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRegistryShortAliasWhenUnique(t *testing.T) {
	reg := BuildRegistry([]mcp.ToolInfo{
		{Name: "web.fetch_url", ServerID: "srv-web"},
		{Name: "charts.render_chart", ServerID: "srv-charts"},
	})

	info, ok := reg.Resolve("fetch_url")
	require.True(t, ok)
	assert.Equal(t, "web.fetch_url", info.Name)

	info, ok = reg.Resolve("web.fetch_url")
	require.True(t, ok)
	assert.Equal(t, "srv-web", info.ServerID)

	info, ok = reg.Resolve("web__fetch_url")
	require.True(t, ok)
	assert.Equal(t, "web.fetch_url", info.Name)
}

func TestBuildRegistryCollisionKeepsQualifiedOnly(t *testing.T) {
	reg := BuildRegistry([]mcp.ToolInfo{
		{Name: "web.search", ServerID: "srv-web"},
		{Name: "docs.search", ServerID: "srv-docs"},
	})

	_, ok := reg.Resolve("search")
	assert.False(t, ok, "ambiguous short name must not resolve")

	info, ok := reg.Resolve("web.search")
	require.True(t, ok)
	assert.Equal(t, "srv-web", info.ServerID)
	info, ok = reg.Resolve("docs.search")
	require.True(t, ok)
	assert.Equal(t, "srv-docs", info.ServerID)
}

func TestBuildRegistryDuplicateQualifiedNameFirstWins(t *testing.T) {
	reg := BuildRegistry([]mcp.ToolInfo{
		{Name: "web.fetch", ServerID: "srv-one"},
		{Name: "web.fetch", ServerID: "srv-two"},
	})

	assert.Equal(t, 1, reg.Len())
	info, ok := reg.Resolve("web.fetch")
	require.True(t, ok)
	assert.Equal(t, "srv-one", info.ServerID)
}

func TestBuildRegistryDuplicateListingKeepsShortAlias(t *testing.T) {
	reg := BuildRegistry([]mcp.ToolInfo{
		{Name: "web.fetch", ServerID: "srv-one"},
		{Name: "web.fetch", ServerID: "srv-one"},
	})

	require.Equal(t, 1, reg.Len())
	info, ok := reg.Resolve("fetch")
	require.True(t, ok, "short alias must survive a duplicate listing")
	assert.Equal(t, "web.fetch", info.Name)
	assert.Equal(t, "fetch", reg.PreferredAlias(info))
}

func TestPreferredAlias(t *testing.T) {
	tools := []mcp.ToolInfo{
		{Name: "web.search", ServerID: "srv-web"},
		{Name: "docs.search", ServerID: "srv-docs"},
		{Name: "charts.render_chart", ServerID: "srv-charts"},
	}
	reg := BuildRegistry(tools)

	assert.Equal(t, "web__search", reg.PreferredAlias(tools[0]))
	assert.Equal(t, "docs__search", reg.PreferredAlias(tools[1]))
	assert.Equal(t, "render_chart", reg.PreferredAlias(tools[2]))
}

func TestRegistryToolsPreservesListingOrder(t *testing.T) {
	reg := BuildRegistry([]mcp.ToolInfo{
		{Name: "b.second", ServerID: "s"},
		{Name: "a.first", ServerID: "s"},
	})

	tools := reg.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "b.second", tools[0].Name)
	assert.Equal(t, "a.first", tools[1].Name)
}
