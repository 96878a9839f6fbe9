package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docWithBackend(name string, tools map[string]*ToolEntry) *Document {
	doc := NewDocument()
	cfg := &BackendConfig{Command: "npx", Tools: tools}
	doc.AddServer(name, cfg)
	return doc
}

func TestMergeInsertsNewToolsEnabled(t *testing.T) {
	t.Parallel()

	doc := docWithBackend("alpha", nil)
	MergeDiscovered(doc, "alpha", []ToolInfo{
		{Name: "x", Description: "does x"},
		{Name: "y", Description: "does y"},
	})

	tools := doc.Servers["alpha"].Tools
	require.Len(t, tools, 2)
	for _, name := range []string{"x", "y"} {
		assert.True(t, tools[name].Enabled, name)
		assert.False(t, tools[name].Stale, name)
	}
	assert.Equal(t, "does x", tools["x"].Description)
}

func TestMergePreservesUserDisable(t *testing.T) {
	t.Parallel()

	doc := docWithBackend("alpha", map[string]*ToolEntry{
		"x": {Enabled: false, Description: "old"},
	})
	MergeDiscovered(doc, "alpha", []ToolInfo{{Name: "x", Description: "new"}})

	entry := doc.Servers["alpha"].Tools["x"]
	assert.False(t, entry.Enabled, "rediscovery must not overwrite enabled")
	assert.False(t, entry.Stale)
	assert.Equal(t, "new", entry.Description, "description refreshes on every discovery")
}

func TestMergeMarksMissingToolsStale(t *testing.T) {
	t.Parallel()

	doc := docWithBackend("alpha", map[string]*ToolEntry{
		"x": {Enabled: false},
		"y": {Enabled: true},
	})
	MergeDiscovered(doc, "alpha", []ToolInfo{{Name: "y"}})

	tools := doc.Servers["alpha"].Tools
	assert.True(t, tools["x"].Stale)
	assert.False(t, tools["x"].Enabled, "enabled preserved through staleness")
	assert.False(t, tools["y"].Stale)
}

func TestMergeStaleRoundTrip(t *testing.T) {
	t.Parallel()

	doc := docWithBackend("alpha", map[string]*ToolEntry{
		"x": {Enabled: false},
	})
	MergeDiscovered(doc, "alpha", nil)
	require.True(t, doc.Servers["alpha"].Tools["x"].Stale)

	MergeDiscovered(doc, "alpha", []ToolInfo{{Name: "x", Description: "back"}})
	entry := doc.Servers["alpha"].Tools["x"]
	assert.False(t, entry.Stale, "reappearing tool clears stale")
	assert.False(t, entry.Enabled, "enabled unchanged throughout")
}

func TestMergeUnknownBackendIsTotal(t *testing.T) {
	t.Parallel()

	doc := NewDocument()
	MergeDiscovered(doc, "ghost", []ToolInfo{{Name: "x"}})
	assert.Empty(t, doc.Servers)
}

func TestPruneStaleDisabled(t *testing.T) {
	t.Parallel()

	doc := docWithBackend("alpha", map[string]*ToolEntry{
		"gone":     {Enabled: false, Stale: true},
		"kept":     {Enabled: true, Stale: true},
		"active":   {Enabled: true},
		"disabled": {Enabled: false},
	})

	removed := PruneStaleDisabled(doc, "alpha")
	assert.Equal(t, 1, removed)

	tools := doc.Servers["alpha"].Tools
	assert.NotContains(t, tools, "gone")
	assert.Contains(t, tools, "kept", "stale but enabled survives")
	assert.Contains(t, tools, "disabled", "disabled but fresh survives")
	assert.Equal(t, 0, PruneStaleDisabled(doc, "missing"))
}

func TestEnabledTools(t *testing.T) {
	t.Parallel()

	doc := docWithBackend("alpha", map[string]*ToolEntry{
		"a": {Enabled: true},
		"b": {Enabled: false},
		"c": {Enabled: true, Stale: true},
	})

	set := EnabledTools(doc, "alpha")
	assert.Equal(t, map[string]struct{}{"a": {}}, set)
	assert.Equal(t, []string{"a"}, EnabledToolNames(doc, "alpha"))
	assert.Nil(t, EnabledTools(doc, "missing"))
}
