package retrieval

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tool(name, description string) *mcp.Tool {
	return &mcp.Tool{Name: name, Description: description}
}

func TestPassthroughPreservesOrder(t *testing.T) {
	t.Parallel()

	candidates := []*mcp.Tool{tool("b::z", ""), tool("a::x", ""), tool("a::y", "")}
	scored, err := Passthrough{}.Retrieve(context.Background(), Context{}, candidates)
	require.NoError(t, err)
	require.Len(t, scored, 3)
	for i, s := range scored {
		assert.Equal(t, candidates[i].Name, s.Tool.Name)
		assert.Equal(t, 1.0, s.Score)
	}
}

func TestKeywordRetrieverRanksByRelevance(t *testing.T) {
	t.Parallel()

	candidates := []*mcp.Tool{
		tool("fs::read_file", "read the contents of a file from disk"),
		tool("wx::forecast", "get the weather forecast for a city"),
		tool("db::query", "run a sql query against the database"),
	}
	k := &KeywordRetriever{TopK: 3}
	k.Rebuild(candidates)

	scored, err := k.Retrieve(context.Background(), Context{Query: "weather forecast"}, candidates)
	require.NoError(t, err)
	require.NotEmpty(t, scored)
	assert.Equal(t, "wx::forecast", scored[0].Tool.Name)
	assert.Greater(t, scored[0].Score, scored[len(scored)-1].Score)
}

func TestKeywordRetrieverEmptyQueryScoresEqually(t *testing.T) {
	t.Parallel()

	candidates := []*mcp.Tool{tool("a::x", "alpha"), tool("b::y", "beta")}
	k := &KeywordRetriever{}
	scored, err := k.Retrieve(context.Background(), Context{}, candidates)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, scored[0].Score, scored[1].Score)
}

func TestKeywordRetrieverHonorsTopK(t *testing.T) {
	t.Parallel()

	var candidates []*mcp.Tool
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		candidates = append(candidates, tool("srv::"+name, "tool "+name))
	}
	k := &KeywordRetriever{TopK: 2}
	scored, err := k.Retrieve(context.Background(), Context{Query: "tool"}, candidates)
	require.NoError(t, err)
	assert.Len(t, scored, 2)
}

func TestPipelineDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	p := NewPipeline(nil, Settings{})
	candidates := []*mcp.Tool{tool("a::x", ""), tool("b::y", "")}
	out, err := p.ToolsForList(context.Background(), "s1", candidates)
	require.NoError(t, err)
	assert.Equal(t, candidates, out)
}

func TestPipelineEnabledIsMonotonic(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&KeywordRetriever{TopK: 1}, Settings{Enabled: true, TopK: 1})
	candidates := []*mcp.Tool{
		tool("fs::read_file", "read a file"),
		tool("wx::forecast", "weather forecast"),
	}
	first, err := p.ToolsForList(context.Background(), "s1", candidates)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Later calls may add tools for the session but never remove ones
	// already shown.
	second, err := p.ToolsForList(context.Background(), "s1", candidates)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, tool := range second {
		seen[tool.Name] = true
	}
	for _, tool := range first {
		assert.True(t, seen[tool.Name], "tool %s vanished from the session", tool.Name)
	}
}

func TestSessionsAnchorsAndExpansion(t *testing.T) {
	t.Parallel()

	s := NewSessions([]string{"core::help"})
	id, active := s.GetOrCreate("")
	require.NotEmpty(t, id)
	assert.Contains(t, active, "core::help")

	added := s.Add(id, []string{"a::x", "core::help"})
	assert.Equal(t, []string{"a::x"}, added)

	_, again := s.GetOrCreate(id)
	assert.Len(t, again, 2)

	s.Drop(id)
	_, fresh := s.GetOrCreate(id)
	assert.Len(t, fresh, 1)
}

func TestExtractTextAndTriggers(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"method": "tools/call",
		"params": map[string]any{
			"name":      "some_tool",
			"arguments": []any{"check the Weather please", 42.0},
		},
	}
	text := ExtractText(payload)
	assert.Contains(t, text, "Weather")

	assert.True(t, MatchTriggers(text, []string{"weather"}))
	assert.False(t, MatchTriggers(text, []string{"database"}))
	assert.False(t, MatchTriggers(text, nil))
	assert.False(t, MatchTriggers(text, []string{""}))
}
