package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractServersContainerShapes(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"mcpServers", "servers", "mcp"} {
		body := `{"` + key + `": {"alpha": {"command": "npx", "args": ["server-a"]}}}`
		servers, names, err := ExtractServers([]byte(body))
		require.NoError(t, err, key)
		require.Equal(t, []string{"alpha"}, names, key)
		assert.Equal(t, "npx", servers["alpha"].Command)
		assert.Equal(t, []string{"server-a"}, servers["alpha"].Args)
	}
}

func TestExtractServersBareShape(t *testing.T) {
	t.Parallel()

	body := `{"alpha": {"command": "npx"}, "beta": {"url": "https://beta.example.com/mcp", "type": "sse"}}`
	servers, names, err := ExtractServers([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
	assert.Equal(t, "sse", servers["beta"].Type)
}

func TestExtractServersCommandAsList(t *testing.T) {
	t.Parallel()

	body := `{"mcpServers": {"alpha": {"command": ["docker", "run", "img"], "args": ["--flag"]}}}`
	servers, _, err := ExtractServers([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "docker", servers["alpha"].Command)
	assert.Equal(t, []string{"run", "img", "--flag"}, servers["alpha"].Args)
}

func TestExtractServersSkipsNonServerEntries(t *testing.T) {
	t.Parallel()

	body := `{"mcpServers": {"empty": {}, "ok": {"url": "https://x.example.com"}}}`
	servers, names, err := ExtractServers([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, names)
	assert.NotContains(t, servers, "empty")
}

func TestExtractServersInvalidJSON(t *testing.T) {
	t.Parallel()

	_, _, err := ExtractServers([]byte("{nope"))
	require.Error(t, err)
}

func TestExtractServersNoServerShape(t *testing.T) {
	t.Parallel()

	servers, names, err := ExtractServers([]byte(`{"settings": {"theme": "dark"}}`))
	require.NoError(t, err)
	assert.Empty(t, servers)
	assert.Empty(t, names)
}
