package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmptyDocument(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "servers.yaml"))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Servers)
	assert.Empty(t, doc.ServerNames())
}

func TestLoadCorruptDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: [not, a, mapping"), 0o600))

	_, err := NewStore(path).Load()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadRejectsInvalidBackends(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"both command and url": `
servers:
  broken:
    command: npx
    url: https://example.com/mcp
`,
		"neither command nor url": `
servers:
  broken:
    always_on: true
`,
		"name with separator characters": `
servers:
  "bad::name":
    command: npx
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "servers.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := NewStore(path).Load()
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestSaveLoadRoundTripPreservesOrder(t *testing.T) {
	t.Parallel()

	doc := NewDocument()
	doc.AddServer("zulu", &BackendConfig{Command: "npx", Args: []string{"zulu-server"}})
	doc.AddServer("alpha", &BackendConfig{URL: "https://alpha.example.com/mcp", AlwaysOn: true})
	doc.AddServer("mike", &BackendConfig{Command: "uvx", Env: EnvMap{"TOKEN": "abc"}})
	doc.Servers["zulu"].Tools["b_tool"] = &ToolEntry{Enabled: true, Description: "b"}
	doc.Servers["zulu"].Tools["a_tool"] = &ToolEntry{Enabled: false, Stale: true, Description: "a"}

	path := filepath.Join(t.TempDir(), "servers.yaml")
	store := NewStore(path)
	require.NoError(t, store.Save(doc))

	// The temp sibling must not survive a successful save.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, loaded.ServerNames())
	require.Contains(t, loaded.Servers, "zulu")
	assert.Equal(t, "npx", loaded.Servers["zulu"].Command)
	assert.True(t, loaded.Servers["alpha"].AlwaysOn)
	assert.Equal(t, "abc", loaded.Servers["mike"].Env["TOKEN"])

	entry := loaded.Servers["zulu"].Tools["a_tool"]
	require.NotNil(t, entry)
	assert.False(t, entry.Enabled)
	assert.True(t, entry.Stale)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.yaml")
	store := NewStore(path)

	first := NewDocument()
	first.AddServer("alpha", &BackendConfig{Command: "npx"})
	require.NoError(t, store.Save(first))

	second := NewDocument()
	second.AddServer("beta", &BackendConfig{URL: "https://beta.example.com/mcp"})
	require.NoError(t, store.Save(second))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, loaded.ServerNames())
}

func TestEnvValuesCoercedToStrings(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.yaml")
	body := `
servers:
  alpha:
    command: npx
    env:
      PORT: 8080
      DEBUG: true
      NAME: plain
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	doc, err := NewStore(path).Load()
	require.NoError(t, err)
	env := doc.Servers["alpha"].Env
	assert.Equal(t, "8080", env["PORT"])
	assert.Equal(t, "true", env["DEBUG"])
	assert.Equal(t, "plain", env["NAME"])
}

func TestUnknownKeysIgnored(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "servers.yaml")
	body := `
servers:
  alpha:
    command: npx
    future_field: whatever
experimental: {nested: true}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	doc, err := NewStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, doc.ServerNames())
}

func TestIdleTimeoutDefault(t *testing.T) {
	t.Parallel()

	cfg := &BackendConfig{Command: "npx"}
	assert.Equal(t, "5m0s", cfg.IdleTimeout().String())
	cfg.IdleTimeoutMinutes = 2
	assert.Equal(t, "2m0s", cfg.IdleTimeout().String())
}
