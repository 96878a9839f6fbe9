package proxy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpmux/mcpmux/pkg/backends"
	"github.com/mcpmux/mcpmux/pkg/config"
	"github.com/mcpmux/mcpmux/pkg/discovery"
)

func upstreamServer(name string, tools ...string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "1.0.0"}, &mcp.ServerOptions{HasTools: true})
	for _, tool := range tools {
		tool := tool
		server.AddTool(&mcp.Tool{
			Name:        tool,
			Description: "does " + tool,
			InputSchema: &jsonschema.Schema{Type: "object"},
		}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "ran " + tool}}}, nil
		})
	}
	return server
}

// testFixture wires a manager with in-memory backends, sweeps them
// into a document, and builds a proxy over the result.
type testFixture struct {
	manager *backends.Manager
	doc     *config.Document
	proxy   *Proxy
}

func newFixture(t *testing.T, ctx context.Context) *testFixture {
	t.Helper()
	manager := backends.NewManager(nil)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	doc := config.NewDocument()
	doc.AddServer("alpha", &config.BackendConfig{Command: "npx", AlwaysOn: true})
	doc.AddServer("beta", &config.BackendConfig{URL: "https://beta.example.com/mcp"})
	manager.Register("alpha", &backends.MemoryConfig{Server: upstreamServer("alpha", "x", "y")})
	manager.Register("beta", &backends.MemoryConfig{Server: upstreamServer("beta", "z")})

	results := discovery.NewSweeper(manager, nil).Run(ctx, doc)

	p, err := New(manager, nil, doc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.ApplyDiscovery(results)
	return &testFixture{manager: manager, doc: doc, proxy: p}
}

func (f *testFixture) connectClient(t *testing.T, ctx context.Context, opts *mcp.ClientOptions) *mcp.ClientSession {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := f.proxy.Server().Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("proxy connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, opts)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func listToolNames(t *testing.T, ctx context.Context, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestFirstRunSurface(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	f := newFixture(t, ctx)

	if !f.manager.IsLive("alpha") {
		t.Fatalf("pinned backend should be live after boot")
	}
	if f.manager.IsLive("beta") {
		t.Fatalf("lazy backend should not be live after boot")
	}

	session := f.connectClient(t, ctx, nil)
	names := listToolNames(t, ctx, session)
	want := []string{"alpha::x", "alpha::y", "beta::z"}
	if len(names) != len(want) {
		t.Fatalf("tools = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("tools = %v, want %v", names, want)
		}
	}
}

func TestDisabledToolHiddenFromListing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	f := newFixture(t, ctx)

	// The user edit: disable alpha::x, then rebuild the proxy as a
	// restart would.
	f.doc.Server("alpha").Tools["x"].Enabled = false
	restarted, err := New(f.manager, nil, f.doc, nil)
	if err != nil {
		t.Fatalf("New after edit: %v", err)
	}
	f.proxy = restarted

	session := f.connectClient(t, ctx, nil)
	names := listToolNames(t, ctx, session)
	want := []string{"alpha::y", "beta::z"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("tools = %v, want %v", names, want)
	}
}

func TestLazyOpenOnCall(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	f := newFixture(t, ctx)
	session := f.connectClient(t, ctx, nil)

	if f.manager.IsLive("beta") {
		t.Fatalf("beta should be pending before the call")
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "beta::z", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %#v", res.Content)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok || text.Text != "ran z" {
		t.Fatalf("unexpected content: %#v", res.Content)
	}
	if !f.manager.IsLive("beta") {
		t.Fatalf("beta should be live after the lazy open")
	}
}

func TestDisabledToolCallReturnsErrorResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	f := newFixture(t, ctx)

	f.doc.Server("alpha").Tools["y"].Enabled = false
	session := f.connectClient(t, ctx, nil)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "alpha::y", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("disabled tool must produce an error result")
	}
}

func TestUnknownBackendCallReturnsErrorResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	f := newFixture(t, ctx)
	session := f.connectClient(t, ctx, nil)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "ghost::anything", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatalf("unknown backend must produce an error result, got %#v", res)
	}
}

func TestDynamicMembershipNotifies(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	f := newFixture(t, ctx)

	var changes atomic.Int32
	session := f.connectClient(t, ctx, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			changes.Add(1)
		},
	})

	f.manager.Register("gamma", &backends.MemoryConfig{Server: upstreamServer("gamma", "g")})
	connected, err := f.proxy.RegisterBackend(ctx, "gamma", &config.BackendConfig{Command: "npx"})
	if err != nil {
		t.Fatalf("RegisterBackend: %v", err)
	}
	if !connected {
		t.Fatalf("eager registration should have connected")
	}

	waitFor(t, 10*time.Second, func() bool { return changes.Load() >= 1 })

	names := listToolNames(t, ctx, session)
	found := false
	for _, name := range names {
		if name == "gamma::g" {
			found = true
		}
	}
	if !found {
		t.Fatalf("gamma::g missing from listing: %v", names)
	}

	before := changes.Load()
	if err := f.proxy.UnregisterBackend(ctx, "gamma", true); err != nil {
		t.Fatalf("UnregisterBackend: %v", err)
	}
	waitFor(t, 10*time.Second, func() bool { return changes.Load() > before })

	names = listToolNames(t, ctx, session)
	for _, name := range names {
		if name == "gamma::g" {
			t.Fatalf("gamma::g still listed after unregister: %v", names)
		}
	}
	if f.manager.IsLive("gamma") || f.manager.IsRegistered("gamma") {
		t.Fatalf("gamma should be fully removed")
	}
}

func TestTriggerActivation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	f := newFixture(t, ctx)

	f.doc.AddServer("wx", &config.BackendConfig{Command: "npx", Triggers: []string{"weather"}})
	f.manager.Register("wx", &backends.MemoryConfig{Server: upstreamServer("wx", "forecast")})

	session := f.connectClient(t, ctx, nil)
	_, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "alpha::x",
		Arguments: map[string]any{"query": "what is the weather tomorrow"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	waitFor(t, 10*time.Second, func() bool { return f.manager.IsLive("wx") })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
