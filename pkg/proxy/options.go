package proxy

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpmux/mcpmux/pkg/retrieval"
)

// Options configure a Proxy.
type Options struct {
	// Implementation identifies the proxy to downstream clients.
	Implementation *mcp.Implementation
	// Addr is the HTTP listen address for ListenAndServe. Defaults to
	// ":8085".
	Addr string
	// Path mounts the streamable MCP handler. Defaults to "/mcp".
	Path string
	// APIToken guards the HTTP surface when non-empty.
	APIToken string
	// Retriever plugs into tools/list. Nil means passthrough.
	Retriever retrieval.Retriever
	// Streamable tweaks the streamable HTTP handler.
	Streamable mcp.StreamableHTTPOptions
	// SyncTimeout bounds backend syncs triggered by upstream
	// list-changed notifications and pinned reconnects, and the graceful
	// shutdown of the HTTP server. Syncs run by RegisterBackend use the
	// caller's context instead. Defaults to 30s.
	SyncTimeout time.Duration
	// AllowedOrigins configures CORS for the HTTP surface. Empty
	// allows any origin.
	AllowedOrigins []string
	// Logger receives structured diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcpmux",
			Title:   "mcpmux aggregating proxy",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8085"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
