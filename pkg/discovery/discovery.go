// Package discovery implements the startup sweep: connect to each
// declared backend briefly, enumerate what it offers, feed the merge
// engine, and disconnect again unless the backend is pinned.
package discovery

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpmux/mcpmux/pkg/backends"
	"github.com/mcpmux/mcpmux/pkg/config"
)

// Result is what one backend yielded during a sweep. A failed backend
// produces a Result carrying only Err; the sweep never aborts.
type Result struct {
	Caps      backends.Capabilities
	Tools     []*mcp.Tool
	Prompts   []*mcp.Prompt
	Resources []*mcp.Resource
	Err       error
}

// Sweeper drives discovery through a backend manager.
type Sweeper struct {
	manager *backends.Manager
	logger  *slog.Logger
}

// NewSweeper constructs a Sweeper. A nil logger falls back to
// slog.Default().
func NewSweeper(manager *backends.Manager, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{manager: manager, logger: logger}
}

// Run sweeps every backend in doc in insertion order: register the
// config, open a session, record capabilities, enumerate tools (merged
// into doc), prompts, and resources, then close the session unless the
// backend is pinned. The caller is responsible for persisting doc
// afterwards.
func (s *Sweeper) Run(ctx context.Context, doc *config.Document) map[string]Result {
	results := make(map[string]Result)
	for _, name := range doc.ServerNames() {
		results[name] = s.sweepOne(ctx, doc, name)
	}
	return results
}

// RunOne sweeps a single backend already present in doc.
func (s *Sweeper) RunOne(ctx context.Context, doc *config.Document, name string) Result {
	return s.sweepOne(ctx, doc, name)
}

func (s *Sweeper) sweepOne(ctx context.Context, doc *config.Document, name string) Result {
	entry := doc.Server(name)
	if entry == nil {
		return Result{}
	}
	// A config registered ahead of the sweep (an embedded in-memory
	// backend, say) wins over one derived from the document entry.
	if !s.manager.IsRegistered(name) {
		cfg, err := backends.FromDocument(entry)
		if err != nil {
			s.logger.Warn("skipping backend", "backend", name, "error", err)
			return Result{Err: err}
		}
		s.manager.Register(name, cfg)
	}
	s.manager.SetIdleTimeout(name, entry.IdleTimeout())
	s.manager.MarkPinned(name, entry.AlwaysOn)

	session, err := s.manager.GetOrOpen(ctx, name)
	if err != nil {
		s.logger.Error("discovery failed", "backend", name, "error", err)
		config.MergeDiscovered(doc, name, nil)
		return Result{Err: err}
	}

	result := Result{Caps: session.Caps}
	if session.Caps.Tools {
		tools, err := s.manager.ListTools(ctx, name)
		if err != nil {
			s.logger.Warn("tool enumeration failed", "backend", name, "error", err)
		}
		result.Tools = tools
	}

	observed := make([]config.ToolInfo, 0, len(result.Tools))
	for _, tool := range result.Tools {
		observed = append(observed, config.ToolInfo{Name: tool.Name, Description: tool.Description})
	}
	config.MergeDiscovered(doc, name, observed)

	if session.Caps.Prompts {
		prompts, err := s.manager.ListPrompts(ctx, name)
		if err != nil {
			s.logger.Warn("prompt enumeration failed", "backend", name, "error", err)
		}
		result.Prompts = prompts
	}
	if session.Caps.Resources {
		resources, err := s.manager.ListResources(ctx, name)
		if err != nil {
			s.logger.Warn("resource enumeration failed", "backend", name, "error", err)
		}
		result.Resources = resources
	}

	if entry.AlwaysOn {
		s.logger.Info("discovered backend, staying connected", "backend", name, "tools", len(result.Tools))
	} else {
		if err := s.manager.Close(name); err != nil {
			s.logger.Warn("post-discovery close failed", "backend", name, "error", err)
		}
		s.logger.Info("discovered backend, disconnected", "backend", name, "tools", len(result.Tools))
	}
	return result
}
