package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpmux/mcpmux/pkg/backends"
	"github.com/mcpmux/mcpmux/pkg/config"
	"github.com/mcpmux/mcpmux/pkg/discovery"
	"github.com/mcpmux/mcpmux/pkg/retrieval"
)

// Proxy is the aggregated MCP server fronting every declared backend.
type Proxy struct {
	manager *backends.Manager
	store   *config.Store
	opts    Options
	logger  *slog.Logger

	// docMu guards the document and the synced set. The feature index
	// and the embedded server carry their own locks.
	docMu  sync.Mutex
	doc    *config.Document
	synced map[string]bool

	index    *featureIndex
	pipeline *retrieval.Pipeline

	serverMu sync.Mutex
	server   *mcp.Server

	httpHandler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server

	// downstream is the most recently seen downstream session, used
	// for best-effort elicitation relay. Written on every incoming
	// request, cleared when a stdio run ends.
	downstream atomic.Pointer[mcp.ServerSession]
}

// New builds a Proxy over the given manager and document. Tools the
// document already knows are registered immediately from the cache so
// the surface is available before any backend connects.
func New(manager *backends.Manager, store *config.Store, doc *config.Document, opts *Options) (*Proxy, error) {
	if manager == nil {
		return nil, fmt.Errorf("proxy: manager is required")
	}
	if doc == nil {
		doc = config.NewDocument()
	}
	for _, name := range doc.ServerNames() {
		if err := validateBackendName(name); err != nil {
			return nil, err
		}
	}
	options := opts.withDefaults()
	p := &Proxy{
		manager: manager,
		store:   store,
		opts:    options,
		logger:  options.Logger,
		doc:     doc,
		synced:  make(map[string]bool),
		index:   newFeatureIndex(),
	}
	p.pipeline = retrieval.NewPipeline(options.Retriever, retrieval.Settings{
		Enabled:     doc.Retrieval.Enabled,
		TopK:        doc.Retrieval.TopK,
		AnchorTools: doc.Retrieval.AnchorTools,
	})

	p.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:           true,
		HasPrompts:         true,
		HasResources:       true,
		SubscribeHandler:   p.handleSubscribe,
		UnsubscribeHandler: p.handleUnsubscribe,
	})
	p.server.AddReceivingMiddleware(p.receivingMiddleware)

	manager.SetHooks(backends.Hooks{
		OnDisconnected: p.onBackendDisconnected,
		OnReconnected: func(name string, _ *backends.Session) {
			ctx, cancel := context.WithTimeout(context.Background(), options.SyncTimeout)
			defer cancel()
			if err := p.SyncBackend(ctx, name); err != nil {
				p.logger.Warn("resync after reconnect failed", "backend", name, "error", err)
			}
		},
		OnToolListChanged:     p.resyncAsync("tools"),
		OnPromptListChanged:   p.resyncAsync("prompts"),
		OnResourceListChanged: p.resyncAsync("resources"),
		Elicitation:           p.forwardElicitation,
	})

	p.docMu.Lock()
	for _, name := range doc.ServerNames() {
		p.registerDocTools(name)
	}
	p.docMu.Unlock()

	p.httpHandler = p.buildHTTPHandler()
	return p, nil
}

// Server exposes the embedded MCP server, mainly for transports not
// covered by Run and ListenAndServe.
func (p *Proxy) Server() *mcp.Server { return p.server }

// Handler returns the HTTP handler serving both the streamable MCP
// endpoint and the admin surface.
func (p *Proxy) Handler() http.Handler { return p.httpHandler }

// registerDocTools registers the document's exposure set for one
// backend as placeholder tools. Caller holds docMu. Backends already
// synced from a live session keep their real definitions.
func (p *Proxy) registerDocTools(name string) {
	if p.synced[name] {
		return
	}
	server := p.doc.Server(name)
	if server == nil {
		return
	}
	var tools []*mcp.Tool
	for _, toolName := range config.EnabledToolNames(p.doc, name) {
		entry := server.Tools[toolName]
		tools = append(tools, &mcp.Tool{
			Name:        toolName,
			Description: entry.Description,
			InputSchema: &jsonschema.Schema{Type: "object"},
		})
	}
	p.applyToolSet(name, tools)
}

// applyToolSet swaps the registered tool set for one backend. The
// upstream tools carry local names; qualification happens in the
// index. The embedded server notifies connected sessions itself when
// the set actually changes.
func (p *Proxy) applyToolSet(name string, tools []*mcp.Tool) {
	removed, added := p.index.UpdateTools(name, tools)
	p.serverMu.Lock()
	defer p.serverMu.Unlock()
	if len(removed) > 0 {
		p.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		p.server.AddTool(reg.Tool, p.toolHandler(reg.Target))
	}
}

func (p *Proxy) applyPromptSet(name string, prompts []*mcp.Prompt) {
	removed, added := p.index.UpdatePrompts(name, prompts)
	p.serverMu.Lock()
	defer p.serverMu.Unlock()
	if len(removed) > 0 {
		p.server.RemovePrompts(removed...)
	}
	for _, reg := range added {
		p.server.AddPrompt(reg.Prompt, p.promptHandler(reg.Target))
	}
}

func (p *Proxy) applyResourceSet(name string, resources []*mcp.Resource) {
	removed, added := p.index.UpdateResources(name, resources)
	p.serverMu.Lock()
	defer p.serverMu.Unlock()
	if len(removed) > 0 {
		p.server.RemoveResources(removed...)
	}
	for _, resource := range added {
		p.server.AddResource(resource, p.resourceHandler())
	}
}

// ApplyDiscovery installs the results of a discovery sweep: the
// document-backed tool surface plus the prompts and resources each
// backend reported.
func (p *Proxy) ApplyDiscovery(results map[string]discovery.Result) {
	p.docMu.Lock()
	defer p.docMu.Unlock()
	for _, name := range p.doc.ServerNames() {
		result, ok := results[name]
		if !ok {
			continue
		}
		p.registerDocTools(name)
		if len(result.Prompts) > 0 {
			p.applyPromptSet(name, result.Prompts)
		}
		if len(result.Resources) > 0 {
			p.applyResourceSet(name, result.Resources)
		}
	}
}

// SyncBackend opens the backend if needed, refreshes the document from
// its live tool list, and swaps the registered surface to the real
// definitions.
func (p *Proxy) SyncBackend(ctx context.Context, name string) error {
	session, err := p.manager.GetOrOpen(ctx, name)
	if err != nil {
		return err
	}

	var tools []*mcp.Tool
	if session.Caps.Tools {
		tools, err = p.manager.ListTools(ctx, name)
		if err != nil {
			return err
		}
	}

	p.docMu.Lock()
	observed := make([]config.ToolInfo, 0, len(tools))
	for _, tool := range tools {
		observed = append(observed, config.ToolInfo{Name: tool.Name, Description: tool.Description})
	}
	config.MergeDiscovered(p.doc, name, observed)
	enabled := config.EnabledTools(p.doc, name)
	exposed := make([]*mcp.Tool, 0, len(tools))
	for _, tool := range tools {
		if _, ok := enabled[tool.Name]; ok {
			exposed = append(exposed, tool)
		}
	}
	p.applyToolSet(name, exposed)
	p.synced[name] = true
	p.docMu.Unlock()

	p.saveDocument()

	if session.Caps.Prompts {
		if prompts, err := p.manager.ListPrompts(ctx, name); err == nil {
			p.applyPromptSet(name, prompts)
		} else {
			p.logger.Warn("prompt sync failed", "backend", name, "error", err)
		}
	}
	if session.Caps.Resources {
		if resources, err := p.manager.ListResources(ctx, name); err == nil {
			p.applyResourceSet(name, resources)
		} else {
			p.logger.Warn("resource sync failed", "backend", name, "error", err)
		}
	}
	return nil
}

func (p *Proxy) isSynced(name string) bool {
	p.docMu.Lock()
	defer p.docMu.Unlock()
	return p.synced[name]
}

func (p *Proxy) onBackendDisconnected(name string) {
	// The tool surface stays up from the document cache; the next call
	// reopens the backend and refreshes definitions.
	p.docMu.Lock()
	p.synced[name] = false
	p.docMu.Unlock()
	p.logger.Info("backend disconnected, surface kept from cache", "backend", name)
}

func (p *Proxy) resyncAsync(kind string) func(name string) {
	return func(name string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.opts.SyncTimeout)
			defer cancel()
			if err := p.SyncBackend(ctx, name); err != nil {
				p.logger.Warn("sync "+kind+" failed", "backend", name, "error", err)
			}
		}()
	}
}

// saveDocument persists the document. An unwritable document is not
// fatal; the in-memory state keeps serving.
func (p *Proxy) saveDocument() {
	if p.store == nil {
		return
	}
	p.docMu.Lock()
	defer p.docMu.Unlock()
	if err := p.store.Save(p.doc); err != nil {
		if errors.Is(err, config.ErrUnwritable) {
			p.logger.Warn("document save failed, continuing in memory", "error", err)
			return
		}
		p.logger.Error("document save failed", "error", err)
	}
}

// allowed reports whether the document currently exposes the tool.
func (p *Proxy) allowed(backend, tool string) bool {
	p.docMu.Lock()
	defer p.docMu.Unlock()
	server := p.doc.Server(backend)
	if server == nil {
		return false
	}
	entry, ok := server.Tools[tool]
	return ok && entry.Enabled && !entry.Stale
}

func (p *Proxy) declared(backend string) bool {
	p.docMu.Lock()
	defer p.docMu.Unlock()
	return p.doc.Server(backend) != nil
}

// Document returns a point-in-time reference to the live document.
// Callers must not mutate it.
func (p *Proxy) Document() *config.Document {
	p.docMu.Lock()
	defer p.docMu.Unlock()
	return p.doc
}

// Manager returns the backend manager the proxy routes through.
func (p *Proxy) Manager() *backends.Manager { return p.manager }
