package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpmux/mcpmux/pkg/retrieval"
)

// errorResult wraps a failure into an MCP error-result, keeping the
// failure inside the protocol rather than tearing the session down.
func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (p *Proxy) toolHandler(tgt target) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !p.allowed(tgt.Backend, tgt.Local) {
			return errorResult("tool %q is disabled", Qualify(tgt.Backend, tgt.Local)), nil
		}
		// First call against a cached surface: connect and swap in the
		// backend's real definitions before forwarding.
		if !p.isSynced(tgt.Backend) {
			if err := p.SyncBackend(ctx, tgt.Backend); err != nil {
				return errorResult("backend %q: connect failed: %v", tgt.Backend, err), nil
			}
			if !p.allowed(tgt.Backend, tgt.Local) {
				return errorResult("tool %q is disabled", Qualify(tgt.Backend, tgt.Local)), nil
			}
		}
		params := &mcp.CallToolParams{Name: tgt.Local}
		if req.Params != nil {
			params.Arguments = req.Params.Arguments
			params.Meta = req.Params.Meta
		}
		res, err := p.manager.CallTool(ctx, tgt.Backend, params)
		if err != nil {
			if ctx.Err() != nil {
				// The downstream request was cancelled; leave the
				// backend session alone.
				return nil, ctx.Err()
			}
			// Mark the session for close so the next call reopens.
			_ = p.manager.Close(tgt.Backend)
			return errorResult("backend %q: %v", tgt.Backend, err), nil
		}
		return res, nil
	}
}

func (p *Proxy) promptHandler(tgt target) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		params := &mcp.GetPromptParams{Name: tgt.Local}
		if req.Params != nil {
			params.Arguments = req.Params.Arguments
			params.Meta = req.Params.Meta
		}
		res, err := p.manager.GetPrompt(ctx, tgt.Backend, params)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", tgt.Backend, err)
		}
		return res, nil
	}
}

func (p *Proxy) resourceHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if req.Params == nil {
			return nil, fmt.Errorf("proxy: missing read params")
		}
		backend, ok := p.index.ResourceBackend(req.Params.URI)
		if !ok {
			return nil, fmt.Errorf("proxy: unknown resource %q", req.Params.URI)
		}
		params := &mcp.ReadResourceParams{URI: req.Params.URI, Meta: req.Params.Meta}
		res, err := p.manager.ReadResource(ctx, backend, params)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", backend, err)
		}
		return res, nil
	}
}

func (p *Proxy) handleSubscribe(ctx context.Context, req *mcp.SubscribeRequest) error {
	if req == nil || req.Params == nil {
		return fmt.Errorf("proxy: missing subscribe params")
	}
	backend, ok := p.index.ResourceBackend(req.Params.URI)
	if !ok {
		return fmt.Errorf("proxy: unknown resource %q", req.Params.URI)
	}
	return p.manager.Subscribe(ctx, backend, &mcp.SubscribeParams{URI: req.Params.URI})
}

func (p *Proxy) handleUnsubscribe(ctx context.Context, req *mcp.UnsubscribeRequest) error {
	if req == nil || req.Params == nil {
		return fmt.Errorf("proxy: missing unsubscribe params")
	}
	backend, ok := p.index.ResourceBackend(req.Params.URI)
	if !ok {
		return fmt.Errorf("proxy: unknown resource %q", req.Params.URI)
	}
	return p.manager.Unsubscribe(ctx, backend, &mcp.UnsubscribeParams{URI: req.Params.URI})
}

// receivingMiddleware sees every downstream request before dispatch.
// It keeps the downstream session handle fresh, rejects calls to
// undeclared backends inside the protocol, fires trigger-based
// activation, and post-processes tools/list through the retrieval
// pipeline.
func (p *Proxy) receivingMiddleware(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if ss := requestSession(req); ss != nil {
			p.downstream.Store(ss)
		}

		switch method {
		case "tools/call":
			if ctr, ok := req.(*mcp.CallToolRequest); ok && ctr.Params != nil {
				p.checkTriggers(ctx, ctr.Params)
				backend, _, err := SplitName(ctr.Params.Name)
				if err != nil {
					return errorResult("tool %q not found", ctr.Params.Name), nil
				}
				if !p.declared(backend) {
					return errorResult("unknown backend %q", backend), nil
				}
			}
		case "tools/list":
			res, err := next(ctx, method, req)
			if err != nil {
				return res, err
			}
			if ltr, ok := res.(*mcp.ListToolsResult); ok {
				p.orderTools(ltr.Tools)
				filtered, rerr := p.pipeline.ToolsForList(ctx, sessionFingerprint(requestSession(req)), ltr.Tools)
				if rerr != nil {
					p.logger.Warn("retrieval pipeline failed, passing through", "error", rerr)
				} else {
					ltr.Tools = filtered
				}
			}
			return res, nil
		}
		return next(ctx, method, req)
	}
}

// orderTools sorts in place by (backend insertion order, tool name),
// the deterministic passthrough order.
func (p *Proxy) orderTools(tools []*mcp.Tool) {
	p.docMu.Lock()
	position := make(map[string]int, len(p.doc.Servers))
	for i, name := range p.doc.ServerNames() {
		position[name] = i
	}
	p.docMu.Unlock()

	rank := func(qualified string) (int, string) {
		backend, _, err := SplitName(qualified)
		if err != nil {
			return len(position), qualified
		}
		pos, ok := position[backend]
		if !ok {
			pos = len(position)
		}
		return pos, qualified
	}
	sort.SliceStable(tools, func(i, j int) bool {
		pi, ni := rank(tools[i].Name)
		pj, nj := rank(tools[j].Name)
		if pi != pj {
			return pi < pj
		}
		return ni < nj
	})
}

// checkTriggers opens pending backends whose trigger keywords occur in
// the incoming call, so keyword-addressed backends come up before the
// call resolves.
func (p *Proxy) checkTriggers(ctx context.Context, params *mcp.CallToolParamsRaw) {
	var decoded any
	_ = json.Unmarshal(params.Arguments, &decoded)
	text := params.Name + " " + retrieval.ExtractText(decoded)

	p.docMu.Lock()
	var matched []string
	for _, name := range p.doc.ServerNames() {
		server := p.doc.Servers[name]
		if len(server.Triggers) == 0 || p.manager.IsLive(name) {
			continue
		}
		if retrieval.MatchTriggers(text, server.Triggers) {
			matched = append(matched, name)
		}
	}
	p.docMu.Unlock()

	for _, name := range matched {
		p.logger.Info("trigger matched, opening backend", "backend", name)
		if err := p.SyncBackend(ctx, name); err != nil {
			p.logger.Warn("trigger activation failed", "backend", name, "error", err)
		}
	}
}

// forwardElicitation relays an upstream elicitation to the downstream
// session, if one is active.
func (p *Proxy) forwardElicitation(ctx context.Context, name string, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
	session := p.downstream.Load()
	if session == nil {
		return nil, fmt.Errorf("proxy: no downstream session for elicitation from %q", name)
	}
	if req == nil || req.Params == nil {
		return nil, fmt.Errorf("proxy: malformed elicitation from %q", name)
	}
	return session.Elicit(ctx, req.Params)
}

// requestSession extracts the downstream session from the request
// types the middleware cares about.
func requestSession(req mcp.Request) *mcp.ServerSession {
	switch r := req.(type) {
	case *mcp.CallToolRequest:
		return r.Session
	case *mcp.ListToolsRequest:
		return r.Session
	case *mcp.ListPromptsRequest:
		return r.Session
	case *mcp.GetPromptRequest:
		return r.Session
	case *mcp.ListResourcesRequest:
		return r.Session
	case *mcp.ReadResourceRequest:
		return r.Session
	}
	return nil
}

func sessionFingerprint(ss *mcp.ServerSession) string {
	if ss != nil {
		if id := ss.ID(); id != "" {
			return id
		}
	}
	return "default"
}
