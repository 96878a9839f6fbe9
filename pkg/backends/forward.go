package backends

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// The helpers below resolve a session (opening on demand), refresh the
// last-used timestamp, and forward one MCP request. List calls are
// paginated to completion and coerce "method not found" style answers
// into empty lists, since plenty of servers advertise capabilities
// they don't implement.

// CallTool forwards a tool call to the named backend.
func (m *Manager) CallTool(ctx context.Context, name string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return nil, err
	}
	m.RecordUse(name)
	return session.mcp.CallTool(ctx, params)
}

// ListTools returns every tool the backend advertises.
func (m *Manager) ListTools(ctx context.Context, name string) ([]*mcp.Tool, error) {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return nil, err
	}
	m.RecordUse(name)
	var tools []*mcp.Tool
	var cursor string
	for {
		res, err := session.mcp.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			if isMethodUnavailableError(err, "tools/list") {
				return nil, nil
			}
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// ListPrompts returns every prompt the backend advertises.
func (m *Manager) ListPrompts(ctx context.Context, name string) ([]*mcp.Prompt, error) {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return nil, err
	}
	m.RecordUse(name)
	var prompts []*mcp.Prompt
	var cursor string
	for {
		res, err := session.mcp.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: cursor})
		if err != nil {
			if isMethodUnavailableError(err, "prompts/list") {
				return nil, nil
			}
			return nil, err
		}
		prompts = append(prompts, res.Prompts...)
		if res.NextCursor == "" {
			return prompts, nil
		}
		cursor = res.NextCursor
	}
}

// GetPrompt fetches one prompt from the named backend.
func (m *Manager) GetPrompt(ctx context.Context, name string, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return nil, err
	}
	m.RecordUse(name)
	return session.mcp.GetPrompt(ctx, params)
}

// ListResources returns every resource the backend advertises.
func (m *Manager) ListResources(ctx context.Context, name string) ([]*mcp.Resource, error) {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return nil, err
	}
	m.RecordUse(name)
	var resources []*mcp.Resource
	var cursor string
	for {
		res, err := session.mcp.ListResources(ctx, &mcp.ListResourcesParams{Cursor: cursor})
		if err != nil {
			if isMethodUnavailableError(err, "resources/list") {
				return nil, nil
			}
			return nil, err
		}
		resources = append(resources, res.Resources...)
		if res.NextCursor == "" {
			return resources, nil
		}
		cursor = res.NextCursor
	}
}

// ReadResource reads one resource from the named backend.
func (m *Manager) ReadResource(ctx context.Context, name string, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return nil, err
	}
	m.RecordUse(name)
	return session.mcp.ReadResource(ctx, params)
}

// Subscribe registers for updates of one resource on the named backend.
func (m *Manager) Subscribe(ctx context.Context, name string, params *mcp.SubscribeParams) error {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return err
	}
	m.RecordUse(name)
	return session.mcp.Subscribe(ctx, params)
}

// Unsubscribe cancels a resource subscription on the named backend.
func (m *Manager) Unsubscribe(ctx context.Context, name string, params *mcp.UnsubscribeParams) error {
	session, err := m.GetOrOpen(ctx, name)
	if err != nil {
		return err
	}
	m.RecordUse(name)
	return session.mcp.Unsubscribe(ctx, params)
}

// Ping checks liveness of the named backend without opening it.
func (m *Manager) Ping(ctx context.Context, name string) error {
	m.mu.Lock()
	session, ok := m.live[name]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownBackend
	}
	return session.mcp.Ping(ctx, nil)
}

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	for _, part := range strings.FieldsFunc(strings.ToLower(method), func(r rune) bool {
		return r == '/' || r == ':' || r == '.' || r == '_' || r == '-'
	}) {
		if part != "" && strings.Contains(lower, part) {
			return true
		}
	}
	return true
}
