package retrieval

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Settings configure the pipeline.
type Settings struct {
	// Enabled turns scoring on. Disabled pipelines pass candidates
	// through untouched.
	Enabled bool
	// TopK bounds how many tools an enabled pipeline returns. Zero
	// means 10.
	TopK int
	// AnchorTools are qualified names every session always sees.
	AnchorTools []string
}

// Pipeline is the single entry point the proxy calls on each
// tools/list. It combines a Retriever with per-session state.
type Pipeline struct {
	retriever Retriever
	sessions  *Sessions
	settings  Settings
}

// NewPipeline builds a pipeline. A nil retriever gets the passthrough.
func NewPipeline(retriever Retriever, settings Settings) *Pipeline {
	if retriever == nil {
		retriever = Passthrough{}
	}
	return &Pipeline{
		retriever: retriever,
		sessions:  NewSessions(settings.AnchorTools),
		settings:  settings,
	}
}

// ToolsForList filters and orders the candidate tools for one
// downstream session. Disabled pipelines return the candidates
// unchanged; enabled pipelines return the session's monotonically
// growing active set, expanded by the retriever's current top picks.
func (p *Pipeline) ToolsForList(ctx context.Context, sessionID string, candidates []*mcp.Tool) ([]*mcp.Tool, error) {
	if p == nil || !p.settings.Enabled {
		return candidates, nil
	}

	sessionID, active := p.sessions.GetOrCreate(sessionID)
	scored, err := p.retriever.Retrieve(ctx, Context{SessionID: sessionID}, candidates)
	if err != nil {
		return candidates, err
	}
	limit := p.settings.TopK
	if limit <= 0 {
		limit = 10
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	var picks []string
	for _, s := range scored {
		picks = append(picks, s.Tool.Name)
	}
	p.sessions.Add(sessionID, picks)
	for _, name := range picks {
		active[name] = struct{}{}
	}

	out := make([]*mcp.Tool, 0, len(active))
	for _, tool := range candidates {
		if _, ok := active[tool.Name]; ok {
			out = append(out, tool)
		}
	}
	return out, nil
}
