package retrieval

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Context carries the signal a retriever may use to score tools.
type Context struct {
	// SessionID fingerprints the downstream session asking for tools.
	SessionID string
	// Query is free-text signal, when available.
	Query string
	// History lists qualified tool names the session has called.
	History []string
}

// Scored pairs a tool with its relevance score in [0, 1].
type Scored struct {
	Tool  *mcp.Tool
	Score float64
}

// Retriever scores and filters candidate tools. Implementations must
// treat candidates as read-only.
type Retriever interface {
	Retrieve(ctx context.Context, rc Context, candidates []*mcp.Tool) ([]Scored, error)
}

// Passthrough returns every candidate with score 1.0 in the order it
// was given. It is the default when no retriever is configured.
type Passthrough struct{}

func (Passthrough) Retrieve(_ context.Context, _ Context, candidates []*mcp.Tool) ([]Scored, error) {
	scored := make([]Scored, 0, len(candidates))
	for _, tool := range candidates {
		scored = append(scored, Scored{Tool: tool, Score: 1.0})
	}
	return scored, nil
}
