package backends

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MemoryConfig serves an in-process MCP server as a backend over the
// SDK's in-memory transport pair. Useful for embedding local tool
// servers behind the proxy and for exercising the manager without
// subprocesses.
type MemoryConfig struct {
	BaseConfig
	Server *mcp.Server
}

func (c *MemoryConfig) base() *BaseConfig { return &c.BaseConfig }

func (c *MemoryConfig) connect(ctx context.Context, attempt connectFunc) (*mcp.ClientSession, error) {
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := c.Server.Connect(ctx, serverTransport, nil); err != nil {
		return nil, err
	}
	return attempt(ctx, clientTransport)
}
