package backends

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpmux/mcpmux/pkg/config"
)

// connectFunc dials one transport and completes the MCP initialize
// exchange, returning the session. The Manager supplies it so each
// attempt gets a fresh client carrying the manager's handlers.
type connectFunc func(context.Context, mcp.Transport) (*mcp.ClientSession, error)

// Config describes how to reach one backend. Implementations are
// transport-specific; tests may supply their own.
type Config interface {
	base() *BaseConfig
	connect(ctx context.Context, attempt connectFunc) (*mcp.ClientSession, error)
}

// BaseConfig carries settings shared by every transport type.
type BaseConfig struct {
	// ConnectTimeout bounds the whole open, including the initialize
	// exchange. Zero means the manager default.
	ConnectTimeout time.Duration
}

// StdioConfig launches a backend as a local subprocess speaking MCP
// over its stdio pair. The command must be on the launch allowlist and
// the environment map is filtered before it reaches the subprocess.
type StdioConfig struct {
	BaseConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioConfig) base() *BaseConfig { return &c.BaseConfig }

func (c *StdioConfig) connect(ctx context.Context, attempt connectFunc) (*mcp.ClientSession, error) {
	if c.Command == "" {
		return nil, fmt.Errorf("backends: stdio config missing command")
	}
	if err := validateCommand(c.Command); err != nil {
		return nil, err
	}
	cmd := exec.Command(c.Command, c.Args...)
	env := os.Environ()
	for k, v := range filterEnv(c.Env) {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env
	return attempt(ctx, &mcp.CommandTransport{Command: cmd})
}

// HTTPConfig reaches a backend over streamable HTTP or legacy SSE.
// With no explicit transport hint, streamable HTTP is tried first and
// SSE is the fallback, matching current MCP server behavior.
type HTTPConfig struct {
	BaseConfig
	URL string
	// Transport is config.TransportStreamableHTTP, config.TransportSSE,
	// or empty for auto-detect.
	Transport  string
	HTTPClient *http.Client
}

func (c *HTTPConfig) base() *BaseConfig { return &c.BaseConfig }

func (c *HTTPConfig) connect(ctx context.Context, attempt connectFunc) (*mcp.ClientSession, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("backends: http config missing url")
	}
	if err := validateURL(ctx, c.URL); err != nil {
		return nil, err
	}

	streamable := &mcp.StreamableClientTransport{Endpoint: c.URL, HTTPClient: c.HTTPClient}
	sse := &mcp.SSEClientTransport{Endpoint: c.URL, HTTPClient: c.HTTPClient}

	switch c.Transport {
	case config.TransportStreamableHTTP:
		return attempt(ctx, streamable)
	case config.TransportSSE:
		return attempt(ctx, sse)
	}

	session, streamErr := attempt(ctx, streamable)
	if streamErr == nil {
		return session, nil
	}
	session, sseErr := attempt(ctx, sse)
	if sseErr != nil {
		return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, sseErr)
	}
	return session, nil
}

// FromDocument converts a document entry into a transport config.
func FromDocument(cfg *config.BackendConfig) (Config, error) {
	if cfg.Command != "" {
		return &StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
		}, nil
	}
	if cfg.URL != "" {
		transport := ""
		switch cfg.Type {
		case config.TransportStreamableHTTP, "streamablehttp":
			transport = config.TransportStreamableHTTP
		case config.TransportSSE, "http":
			transport = config.TransportSSE
		}
		return &HTTPConfig{URL: cfg.URL, Transport: transport}, nil
	}
	return nil, fmt.Errorf("backends: config has neither command nor url")
}
