package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Run serves the proxy over stdio until the client disconnects or ctx
// is cancelled. The downstream session reference is held for the run
// and cleared on exit.
func (p *Proxy) Run(ctx context.Context) error {
	session, err := p.server.Connect(ctx, &mcp.StdioTransport{}, nil)
	if err != nil {
		return fmt.Errorf("proxy: stdio connect: %w", err)
	}
	p.downstream.Store(session)
	defer p.downstream.Store(nil)

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()
	select {
	case <-ctx.Done():
		_ = session.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// ListenAndServe runs the HTTP surface (streamable MCP endpoint plus
// admin routes) until ctx is cancelled or the server stops.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	p.httpServerMu.Lock()
	if p.httpServer != nil {
		addr := p.httpServer.Addr
		p.httpServerMu.Unlock()
		return fmt.Errorf("proxy: server already running on %s", addr)
	}
	srv := &http.Server{Addr: p.opts.Addr, Handler: p.Handler()}
	p.httpServer = srv
	p.httpServerMu.Unlock()
	defer func() {
		p.httpServerMu.Lock()
		if p.httpServer == srv {
			p.httpServer = nil
		}
		p.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), p.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.httpServerMu.Lock()
	srv := p.httpServer
	p.httpServer = nil
	p.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}
