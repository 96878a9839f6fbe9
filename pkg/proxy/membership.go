package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpmux/mcpmux/pkg/backends"
	"github.com/mcpmux/mcpmux/pkg/config"
)

// RegisterBackend declares a new backend at runtime. The session is
// opened eagerly as a best effort; when that fails for an operational
// reason the backend stays pending and opens lazily on first call.
// Guard rejections (disallowed command, blocked URL) are returned to
// the caller. The reported bool says whether the backend came up.
func (p *Proxy) RegisterBackend(ctx context.Context, name string, cfg *config.BackendConfig) (bool, error) {
	if err := validateBackendName(name); err != nil {
		return false, err
	}
	if err := cfg.Validate(name); err != nil {
		return false, err
	}
	if cfg.IdleTimeoutMinutes <= 0 {
		cfg.IdleTimeoutMinutes = 5
	}
	p.docMu.Lock()
	p.doc.AddServer(name, cfg)
	p.synced[name] = false
	p.docMu.Unlock()

	// A transport registered ahead of time (an embedded in-memory
	// backend) wins over one derived from the document entry.
	if !p.manager.IsRegistered(name) {
		transport, err := backends.FromDocument(cfg)
		if err != nil {
			return false, err
		}
		p.manager.Register(name, transport)
	}
	p.manager.SetIdleTimeout(name, cfg.IdleTimeout())
	p.manager.MarkPinned(name, cfg.AlwaysOn)

	if err := p.SyncBackend(ctx, name); err != nil {
		if errors.Is(err, backends.ErrCommandNotAllowed) || errors.Is(err, backends.ErrSSRFBlocked) {
			p.docMu.Lock()
			p.doc.RemoveServer(name)
			p.docMu.Unlock()
			p.manager.Unregister(name)
			return false, err
		}
		p.logger.Warn("eager connect failed, backend stays pending", "backend", name, "error", err)
		p.saveDocument()
		return false, nil
	}
	if !cfg.AlwaysOn {
		// The eager open was only for discovery; the idle reaper would
		// get there eventually, but lazy backends should not linger.
		_ = p.manager.Close(name)
	}
	return true, nil
}

// UnregisterBackend removes a backend: its live session and transport
// stack are closed, its pending config dropped, and its exposed
// features de-registered. With purge set the document entry goes too;
// otherwise the entry stays for a later re-registration.
func (p *Proxy) UnregisterBackend(_ context.Context, name string, purge bool) error {
	if !p.declared(name) && !p.manager.IsRegistered(name) {
		return fmt.Errorf("%w: %q", backends.ErrUnknownBackend, name)
	}

	p.applyToolSet(name, nil)
	p.applyPromptSet(name, nil)
	p.applyResourceSet(name, nil)

	p.manager.Unregister(name)

	p.docMu.Lock()
	if purge {
		p.doc.RemoveServer(name)
	}
	delete(p.synced, name)
	p.docMu.Unlock()
	p.saveDocument()

	p.logger.Info("backend unregistered", "backend", name, "purged", purge)
	return nil
}
