package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultMaxOpens       = 8
	defaultIdleTimeout    = 5 * time.Minute

	// DefaultReapInterval is how often the idle reaper wakes up.
	DefaultReapInterval = 60 * time.Second
	// DefaultWatchdogInterval is how often dropped pinned backends are
	// checked for reconnection.
	DefaultWatchdogInterval = 30 * time.Second
)

// Capabilities is the snapshot of what a backend advertised during the
// MCP initialize exchange.
type Capabilities struct {
	Tools     bool
	Prompts   bool
	Resources bool
}

// Session is the handle other components use to talk to a live
// backend. The underlying transport belongs to the Manager.
type Session struct {
	Name string
	Caps Capabilities

	mcp *mcp.ClientSession
}

// Client exposes the underlying MCP client session for direct calls.
func (s *Session) Client() *mcp.ClientSession { return s.mcp }

// Options configure a Manager.
type Options struct {
	// ConnectTimeout bounds each backend open, initialize included.
	// Defaults to 30s.
	ConnectTimeout time.Duration
	// MaxConcurrentOpens caps opens in flight across all backends.
	// Defaults to 8.
	MaxConcurrentOpens int64
	// ClientName and ClientVersion identify the proxy to upstream
	// servers.
	ClientName    string
	ClientVersion string
	// Logger receives structured diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Hooks are callbacks the proxy wires in after construction, before
// any backend is opened.
type Hooks struct {
	// OnDisconnected fires after a backend leaves the live map, whether
	// by close, idle reap, or session death.
	OnDisconnected func(name string)
	// OnReconnected fires after the pinned watchdog restores a dropped
	// backend.
	OnReconnected func(name string, s *Session)

	// Upstream list-changed notifications, dispatched with the backend
	// name.
	OnToolListChanged     func(name string)
	OnPromptListChanged   func(name string)
	OnResourceListChanged func(name string)

	// Elicitation forwards an upstream elicitation request, typically
	// to the downstream client. Nil rejects elicitations.
	Elicitation func(ctx context.Context, name string, req *mcp.ElicitRequest) (*mcp.ElicitResult, error)
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.MaxConcurrentOpens <= 0 {
		opts.MaxConcurrentOpens = defaultMaxOpens
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcpmux"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Manager owns backend sessions. Opens are serialized per backend and
// bounded globally; every failure path restores the pending config so
// the backend stays retryable.
type Manager struct {
	opts Options

	mu         sync.Mutex
	live       map[string]*Session
	pending    map[string]Config
	registered map[string]Config
	caps       map[string]Capabilities
	pinned     map[string]struct{}
	idle       map[string]time.Duration
	lastUsed   map[string]time.Time
	locks      map[string]*sync.Mutex
	shutdown   bool

	hooksMu sync.RWMutex
	hooks   Hooks

	sem    *semaphore.Weighted
	logger *slog.Logger
}

// SetHooks installs the lifecycle callbacks. Call before opening any
// backend.
func (m *Manager) SetHooks(hooks Hooks) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = hooks
}

func (m *Manager) currentHooks() Hooks {
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	return m.hooks
}

// NewManager constructs a Manager.
func NewManager(opts *Options) *Manager {
	options := opts.withDefaults()
	return &Manager{
		opts:       options,
		live:       make(map[string]*Session),
		pending:    make(map[string]Config),
		registered: make(map[string]Config),
		caps:       make(map[string]Capabilities),
		pinned:     make(map[string]struct{}),
		idle:       make(map[string]time.Duration),
		lastUsed:   make(map[string]time.Time),
		locks:      make(map[string]*sync.Mutex),
		sem:        semaphore.NewWeighted(options.MaxConcurrentOpens),
		logger:     options.Logger,
	}
}

// Register adds a backend config to the pending registry without
// connecting. Re-registering an already-live backend updates the
// stored config but leaves the session alone.
func (m *Manager) Register(name string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered[name] = cfg
	if _, isLive := m.live[name]; !isLive {
		m.pending[name] = cfg
	}
	m.logger.Info("registered backend", "backend", name)
}

// Unregister removes a backend entirely: pending config, pinning,
// idle settings, and any live session (closed outside the lock).
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	delete(m.registered, name)
	delete(m.pending, name)
	delete(m.pinned, name)
	delete(m.idle, name)
	delete(m.caps, name)
	m.mu.Unlock()
	_ = m.Close(name)
}

// SetIdleTimeout overrides the idle timeout for one backend.
func (m *Manager) SetIdleTimeout(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idle[name] = d
}

// MarkPinned controls whether the idle reaper may close the backend.
func (m *Manager) MarkPinned(name string, pinned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pinned {
		m.pinned[name] = struct{}{}
	} else {
		delete(m.pinned, name)
	}
}

// RecordUse refreshes the backend's last-used timestamp.
func (m *Manager) RecordUse(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsed[name] = time.Now()
}

// GetOrOpen returns the live session for name, opening one from the
// pending config if needed. Opens are serialized per backend and
// bounded by the global semaphore and the connect timeout. On failure
// the pending config is restored before the error returns.
func (m *Manager) GetOrOpen(ctx context.Context, name string) (*Session, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, errors.New("backends: manager is shut down")
	}
	if s, ok := m.live[name]; ok {
		m.lastUsed[name] = time.Now()
		m.mu.Unlock()
		return s, nil
	}
	lock := m.lockFor(name)
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	// Re-check under the per-backend lock; another caller may have won.
	m.mu.Lock()
	if s, ok := m.live[name]; ok {
		m.lastUsed[name] = time.Now()
		m.mu.Unlock()
		return s, nil
	}
	cfg, ok := m.pending[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	delete(m.pending, name)
	m.mu.Unlock()

	restore := func() {
		m.mu.Lock()
		if _, stillRegistered := m.registered[name]; stillRegistered {
			m.pending[name] = cfg
		}
		m.mu.Unlock()
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		restore()
		return nil, err
	}
	defer m.sem.Release(1)

	session, err := m.open(ctx, name, cfg)
	if err != nil {
		restore()
		m.logger.Warn("backend open failed", "backend", name, "error", err)
		return nil, err
	}

	m.mu.Lock()
	m.live[name] = session
	m.caps[name] = session.Caps
	m.lastUsed[name] = time.Now()
	m.mu.Unlock()
	m.logger.Info("backend connected", "backend", name,
		"tools", session.Caps.Tools, "prompts", session.Caps.Prompts, "resources", session.Caps.Resources)
	return session, nil
}

func (m *Manager) open(ctx context.Context, name string, cfg Config) (*Session, error) {
	timeout := cfg.base().ConnectTimeout
	if timeout <= 0 {
		timeout = m.opts.ConnectTimeout
	}
	openCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := func(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, error) {
		client := mcp.NewClient(
			&mcp.Implementation{Name: m.opts.ClientName, Version: m.opts.ClientVersion},
			m.clientOptions(name),
		)
		return client.Connect(ctx, transport, nil)
	}

	cs, err := cfg.connect(openCtx, attempt)
	if err != nil {
		if openCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %q after %s", ErrOpenTimeout, name, timeout)
		}
		return nil, err
	}

	session := &Session{Name: name, mcp: cs, Caps: capsOf(cs)}
	go m.monitor(name, session)
	return session, nil
}

func capsOf(cs *mcp.ClientSession) Capabilities {
	result := cs.InitializeResult()
	if result == nil || result.Capabilities == nil {
		return Capabilities{}
	}
	caps := result.Capabilities
	return Capabilities{
		Tools:     caps.Tools != nil,
		Prompts:   caps.Prompts != nil,
		Resources: caps.Resources != nil,
	}
}

func (m *Manager) clientOptions(name string) *mcp.ClientOptions {
	hooks := m.currentHooks()
	opts := &mcp.ClientOptions{}
	if hook := hooks.OnToolListChanged; hook != nil {
		opts.ToolListChangedHandler = func(context.Context, *mcp.ToolListChangedRequest) { hook(name) }
	}
	if hook := hooks.OnPromptListChanged; hook != nil {
		opts.PromptListChangedHandler = func(context.Context, *mcp.PromptListChangedRequest) { hook(name) }
	}
	if hook := hooks.OnResourceListChanged; hook != nil {
		opts.ResourceListChangedHandler = func(context.Context, *mcp.ResourceListChangedRequest) { hook(name) }
	}
	if forward := hooks.Elicitation; forward != nil {
		opts.ElicitationHandler = func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
			return forward(ctx, name, req)
		}
	}
	return opts
}

// monitor clears live state when the session dies on its own. Closes
// initiated through Close have already removed the entry, in which
// case this is a no-op.
func (m *Manager) monitor(name string, session *Session) {
	_ = session.mcp.Wait()
	m.mu.Lock()
	if current, ok := m.live[name]; !ok || current != session {
		m.mu.Unlock()
		return
	}
	delete(m.live, name)
	delete(m.lastUsed, name)
	if cfg, ok := m.registered[name]; ok {
		m.pending[name] = cfg
	}
	m.mu.Unlock()
	m.logger.Warn("backend session ended", "backend", name)
	if hook := m.currentHooks().OnDisconnected; hook != nil {
		hook(name)
	}
}

// Close removes the backend from the live map and closes its
// transport. The pending config is reinstated before the close so a
// concurrent GetOrOpen never observes the backend as unknown.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	session, ok := m.live[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.live, name)
	delete(m.lastUsed, name)
	if cfg, registered := m.registered[name]; registered {
		m.pending[name] = cfg
	}
	m.mu.Unlock()

	err := session.mcp.Close()
	if hook := m.currentHooks().OnDisconnected; hook != nil {
		hook(name)
	}
	return err
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	// Caller holds m.mu.
	lock, ok := m.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}
	return lock
}

// StartIdleReaper runs the idle reaper until ctx is cancelled.
func (m *Manager) StartIdleReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapOnce(time.Now())
			}
		}
	}()
}

func (m *Manager) reapOnce(now time.Time) {
	m.mu.Lock()
	var victims []string
	for name := range m.live {
		if _, isPinned := m.pinned[name]; isPinned {
			continue
		}
		timeout, ok := m.idle[name]
		if !ok || timeout <= 0 {
			timeout = defaultIdleTimeout
		}
		if now.Sub(m.lastUsed[name]) > timeout {
			victims = append(victims, name)
		}
	}
	m.mu.Unlock()

	for _, name := range victims {
		m.logger.Info("closing idle backend", "backend", name)
		if err := m.Close(name); err != nil {
			m.logger.Warn("idle close failed", "backend", name, "error", err)
		}
	}
}

// StartPinnedWatchdog reconnects pinned backends whose session dropped,
// retrying each with exponential backoff, until ctx is cancelled.
func (m *Manager) StartPinnedWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, name := range m.droppedPinned() {
					m.reconnectPinned(ctx, name)
				}
			}
		}
	}()
}

func (m *Manager) droppedPinned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []string
	for name := range m.pinned {
		if _, isLive := m.live[name]; isLive {
			continue
		}
		if _, isRegistered := m.registered[name]; isRegistered {
			dropped = append(dropped, name)
		}
	}
	return dropped
}

func (m *Manager) reconnectPinned(ctx context.Context, name string) {
	m.logger.Warn("pinned backend disconnected, reconnecting", "backend", name)
	session, err := backoff.Retry(ctx, func() (*Session, error) {
		return m.GetOrOpen(ctx, name)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
	if err != nil {
		m.logger.Error("pinned reconnect failed", "backend", name, "error", err)
		return
	}
	m.logger.Info("pinned backend reconnected", "backend", name)
	if hook := m.currentHooks().OnReconnected; hook != nil {
		hook(name, session)
	}
}

// Shutdown closes every live session concurrently and clears the live
// map. Registered configs survive so a later start could re-register,
// but no new opens are admitted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	sessions := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		sessions = append(sessions, s)
	}
	m.live = make(map[string]*Session)
	m.pending = make(map[string]Config)
	m.lastUsed = make(map[string]time.Time)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(s.mcp.Close)
	}
	return g.Wait()
}

// LiveNames returns the names of currently open backends.
func (m *Manager) LiveNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.live))
	for name := range m.live {
		names = append(names, name)
	}
	return names
}

// PendingNames returns the names of declared-but-unconnected backends.
func (m *Manager) PendingNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.pending))
	for name := range m.pending {
		names = append(names, name)
	}
	return names
}

// IsLive reports whether the backend currently has an open session.
func (m *Manager) IsLive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[name]
	return ok
}

// IsRegistered reports whether the backend is declared at all.
func (m *Manager) IsRegistered(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registered[name]
	return ok
}

// IsPinned reports whether the backend is exempt from idle reaping.
func (m *Manager) IsPinned(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pinned[name]
	return ok
}

// Capabilities returns the last capability snapshot recorded for the
// backend, surviving disconnects.
func (m *Manager) Capabilities(name string) (Capabilities, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	caps, ok := m.caps[name]
	return caps, ok
}
