package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpmux/mcpmux/pkg/backends"
	"github.com/mcpmux/mcpmux/pkg/config"
	"github.com/mcpmux/mcpmux/pkg/discovery"
	"github.com/mcpmux/mcpmux/pkg/proxy"
)

func newStartCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProxy(ctx, s)
		},
	}
}

func runProxy(ctx context.Context, s settings) error {
	logger := s.logger()

	docPath, err := s.documentPath()
	if err != nil {
		return err
	}
	store := config.NewStore(docPath)
	doc, err := store.Load()
	if err != nil {
		// A corrupt document is fatal on boot; continuing would risk
		// clobbering the user's policy on the next save.
		return err
	}

	manager := backends.NewManager(&backends.Options{Logger: logger})
	sweeper := discovery.NewSweeper(manager, logger)

	var results map[string]discovery.Result
	if len(doc.Servers) == 0 {
		logger.Info("empty document, running first-time discovery", "document", docPath)
		if err := importBackends(doc, s.Config, logger); err != nil {
			return err
		}
		results = sweeper.Run(ctx, doc)
		if err := store.Save(doc); err != nil {
			logger.Warn("initial document save failed", "error", err)
		} else {
			logger.Info("wrote initial document", "document", docPath)
		}
	} else {
		logger.Info("loaded document", "document", docPath, "backends", len(doc.Servers))
		newNames, err := importNewBackends(doc, s.Config, logger)
		if err != nil {
			return err
		}
		// Register everything as pending so the proxy starts instantly
		// from the document cache, then discover only the newcomers.
		for _, name := range doc.ServerNames() {
			entry := doc.Server(name)
			cfg, err := backends.FromDocument(entry)
			if err != nil {
				logger.Warn("skipping backend", "backend", name, "error", err)
				continue
			}
			manager.Register(name, cfg)
			manager.SetIdleTimeout(name, entry.IdleTimeout())
			manager.MarkPinned(name, entry.AlwaysOn)
		}
		if len(newNames) > 0 {
			results = make(map[string]discovery.Result, len(newNames))
			for _, name := range newNames {
				results[name] = sweeper.RunOne(ctx, doc, name)
			}
			if err := store.Save(doc); err != nil {
				logger.Warn("document save failed", "error", err)
			}
		}
	}

	p, err := proxy.New(manager, store, doc, &proxy.Options{
		Addr:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		APIToken: s.APIKey,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if results != nil {
		p.ApplyDiscovery(results)
	}

	manager.StartIdleReaper(ctx, backends.DefaultReapInterval)
	manager.StartPinnedWatchdog(ctx, backends.DefaultWatchdogInterval)

	// Bring pinned backends up without blocking startup.
	for _, name := range doc.ServerNames() {
		entry := doc.Server(name)
		if entry == nil || !entry.AlwaysOn {
			continue
		}
		go func(name string) {
			syncCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := p.SyncBackend(syncCtx, name); err != nil {
				logger.Warn("always-on backend failed to connect", "backend", name, "error", err)
			}
		}(name)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("backend shutdown incomplete", "error", err)
		}
	}()

	switch s.Transport {
	case "stdio":
		logger.Info("serving MCP over stdio")
		err = p.Run(ctx)
	case "http", "sse", "streamable-http":
		logger.Info("serving MCP over http", "addr", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
		err = p.ListenAndServe(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.Transport)
	}
	if err != nil && ctx.Err() != nil {
		// Cancelled by signal; this is the clean-shutdown path.
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

// importBackends seeds an empty document from an MCP JSON config.
func importBackends(doc *config.Document, jsonPath string, logger *slog.Logger) error {
	if jsonPath == "" {
		return nil
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("read json config: %w", err)
	}
	servers, names, err := config.ExtractServers(data)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !config.ValidBackendName(name) {
			logger.Warn("skipping backend with invalid name", "backend", name)
			continue
		}
		doc.AddServer(name, servers[name])
	}
	logger.Info("imported backends from json config", "path", jsonPath, "count", len(names))
	return nil
}

// importNewBackends adds JSON-declared backends that the document does
// not know yet and returns their names.
func importNewBackends(doc *config.Document, jsonPath string, logger *slog.Logger) ([]string, error) {
	if jsonPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read json config: %w", err)
	}
	servers, names, err := config.ExtractServers(data)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, name := range names {
		if doc.Server(name) != nil || !config.ValidBackendName(name) {
			continue
		}
		doc.AddServer(name, servers[name])
		added = append(added, name)
	}
	if len(added) > 0 {
		logger.Info("found new backends in json config", "count", len(added))
	}
	return added, nil
}
