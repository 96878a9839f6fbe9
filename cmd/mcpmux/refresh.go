package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpmux/mcpmux/pkg/backends"
	"github.com/mcpmux/mcpmux/pkg/config"
	"github.com/mcpmux/mcpmux/pkg/discovery"
)

func newRefreshCmd(v *viper.Viper) *cobra.Command {
	var serverFilter string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rediscover backend tools and prune stale disabled entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			out, err := runRefresh(cmd.Context(), s, serverFilter)
			if err != nil {
				return err
			}
			cmd.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverFilter, "server", "", "only refresh this backend")
	return cmd
}

func runRefresh(ctx context.Context, s settings, serverFilter string) (string, error) {
	logger := s.logger()
	docPath, err := s.documentPath()
	if err != nil {
		return "", err
	}
	store := config.NewStore(docPath)
	doc, err := store.Load()
	if err != nil {
		return "", err
	}
	if len(doc.Servers) == 0 {
		return "No backends declared.", nil
	}
	if serverFilter != "" && doc.Server(serverFilter) == nil {
		return "", fmt.Errorf("unknown backend %q", serverFilter)
	}

	manager := backends.NewManager(&backends.Options{Logger: logger})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()
	sweeper := discovery.NewSweeper(manager, logger)

	names := doc.ServerNames()
	if serverFilter != "" {
		names = []string{serverFilter}
	}

	totalTools, pruned := 0, 0
	var empty []string
	for _, name := range names {
		result := sweeper.RunOne(ctx, doc, name)
		totalTools += len(result.Tools)
		if len(result.Tools) == 0 {
			empty = append(empty, name)
		}
		if n := config.PruneStaleDisabled(doc, name); n > 0 {
			logger.Info("pruned stale disabled tools", "backend", name, "count", n)
			pruned += n
		}
	}

	if err := store.Save(doc); err != nil {
		return "", err
	}
	out := fmt.Sprintf("Refreshed %d backend(s), %d tools discovered, %d entries pruned. Saved to %s",
		len(names), totalTools, pruned, docPath)
	if len(empty) > 0 {
		out += fmt.Sprintf("\nwarning: 0 tools discovered for: %v", empty)
	}
	return out, nil
}
