package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpmux/mcpmux/pkg/config"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	var serverFilter string
	var disabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List declared backends and their tool policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			docPath, err := s.documentPath()
			if err != nil {
				return err
			}
			doc, err := config.NewStore(docPath).Load()
			if err != nil {
				return err
			}
			out, err := renderList(doc, serverFilter, disabledOnly)
			if err != nil {
				return err
			}
			cmd.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverFilter, "server", "", "only show this backend")
	cmd.Flags().BoolVar(&disabledOnly, "disabled", false, "only show disabled or stale tools")
	return cmd
}

func renderList(doc *config.Document, serverFilter string, disabledOnly bool) (string, error) {
	if len(doc.Servers) == 0 {
		return "No backends declared. Run: mcpmux start (first run discovers backends)", nil
	}
	var b strings.Builder
	for _, name := range doc.ServerNames() {
		if serverFilter != "" && name != serverFilter {
			continue
		}
		server := doc.Server(name)
		enabled := 0
		for _, entry := range server.Tools {
			if entry.Enabled && !entry.Stale {
				enabled++
			}
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] (%d/%d tools enabled)\n", name, enabled, len(server.Tools))

		toolNames := make([]string, 0, len(server.Tools))
		for toolName := range server.Tools {
			toolNames = append(toolNames, toolName)
		}
		sort.Strings(toolNames)
		for _, toolName := range toolNames {
			entry := server.Tools[toolName]
			if disabledOnly && entry.Enabled && !entry.Stale {
				continue
			}
			switch {
			case entry.Stale:
				fmt.Fprintf(&b, "  ! %s [stale]\n", toolName)
			case entry.Enabled:
				fmt.Fprintf(&b, "  + %s\n", toolName)
			default:
				fmt.Fprintf(&b, "  - %s\n", toolName)
			}
		}
	}
	if serverFilter != "" && !strings.Contains(b.String(), "["+serverFilter+"]") {
		return "", fmt.Errorf("unknown backend %q", serverFilter)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize each backend's mode and tool counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			docPath, err := s.documentPath()
			if err != nil {
				return err
			}
			doc, err := config.NewStore(docPath).Load()
			if err != nil {
				return err
			}
			cmd.Println(renderStatus(doc))
			return nil
		},
	}
}

func renderStatus(doc *config.Document) string {
	if len(doc.Servers) == 0 {
		return "No backends declared."
	}
	var b strings.Builder
	b.WriteString("mcpmux status\n")
	b.WriteString(strings.Repeat("=", 40))
	for _, name := range doc.ServerNames() {
		server := doc.Server(name)
		var enabled, disabled, stale int
		for _, entry := range server.Tools {
			switch {
			case entry.Stale:
				stale++
			case entry.Enabled:
				enabled++
			default:
				disabled++
			}
		}
		mode := fmt.Sprintf("lazy (%dm timeout)", int(server.IdleTimeout().Minutes()))
		if server.AlwaysOn {
			mode = "always_on"
		}
		fmt.Fprintf(&b, "\n\n%s\n", name)
		fmt.Fprintf(&b, "  Mode:    %s\n", mode)
		fmt.Fprintf(&b, "  Tools:   %d enabled, %d disabled, %d stale", enabled, disabled, stale)
		if server.Command != "" {
			fmt.Fprintf(&b, "\n  Command: %s", server.Command)
		} else if server.URL != "" {
			fmt.Fprintf(&b, "\n  URL:     %s", server.URL)
		}
	}
	return b.String()
}
