package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpmux/mcpmux/pkg/config"
)

// settings are resolved from flags and MCPMUX_* environment variables.
type settings struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Transport string `mapstructure:"transport"`
	LogLevel  string `mapstructure:"log_level"`
	Config    string `mapstructure:"config"`
	Document  string `mapstructure:"document"`
	APIKey    string `mapstructure:"api_key"`
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "mcpmux",
		Short:         "Aggregate many MCP servers behind one endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("host", "127.0.0.1", "listen host for the http transport")
	flags.Int("port", 8085, "listen port for the http transport")
	flags.String("transport", "stdio", "downstream transport: stdio or http")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("config", "", "path to an MCP JSON config to import backends from")
	flags.String("document", "", "path to the servers.yaml document (defaults to the user config dir)")
	flags.String("api-key", "", "bearer token guarding the http surface")

	v.SetEnvPrefix("MCPMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	cobra.CheckErr(v.BindPFlag("host", flags.Lookup("host")))
	cobra.CheckErr(v.BindPFlag("port", flags.Lookup("port")))
	cobra.CheckErr(v.BindPFlag("transport", flags.Lookup("transport")))
	cobra.CheckErr(v.BindPFlag("log_level", flags.Lookup("log-level")))
	cobra.CheckErr(v.BindPFlag("config", flags.Lookup("config")))
	cobra.CheckErr(v.BindPFlag("document", flags.Lookup("document")))
	cobra.CheckErr(v.BindPFlag("api_key", flags.Lookup("api-key")))

	root.AddCommand(newStartCmd(v))
	root.AddCommand(newListCmd(v))
	root.AddCommand(newStatusCmd(v))
	root.AddCommand(newRefreshCmd(v))
	return root
}

func loadSettings(v *viper.Viper) (settings, error) {
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, err
	}
	return s, nil
}

func (s settings) documentPath() (string, error) {
	if s.Document != "" {
		return s.Document, nil
	}
	return config.DefaultPath()
}

func (s settings) logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
