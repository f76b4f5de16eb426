// Package cli wires the commentcast commands: serve runs the relay and its
// HTTP surface, fetch reads a thread once, db manages the archive schema.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time with -ldflags "-X".
var version = "dev"

var (
	configFile string
	logLevel   string
	logFormat  string
)

func NewCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "commentcast",
		Short:   "Relay BBS and live chat comments to stream overlays",
		Long:    "commentcast polls a 2ch-style thread and live chat sources and pushes the comments to browser overlays.",
		Example: fmt.Sprintf("  %s serve --thread-url https://example.5ch.net/test/read.cgi/livejupiter/1700000000/", os.Args[0]),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// local dev convenience only; real deployments use the environment
			_ = godotenv.Load()
			setupLogging(logLevel, logFormat)
			if configFile != "" {
				viper.SetConfigFile(configFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", configFile, err)
				}
				slog.Debug("config file loaded", slog.String("path", viper.ConfigFileUsed()))
			}
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default LOG_FORMAT or text)")

	root.AddCommand(initServeCommand())
	root.AddCommand(initFetchCommand())
	root.AddCommand(initDBCommand())
	root.AddCommand(initVersionCommand())

	return root
}

func initVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "commentcast "+version)
		},
	}
}

// parseLevel maps a level name to slog. Unknown names fall back to info.
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "info", "":
		return slog.LevelInfo, true
	default:
		return slog.LevelInfo, false
	}
}

// setupLogging installs the default slog logger. Flags win over the
// LOG_LEVEL and LOG_FORMAT variables.
func setupLogging(level, format string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	lvl, known := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	if !known {
		slog.Warn("unknown log level, using info", slog.String("value", level))
	}
}
