// Command watchtower-events runs and inspects the Watch Tower event streams.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/watchtower/pkg/eventstream"
	"github.com/randalmurphal/watchtower/pkg/eventstream/config"
	"github.com/randalmurphal/watchtower/pkg/eventstream/deadletter"
	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

var (
	configPath string
	redisURL   string
	jsonOutput bool

	settings config.Settings
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "watchtower-events <command>",
	Short:         "Publish, consume and inspect Watch Tower event streams",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if cmd.Flags().Changed("redis-url") {
			s.RedisURL = redisURL
		}
		settings = s

		l, err := newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "settings file (.yaml, .json or .toml)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "", "Redis URL (overrides settings)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Run:"},
		&cobra.Group{ID: "inspect", Title: "Inspect:"},
		&cobra.Group{ID: "recover", Title: "Recover:"},
	)

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(publishCmd)

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(pendingCmd)

	rootCmd.AddCommand(createGroupCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (must be text or json)", format)
	}
}

// openStore connects to the broker configured in settings.
func openStore(ctx context.Context) (*stream.RedisStore, error) {
	return stream.DialRedis(ctx, stream.RedisConfig{
		URL:            settings.RedisURL,
		PoolSize:       settings.RedisPoolSize,
		SocketTimeout:  settings.RedisSocketTimeout,
		ConnectTimeout: settings.RedisConnectTimeout,
	})
}

// openDeadLetters opens the SQLite dead-letter store, or an in-memory one
// when no path is configured and persistent is false.
func openDeadLetters(persistent bool) (deadletter.Store, error) {
	if settings.DeadLetterPath == "" {
		if persistent {
			return nil, fmt.Errorf("%s is not set", config.KeyDeadLetterPath)
		}
		return deadletter.NewMemoryStore(0), nil
	}
	return deadletter.NewSQLiteStore(settings.DeadLetterPath)
}

// runtimeOptions are the eventstream options every command shares.
func runtimeOptions(extra ...eventstream.Option) []eventstream.Option {
	opts := []eventstream.Option{
		eventstream.WithSettings(settings),
		eventstream.WithLogger(logger),
	}
	return append(opts, extra...)
}
