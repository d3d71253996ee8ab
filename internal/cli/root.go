// Package cli provides the command-line interface for threadchat.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/threadchat/internal/app"
	"github.com/raphaelgruber/threadchat/internal/client"
	"github.com/raphaelgruber/threadchat/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Global config and logger
	cfg         config.Config
	logger      *slog.Logger
	closeLogger func() error

	// Lazy-initialized store and engine
	deps *app.App
)

// rootCmd represents the base command. Without a subcommand it opens the chat.
var rootCmd = &cobra.Command{
	Use:   "threadchat",
	Short: "Thread-based chat assistant",
	Long: `Threadchat is a chat assistant that keeps every conversation as a
thread. Switch between threads at any time; each one remembers its own
history and is titled after its first message.

Run without a subcommand to open the terminal chat.`,
	Version:           Version,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	RunE:              runChat,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

// setup loads configuration and the logger. The chat screen owns the
// terminal, so it logs to the file only.
func setup(cmd *cobra.Command, args []string) error {
	// Skip for version and help commands
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}

	path := configPath
	if path == "" {
		path = os.Getenv("THREADCHAT_CONFIG")
	}
	if path != "" {
		var err error
		cfg, err = config.LoadFile(path)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Load()
	}
	if verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	logger, closeLogger = config.SetupLogger(cfg.LogFile, cfg.LogLevel, logsToConsole(cmd))
	slog.SetDefault(logger)
	return nil
}

// logsToConsole reports whether cmd may log to stderr. The root command and
// chat run the terminal UI.
func logsToConsole(cmd *cobra.Command) bool {
	return cmd.HasParent() && cmd.Name() != "chat"
}

func teardown() {
	if deps != nil {
		if err := deps.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
		deps = nil
	}
	if closeLogger != nil {
		_ = closeLogger()
		closeLogger = nil
	}
}

// getApp opens the store and engine on first use. Commands that only talk
// to a server never call it.
func getApp(ctx context.Context) (*app.App, error) {
	if deps != nil {
		return deps, nil
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps = a
	return deps, nil
}

// serverClient returns a client for url, or for the configured server URL
// when url is empty.
func serverClient(url string) *client.Client {
	if url == "" {
		url = cfg.ServerURL
	}
	return client.New(url)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml or .toml)")
	rootCmd.Flags().StringVar(&chatThread, "thread", "", "resume this thread")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(threadsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(versionCmd)
}
