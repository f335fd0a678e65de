// Package cmd provides the CLI commands for fskb.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/logging"
	"github.com/llmtornado/fskb/internal/preflight"
	"github.com/llmtornado/fskb/pkg/version"
)

var (
	debugMode      bool
	skipPreflight  bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the fskb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fskb",
		Short: "Local semantic search engine over source code workspaces",
		Long: `fskb indexes one or more project roots into a local vector store
and answers similarity search queries over them.

It runs entirely locally. Run 'fskb init' in a project directory to get
started, then 'fskb serve' to expose search over MCP for editor and
agent integrations.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("fskb version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.fskb/logs/")
	cmd.PersistentFlags().BoolVar(&skipPreflight, "skip-check", false, "Skip pre-flight system checks")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAddRootCmd())
	cmd.AddCommand(newRemoveRootCmd())
	cmd.AddCommand(newListRootsCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault indexes the current directory if needed and starts the
// MCP server over stdio, matching a plain `fskb` invocation with no
// subcommand. stdout must stay clean for the MCP JSON-RPC stream, so every
// status message here goes to the debug log, never to stdout.
func runSmartDefault(ctx context.Context) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if len(cfg.Roots) == 0 {
		cfg.Roots = []string{root}
	}

	if !skipPreflight && preflight.NeedsCheck(cfg.Storage.DataDir) {
		checker := preflight.New(preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx, root)
		if checker.HasCriticalFailures(results) {
			slog.Error("system check failed, run with --debug for diagnostics")
			return fmt.Errorf("system check failed")
		}
		if err := preflight.MarkPassed(cfg.Storage.DataDir); err != nil {
			slog.Debug("failed to mark preflight as passed", slog.String("error", err.Error()))
		}
	}

	return runServeWithConfig(ctx, cfg)
}
