package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/mcpserver"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Run fskb as an MCP server speaking JSON-RPC over stdin/stdout.

This is the entry point editors and agents launch directly (it is also
what 'fskb init' wires into .mcp.json). stdout carries ONLY the MCP
protocol stream; every status message goes to the debug log instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			return runServeWithConfig(cmd.Context(), cfg)
		},
	}

	return cmd
}

// runServeWithConfig builds the full system (embedder, store, engine, query
// engine), starts watching every configured root, and blocks serving MCP
// requests over stdio until the context is cancelled.
func runServeWithConfig(ctx context.Context, cfg *config.Config) error {
	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}
	defer sys.Close()

	if err := sys.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	for _, root := range cfg.Roots {
		if err := sys.engine.AddRoot(root); err != nil {
			slog.Error("failed to add root", "root", root, "error", err)
			continue
		}
		slog.Debug("watching root", "root", root)
	}

	srv, err := mcpserver.NewServer(sys.engine, sys.query, sys.store)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	slog.Debug("serving MCP over stdio")
	return srv.Serve(ctx)
}
