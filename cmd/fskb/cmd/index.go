package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		offline    bool
		noColor    bool
		idleWindow time.Duration
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build (or rebuild) the index for a project and exit",
		Long: `Run a one-shot index of a project root: scan, chunk, embed and
store every eligible file, then exit once the work queue has drained.

The live file watcher is still started for the duration of the command
(it is always part of indexing a root) but the process exits as soon as
the initial backlog is empty, instead of continuing to watch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndexCommand(ctx, cmd, path, offline, noColor, idleWindow)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip Ollama)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().DurationVar(&idleWindow, "idle-window", 1500*time.Millisecond, "Time the queue must stay empty before the scan is considered done")

	return cmd
}

func runIndexCommand(ctx context.Context, cmd *cobra.Command, path string, offline, noColor bool, idleWindow time.Duration) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if offline {
		cfg.Embedding.Provider = "static"
	}

	return runIndexAndWaitWithUI(ctx, cmd, absPath, cfg, noColor, idleWindow)
}

// runIndexAndWait is the simplified entry point used by 'fskb init', which
// always renders with the plain-text renderer and default idle window.
func runIndexAndWait(ctx context.Context, cmd *cobra.Command, path string, offline bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if offline {
		cfg.Embedding.Provider = "static"
	}
	return runIndexAndWaitWithUI(ctx, cmd, path, cfg, false, 1500*time.Millisecond)
}

func runIndexAndWaitWithUI(ctx context.Context, cmd *cobra.Command, path string, cfg *config.Config, noColor bool, idleWindow time.Duration) error {
	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer sys.engine.Stop()

	if err := sys.engine.AddRoot(path); err != nil {
		return fmt.Errorf("add root %s: %w", path, err)
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithNoColor(noColor || ui.DetectNoColor()),
		ui.WithProjectDir(path))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("start progress display: %w", err)
	}

	start := time.Now()
	var lastQueueSize = -1
	var idleSince time.Time

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = renderer.Stop()
			return ctx.Err()
		case <-ticker.C:
			stats, ok := sys.engine.Stats(path)
			if !ok {
				continue
			}

			stage := ui.StageEmbedding
			if stats.QueueSize > 0 && stats.FilesScanned == 0 {
				stage = ui.StageScanning
			}
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       stage,
				Current:     stats.FilesIndexed,
				Total:       stats.FilesScanned,
				CurrentFile: stats.CurrentFile,
			})

			if stats.QueueSize == 0 {
				if lastQueueSize != 0 {
					idleSince = time.Now()
				}
				if time.Since(idleSince) >= idleWindow {
					renderer.Complete(ui.CompletionStats{
						Files:    stats.FilesIndexed,
						Chunks:   stats.ChunksCreated,
						Duration: time.Since(start),
						Errors:   stats.Errors,
						Embedder: ui.EmbedderInfo{
							Backend:    cfg.Embedding.Provider,
							Model:      sys.embedder.ModelName(),
							Dimensions: sys.embedder.Dimensions(),
						},
					})
					return renderer.Stop()
				}
			}
			lastQueueSize = stats.QueueSize
		}
	}
}
