package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/internal/branchtrack"
	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/store"
	"github.com/llmtornado/fskb/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index including:
  - Number of indexed files and chunks on the current branch
  - Storage sizes (metadata and vector index)
  - Embedder status (provider, model, dimensions)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		cwd, _ := os.Getwd()
		root = cwd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	metadataPath := filepath.Join(cfg.Storage.DataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'fskb index' to create one", absRoot)
	}

	info, err := collectStatus(ctx, absRoot, cfg)
	if err != nil {
		return fmt.Errorf("collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, root string, cfg *config.Config) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		ProjectName: filepath.Base(root),
	}

	embedder, err := embed.NewEmbedderForProvider(ctx, cfg.Embedding.Provider, cfg.Embedding.Model)
	if err != nil {
		return info, fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	st, err := store.New(cfg.Storage.DataDir, embedder.Dimensions())
	if err != nil {
		return info, fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	branch := branchtrack.New(root).CurrentBranch()

	files, err := st.GetIndexedFiles(ctx, root, branch)
	if err == nil {
		info.TotalFiles = len(files)
		for _, f := range files {
			mtime := time.Unix(f.MTime, 0)
			if mtime.After(info.LastIndexed) {
				info.LastIndexed = mtime
			}
		}
	}

	chunkCount, err := st.GetBranchChunkCount(ctx, root, branch)
	if err == nil {
		info.TotalChunks = chunkCount
	}

	info.MetadataSize = fileSize(filepath.Join(cfg.Storage.DataDir, "metadata.db"))
	info.VectorSize = fileSize(filepath.Join(cfg.Storage.DataDir, collectionFileName(root)))
	info.TotalSize = info.MetadataSize + info.VectorSize

	info.EmbedderType = cfg.Embedding.Provider
	info.EmbedderModel = embedder.ModelName()
	info.EmbedderStatus = "ready"
	if !embedder.Available(ctx) {
		info.EmbedderStatus = "offline"
	}

	info.WatcherStatus = "n/a"

	return info, nil
}

// collectionFileName mirrors the store's internal collection naming so
// status can report the on-disk size of a root's vector index without
// reaching into store internals.
func collectionFileName(root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:]) + ".hnsw"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return stat.Size()
}
