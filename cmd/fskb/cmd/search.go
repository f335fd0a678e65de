package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/internal/branchtrack"
	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/daemon"
	"github.com/llmtornado/fskb/internal/output"
	"github.com/llmtornado/fskb/internal/query"
)

func newSearchCmd() *cobra.Command {
	var (
		path          string
		topK          int
		minSimilarity float32
		allBranches   bool
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed project",
		Long: `Search a previously indexed project root for text similar to query.

If the background daemon is running for this machine, the search is
routed through it for an instant response (the embedder stays warm in
memory); otherwise a one-shot embedder is constructed for this single
query.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, args[0], path, topK, minSimilarity, allBranches, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Project root to search")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Maximum results to return (default: search.top_k from config)")
	cmd.Flags().Float32Var(&minSimilarity, "min-similarity", -1, "Minimum similarity score (default: search.min_similarity from config)")
	cmd.Flags().BoolVar(&allBranches, "all-branches", false, "Search every indexed branch, not just the current one")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, queryStr, path string, topK int, minSimilarity float32, allBranches, jsonOutput bool) error {
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

	opts := queryOptions(cfg)
	if topK > 0 {
		opts.TopK = topK
	}
	if minSimilarity >= 0 {
		opts.MinSimilarity = minSimilarity
	}

	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if client.IsRunning() && !allBranches {
		return runSearchViaDaemon(ctx, cmd, client, queryStr, root, opts, jsonOutput)
	}

	return runSearchDirect(ctx, cmd, queryStr, root, cfg, opts, allBranches, jsonOutput)
}

func runSearchViaDaemon(ctx context.Context, cmd *cobra.Command, client *daemon.Client, queryStr, root string, opts query.Options, jsonOutput bool) error {
	results, err := client.Search(ctx, daemon.SearchParams{
		Query:    queryStr,
		RootPath: root,
		Limit:    opts.TopK,
	})
	if err != nil {
		return fmt.Errorf("daemon search failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Status("ℹ️ ", "No results")
		return nil
	}
	for i, r := range results {
		out.Statusf(fmt.Sprintf("%d.", i+1), "%s:%d-%d (score %.3f)", r.FilePath, r.StartLine, r.EndLine, r.Score)
		out.Code(r.Content)
		out.Newline()
	}
	return nil
}

func runSearchDirect(ctx context.Context, cmd *cobra.Command, queryStr, root string, cfg *config.Config, opts query.Options, allBranches, jsonOutput bool) error {
	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer sys.store.Close()

	if _, err := sys.store.GetOrCreateCollection(root); err != nil {
		return fmt.Errorf("open index for %s: %w", root, err)
	}

	var results []query.Result
	if allBranches {
		results, err = sys.query.SearchAllBranches(ctx, root, queryStr, opts)
	} else {
		branch := branchtrack.New(root).CurrentBranch()
		results, err = sys.query.Search(ctx, root, branch, queryStr, opts)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Status("ℹ️ ", "No results")
		return nil
	}
	for i, r := range results {
		label := fmt.Sprintf("%s:%d-%d (score %.3f)", r.FilePath, r.LineStart, r.LineEnd, r.Score)
		out.Status(fmt.Sprintf("%d.", i+1), label)
		if len(r.ContextBefore) > 0 {
			out.Code(joinLines(r.ContextBefore))
		}
		out.Code(r.Content)
		if len(r.ContextAfter) > 0 {
			out.Code(joinLines(r.ContextAfter))
		}
		out.Newline()
	}
	return nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
