package query

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/store"
)

// Engine answers search queries against a Store using a task-aware
// embedder for the query side of the vector search.
type Engine struct {
	store    *store.Store
	embedder *embed.TaskedEmbedder
}

// New constructs a query Engine. embedder is wrapped for query-side
// instruction prefixing and task auto-detection.
func New(st *store.Store, embedder embed.Embedder) *Engine {
	return &Engine{store: st, embedder: embed.NewTaskedEmbedder(embedder)}
}

// Search embeds query with kind=query (task auto-detected), searches
// root's collection filtered to branch, drops results below
// opts.MinSimilarity, and optionally attaches source context lines.
func (e *Engine) Search(ctx context.Context, root, branch, query string, opts Options) ([]Result, error) {
	opts = normalizeOptions(opts)

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.store.Search(ctx, root, branch, vector, opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < opts.MinSimilarity {
			continue
		}
		results = append(results, e.toResult(root, hit, opts))
	}
	return results, nil
}

// SearchAllBranches runs Search against every branch the store has
// indexed chunks for, merging results and keeping the opts.TopK highest
// scoring matches across all of them.
func (e *Engine) SearchAllBranches(ctx context.Context, root, query string, opts Options) ([]Result, error) {
	opts = normalizeOptions(opts)

	branches, err := e.store.GetBranches(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	var merged []Result
	for _, branch := range branches {
		perBranch, err := e.Search(ctx, root, branch, query, opts)
		if err != nil {
			return nil, fmt.Errorf("search branch %q: %w", branch, err)
		}
		merged = append(merged, perBranch...)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > opts.TopK {
		merged = merged[:opts.TopK]
	}
	return merged, nil
}

func (e *Engine) toResult(root string, hit store.SearchResult, opts Options) Result {
	r := Result{
		Content:   hit.Content,
		FilePath:  hit.Metadata.FilePath,
		Language:  hit.Metadata.Language,
		FileType:  hit.Metadata.FileType,
		Branch:    hit.Metadata.Branch,
		LineStart: hit.Metadata.LineStart,
		LineEnd:   hit.Metadata.LineEnd,
		Score:     hit.Score,
	}

	if !opts.IncludeContext {
		return r
	}

	absPath := filepath.Join(root, filepath.FromSlash(hit.Metadata.FilePath))
	before, after, err := loadContext(absPath, hit.Metadata.LineStart, hit.Metadata.LineEnd,
		opts.ContextLinesBefore, opts.ContextLinesAfter)
	if err != nil {
		// Source file missing or unreadable: context stays nil, result
		// is still returned, per the query engine's null-context rule.
		return r
	}
	r.ContextBefore = before
	r.ContextAfter = after
	return r
}

func normalizeOptions(opts Options) Options {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.TopK > 100 {
		opts.TopK = 100
	}
	if opts.MinSimilarity < 0 {
		opts.MinSimilarity = 0
	}
	if opts.MinSimilarity > 1 {
		opts.MinSimilarity = 1
	}
	if opts.ContextLinesBefore < 0 {
		opts.ContextLinesBefore = 0
	}
	if opts.ContextLinesBefore > 10 {
		opts.ContextLinesBefore = 10
	}
	if opts.ContextLinesAfter < 0 {
		opts.ContextLinesAfter = 0
	}
	if opts.ContextLinesAfter > 10 {
		opts.ContextLinesAfter = 10
	}
	return opts
}
