package cmd

import (
	"context"
	"fmt"

	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/engine"
	"github.com/llmtornado/fskb/internal/governor"
	"github.com/llmtornado/fskb/internal/query"
	"github.com/llmtornado/fskb/internal/store"
)

// system is the fully-wired set of components a running command needs:
// the persistent vector store, the embedder, the resource governor and
// the indexing engine built on top of them. Commands that only search
// (no live indexing) can ignore Engine and Governor.
type system struct {
	cfg      *config.Config
	embedder embed.Embedder
	store    *store.Store
	governor *governor.Governor
	engine   *engine.Engine
	query    *query.Engine
}

// buildSystem constructs the embedder, store, governor and engine from
// cfg. The caller is responsible for calling Start/Stop on the engine
// and Close on the store.
func buildSystem(ctx context.Context, cfg *config.Config) (*system, error) {
	embedder, err := embed.NewEmbedderForProvider(ctx, cfg.Embedding.Provider, cfg.Embedding.Model)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	st, err := store.New(cfg.Storage.DataDir, embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	gov := governor.New(governor.Config{
		MaxCPUPercent: cfg.Resource.MaxCPUPercent,
		MaxMemoryMB:   cfg.Resource.MaxMemoryMB,
		MaxWorkers:    cfg.Resource.MaxWorkers,
	})

	engCfg := engine.Config{
		ChunkSize:          cfg.Chunking.ChunkSize,
		ChunkOverlap:       cfg.Chunking.ChunkOverlap,
		Separators:         cfg.Chunking.Separators,
		MaxCPUPercent:      cfg.Resource.MaxCPUPercent,
		MaxMemoryMB:        cfg.Resource.MaxMemoryMB,
		MaxWorkers:         cfg.Resource.MaxWorkers,
		IdleTimeoutSeconds: cfg.Resource.IdleTimeoutSeconds,
		DebounceDelayMs:    cfg.Resource.DebounceDelayMs,
		MaxFileSizeMB:      cfg.Indexing.MaxFileSizeMB,
		RespectGitignore:   cfg.Indexing.RespectGitignore,
		UseFskbignore:      cfg.Indexing.UseFskbignore,
		SkipDirectories:    cfg.Indexing.SkipDirectories,
		TextExtensions:     cfg.Indexing.TextExtensions,
	}

	eng := engine.New(engCfg, st, embedder, gov)
	q := query.New(st, embedder)

	return &system{
		cfg:      cfg,
		embedder: embedder,
		store:    st,
		governor: gov,
		engine:   eng,
		query:    q,
	}, nil
}

// Close releases the store and stops the engine's workers if started.
func (s *system) Close() error {
	if s.engine != nil {
		_ = s.engine.Stop()
	}
	return s.store.Close()
}

// queryOptions builds query.Options from the configured search defaults.
func queryOptions(cfg *config.Config) query.Options {
	return query.Options{
		TopK:               cfg.Search.TopK,
		MinSimilarity:      cfg.Search.MinSimilarity,
		IncludeContext:     true,
		ContextLinesBefore: cfg.Search.ContextLinesBefore,
		ContextLinesAfter:  cfg.Search.ContextLinesAfter,
	}
}
