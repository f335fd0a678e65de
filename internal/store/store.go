package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/llmtornado/fskb/internal/chunk"
)

// Store is the vector store wrapper: one HNSW collection per root plus the
// global embedding_cache collection, backed by a SQLite metadata side
// table. All operations are thread-safe; writes to a given collection are
// serialized by the underlying HNSWStore's own lock.
type Store struct {
	dataDir    string
	dimensions int

	collections *collectionRegistry
	meta        *sqliteMetadata
}

// New opens (or creates) the store rooted at dataDir.
func New(dataDir string, dimensions int) (*Store, error) {
	meta, err := newSQLiteMetadata(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	return &Store{
		dataDir:     dataDir,
		dimensions:  dimensions,
		collections: newCollectionRegistry(dataDir, dimensions),
		meta:        meta,
	}, nil
}

// GetOrCreateCollection ensures the root's collection exists on disk and
// in memory, returning its deterministic name.
func (s *Store) GetOrCreateCollection(root string) (string, error) {
	name := collectionName(root)
	if _, err := s.collections.getOrCreate(name); err != nil {
		return "", err
	}
	return name, nil
}

func chunkID(branch, relPath string, lineStart, lineEnd, ordinal int) string {
	return fmt.Sprintf("%s:%s:%d-%d:%d", branch, relPath, lineStart, lineEnd, ordinal)
}

// AddChunks upserts a file's chunks (with embeddings) into root's
// collection, assigning each a deterministic id of the form
// "<branch>:<rel_path>:<line_start>-<line_end>:<ordinal>".
func (s *Store) AddChunks(ctx context.Context, root, branch, file, fileHash string, mtime, size int64, chunks []chunk.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding length mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	relPath := toForwardSlash(file)
	name := collectionName(root)
	vstore, err := s.collections.getOrCreate(name)
	if err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	metas := make([]ChunkMetadata, len(chunks))
	contents := make([]string, len(chunks))

	ordinalsByRange := make(map[string]int)
	for i, c := range chunks {
		rangeKey := fmt.Sprintf("%d-%d", c.LineStart, c.LineEnd)
		ordinal := ordinalsByRange[rangeKey]
		ordinalsByRange[rangeKey] = ordinal + 1

		id := chunkID(branch, relPath, c.LineStart, c.LineEnd, ordinal)
		ids[i] = id
		contents[i] = c.Content
		metas[i] = ChunkMetadata{
			ID:          id,
			Branch:      branch,
			FilePath:    relPath,
			FileHash:    fileHash,
			FileMTime:   mtime,
			FileSize:    size,
			LineStart:   c.LineStart,
			LineEnd:     c.LineEnd,
			CharStart:   c.CharStart,
			CharEnd:     c.CharEnd,
			ContentHash: c.ContentHash,
			FileType:    c.FileType,
			Language:    c.Language,
		}
	}

	if err := vstore.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	if err := s.meta.upsertChunks(ctx, root, metas, contents); err != nil {
		return fmt.Errorf("upsert chunk metadata: %w", err)
	}
	return nil
}

// Search finds the top_k nearest neighbors to queryVector within root's
// collection, filtered to chunks on branch, returning content + metadata
// alongside each hit's raw cosine distance and converted similarity.
func (s *Store) Search(ctx context.Context, root, branch string, queryVector []float32, topK int) ([]SearchResult, error) {
	name := collectionName(root)
	vstore, err := s.collections.getOrCreate(name)
	if err != nil {
		return nil, err
	}

	// Over-fetch since the vector index has no branch filter of its own;
	// the metadata side filters by branch after the ANN search.
	fetch := topK * 4
	if fetch < topK+16 {
		fetch = topK + 16
	}

	hits, err := vstore.Search(ctx, queryVector, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	byID := make(map[string]*VectorResult, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		byID[h.ID] = h
	}

	metas, contents, err := s.meta.chunksByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunk metadata: %w", err)
	}

	results := make([]SearchResult, 0, topK)
	for _, id := range ids {
		meta, ok := metas[id]
		if !ok || meta.Branch != branch {
			continue
		}
		hit := byID[id]
		results = append(results, SearchResult{
			Content:  contents[id],
			Metadata: meta,
			Distance: hit.Distance,
			Score:    hit.Score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// DeleteFileChunks removes every chunk matching (root, branch, file) and
// returns how many were deleted.
func (s *Store) DeleteFileChunks(ctx context.Context, root, branch, file string) (int, error) {
	relPath := toForwardSlash(file)
	ids, err := s.meta.chunkIDsForFile(ctx, root, branch, relPath)
	if err != nil {
		return 0, fmt.Errorf("list chunk ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	name := collectionName(root)
	vstore, err := s.collections.getOrCreate(name)
	if err != nil {
		return 0, err
	}
	if err := vstore.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.meta.deleteChunks(ctx, ids); err != nil {
		return 0, fmt.Errorf("delete chunk metadata: %w", err)
	}
	return len(ids), nil
}

// CleanupOrphanedFiles deletes, in batches of ~100, every chunk in root's
// (root, branch) whose file path is absent from validPaths. Returns the
// total number of chunks deleted.
func (s *Store) CleanupOrphanedFiles(ctx context.Context, root, branch string, validPaths []string) (int, error) {
	valid := make(map[string]bool, len(validPaths))
	for _, p := range validPaths {
		valid[toForwardSlash(p)] = true
	}

	orphanIDs, err := s.meta.chunkIDsOutsidePaths(ctx, root, branch, valid)
	if err != nil {
		return 0, fmt.Errorf("list orphaned chunk ids: %w", err)
	}
	if len(orphanIDs) == 0 {
		return 0, nil
	}

	name := collectionName(root)
	vstore, err := s.collections.getOrCreate(name)
	if err != nil {
		return 0, err
	}

	const batchSize = 100
	deleted := 0
	for start := 0; start < len(orphanIDs); start += batchSize {
		end := start + batchSize
		if end > len(orphanIDs) {
			end = len(orphanIDs)
		}
		batch := orphanIDs[start:end]

		if err := vstore.Delete(ctx, batch); err != nil {
			return deleted, fmt.Errorf("delete orphaned vectors: %w", err)
		}
		if err := s.meta.deleteChunks(ctx, batch); err != nil {
			return deleted, fmt.Errorf("delete orphaned metadata: %w", err)
		}
		deleted += len(batch)
	}
	return deleted, nil
}

// GetIndexedFiles returns, per workspace-relative path, the fingerprint
// {hash, mtime, size} last recorded for (root, branch). When multiple
// chunks disagree (shouldn't happen in practice), the first occurrence
// returned by the underlying scan wins.
func (s *Store) GetIndexedFiles(ctx context.Context, root, branch string) (map[string]IndexedFileInfo, error) {
	return s.meta.indexedFiles(ctx, root, branch)
}

// GetFileChunkCounts returns the number of chunks per file path for
// (root, branch), computed from metadata alone (no embeddings fetched).
func (s *Store) GetFileChunkCounts(ctx context.Context, root, branch string) (map[string]int, error) {
	return s.meta.fileChunkCounts(ctx, root, branch)
}

// GetBranchChunkCount returns the total number of chunks for (root, branch).
func (s *Store) GetBranchChunkCount(ctx context.Context, root, branch string) (int, error) {
	return s.meta.branchChunkCount(ctx, root, branch)
}

// GetBranches returns every branch with at least one indexed chunk for
// root, sorted lexically.
func (s *Store) GetBranches(ctx context.Context, root string) ([]string, error) {
	return s.meta.branches(ctx, root)
}

// GetCachedEmbeddings looks up cached vectors for the given content
// hashes in the global embedding cache; hashes with no cached vector are
// simply absent from the returned map.
func (s *Store) GetCachedEmbeddings(ctx context.Context, hashes []string) (map[string][]float32, error) {
	return s.meta.cachedEmbeddings(ctx, hashes)
}

// CacheEmbeddings upserts (hash -> vector) pairs into the global
// embedding cache, deduplicating the input by hash (first occurrence
// wins) before writing.
func (s *Store) CacheEmbeddings(ctx context.Context, hashes []string, vectors [][]float32) error {
	return s.meta.cacheEmbeddings(ctx, hashes, vectors)
}

// Save persists every collection touched so far to disk.
func (s *Store) Save() error {
	names := s.collections.names()
	sort.Strings(names)
	for _, name := range names {
		if err := s.collections.save(name); err != nil {
			return fmt.Errorf("save collection %s: %w", name, err)
		}
	}
	return nil
}

// Close flushes all collections and closes the metadata database.
func (s *Store) Close() error {
	var firstErr error
	if err := s.collections.closeAll(); err != nil {
		firstErr = err
	}
	if err := s.meta.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func toForwardSlash(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), "\\", "/")
}
