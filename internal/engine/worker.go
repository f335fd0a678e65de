package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/llmtornado/fskb/internal/apperrors"
	"github.com/llmtornado/fskb/internal/chunk"
	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/metacache"
)

// dequeueTimeout is the worker loop's blocking-dequeue suspension point.
const dequeueTimeout = 1 * time.Second

// embedRetry governs the exponential backoff applied to batch embedding
// calls: 2 retries after the first attempt, 3 tries in all. It applies
// to every embedder, local or remote.
var embedRetry = apperrors.RetryConfig{
	MaxRetries:   2,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     8 * time.Second,
	Multiplier:   2.0,
}

// workerLoop is one of the engine's fixed pool of worker goroutines: it
// dequeues with a timeout, honors per-root pausing, yields to the
// governor, processes one item, and periodically checkpoints the
// metadata cache.
func (e *Engine) workerLoop(ctx context.Context, id int) {
	defer e.workersWG.Done()

	processedSinceSave := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := e.queue.Pop(ctx, dequeueTimeout)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			e.onIdle()
			continue
		}

		r, exists := e.rootFor(item.Root)
		if !exists {
			continue
		}

		if r.IsPaused() {
			e.queue.Push(item)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		e.governor.WaitIfThrottled(ctx)

		e.processWorkItem(ctx, r, item)

		processedSinceSave[item.Root]++
		if processedSinceSave[item.Root] >= cacheSaveInterval {
			processedSinceSave[item.Root] = 0
			go e.persistCache(r)
		}
	}
}

// onIdle is called whenever a dequeue times out with nothing queued; it
// is intentionally cheap since it fires once per second per worker.
func (e *Engine) onIdle() {}

// processWorkItem implements §4.10.b: delete handling, the no-op
// short-circuit, chunk+cache-lookup+embed-misses, delete-then-insert on
// modification, and the stats/cache updates that follow.
func (e *Engine) processWorkItem(ctx context.Context, r *rootState, item WorkItem) {
	r.mu.Lock()
	r.stats.CurrentFile = item.Path
	branch := r.currentBranch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.stats.CurrentFile = ""
		r.mu.Unlock()
	}()

	if item.Kind == EventDelete {
		e.deleteFile(ctx, r, branch, item.Path)
		return
	}

	absPath := filepath.Join(r.path, filepath.FromSlash(item.Path))
	info, err := os.Lstat(absPath)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		e.deleteFile(ctx, r, branch, item.Path)
		return
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		slog.Debug("read file failed, skipping", slog.String("path", item.Path), slog.String("error", err.Error()))
		e.bumpError(r)
		return
	}

	hash := hashBytes(data)

	r.mu.Lock()
	cached, known := r.branchCache.IndexedFiles[item.Path]
	r.mu.Unlock()
	if known && cached.Hash == hash {
		return
	}

	chunks := e.chunker.ChunkText(string(data), item.Path)

	var vectors [][]float32
	if len(chunks) > 0 {
		vectors, err = e.embedChunks(ctx, chunks)
		if err != nil {
			slog.Warn("embedding failed after retries, continuing with zero vectors",
				slog.String("path", item.Path), slog.String("error", err.Error()))
			e.bumpError(r)
		}
	}

	oldChunkCount := 0
	if known {
		n, err := e.store.DeleteFileChunks(ctx, r.path, branch, item.Path)
		if err != nil {
			slog.Warn("delete prior chunks failed", slog.String("path", item.Path), slog.String("error", err.Error()))
		}
		oldChunkCount = n
	}

	if len(chunks) > 0 {
		if err := e.store.AddChunks(ctx, r.path, branch, item.Path, hash, info.ModTime().Unix(), info.Size(), chunks, vectors); err != nil {
			slog.Warn("add chunks failed", slog.String("path", item.Path), slog.String("error", err.Error()))
			e.bumpError(r)
			return
		}
	}

	r.mu.Lock()
	if !known {
		r.stats.FilesIndexed++
	}
	r.stats.ChunksCreated += len(chunks) - oldChunkCount
	r.stats.ChunksEmbedded += len(chunks)
	r.branchCache.IndexedFiles[item.Path] = metacache.FileFingerprint{
		Hash:  hash,
		MTime: info.ModTime().Unix(),
		Size:  info.Size(),
	}
	r.mu.Unlock()
}

// embedChunks resolves cached embeddings by content hash, embeds only
// the misses (deduplicated within the batch), caches the new vectors,
// and returns one vector per chunk in chunk order.
func (e *Engine) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.ContentHash
	}

	cached, err := e.store.GetCachedEmbeddings(ctx, hashes)
	if err != nil {
		slog.Debug("embedding cache lookup failed, treating as all-miss", slog.String("error", err.Error()))
		cached = nil
	}

	vectors := make([][]float32, len(chunks))
	missIdx := make(map[string]int) // hash -> index into missHashes/missTexts
	var missHashes []string
	var missTexts []string

	for i, c := range chunks {
		if v, ok := cached[c.ContentHash]; ok {
			vectors[i] = v
			continue
		}
		if _, seen := missIdx[c.ContentHash]; !seen {
			missIdx[c.ContentHash] = len(missTexts)
			missHashes = append(missHashes, c.ContentHash)
			missTexts = append(missTexts, c.Content)
		}
	}

	if len(missTexts) > 0 {
		embedded, err := apperrors.RetryWithResult(ctx, embedRetry, func() ([][]float32, error) {
			return e.embedder.EmbedPassages(ctx, embed.DefaultTask, missTexts)
		})
		if err != nil {
			dims := e.rawEmb.Dimensions()
			embedded = make([][]float32, len(missTexts))
			for i := range embedded {
				embedded[i] = make([]float32, dims)
			}
			e.fillMisses(chunks, missIdx, embedded, vectors)
			return vectors, err
		}

		if cacheErr := e.store.CacheEmbeddings(ctx, missHashes, embedded); cacheErr != nil {
			slog.Warn("cache embeddings failed", slog.String("error", cacheErr.Error()))
		}
		e.fillMisses(chunks, missIdx, embedded, vectors)
	}

	return vectors, nil
}

func (e *Engine) fillMisses(chunks []chunk.Chunk, missIdx map[string]int, embedded [][]float32, vectors [][]float32) {
	for i, c := range chunks {
		if vectors[i] != nil {
			continue
		}
		idx := missIdx[c.ContentHash]
		vectors[i] = embedded[idx]
	}
}

// deleteFile removes a file's chunks from the store and adjusts stats
// and the in-memory indexed-files mirror.
func (e *Engine) deleteFile(ctx context.Context, r *rootState, branch, path string) {
	n, err := e.store.DeleteFileChunks(ctx, r.path, branch, path)
	if err != nil {
		slog.Warn("delete file chunks failed", slog.String("path", path), slog.String("error", err.Error()))
		e.bumpError(r)
		return
	}

	r.mu.Lock()
	if _, known := r.branchCache.IndexedFiles[path]; known {
		delete(r.branchCache.IndexedFiles, path)
		r.stats.FilesIndexed--
		r.stats.FilesScanned--
	}
	r.stats.ChunksCreated -= n
	r.mu.Unlock()
}

func (e *Engine) bumpError(r *rootState) {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}
