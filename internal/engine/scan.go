package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/llmtornado/fskb/internal/metacache"
	"github.com/llmtornado/fskb/internal/scanner"
	"github.com/llmtornado/fskb/internal/watcher"
)

// initialScan runs the full §4.10.a algorithm for root: load and
// reconcile the metadata cache, detect ignore-file changes, walk the
// tree applying the laddered enqueue decision to every discovered file,
// persist the reconciled cache, and finally start the live watcher.
func (e *Engine) initialScan(ctx context.Context, r *rootState) {
	names := namesFor(e.cfg)

	cache, err := r.cacheStore.Load()
	if err != nil {
		slog.Warn("load metadata cache failed, starting empty", slog.String("root", r.path), slog.String("error", err.Error()))
		cache = metacache.Cache{Branches: map[string]metacache.BranchCache{}}
	}

	r.mu.Lock()
	branch := r.currentBranch
	r.mu.Unlock()

	branchCache := cache.Branches[branch]
	if branchCache.IndexedFiles == nil {
		branchCache.IndexedFiles = map[string]metacache.FileFingerprint{}
	}
	if branchCache.IgnoreFiles == nil {
		branchCache.IgnoreFiles = map[string]metacache.FileFingerprint{}
	}

	if len(branchCache.IndexedFiles) > 0 {
		storeFiles, err := e.store.GetIndexedFiles(ctx, r.path, branch)
		if err != nil {
			slog.Warn("reconcile with store failed", slog.String("root", r.path), slog.String("error", err.Error()))
		} else {
			chunkCount, _ := e.store.GetBranchChunkCount(ctx, r.path, branch)
			storeFP := make(map[string]metacache.FileFingerprint, len(storeFiles))
			for path, info := range storeFiles {
				storeFP[path] = metacache.FileFingerprint{Hash: info.Hash, MTime: info.MTime, Size: info.Size}
			}
			branchCache = metacache.Reconcile(branchCache, storeFP, chunkCount)
		}
	}

	currentIgnoreFP := ignoreFingerprints(r.path, names)
	fullRescan := ignoreFilesChanged(branchCache.IgnoreFiles, currentIgnoreFP)
	if fullRescan {
		r.Ignore().Reload()
	}
	branchCache.IgnoreFiles = currentIgnoreFP

	opts := scanner.ScanOptions{
		RootDir:           r.path,
		Ignore:            r.Ignore(),
		MaxFileSize:       e.cfg.maxFileSizeBytes(),
		AllowedExtensions: e.cfg.TextExtensions,
	}

	seen := make(map[string]bool, len(branchCache.IndexedFiles))
	scanned := 0
	skipped := 0
	enqueued := 0

	for res := range scanner.Scan(ctx, opts) {
		if res.Err != nil {
			slog.Debug("scan error, skipping path", slog.String("path", res.Path), slog.String("error", res.Err.Error()))
			continue
		}
		f := res.File
		scanned++
		seen[f.Path] = true

		cached, known := branchCache.IndexedFiles[f.Path]
		current := metacache.FileFingerprint{MTime: f.ModTime.Unix(), Size: f.Size}

		switch {
		case !known:
			e.enqueue(r.path, f.Path, EventIndex, PriorityBulkScan)
			enqueued++
		case fingerprintsEqual(cached, current):
			skipped++
		default:
			hash, err := hashFile(f.AbsPath)
			if err != nil {
				slog.Debug("hash file failed, skipping", slog.String("path", f.Path), slog.String("error", err.Error()))
				continue
			}
			if hash == cached.Hash {
				current.Hash = hash
				branchCache.IndexedFiles[f.Path] = current
				skipped++
			} else {
				e.enqueue(r.path, f.Path, EventIndex, PriorityBulkScan)
				enqueued++
			}
		}

		if enqueued > 0 && enqueued%scanSubBatch == 0 {
			runtime.Gosched()
		}
	}

	var orphans []string
	for path := range branchCache.IndexedFiles {
		if !seen[path] {
			orphans = append(orphans, path)
		}
	}
	for _, path := range orphans {
		e.enqueue(r.path, path, EventDelete, PriorityBulkScan)
	}

	r.mu.Lock()
	r.branchCache = branchCache
	r.stats.FilesScanned = scanned
	r.stats.FilesIndexed = skipped
	r.stats.CurrentBranch = branch
	r.stats.LastScanAt = time.Now()
	r.mu.Unlock()

	cache.Branches[branch] = branchCache
	if err := r.cacheStore.Save(cache); err != nil {
		slog.Warn("save metadata cache after scan failed", slog.String("root", r.path), slog.String("error", err.Error()))
	}

	slog.Info("initial scan complete",
		slog.String("root", r.path),
		slog.Int("scanned", scanned),
		slog.Int("skipped", skipped),
		slog.Int("enqueued", enqueued),
		slog.Int("orphans_removed", len(orphans)),
	)

	e.startWatcher(r)
}

// ignoreFilesChanged reports whether any ignore file was added, removed,
// or has an (mtime, size) that no longer matches cache. No content hash
// is compared, so an mtime change alone counts as a change.
func ignoreFilesChanged(cached, current map[string]metacache.FileFingerprint) bool {
	for path, c := range current {
		old, ok := cached[path]
		if !ok || !fingerprintsEqual(old, c) {
			return true
		}
	}
	for path := range cached {
		if _, ok := current[path]; !ok {
			return true
		}
	}
	return false
}

// startWatcher starts root's file watcher (idempotent) and spawns the
// goroutine that routes its debounced events into the work queue.
func (e *Engine) startWatcher(r *rootState) {
	r.mu.Lock()
	if r.watcherUp {
		r.mu.Unlock()
		return
	}
	r.watcherUp = true
	r.mu.Unlock()

	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: time.Duration(e.cfg.DebounceDelayMs) * time.Millisecond,
	})
	if err != nil {
		slog.Error("create watcher failed", slog.String("root", r.path), slog.String("error", err.Error()))
		return
	}
	r.watcher = w

	watchCtx, cancel := context.WithCancel(e.engineCtx())
	r.cancelWatch = cancel

	go func() {
		if err := w.Start(watchCtx, r.path); err != nil && watchCtx.Err() == nil {
			slog.Error("watcher stopped with error", slog.String("root", r.path), slog.String("error", err.Error()))
		}
	}()

	go e.consumeWatcherEvents(watchCtx, r, w)
}

// consumeWatcherEvents translates watcher.FileEvent batches into queued
// work, handling ignore-file and config-file changes as their own
// reconciliation path instead of ordinary index/delete events.
func (e *Engine) consumeWatcherEvents(ctx context.Context, r *rootState, w watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-w.Events():
			if !ok {
				return
			}
			for _, ev := range events {
				e.routeWatcherEvent(ctx, r, ev)
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher error", slog.String("root", r.path), slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) routeWatcherEvent(ctx context.Context, r *rootState, ev watcher.FileEvent) {
	switch ev.Operation {
	case watcher.OpIgnoreFileChange:
		e.handleIgnoreFileChange(ctx, r)
	case watcher.OpConfigChange:
		slog.Info("config file changed; running settings are not reloaded", slog.String("root", r.path), slog.String("path", ev.Path))
	case watcher.OpDelete:
		if ev.IsDir {
			return
		}
		e.enqueue(r.path, filepath.ToSlash(ev.Path), EventDelete, PriorityRealtime)
	default:
		if ev.IsDir {
			return
		}
		e.enqueue(r.path, filepath.ToSlash(ev.Path), EventIndex, PriorityRealtime)
	}
}

// handleBranchSwitch implements the "branch switch" rule: stop the
// watcher and rerun the initial scan under the new branch, which
// reconciles against whatever work was previously done on it.
func (e *Engine) handleBranchSwitch(r *rootState, branch string) {
	r.mu.Lock()
	if r.currentBranch == branch {
		r.mu.Unlock()
		return
	}
	r.currentBranch = branch
	r.watcherUp = false
	r.mu.Unlock()

	if r.cancelWatch != nil {
		r.cancelWatch()
	}
	if r.watcher != nil {
		_ = r.watcher.Stop()
	}

	slog.Info("branch switch detected", slog.String("root", r.path), slog.String("branch", branch))
	e.initialScan(e.engineCtx(), r)
}

// handleIgnoreFileChange implements the "ignore-file change" rule:
// reload patterns, evict now-ignored files from the index, then rescan
// for newly-unignored files at elevated priority.
func (e *Engine) handleIgnoreFileChange(ctx context.Context, r *rootState) {
	r.Ignore().Reload()

	r.mu.Lock()
	branch := r.currentBranch
	indexed := make(map[string]metacache.FileFingerprint, len(r.branchCache.IndexedFiles))
	for k, v := range r.branchCache.IndexedFiles {
		indexed[k] = v
	}
	r.mu.Unlock()

	m := r.Ignore()
	for path := range indexed {
		if m.ShouldIgnore(path, false) {
			n, err := e.store.DeleteFileChunks(ctx, r.path, branch, path)
			if err != nil {
				slog.Warn("delete chunks for newly-ignored file failed", slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			r.mu.Lock()
			delete(r.branchCache.IndexedFiles, path)
			r.stats.FilesIndexed--
			r.stats.ChunksCreated -= n
			r.mu.Unlock()
		}
	}

	opts := scanner.ScanOptions{RootDir: r.path, Ignore: m, MaxFileSize: e.cfg.maxFileSizeBytes()}
	for res := range scanner.Scan(ctx, opts) {
		if res.Err != nil {
			continue
		}
		r.mu.Lock()
		_, known := r.branchCache.IndexedFiles[res.File.Path]
		r.mu.Unlock()
		if !known {
			e.enqueue(r.path, res.File.Path, EventIndex, PriorityIgnoreReconcile)
		}
	}

	e.persistCache(r)
}

// enqueue pushes a new work item, assigning it the next sequence number
// so same-priority items stay FIFO.
func (e *Engine) enqueue(root, path string, kind EventKind, priority int) {
	e.queue.Push(WorkItem{
		Root:     root,
		Path:     path,
		Kind:     kind,
		Priority: priority,
		Seq:      e.seq.Add(1),
	})
}

// persistCache writes root's current branch cache to disk.
func (e *Engine) persistCache(r *rootState) {
	cache, err := r.cacheStore.Load()
	if err != nil {
		cache = metacache.Cache{Branches: map[string]metacache.BranchCache{}}
	}
	r.mu.Lock()
	branch := r.currentBranch
	bc := r.branchCache
	r.mu.Unlock()

	cache.Branches[branch] = bc
	if err := r.cacheStore.Save(cache); err != nil {
		slog.Warn("persist metadata cache failed", slog.String("root", r.path), slog.String("error", err.Error()))
	}
}
