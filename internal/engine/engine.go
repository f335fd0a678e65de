package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llmtornado/fskb/internal/apperrors"
	"github.com/llmtornado/fskb/internal/branchtrack"
	"github.com/llmtornado/fskb/internal/chunk"
	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/governor"
	"github.com/llmtornado/fskb/internal/ignore"
	"github.com/llmtornado/fskb/internal/metacache"
	"github.com/llmtornado/fskb/internal/store"
)

// scanSubBatch is how many files the initial scan enqueues between
// cooperative yields (runtime.Gosched).
const scanSubBatch = 100

// cacheSaveInterval is how many successfully-indexed files pass between
// periodic metadata cache saves in the worker loop.
const cacheSaveInterval = 50

// Engine is the indexing coordinator: it owns every workspace root's
// ignore matcher, branch tracker and file watcher, and is the sole
// writer of the vector store and per-root metadata caches.
type Engine struct {
	cfg      Config
	store    *store.Store
	embedder *embed.TaskedEmbedder
	rawEmb   embed.Embedder
	governor *governor.Governor
	chunker  *chunk.Chunker

	queue *priorityQueue
	seq   atomic.Int64

	mu    sync.RWMutex
	roots map[string]*rootState

	ctx       context.Context
	cancel    context.CancelFunc
	workersWG sync.WaitGroup
	started   bool
}

// New constructs an Engine. embedder is wrapped for task-aware
// instruction prefixing; gov sizes and throttles the worker pool.
func New(cfg Config, st *store.Store, embedder embed.Embedder, gov *governor.Governor) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		embedder: embed.NewTaskedEmbedder(embedder),
		rawEmb:   embedder,
		governor: gov,
		chunker:  chunk.NewChunker(cfg.chunkerConfig()),
		queue:    newPriorityQueue(),
		roots:    make(map[string]*rootState),
	}
}

// Start spawns the worker pool and begins processing queued work.
// Adding roots (and their initial scans) happens independently via
// AddRoot; Start only needs to run once before or after roots exist.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine: already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	workerCtx := e.ctx
	e.mu.Unlock()

	n := e.governor.OptimalWorkerCount()
	for i := 0; i < n; i++ {
		e.workersWG.Add(1)
		go e.workerLoop(workerCtx, i)
	}
	slog.Info("engine started", slog.Int("workers", n))
	return nil
}

// Stop cancels workers with a bounded wait, saves every root's metadata
// cache, stops every root's watcher, drains the queue, and closes the
// store. Every phase is bounded so shutdown completes promptly even if
// something is stuck.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitBounded(&e.workersWG, 5*time.Second)

	e.mu.RLock()
	roots := make([]*rootState, 0, len(e.roots))
	for _, r := range e.roots {
		roots = append(roots, r)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range roots {
		wg.Add(1)
		go func(r *rootState) {
			defer wg.Done()
			e.saveCacheBounded(r, 5*time.Second)
			if r.cancelWatch != nil {
				r.cancelWatch()
			}
			if r.watcher != nil {
				_ = r.watcher.Stop()
			}
			if r.cancelMonitor != nil {
				r.cancelMonitor()
			}
		}(r)
	}
	wg.Wait()

	e.queue.Close()
	e.queue.Drain()

	if err := e.store.Save(); err != nil {
		slog.Error("save store on shutdown", slog.String("error", err.Error()))
	}
	return e.store.Close()
}

func waitBounded(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("worker shutdown exceeded bound, proceeding anyway")
	}
}

func (e *Engine) saveCacheBounded(r *rootState, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.persistCache(r)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("metadata cache save exceeded bound", slog.String("root", r.path))
	}
}

// AddRoot validates path, builds the root's ignore matcher, branch
// tracker and file watcher, starts a branch-monitor task, and kicks off
// a background initial scan. The file watcher is started only after the
// initial scan completes. Call Start before the first AddRoot so
// background tasks share the engine's cancellation context.
func (e *Engine) AddRoot(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidPath, "resolve root path", err)
	}
	info, err := os.Stat(absPath)
	if err != nil || !info.IsDir() {
		return apperrors.New(apperrors.ErrCodeInvalidPath, "root is not a directory: "+absPath, err)
	}

	e.mu.Lock()
	if _, exists := e.roots[absPath]; exists {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	m := e.buildIgnoreMatcher(absPath)
	tracker := branchtrack.New(absPath)
	cacheStore := metacache.New(absPath)

	collection, err := e.store.GetOrCreateCollection(absPath)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}

	root := newRootState(absPath, m, tracker, cacheStore)
	root.collection = collection

	e.mu.Lock()
	e.roots[absPath] = root
	e.mu.Unlock()

	monitorCtx, monitorCancel := context.WithCancel(e.engineCtx())
	root.cancelMonitor = monitorCancel
	go tracker.Monitor(monitorCtx, func(branch, commit string) {
		e.handleBranchSwitch(root, branch)
	})

	go e.initialScan(e.engineCtx(), root)

	slog.Info("root added", slog.String("root", absPath))
	return nil
}

// engineCtx returns the engine's running context, or Background before
// Start is called (AddRoot may run before Start in typical wiring, but
// background tasks still need a cancelable parent once running).
func (e *Engine) engineCtx() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// RemoveRoot stops the root's watcher and branch monitor and drops its
// in-memory state. Persisted vectors and metadata cache are left on
// disk; re-adding the root later reconciles against them.
func (e *Engine) RemoveRoot(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidPath, "resolve root path", err)
	}

	e.mu.Lock()
	root, ok := e.roots[absPath]
	if ok {
		delete(e.roots, absPath)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	if root.cancelWatch != nil {
		root.cancelWatch()
	}
	if root.watcher != nil {
		_ = root.watcher.Stop()
	}
	if root.cancelMonitor != nil {
		root.cancelMonitor()
	}
	return nil
}

// ListRoots returns the absolute paths of every tracked root.
func (e *Engine) ListRoots() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.roots))
	for p := range e.roots {
		out = append(out, p)
	}
	return out
}

// Stats returns a snapshot of root's counters, or (_, false) if root is
// not tracked.
func (e *Engine) Stats(root string) (Stats, bool) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return Stats{}, false
	}
	e.mu.RLock()
	r, ok := e.roots[absPath]
	e.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	s := r.Snapshot()
	s.QueueSize = e.queue.LenForRoot(absPath)
	return s, true
}

// PauseRoot / ResumeRoot toggle a flag the worker loop consults before
// processing queued work for root; queued items are preserved.
func (e *Engine) PauseRoot(root string) bool {
	r, ok := e.rootFor(root)
	if !ok {
		return false
	}
	r.Pause()
	return true
}

func (e *Engine) ResumeRoot(root string) bool {
	r, ok := e.rootFor(root)
	if !ok {
		return false
	}
	r.Resume()
	return true
}

func (e *Engine) rootFor(root string) (*rootState, bool) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, false
	}
	e.mu.RLock()
	r, ok := e.roots[absPath]
	e.mu.RUnlock()
	return r, ok
}

// buildIgnoreMatcher creates a matcher preloaded with default patterns,
// any configured skip_directories, and every .gitignore/.fskbignore
// found in the tree (root plus nested directories).
func (e *Engine) buildIgnoreMatcher(absRoot string) *ignore.Matcher {
	m := ignore.New()
	for _, d := range e.cfg.SkipDirectories {
		m.AddPattern(d)
	}

	names := namesFor(e.cfg)
	loadRootIgnoreFiles(m, absRoot, names)
	return m
}

func namesFor(cfg Config) []string {
	var names []string
	if cfg.RespectGitignore {
		names = append(names, ".gitignore")
	}
	if cfg.UseFskbignore {
		names = append(names, ".fskbignore")
	}
	if len(names) == 0 {
		names = []string{".gitignore", ".fskbignore"}
	}
	return names
}

func loadRootIgnoreFiles(m *ignore.Matcher, absRoot string, names []string) {
	isIgnoreName := func(n string) bool {
		for _, want := range names {
			if n == want {
				return true
			}
		}
		return false
	}

	for _, name := range names {
		p := filepath.Join(absRoot, name)
		if err := m.AddFromFile(p, ""); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to load root ignore file", slog.String("path", p), slog.String("error", err.Error()))
		}
	}

	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Dir(path) == absRoot {
			return nil
		}
		if !isIgnoreName(d.Name()) {
			return nil
		}
		base, relErr := filepath.Rel(absRoot, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if err := m.AddFromFile(path, base); err != nil {
			slog.Warn("failed to load nested ignore file", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
}

// ignoreFingerprints stats every .gitignore/.fskbignore under absRoot,
// keyed by workspace-relative path, for the cache's change-detection
// ladder.
func ignoreFingerprints(absRoot string, names []string) map[string]metacache.FileFingerprint {
	out := make(map[string]metacache.FileFingerprint)
	isIgnoreName := func(n string) bool {
		for _, want := range names {
			if n == want {
				return true
			}
		}
		return false
	}
	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isIgnoreName(d.Name()) {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		out[filepath.ToSlash(rel)] = metacache.FileFingerprint{
			MTime: info.ModTime().Unix(),
			Size:  info.Size(),
		}
		return nil
	})
	return out
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return hashBytes(data), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func fingerprintsEqual(a, b metacache.FileFingerprint) bool {
	return a.MTime == b.MTime && a.Size == b.Size
}
