package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/llmtornado/fskb/internal/branchtrack"
	"github.com/llmtornado/fskb/internal/ignore"
	"github.com/llmtornado/fskb/internal/metacache"
	"github.com/llmtornado/fskb/internal/watcher"
)

// rootState is one workspace root's live indexing state: its ignore
// matcher, branch tracker, file watcher, and the in-memory mirror of the
// current branch's indexed-file fingerprints (the authority for the
// laddered change check; persisted to metacache between operations).
type rootState struct {
	path       string
	collection string

	ignore *ignore.Matcher

	tracker    *branchtrack.Tracker
	watcher    watcher.Watcher
	cacheStore *metacache.Store

	cancelMonitor context.CancelFunc
	cancelWatch   context.CancelFunc

	paused atomic.Bool

	mu            sync.Mutex
	currentBranch string
	branchCache   metacache.BranchCache // current branch only; persisted on save
	stats         Stats
	watcherUp     bool
}

func newRootState(absPath string, m *ignore.Matcher, tracker *branchtrack.Tracker, cacheStore *metacache.Store) *rootState {
	branch := tracker.CurrentBranch()
	return &rootState{
		path:          absPath,
		ignore:        m,
		tracker:       tracker,
		cacheStore:    cacheStore,
		currentBranch: branch,
		branchCache:   metacache.BranchCache{IndexedFiles: map[string]metacache.FileFingerprint{}, IgnoreFiles: map[string]metacache.FileFingerprint{}},
		stats:         Stats{CurrentBranch: branch},
	}
}

// Ignore returns the root's current ignore matcher. Patterns are
// reloaded in place via ignore.Matcher.Reload, so the pointer itself
// never changes after newRootState.
func (r *rootState) Ignore() *ignore.Matcher {
	return r.ignore
}

// Pause / Resume toggle the flag the worker loop consults before
// processing a dequeued item for this root. Queued work is preserved.
func (r *rootState) Pause()  { r.paused.Store(true) }
func (r *rootState) Resume() { r.paused.Store(false) }
func (r *rootState) IsPaused() bool {
	return r.paused.Load()
}

// Snapshot returns a copy of the root's stats for external reporting.
func (r *rootState) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
