// Package branchtrack reports the current git branch and commit of a
// workspace root and polls for changes in the background.
package branchtrack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// NoGitSentinel is returned by CurrentBranch when the root is not inside
// a git repository.
const NoGitSentinel = "no-git"

// DefaultPollInterval is how often the background loop re-checks HEAD.
const DefaultPollInterval = 5 * time.Second

// ChangeCallback is invoked when the branch or commit changes.
type ChangeCallback func(branch, commit string)

// Tracker tracks a single workspace root's git HEAD state.
type Tracker struct {
	rootPath string
	repo     *git.Repository
	isRepo   bool

	mu      sync.RWMutex
	branch  string
	commit  string

	pollInterval time.Duration
}

// New opens (or fails to open) the git repository rooted at, or above,
// rootPath. A non-repository root is not an error: Tracker simply
// reports the no-git sentinel and Monitor becomes a no-op.
func New(rootPath string) *Tracker {
	t := &Tracker{rootPath: rootPath, pollInterval: DefaultPollInterval}

	repo, err := git.PlainOpenWithOptions(rootPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		slog.Debug("no git repository found", slog.String("root", rootPath))
		return t
	}

	t.repo = repo
	t.isRepo = true
	t.refresh()
	return t
}

// IsRepo reports whether rootPath is inside a git repository.
func (t *Tracker) IsRepo() bool {
	return t.isRepo
}

// CurrentBranch returns the current branch name, refreshing state first.
// Returns the no-git sentinel when not a git repository, or
// "detached-<8sha>" when HEAD is detached.
func (t *Tracker) CurrentBranch() string {
	if !t.isRepo {
		return NoGitSentinel
	}
	t.refresh()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.branch
}

// CurrentCommit returns the current commit hex sha, or "" if not a git
// repository or the commit could not be resolved.
func (t *Tracker) CurrentCommit() string {
	if !t.isRepo {
		return ""
	}
	t.refresh()
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.commit
}

// refresh re-reads HEAD and updates branch/commit under lock.
func (t *Tracker) refresh() {
	head, err := t.repo.Head()
	if err != nil {
		t.mu.Lock()
		t.branch = "unknown"
		t.commit = ""
		t.mu.Unlock()
		return
	}

	var branch string
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	} else {
		sha := head.Hash().String()
		if len(sha) > 8 {
			sha = sha[:8]
		}
		branch = "detached-" + sha
	}

	t.mu.Lock()
	t.branch = branch
	t.commit = head.Hash().String()
	t.mu.Unlock()
}

// Branches returns the names of all local branches in the repository.
func (t *Tracker) Branches() []string {
	if !t.isRepo {
		return nil
	}
	iter, err := t.repo.Branches()
	if err != nil {
		return nil
	}
	var names []string
	_ = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	return names
}

// Monitor polls for branch/commit changes every pollInterval, invoking cb
// whenever either changes, until ctx is cancelled. A no-op for
// non-repository roots.
func (t *Tracker) Monitor(ctx context.Context, cb ChangeCallback) {
	if !t.isRepo {
		return
	}

	interval := t.pollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			oldBranch, oldCommit := t.branch, t.commit
			t.mu.RUnlock()

			t.refresh()

			t.mu.RLock()
			newBranch, newCommit := t.branch, t.commit
			t.mu.RUnlock()

			if newBranch != oldBranch || newCommit != oldCommit {
				cb(newBranch, newCommit)
			}
		}
	}
}
