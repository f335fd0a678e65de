package branchtrack

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dir+"/file.txt", []byte("hello"), 0o644))
	_, err = wt.Add("file.txt")
	require.NoError(t, err)

	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)

	return dir
}

func TestNew_NonRepoReportsNoGit(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir)
	assert.False(t, tr.IsRepo())
	assert.Equal(t, NoGitSentinel, tr.CurrentBranch())
	assert.Empty(t, tr.CurrentCommit())
}

func TestNew_RepoReportsBranchAndCommit(t *testing.T) {
	dir := initRepo(t)
	tr := New(dir)
	require.True(t, tr.IsRepo())
	assert.NotEmpty(t, tr.CurrentBranch())
	assert.NotEmpty(t, tr.CurrentCommit())
}

func TestMonitor_NonRepoIsNoOp(t *testing.T) {
	dir := t.TempDir()
	tr := New(dir)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	called := false
	tr.Monitor(ctx, func(branch, commit string) { called = true })
	assert.False(t, called)
}
