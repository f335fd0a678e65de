package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/governor"
	"github.com/llmtornado/fskb/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	dataDir := t.TempDir()
	st, err := store.New(dataDir, embed.Static768Dimensions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gov := governor.New(governor.Config{MaxWorkers: 2})
	cfg := DefaultConfig()
	e := New(cfg, st, embed.NewStaticEmbedder768(), gov)
	return e, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestEngine_AddRootIndexesExistingFiles(t *testing.T) {
	e, _ := newTestEngine(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "util.go"), []byte("package main\n\nfunc util() int { return 1 }\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.AddRoot(root))

	ok := waitFor(t, 5*time.Second, func() bool {
		s, found := e.Stats(root)
		return found && s.FilesIndexed == 2
	})
	assert.True(t, ok, "expected both files indexed")

	require.NoError(t, e.Stop())
}

func TestEngine_RejectsNonDirectoryRoot(t *testing.T) {
	e, _ := newTestEngine(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	err := e.AddRoot(file)
	assert.Error(t, err)
}

func TestEngine_RemoveRootStopsTracking(t *testing.T) {
	e, _ := newTestEngine(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.AddRoot(root))

	waitFor(t, 3*time.Second, func() bool {
		s, found := e.Stats(root)
		return found && s.FilesIndexed == 1
	})

	require.NoError(t, e.RemoveRoot(root))
	_, found := e.Stats(root)
	assert.False(t, found)

	require.NoError(t, e.Stop())
}

func TestEngine_PauseRootPreventsProcessingUntilResumed(t *testing.T) {
	e, _ := newTestEngine(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.False(t, e.PauseRoot(root), "unknown root returns false")

	require.NoError(t, e.AddRoot(root))
	assert.True(t, e.PauseRoot(root))

	require.NoError(t, e.Start(ctx))
	time.Sleep(200 * time.Millisecond)

	s, found := e.Stats(root)
	require.True(t, found)
	assert.Equal(t, 0, s.FilesIndexed, "paused root should not index while paused")

	assert.True(t, e.ResumeRoot(root))
	ok := waitFor(t, 3*time.Second, func() bool {
		s, found := e.Stats(root)
		return found && s.FilesIndexed == 1
	})
	assert.True(t, ok, "expected file indexed after resume")

	require.NoError(t, e.Stop())
}
