package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/engine"
	"github.com/llmtornado/fskb/internal/governor"
	"github.com/llmtornado/fskb/internal/query"
	"github.com/llmtornado/fskb/internal/store"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine, string) {
	t.Helper()
	st, err := store.New(t.TempDir(), embed.Static768Dimensions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gov := governor.New(governor.Config{MaxWorkers: 2})
	eng := engine.New(engine.DefaultConfig(), st, embed.NewStaticEmbedder768(), gov)
	qe := query.New(st, embed.NewStaticEmbedder768())

	s, err := NewServer(eng, qe, st)
	require.NoError(t, err)

	root := t.TempDir()
	return s, eng, root
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

func TestHandleAddRoot_RejectsEmptyPath(t *testing.T) {
	s, _, _ := newTestServer(t)
	_, out, err := s.handleAddRoot(context.Background(), nil, AddRootInput{Path: ""})
	require.Error(t, err)
	assert.False(t, out.Success)

	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestHandleAddRoot_StartsTrackingRoot(t *testing.T) {
	s, eng, root := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop() }()

	_, out, err := s.handleAddRoot(ctx, nil, AddRootInput{Path: root})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Contains(t, eng.ListRoots(), out.Root)
}

func TestHandleSearch_RequiresQueryAndRoot(t *testing.T) {
	s, _, root := newTestServer(t)

	_, _, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "", RootPath: root})
	require.Error(t, err)

	_, _, err = s.handleSearch(context.Background(), nil, SearchInput{Query: "x", RootPath: ""})
	require.Error(t, err)
}

func TestHandleSearch_ReturnsIndexedMatch(t *testing.T) {
	s, eng, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\n\nfunc handler() {}\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop() }()
	require.NoError(t, eng.AddRoot(root))

	ok := waitFor(t, 5*time.Second, func() bool {
		st, found := eng.Stats(root)
		return found && st.FilesIndexed == 1
	})
	require.True(t, ok)

	_, out, err := s.handleSearch(ctx, nil, SearchInput{Query: "func handler", RootPath: root})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "main.go", out.Results[0].FilePath)
}

func TestHandleGetStatus_UnknownRootIsInvalidParams(t *testing.T) {
	s, _, _ := newTestServer(t)
	_, _, err := s.handleGetStatus(context.Background(), nil, GetStatusInput{RootPath: "/nope"})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestHandleListRoots_ReflectsAddedRoots(t *testing.T) {
	s, eng, root := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop() }()
	require.NoError(t, eng.AddRoot(root))

	_, out, err := s.handleListRoots(ctx, nil, ListRootsInput{})
	require.NoError(t, err)
	assert.Contains(t, out.Roots, root)
}

func TestMapError_DefaultsToInternalError(t *testing.T) {
	err := MapError(assertAnError{})
	assert.Equal(t, ErrCodeInternalError, err.Code)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }
