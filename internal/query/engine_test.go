package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmtornado/fskb/internal/chunk"
	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir(), embed.Static768Dimensions)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func indexFile(t *testing.T, st *store.Store, root, relPath, content string) {
	t.Helper()
	absPath := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
	require.NoError(t, os.WriteFile(absPath, []byte(content), 0o644))

	chunker := chunk.NewChunker(chunk.Config{ChunkSize: 200, ChunkOverlap: 20})
	chunks := chunker.ChunkText(content, relPath)
	require.NotEmpty(t, chunks)

	emb := embed.NewStaticEmbedder768()
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		v, err := emb.Embed(context.Background(), c.Content)
		require.NoError(t, err)
		vectors[i] = v
	}

	require.NoError(t, st.AddChunks(context.Background(), root, "main", relPath, "hash", 0, int64(len(content)), chunks, vectors))
}

func TestEngine_SearchReturnsMatchWithContext(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	content := "line1\nline2\nline3\nfunc target() {}\nline5\nline6\n"
	indexFile(t, st, root, "main.go", content)

	e := New(st, embed.NewStaticEmbedder768())
	opts := DefaultOptions()
	opts.ContextLinesBefore = 2
	opts.ContextLinesAfter = 2

	results, err := e.Search(context.Background(), root, "main", "func target() {}", opts)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	r := results[0]
	assert.Equal(t, "main.go", r.FilePath)
	assert.Equal(t, "main", r.Branch)
	assert.NotNil(t, r.ContextBefore)
}

func TestEngine_SearchMinSimilarityFiltersResults(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	indexFile(t, st, root, "a.go", "package a\n\nfunc A() {}\n")

	e := New(st, embed.NewStaticEmbedder768())
	opts := DefaultOptions()
	opts.MinSimilarity = 1.1 // above any achievable score

	results, err := e.Search(context.Background(), root, "main", "func A", opts)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_SearchMissingSourceFileReturnsNullContext(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	indexFile(t, st, root, "gone.go", "package gone\n\nfunc Gone() {}\n")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))

	e := New(st, embed.NewStaticEmbedder768())
	results, err := e.Search(context.Background(), root, "main", "func Gone", DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Nil(t, results[0].ContextBefore)
	assert.Nil(t, results[0].ContextAfter)
}

func TestEngine_SearchAllBranchesMergesAcrossBranches(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()

	chunker := chunk.NewChunker(chunk.Config{ChunkSize: 200, ChunkOverlap: 20})
	emb := embed.NewStaticEmbedder768()

	for _, branch := range []string{"main", "feature"} {
		content := "package " + branch + "\n\nfunc Handler() {}\n"
		chunks := chunker.ChunkText(content, "h.go")
		vectors := make([][]float32, len(chunks))
		for i, c := range chunks {
			v, err := emb.Embed(context.Background(), c.Content)
			require.NoError(t, err)
			vectors[i] = v
		}
		require.NoError(t, st.AddChunks(context.Background(), root, branch, "h.go", "hash", 0, int64(len(content)), chunks, vectors))
	}

	e := New(st, embed.NewStaticEmbedder768())
	results, err := e.SearchAllBranches(context.Background(), root, "func Handler", DefaultOptions())
	require.NoError(t, err)

	branches := map[string]bool{}
	for _, r := range results {
		branches[r.Branch] = true
	}
	assert.True(t, branches["main"])
	assert.True(t, branches["feature"])
}

func TestNormalizeOptions_ClampsOutOfRangeValues(t *testing.T) {
	opts := normalizeOptions(Options{TopK: 500, MinSimilarity: 5, ContextLinesBefore: 50, ContextLinesAfter: -3})
	assert.Equal(t, 100, opts.TopK)
	assert.Equal(t, float32(1), opts.MinSimilarity)
	assert.Equal(t, 10, opts.ContextLinesBefore)
	assert.Equal(t, 0, opts.ContextLinesAfter)
}
