package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectTask(t *testing.T) {
	assert.Equal(t, TaskNL2Code, DetectTask("how do I parse a config file"))
	assert.Equal(t, TaskCode2Code, DetectTask("func main() { fmt.Println(1) }"))
	assert.Equal(t, TaskCode2Code, DetectTask("x => x + 1"))
	assert.Equal(t, TaskCode2Code, DetectTask("def foo():"))
}

func TestPrefix_QueryAndPassageDiffer(t *testing.T) {
	q := Prefix(TaskNL2Code, KindQuery, "hello")
	p := Prefix(TaskNL2Code, KindPassage, "hello")
	assert.NotEqual(t, q, p)
	assert.Contains(t, q, "hello")
	assert.Contains(t, p, "hello")
}

func TestPrefix_UnknownTaskFallsBackToDefault(t *testing.T) {
	got := Prefix(Task("bogus"), KindQuery, "x")
	want := Prefix(DefaultTask, KindQuery, "x")
	assert.Equal(t, got, want)
}

func TestTaskedEmbedder_EmbedQueryUsesDetectedTask(t *testing.T) {
	inner := NewStaticEmbedder()
	tw := NewTaskedEmbedder(inner)

	vec, err := tw.EmbedQuery(context.Background(), "how do I sort a list")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
}

func TestTaskedEmbedder_EmbedPassages(t *testing.T) {
	inner := NewStaticEmbedder()
	tw := NewTaskedEmbedder(inner)

	vecs, err := tw.EmbedPassages(context.Background(), TaskNL2Code, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}
