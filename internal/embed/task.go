package embed

import (
	"context"
	"strings"
)

// Kind distinguishes a search query from an indexed passage; each uses a
// different instruction prefix ahead of the underlying embedder call.
type Kind int

const (
	KindQuery Kind = iota
	KindPassage
)

// Task selects the instruction-prefix pair applied before embedding.
// Both tasks pair with a code passage, since the index holds code chunks.
type Task string

const (
	TaskNL2Code   Task = "nl2code"
	TaskCode2Code Task = "code2code"

	DefaultTask = TaskNL2Code
)

type instructionPair struct {
	query   string
	passage string
}

var instructions = map[Task]instructionPair{
	TaskNL2Code: {
		query:   "Find the most relevant code snippet given the following query:\n",
		passage: "Candidate code snippet:\n",
	},
	TaskCode2Code: {
		query:   "Find an equivalent code snippet given the following code snippet:\n",
		passage: "Candidate code snippet:\n",
	},
}

// codePunctuation are characters/substrings whose presence in a query
// suggests the user pasted actual code rather than a natural-language
// description.
var codePunctuation = []string{"{", "}", "()", "=>", ";", "def ", "class ", "function "}

// DetectTask auto-detects the task for a search query: code2code if the
// query contains characteristic code punctuation, nl2code otherwise.
func DetectTask(query string) Task {
	for _, tok := range codePunctuation {
		if strings.Contains(query, tok) {
			return TaskCode2Code
		}
	}
	return TaskNL2Code
}

// Prefix returns text prefixed with the instruction for the given task and
// kind, ready to pass to an Embedder.
func Prefix(task Task, kind Kind, text string) string {
	pair, ok := instructions[task]
	if !ok {
		pair = instructions[DefaultTask]
	}
	if kind == KindPassage {
		return pair.passage + text
	}
	return pair.query + text
}

// TaskedEmbedder wraps an Embedder with query/passage instruction
// prefixing and query task auto-detection, per the search model's
// contract of embed(texts, kind).
type TaskedEmbedder struct {
	inner Embedder
}

// NewTaskedEmbedder wraps inner with instruction-prefixed embedding.
func NewTaskedEmbedder(inner Embedder) *TaskedEmbedder {
	return &TaskedEmbedder{inner: inner}
}

// EmbedQuery auto-detects the task from the query text and embeds it with
// the query prefix.
func (t *TaskedEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	task := DetectTask(query)
	return t.inner.Embed(ctx, Prefix(task, KindQuery, query))
}

// EmbedPassages embeds a batch of passages under the given task, always
// using the passage prefix.
func (t *TaskedEmbedder) EmbedPassages(ctx context.Context, task Task, passages []string) ([][]float32, error) {
	prefixed := make([]string, len(passages))
	for i, p := range passages {
		prefixed[i] = Prefix(task, KindPassage, p)
	}
	return t.inner.EmbedBatch(ctx, prefixed)
}

// Unwrap returns the wrapped Embedder, e.g. for Dimensions()/Close().
func (t *TaskedEmbedder) Unwrap() Embedder {
	return t.inner
}
