// Package query is the query engine: embed a search string, search a
// root's vector collection, filter by similarity, and attach source
// context lines around each match.
package query

// Options configures a single search call. Callers should start from
// DefaultOptions and override only the fields they need — IncludeContext
// defaults to true per the query engine's contract, which the zero value
// of Options alone cannot express.
type Options struct {
	// TopK caps the number of results returned (1..100).
	TopK int

	// MinSimilarity drops results whose converted similarity score falls
	// below this threshold (0..1).
	MinSimilarity float32

	// IncludeContext attaches ContextBefore/ContextAfter lines from the
	// source file around each result. Defaults to true.
	IncludeContext bool

	// ContextLinesBefore/After bound how many source lines are attached
	// before and after each result's own line range (0..10).
	ContextLinesBefore int
	ContextLinesAfter  int
}

// DefaultOptions returns the configured defaults per the external
// interface's search.* keys.
func DefaultOptions() Options {
	return Options{
		TopK:               10,
		MinSimilarity:      0,
		IncludeContext:     true,
		ContextLinesBefore: 3,
		ContextLinesAfter:  3,
	}
}

// Result is a single ranked match, enriched with surrounding source
// lines when available.
type Result struct {
	Content   string
	FilePath  string // workspace-relative, forward-slash normalized
	Language  string
	FileType  string
	Branch    string
	LineStart int
	LineEnd   int
	Score     float32

	// ContextBefore/After are nil when the source file was missing or
	// unreadable at query time; the result itself is still returned.
	ContextBefore []string
	ContextAfter  []string
}
