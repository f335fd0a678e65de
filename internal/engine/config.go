package engine

import "github.com/llmtornado/fskb/internal/chunk"

// Config holds the indexing-relevant subset of the system's configuration
// keys (embedding.*, chunking.*, resource.*, indexing.*) needed to build
// an Engine. Embedding provider selection and storage paths are resolved
// by the caller, which passes an already-constructed Store and Embedder.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string

	MaxCPUPercent      float64
	MaxMemoryMB        float64
	MaxWorkers         int
	IdleTimeoutSeconds int
	DebounceDelayMs    int

	MaxFileSizeMB    int
	RespectGitignore bool
	UseFskbignore    bool
	SkipDirectories  []string

	// TextExtensions, when non-empty, restricts indexing to files whose
	// extension (e.g. ".go") appears in the list. Empty means every file
	// the content sniff accepts is eligible.
	TextExtensions []string
}

// DefaultConfig returns the configuration defaults named in the
// configuration key table (chunking.chunk_size=3000,
// chunking.chunk_overlap=500, indexing.max_file_size_mb implied by the
// scanner's own default, resource.debounce_delay_ms=200).
func DefaultConfig() Config {
	return Config{
		ChunkSize:          3000,
		ChunkOverlap:       500,
		MaxFileSizeMB:      10,
		RespectGitignore:   true,
		UseFskbignore:      true,
		IdleTimeoutSeconds: 300,
		DebounceDelayMs:    200,
	}
}

func (c Config) chunkerConfig() chunk.Config {
	return chunk.Config{
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
		Separators:   c.Separators,
	}
}

func (c Config) maxFileSizeBytes() int64 {
	if c.MaxFileSizeMB <= 0 {
		return 10 * 1024 * 1024
	}
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}
