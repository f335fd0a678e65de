package chunk

import (
	"path/filepath"
	"strings"
)

// DefaultSeparators is the priority-ordered separator list used by the
// recursive character splitter: paragraph, line, sentence, word, then
// raw characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Config configures a Chunker. ChunkOverlap must be strictly less than
// ChunkSize; NewChunker enforces this at construction.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// Chunker splits file content into overlapping, line-annotated chunks
// using recursive character splitting (try each separator in priority
// order, falling back to raw characters).
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewChunker constructs a Chunker. Panics if ChunkOverlap >= ChunkSize:
// an overlap at or above the chunk size would never let the cursor
// advance.
func NewChunker(cfg Config) *Chunker {
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		panic("chunk: chunk_overlap must be less than chunk_size")
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return &Chunker{chunkSize: cfg.ChunkSize, overlap: cfg.ChunkOverlap, separators: seps}
}

// ChunkText splits text into chunks, annotating each with 1-based
// inclusive line ranges, character ranges into the original text, a
// stable content hash, and file-type/language metadata derived from
// filePath (which may be empty — used only for suffix detection).
//
// Empty or whitespace-only input yields no chunks. Any input that the
// splitter can't decompose falls back to one chunk covering the whole
// file.
func (c *Chunker) ChunkText(text, filePath string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	fileType, language := detectFromPath(filePath)

	pieces := c.splitRecursive(text, c.separators)
	if len(pieces) == 0 {
		return []Chunk{wholeFileChunk(text, fileType, language)}
	}

	chunks := make([]Chunk, 0, len(pieces))
	searchStart := 0
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		start := strings.Index(text[searchStart:], piece)
		if start == -1 {
			start = searchStart
		} else {
			start += searchStart
		}
		end := start + len(piece)
		if end > len(text) {
			end = len(text)
		}

		lineStart := strings.Count(text[:start], "\n") + 1
		lineEnd := strings.Count(text[:end], "\n") + 1

		chunks = append(chunks, Chunk{
			Content:     piece,
			LineStart:   lineStart,
			LineEnd:     lineEnd,
			CharStart:   start,
			CharEnd:     end,
			ContentHash: hashContent(piece),
			FileType:    fileType,
			Language:    language,
		})

		step := len(piece) - c.overlap
		if step < 1 {
			step = 1
		}
		searchStart = start + step
		if searchStart > len(text) {
			searchStart = len(text)
		}
	}

	if len(chunks) == 0 {
		return []Chunk{wholeFileChunk(text, fileType, language)}
	}
	return chunks
}

func wholeFileChunk(text, fileType, language string) Chunk {
	return Chunk{
		Content:     text,
		LineStart:   1,
		LineEnd:     strings.Count(text, "\n") + 1,
		CharStart:   0,
		CharEnd:     len(text),
		ContentHash: hashContent(text),
		FileType:    fileType,
		Language:    language,
	}
}

func detectFromPath(filePath string) (fileType, language string) {
	if filePath == "" {
		return "", ""
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	return ext, DetectLanguage(ext)
}

// splitRecursive implements the recursive-character splitting strategy:
// find the highest-priority separator present in the text, split on it,
// and for any resulting piece still over chunkSize, recurse with the
// remaining lower-priority separators. Adjacent small pieces are then
// merged back together up to chunkSize with overlap.
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	if text == "" {
		return nil
	}

	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			remaining = nil
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator == "" {
		splits = splitIntoRunes(text, c.chunkSize)
	} else {
		splits = strings.Split(text, separator)
	}

	var result []string
	var good []string
	flush := func() {
		if len(good) == 0 {
			return
		}
		result = append(result, c.mergeSplits(good, separator)...)
		good = nil
	}

	for _, s := range splits {
		if len(s) < c.chunkSize {
			good = append(good, s)
			continue
		}
		flush()
		if len(remaining) == 0 {
			result = append(result, s)
		} else {
			result = append(result, c.splitRecursive(s, remaining)...)
		}
	}
	flush()

	return result
}

// splitIntoRunes is the "" separator fallback: fixed-size character runs.
func splitIntoRunes(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// mergeSplits greedily concatenates pieces (re-inserting separator
// between them) into chunks as close to chunkSize as possible without
// exceeding it, carrying `overlap` characters of trailing context from
// one chunk into the start of the next.
func (c *Chunker) mergeSplits(splits []string, separator string) []string {
	var chunks []string
	var current []string
	currentLen := 0

	sepLen := len(separator)

	addLen := func(s string) int {
		if len(current) == 0 {
			return len(s)
		}
		return len(s) + sepLen
	}

	for _, s := range splits {
		l := addLen(s)
		if currentLen+l > c.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, separator))

			for currentLen > c.overlap && len(current) > 0 {
				currentLen -= len(current[0])
				if len(current) > 1 {
					currentLen -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, s)
		currentLen += l
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, separator))
	}
	return chunks
}
