// Package chunk splits file text into overlapping, line-annotated
// fragments sized for embedding.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
)

// Chunk is a contiguous slice of a file's text with line and character
// coordinates, plus a stable content hash used as the embedding-cache key.
type Chunk struct {
	Content     string
	LineStart   int
	LineEnd     int
	CharStart   int
	CharEnd     int
	ContentHash string
	FileType    string
	Language    string
}

func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// languageByExtension maps a lowercase file-type suffix to a language
// label; unmapped suffixes fall back to the suffix itself verbatim.
var languageByExtension = map[string]string{
	"cs": "csharp", "java": "java", "cpp": "cpp", "cc": "cpp",
	"c": "c", "h": "c", "hpp": "cpp", "go": "go", "rs": "rust",
	"swift": "swift", "kt": "kotlin", "scala": "scala",
	"py": "python", "js": "javascript", "ts": "typescript",
	"jsx": "javascript", "tsx": "typescript", "rb": "ruby",
	"php": "php", "pl": "perl", "lua": "lua", "r": "r",
	"sh": "shell", "bash": "shell", "zsh": "shell", "fish": "shell",
	"ps1": "powershell", "psm1": "powershell",
	"html": "html", "htm": "html", "xml": "xml", "css": "css",
	"scss": "scss", "sass": "sass", "less": "less",
	"json": "json", "yaml": "yaml", "yml": "yaml", "toml": "toml",
	"ini": "ini", "cfg": "config", "conf": "config",
	"md": "markdown", "rst": "rst", "txt": "text",
	"sql": "sql",
}

// DetectLanguage maps a file-type suffix (without the leading dot) to a
// language label, falling back to the suffix itself when unmapped.
func DetectLanguage(fileType string) string {
	if lang, ok := languageByExtension[fileType]; ok {
		return lang
	}
	return fileType
}
