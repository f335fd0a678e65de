// Package textsniff decides whether a file's content should be treated as
// text for indexing purposes, shared by the file watcher (per-event) and
// the scanner (bulk tree walks).
package textsniff

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxSize bounds the slow-path content sniff to small files only.
const MaxSize = 100 * 1024

// extensions is the fast-path allow-list of known text file extensions.
var extensions = map[string]bool{
	".go": true, ".mod": true, ".sum": true,
	".py": true, ".rb": true, ".php": true, ".pl": true,
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
	".java": true, ".kt": true, ".scala": true, ".cs": true,
	".c": true, ".h": true, ".cpp": true, ".cc": true, ".hpp": true,
	".rs": true, ".swift": true, ".lua": true, ".r": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true,
	".ps1": true, ".psm1": true,
	".html": true, ".htm": true, ".xml": true, ".css": true,
	".scss": true, ".sass": true, ".less": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true,
	".md": true, ".rst": true, ".txt": true, ".sql": true,
	".gitignore": true, ".fskbignore": true, ".dockerignore": true,
	".env": true, ".editorconfig": true,
}

// binarySignatures are magic-number prefixes that identify known binary
// formats (checked at the start of the sample and, for some formats, at
// offset 4).
var binarySignatures = [][]byte{
	{0x7f, 'E', 'L', 'F'},
	{'M', 'Z'},
	{0x89, 'P', 'N', 'G'},
	{0xff, 0xd8, 0xff},
	{'G', 'I', 'F', '8'},
	{'%', 'P', 'D', 'F'},
	{'P', 'K', 0x03, 0x04},
	{'P', 'K', 0x05, 0x06},
	{'P', 'K', 0x07, 0x08},
	{0x1f, 0x8b},
	{'B', 'M'},
	{'I', 'I', '*', 0x00},
	{'M', 'M', 0x00, '*'},
	{'R', 'I', 'F', 'F'},
	{0x00, 0x00, 0x01, 0xba},
	{0x00, 0x00, 0x01, 0xb3},
	{'f', 't', 'y', 'p'},
}

// IsTextFile decides whether a path should be treated as a text file for
// indexing purposes: known extension short-circuits to true; otherwise,
// for files under MaxSize, the content is sniffed.
func IsTextFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = strings.ToLower(filepath.Base(path))
	}
	if extensions[ext] {
		return true
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 || info.Size() >= MaxSize {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 8192)
	n, _ := f.Read(buf)
	if n == 0 {
		return false
	}
	return SniffText(buf[:n])
}

// SniffText applies the content-based text/binary heuristics: reject on
// too many NUL bytes, known binary magic, or too many control characters;
// otherwise accept on a successful UTF-8 decode, or fall back to a
// Latin-1/CP1252 trial with a looser control-character threshold.
func SniffText(sample []byte) bool {
	nulCount := 0
	for _, b := range sample {
		if b == 0 {
			nulCount++
		}
	}
	if float64(nulCount) > float64(len(sample))*0.05 {
		return false
	}

	for _, sig := range binarySignatures {
		if hasPrefix(sample, sig) {
			return false
		}
		if len(sample) > 4 && hasPrefix(sample[4:], sig) {
			return false
		}
	}

	controlChars := 0
	for _, b := range sample {
		if b < 32 && b != 9 && b != 10 && b != 13 {
			controlChars++
		}
	}
	controlRatio := float64(controlChars) / float64(len(sample))
	if controlRatio > 0.10 {
		return false
	}

	if utf8.Valid(sample) {
		return true
	}

	// Latin-1/CP1252 trial: every byte decodes, so the only remaining
	// signal is the control-character ratio at a looser threshold.
	return controlRatio < 0.15
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if b[i] != p {
			return false
		}
	}
	return true
}
