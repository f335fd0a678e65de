// Package scanner discovers indexable text files under a root, applying
// the same default exclusions, sensitive-file filtering, and gitignore
// rules that govern the live watcher, so the initial scan and the steady
// state never disagree about what belongs in the index.
package scanner

import "time"

// FileInfo describes a single discovered file.
type FileInfo struct {
	Path    string // workspace-relative, forward-slash normalized
	AbsPath string
	Size    int64
	ModTime time.Time
}

// ScanResult is emitted on the scanner's output channel: a discovered file
// or, for a path the walk couldn't stat, the error encountered.
type ScanResult struct {
	File *FileInfo
	Path string
	Err  error
}

// DefaultMaxFileSize is the scan's own fallback file size ceiling (10MB),
// used when ScanOptions.MaxFileSize is zero.
const DefaultMaxFileSize = 10 * 1024 * 1024
