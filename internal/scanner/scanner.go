package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/llmtornado/fskb/internal/ignore"
	"github.com/llmtornado/fskb/internal/textsniff"
)

// ScanOptions configures a walk.
type ScanOptions struct {
	// RootDir is the workspace root being scanned.
	RootDir string

	// Ignore is the root's ignore matcher (gitignore + .fskbignore +
	// defaults). Required.
	Ignore *ignore.Matcher

	// MaxFileSize is the largest file (bytes) the scan will emit; larger
	// files are silently skipped. Zero uses DefaultMaxFileSize.
	MaxFileSize int64

	// ExtraExcludeDirs/ExtraExcludeFiles are additional glob-style
	// patterns from configuration, evaluated alongside the built-in
	// defaults and sensitive-file patterns.
	ExtraExcludeDirs  []string
	ExtraExcludeFiles []string

	// AllowedExtensions, when non-empty, restricts emitted files to
	// those whose extension (lowercased, leading dot included, e.g.
	// ".go") appears in the list. Empty means no restriction — every
	// file that passes the content sniff in textsniff.IsTextFile is
	// eligible, matching indexing.text_extensions left unset.
	AllowedExtensions []string

	// FollowSymlinks enables following symbolic links (default: false —
	// a symlinked file is skipped, matching the engine's Lstat-based
	// per-file indexing check).
	FollowSymlinks bool

	// ProgressFunc, if set, is called periodically with the running
	// count of files emitted so far.
	ProgressFunc func(scanned int)
}

func (o *ScanOptions) maxFileSize() int64 {
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}
	return DefaultMaxFileSize
}

// Scan walks the entire workspace, streaming every indexable text file
// over the returned channel. The channel is closed when the walk
// completes or ctx is canceled.
func Scan(ctx context.Context, opts ScanOptions) <-chan ScanResult {
	out := make(chan ScanResult, 256)
	go func() {
		defer close(out)
		walk(ctx, opts.RootDir, opts.RootDir, &opts, out)
	}()
	return out
}

// ScanSubtree walks only the subtree rooted at (workspace-relative)
// subPath, used to rescan a directory whose gitignore status changed
// without re-walking the whole workspace.
func ScanSubtree(ctx context.Context, opts ScanOptions, subPath string) <-chan ScanResult {
	out := make(chan ScanResult, 256)
	absSub := filepath.Join(opts.RootDir, filepath.FromSlash(subPath))
	go func() {
		defer close(out)
		if info, err := os.Stat(absSub); err != nil || !info.IsDir() {
			return
		}
		walk(ctx, opts.RootDir, absSub, &opts, out)
	}()
	return out
}

func walk(ctx context.Context, absRoot, absStart string, opts *ScanOptions, out chan<- ScanResult) {
	scanned := 0
	maxSize := opts.maxFileSize()

	_ = filepath.WalkDir(absStart, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if shouldExcludeDir(relPath, opts) || opts.Ignore.ShouldIgnore(relPath, true) {
				return fs.SkipDir
			}
			return nil
		}

		if !opts.FollowSymlinks && d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		if shouldExcludeFile(relPath, opts) || opts.Ignore.ShouldIgnore(relPath, false) {
			return nil
		}

		if !matchesAllowedExtension(relPath, opts.AllowedExtensions) {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			out <- ScanResult{Path: relPath, Err: statErr}
			return nil
		}
		if info.Size() == 0 || info.Size() > maxSize {
			return nil
		}

		if !textsniff.IsTextFile(path) {
			return nil
		}

		out <- ScanResult{File: &FileInfo{
			Path:    relPath,
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}}

		scanned++
		if opts.ProgressFunc != nil && scanned%100 == 0 {
			opts.ProgressFunc(scanned)
		}
		return nil
	})

	if opts.ProgressFunc != nil {
		opts.ProgressFunc(scanned)
	}
}

func matchesAllowedExtension(relPath string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(relPath))
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

func shouldExcludeDir(relPath string, opts *ScanOptions) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExtraExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func shouldExcludeFile(relPath string, opts *ScanOptions) bool {
	base := filepath.Base(relPath)
	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(base, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludeFiles {
		if matchFilePattern(base, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExtraExcludeFiles {
		if matchFilePattern(base, pattern) {
			return true
		}
	}
	return false
}

// matchDirPattern matches a workspace-relative directory path against a
// "**/name/**"-style glob pattern.
func matchDirPattern(relPath, pattern string) bool {
	name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
	parts := strings.Split(relPath, "/")
	for _, part := range parts {
		if part == name {
			return true
		}
	}
	return false
}

// matchFilePattern matches a base filename against a small glob dialect:
// "*.ext", "prefix*", "*mid*", ".env*", and exact names.
func matchFilePattern(baseName, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "**/"):
		return matchFilePattern(baseName, strings.TrimPrefix(pattern, "**/"))
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	default:
		matched, err := filepath.Match(pattern, baseName)
		return err == nil && matched
	}
}

var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.aws/**",
	"**/.gcp/**",
	"**/.azure/**",
	"**/.ssh/**",
}

var defaultExcludeFiles = []string{
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
}

var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
