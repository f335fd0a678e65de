// Package metacache persists, per workspace root, a fast-restart snapshot
// of what has already been indexed, so a restart can skip re-hashing and
// re-indexing files whose mtime and size are unchanged. The tree itself
// is still walked.
package metacache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileFingerprint is the mtime/size/hash triple used by the laddered
// change check: cheap checks first, content hash only as a last resort.
type FileFingerprint struct {
	MTime int64
	Size  int64
	Hash  string
}

// BranchCache is one branch's worth of cached state for a root.
type BranchCache struct {
	IgnoreFiles map[string]FileFingerprint // ignore-file path -> fingerprint
	IndexedFiles map[string]FileFingerprint // workspace-relative path -> fingerprint
	ChunkCount   int
}

// Cache is the root-level on-disk structure: one BranchCache per branch
// name, so switching branches doesn't discard another branch's work.
type Cache struct {
	Branches map[string]BranchCache
}

// fileName is the cache file's name within <root>/.fskb/.
const fileName = "metadata_cache.gob"

// lockName is the cross-process advisory lock guarding reads and writes.
const lockName = "metadata_cache.lock"

// Store manages the on-disk cache file for one root.
type Store struct {
	dir  string // <root>/.fskb
	lock *flock.Flock
}

// New returns a Store for root; it does not touch disk until Load or
// Save is called.
func New(root string) *Store {
	dir := filepath.Join(root, ".fskb")
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockName)),
	}
}

// Load reads the cache file, returning an empty Cache (not an error) if
// it doesn't exist yet.
func (s *Store) Load() (Cache, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Cache{}, fmt.Errorf("create cache dir: %w", err)
	}

	if err := s.lock.RLock(); err != nil {
		return Cache{}, fmt.Errorf("lock cache for read: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	path := filepath.Join(s.dir, fileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cache{Branches: make(map[string]BranchCache)}, nil
		}
		return Cache{}, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	var cache Cache
	if err := gob.NewDecoder(f).Decode(&cache); err != nil {
		// A corrupt cache is not fatal: starting from empty just costs a
		// full rescan of the root.
		return Cache{Branches: make(map[string]BranchCache)}, nil
	}
	if cache.Branches == nil {
		cache.Branches = make(map[string]BranchCache)
	}
	return cache, nil
}

// Save atomically (write-to-temp then rename) persists cache to disk.
func (s *Store) Save(cache Cache) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock cache for write: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	path := filepath.Join(s.dir, fileName)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(cache); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Reconcile drops cache entries absent from the store's indexed-files
// set, overwrites the chunk count from the store, and refreshes
// per-entry metadata to match. The store is the authoritative source of
// truth: store > cache.
func Reconcile(branch BranchCache, storeFiles map[string]FileFingerprint, storeChunkCount int) BranchCache {
	reconciled := BranchCache{
		IgnoreFiles:  branch.IgnoreFiles,
		IndexedFiles: make(map[string]FileFingerprint, len(storeFiles)),
		ChunkCount:   storeChunkCount,
	}
	for path, fp := range storeFiles {
		reconciled.IndexedFiles[path] = fp
	}
	return reconciled
}
