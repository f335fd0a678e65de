package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, no CGO
)

// sqliteMetadata persists ChunkMetadata and the embedding cache in SQLite.
// A single database holds every root's chunk metadata, keyed by root path;
// the embedding cache is global (not keyed by root).
type sqliteMetadata struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

func newSQLiteMetadata(path string) (*sqliteMetadata, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	// Single writer: modernc.org/sqlite serializes through one *os.File
	// handle anyway, and this avoids "database is locked" under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// DSN query params are unreliable with this driver; set pragmas as
	// statements instead.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	m := &sqliteMetadata{db: db, path: path}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metadata schema: %w", err)
	}
	return m, nil
}

func (m *sqliteMetadata) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		root         TEXT NOT NULL,
		branch       TEXT NOT NULL,
		file_path    TEXT NOT NULL,
		file_hash    TEXT NOT NULL,
		file_mtime   INTEGER NOT NULL,
		file_size    INTEGER NOT NULL,
		line_start   INTEGER NOT NULL,
		line_end     INTEGER NOT NULL,
		char_start   INTEGER NOT NULL,
		char_end     INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		file_type    TEXT NOT NULL,
		language     TEXT NOT NULL,
		content      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_root_branch_file
		ON chunks(root, branch, file_path);
	CREATE INDEX IF NOT EXISTS idx_chunks_root_branch
		ON chunks(root, branch);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		content_hash TEXT PRIMARY KEY,
		vector       BLOB NOT NULL,
		dimensions   INTEGER NOT NULL
	);
	`
	_, err := m.db.Exec(schema)
	return err
}

// upsertChunks replaces all chunk metadata rows for the given ids in a
// single transaction; content is kept alongside metadata so Search can
// return it without a second round trip to the source file.
func (m *sqliteMetadata) upsertChunks(ctx context.Context, root string, metas []ChunkMetadata, contents []string) error {
	if len(metas) == 0 {
		return nil
	}
	if len(metas) != len(contents) {
		return fmt.Errorf("metadata/content length mismatch: %d vs %d", len(metas), len(contents))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (
			id, root, branch, file_path, file_hash, file_mtime, file_size,
			line_start, line_end, char_start, char_end, content_hash,
			file_type, language, content
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i, meta := range metas {
		if _, err := stmt.ExecContext(ctx,
			meta.ID, root, meta.Branch, meta.FilePath, meta.FileHash, meta.FileMTime, meta.FileSize,
			meta.LineStart, meta.LineEnd, meta.CharStart, meta.CharEnd, meta.ContentHash,
			meta.FileType, meta.Language, contents[i],
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", meta.ID, err)
		}
	}

	return tx.Commit()
}

func (m *sqliteMetadata) deleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf("DELETE FROM chunks WHERE id IN (%s)", strings.Join(placeholders, ","))
	_, err := m.db.ExecContext(ctx, q, args...)
	return err
}

func (m *sqliteMetadata) chunkIDsForFile(ctx context.Context, root, branch, file string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE root = ? AND branch = ? AND file_path = ?`,
		root, branch, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *sqliteMetadata) chunkIDsOutsidePaths(ctx context.Context, root, branch string, validPaths map[string]bool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT id, file_path FROM chunks WHERE root = ? AND branch = ?`,
		root, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, filePath string
		if err := rows.Scan(&id, &filePath); err != nil {
			return nil, err
		}
		if !validPaths[filePath] {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func (m *sqliteMetadata) indexedFiles(ctx context.Context, root, branch string) (map[string]IndexedFileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT file_path, file_hash, file_mtime, file_size FROM chunks WHERE root = ? AND branch = ?`,
		root, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]IndexedFileInfo)
	for rows.Next() {
		var path, hash string
		var mtime, size int64
		if err := rows.Scan(&path, &hash, &mtime, &size); err != nil {
			return nil, err
		}
		if _, seen := out[path]; !seen {
			out[path] = IndexedFileInfo{Hash: hash, MTime: mtime, Size: size}
		}
	}
	return out, rows.Err()
}

func (m *sqliteMetadata) fileChunkCounts(ctx context.Context, root, branch string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT file_path, COUNT(*) FROM chunks WHERE root = ? AND branch = ? GROUP BY file_path`,
		root, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var path string
		var count int
		if err := rows.Scan(&path, &count); err != nil {
			return nil, err
		}
		out[path] = count
	}
	return out, rows.Err()
}

func (m *sqliteMetadata) branchChunkCount(ctx context.Context, root, branch string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, fmt.Errorf("metadata store is closed")
	}

	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE root = ? AND branch = ?`, root, branch).Scan(&count)
	return count, err
}

func (m *sqliteMetadata) branches(ctx context.Context, root string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT DISTINCT branch FROM chunks WHERE root = ? ORDER BY branch`, root)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var branch string
		if err := rows.Scan(&branch); err != nil {
			return nil, err
		}
		out = append(out, branch)
	}
	return out, rows.Err()
}

func (m *sqliteMetadata) chunksByID(ctx context.Context, ids []string) (map[string]ChunkMetadata, map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, nil, fmt.Errorf("metadata store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`
		SELECT id, branch, file_path, file_hash, file_mtime, file_size,
		       line_start, line_end, char_start, char_end, content_hash,
		       file_type, language, content
		FROM chunks WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	metas := make(map[string]ChunkMetadata)
	contents := make(map[string]string)
	for rows.Next() {
		var meta ChunkMetadata
		var content string
		if err := rows.Scan(
			&meta.ID, &meta.Branch, &meta.FilePath, &meta.FileHash, &meta.FileMTime, &meta.FileSize,
			&meta.LineStart, &meta.LineEnd, &meta.CharStart, &meta.CharEnd, &meta.ContentHash,
			&meta.FileType, &meta.Language, &content,
		); err != nil {
			return nil, nil, err
		}
		metas[meta.ID] = meta
		contents[meta.ID] = content
	}
	return metas, contents, rows.Err()
}

// cachedEmbeddings returns the vectors already cached for the given
// content hashes, omitting any hash not present.
func (m *sqliteMetadata) cachedEmbeddings(ctx context.Context, hashes []string) (map[string][]float32, error) {
	if len(hashes) == 0 {
		return map[string][]float32{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	placeholders := make([]string, len(hashes))
	args := make([]any, len(hashes))
	for i, h := range hashes {
		placeholders[i] = "?"
		args[i] = h
	}
	q := fmt.Sprintf(`SELECT content_hash, vector, dimensions FROM embedding_cache WHERE content_hash IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var hash string
		var blob []byte
		var dims int
		if err := rows.Scan(&hash, &blob, &dims); err != nil {
			return nil, err
		}
		out[hash] = decodeVector(blob, dims)
	}
	return out, rows.Err()
}

// cacheEmbeddings upserts (hash -> vector), deduplicating the input by
// hash and keeping the first occurrence.
func (m *sqliteMetadata) cacheEmbeddings(ctx context.Context, hashes []string, vectors [][]float32) error {
	if len(hashes) == 0 {
		return nil
	}
	if len(hashes) != len(vectors) {
		return fmt.Errorf("hash/vector length mismatch: %d vs %d", len(hashes), len(vectors))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("metadata store is closed")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO embedding_cache (content_hash, vector, dimensions) VALUES (?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare cache insert: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]bool, len(hashes))
	for i, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		if _, err := stmt.ExecContext(ctx, h, encodeVector(vectors[i]), len(vectors[i])); err != nil {
			return fmt.Errorf("cache embedding %s: %w", h, err)
		}
	}

	return tx.Commit()
}

func (m *sqliteMetadata) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte, dims int) []float32 {
	v := make([]float32, dims)
	for i := 0; i < dims && (i*4+4) <= len(buf); i++ {
		bits := uint32(buf[i*4+0]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}
