package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
)

// SQLiteStore persists the Files, Symbols, and Patterns collections plus the
// chunk rows and their embeddings. All mutation for one file happens inside a
// single transaction, so readers never observe a half-replaced file.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateRecordStoreIntegrity checks a record store database before opening.
// Returns nil if valid or absent, an error describing the corruption if not.
func validateRecordStoreIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

// NewSQLiteStore opens (or creates) the record store at path.
// If path is empty, an in-memory store is created for testing.
// A corrupted database is cleared and recreated; callers should reindex.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateRecordStoreIntegrity(path); validErr != nil {
			slog.Warn("record_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("record store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("record_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS files (
		path         TEXT PRIMARY KEY,
		language     TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		size         INTEGER NOT NULL DEFAULT 0,
		mod_time     INTEGER NOT NULL DEFAULT 0,
		chunk_count  INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		file_path    TEXT NOT NULL,
		content      TEXT NOT NULL,
		context      TEXT NOT NULL DEFAULT '',
		kind         TEXT NOT NULL DEFAULT '',
		language     TEXT NOT NULL DEFAULT '',
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		symbol_name  TEXT NOT NULL DEFAULT '',
		token_count  INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL DEFAULT '',
		degraded     INTEGER NOT NULL DEFAULT 0,
		embedding    BLOB,
		created_at   INTEGER NOT NULL DEFAULT 0,
		updated_at   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

	CREATE TABLE IF NOT EXISTS symbols (
		id          TEXT PRIMARY KEY,
		chunk_id    TEXT NOT NULL,
		file_path   TEXT NOT NULL,
		name        TEXT NOT NULL,
		kind        TEXT NOT NULL DEFAULT '',
		parent      TEXT NOT NULL DEFAULT '',
		start_line  INTEGER NOT NULL,
		end_line    INTEGER NOT NULL,
		signature   TEXT NOT NULL DEFAULT '',
		doc_comment TEXT NOT NULL DEFAULT '',
		complexity  INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
	CREATE INDEX IF NOT EXISTS idx_symbols_file_path ON symbols(file_path);

	CREATE TABLE IF NOT EXISTS patterns (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		example     TEXT NOT NULL DEFAULT '',
		usage_count INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (%d);
	`, CurrentSchemaVersion)

	_, err := s.db.Exec(schema)
	return err
}

// ReplaceFile replaces every row belonging to file.Path in one transaction:
// old chunks and symbols are deleted, the new ones inserted, and the files
// row upserted. Embeddings are keyed by chunk ID; chunks without one (for
// example degraded chunks that failed to embed) are stored with a NULL
// embedding. Returns the chunk IDs that were removed so the caller can purge
// them from the keyword and vector indexes.
func (s *SQLiteStore) ReplaceFile(ctx context.Context, file *FileRecord, chunks []*chunk.Chunk, embeddings map[string][]float32) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := chunkIDsByPathTx(ctx, tx, file.Path)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, file.Path); err != nil {
		return nil, fmt.Errorf("failed to delete chunks for %s: %w", file.Path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_path = ?`, file.Path); err != nil {
		return nil, fmt.Errorf("failed to delete symbols for %s: %w", file.Path, err)
	}

	insertChunk, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_path, content, context, kind, language,
			start_line, end_line, symbol_name, token_count, content_hash,
			degraded, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer insertChunk.Close()

	insertSymbol, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (id, chunk_id, file_path, name, kind, parent,
			start_line, end_line, signature, doc_comment, complexity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare symbol insert: %w", err)
	}
	defer insertSymbol.Close()

	for _, c := range chunks {
		var blob []byte
		if vec, ok := embeddings[c.ID]; ok {
			blob = encodeVector(vec)
		}
		_, err := insertChunk.ExecContext(ctx,
			c.ID, c.FilePath, c.Content, c.Context, string(c.Kind), c.Language,
			c.StartLine, c.EndLine, c.SymbolName, c.TokenCount, c.ContentHash,
			boolToInt(c.Degraded), blob, c.CreatedAt.Unix(), c.UpdatedAt.Unix())
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}

		// Degraded chunks carry no symbols so they never answer exact lookups.
		if c.Degraded {
			continue
		}
		for _, sym := range c.Symbols {
			_, err := insertSymbol.ExecContext(ctx,
				symbolID(c.ID, sym.Name, sym.StartLine), c.ID, c.FilePath,
				sym.Name, string(sym.Type), sym.Parent,
				sym.StartLine, sym.EndLine, sym.Signature, sym.DocComment, sym.Complexity)
			if err != nil {
				return nil, fmt.Errorf("failed to insert symbol %s: %w", sym.Name, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (path, language, content_hash, size, mod_time, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			size = excluded.size,
			mod_time = excluded.mod_time,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at`,
		file.Path, file.Language, file.ContentHash, file.Size,
		file.ModTime.Unix(), len(chunks), file.IndexedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert file %s: %w", file.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return removed, nil
}

// DeleteFile removes the file row and everything derived from it.
// Returns the removed chunk IDs.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := chunkIDsByPathTx(ctx, tx, path)
	if err != nil {
		return nil, err
	}

	for _, stmt := range []string{
		`DELETE FROM chunks WHERE file_path = ?`,
		`DELETE FROM symbols WHERE file_path = ?`,
		`DELETE FROM files WHERE path = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, path); err != nil {
			return nil, fmt.Errorf("failed to delete rows for %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return removed, nil
}

// ChunkIDRename maps a chunk's old ID to its recomputed ID after a rename.
type ChunkIDRename struct {
	OldID     string
	NewID     string
	Kind      string    // chunk kind, so file summaries can skip re-indexing
	Embedding []float32 // nil when the chunk was never embedded
	Content   string    // embedding text, for keyword re-index
}

// RenameFile moves every row from oldPath to newPath inside one transaction,
// recomputing chunk IDs (which incorporate the path) without touching the
// chunk content or embeddings. Returns the ID renames so the caller can move
// the keyword and vector entries.
func (s *SQLiteStore) RenameFile(ctx context.Context, oldPath, newPath string) ([]ChunkIDRename, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, content, context, start_line, end_line, content_hash, embedding
		FROM chunks WHERE file_path = ?`, oldPath)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks for %s: %w", oldPath, err)
	}

	type renameRow struct {
		oldID, newID string
		kind         string
		embedding    []float32
		content      string
	}
	var renames []renameRow
	for rows.Next() {
		var oldID, kind, content, context, contentHash string
		var startLine, endLine int
		var blob []byte
		if err := rows.Scan(&oldID, &kind, &content, &context, &startLine, &endLine, &contentHash, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		r := renameRow{
			oldID:     oldID,
			newID:     chunk.ComputeID(newPath, startLine, endLine, contentHash),
			kind:      kind,
			embedding: decodeVector(blob),
		}
		if context != "" {
			r.content = context + "\n\n" + content
		} else {
			r.content = content
		}
		renames = append(renames, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, r := range renames {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunks SET id = ?, file_path = ? WHERE id = ?`,
			r.newID, newPath, r.oldID); err != nil {
			return nil, fmt.Errorf("failed to rename chunk %s: %w", r.oldID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE symbols SET chunk_id = ?, file_path = ? WHERE chunk_id = ?`,
			r.newID, newPath, r.oldID); err != nil {
			return nil, fmt.Errorf("failed to rename symbols for chunk %s: %w", r.oldID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET path = ? WHERE path = ?`, newPath, oldPath); err != nil {
		return nil, fmt.Errorf("failed to rename file %s: %w", oldPath, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	out := make([]ChunkIDRename, len(renames))
	for i, r := range renames {
		out[i] = ChunkIDRename{OldID: r.oldID, NewID: r.newID, Kind: r.kind, Embedding: r.embedding, Content: r.content}
	}
	return out, nil
}

// GetChunk returns a single chunk by ID, or nil when absent.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return chunks[0], nil
}

// GetChunks returns the chunks for the given IDs. Missing IDs are skipped,
// so the result may be shorter than the input.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	if len(ids) == 0 {
		return []*chunk.Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`%s WHERE id IN (%s)`, chunkSelect, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*chunk.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the requested order.
	out := make([]*chunk.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChunksByPath returns every chunk belonging to path, ordered by start line.
func (s *SQLiteStore) GetChunksByPath(ctx context.Context, path string) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		chunkSelect+` WHERE file_path = ? ORDER BY start_line`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var out []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetEmbeddings returns the stored embeddings for the given chunk IDs.
// Chunks without a stored embedding are omitted.
func (s *SQLiteStore) GetEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL AND id IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if vec := decodeVector(blob); vec != nil {
			out[id] = vec
		}
	}
	return out, rows.Err()
}

// GetFile returns the file record for path, or nil when the file is not indexed.
func (s *SQLiteStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, fileSelect+` WHERE path = ?`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", path, err)
	}
	return f, nil
}

// ListFiles returns every indexed file ordered by path.
func (s *SQLiteStore) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, fileSelect+` ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	// Return empty slice, not nil, for consistent API behavior
	out := []*FileRecord{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// QueryFiles returns files whose path contains the query substring.
func (s *SQLiteStore) QueryFiles(ctx context.Context, pathQuery string, limit int) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		fileSelect+` WHERE path LIKE ? ESCAPE '\' ORDER BY path LIMIT ?`,
		"%"+escapeLike(pathQuery)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	out := []*FileRecord{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SymbolQuery filters a Symbols collection lookup.
type SymbolQuery struct {
	Name   string   // Required. Exact match unless Prefix is set.
	Prefix bool     // Match symbols whose name starts with Name.
	Kinds  []string // Optional kind filter.
	Limit  int
}

// QuerySymbols looks up symbol records by name. Results are ordered by name
// then file path for determinism.
func (s *SQLiteStore) QuerySymbols(ctx context.Context, q SymbolQuery) ([]*SymbolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []any
	if q.Prefix {
		where = append(where, `name LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(q.Name)+"%")
	} else {
		where = append(where, `name = ?`)
		args = append(args, q.Name)
	}
	if len(q.Kinds) > 0 {
		placeholders := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		where = append(where, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, chunk_id, file_path, name, kind, parent, start_line, end_line,
			signature, doc_comment, complexity
		FROM symbols WHERE %s
		ORDER BY name, file_path, start_line LIMIT ?`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	out := []*SymbolRecord{}
	for rows.Next() {
		var r SymbolRecord
		if err := rows.Scan(&r.ID, &r.ChunkID, &r.FilePath, &r.Name, &r.Kind,
			&r.Parent, &r.StartLine, &r.EndLine, &r.Signature, &r.DocComment,
			&r.Complexity); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpsertPatterns inserts or replaces pattern records.
func (s *SQLiteStore) UpsertPatterns(ctx context.Context, patterns []*PatternRecord) error {
	if len(patterns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO patterns (id, type, name, description, example, usage_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare pattern upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range patterns {
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Type, p.Name, p.Description, p.Example, p.UsageCount,
			p.UpdatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to upsert pattern %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// DeletePatterns removes pattern records by ID.
func (s *SQLiteStore) DeletePatterns(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM patterns WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete patterns: %w", err)
	}
	return nil
}

// QueryPatterns returns patterns matching the optional type filter, most used
// first.
func (s *SQLiteStore) QueryPatterns(ctx context.Context, patternType string, limit int) ([]*PatternRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, type, name, description, example, usage_count, updated_at
		FROM patterns`
	var args []any
	if patternType != "" {
		query += ` WHERE type = ?`
		args = append(args, patternType)
	}
	query += ` ORDER BY usage_count DESC, name LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	out := []*PatternRecord{}
	for rows.Next() {
		var p PatternRecord
		var updatedAt int64
		if err := rows.Scan(&p.ID, &p.Type, &p.Name, &p.Description, &p.Example,
			&p.UsageCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetState returns the value for key, or "" when unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a key-value pair.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// RecordCounts holds row counts per table for status reporting.
type RecordCounts struct {
	Files    int
	Chunks   int
	Symbols  int
	Patterns int
}

// Counts returns the row counts for every collection.
func (s *SQLiteStore) Counts(ctx context.Context) (RecordCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts RecordCounts
	if s.closed {
		return counts, fmt.Errorf("store is closed")
	}

	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"files", &counts.Files},
		{"chunks", &counts.Chunks},
		{"symbols", &counts.Symbols},
		{"patterns", &counts.Patterns},
	} {
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+q.table).Scan(q.dst); err != nil {
			return counts, fmt.Errorf("failed to count %s: %w", q.table, err)
		}
	}
	return counts, nil
}

// Close closes the store. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

const chunkSelect = `SELECT id, file_path, content, context, kind, language,
	start_line, end_line, symbol_name, token_count, content_hash, degraded,
	created_at, updated_at FROM chunks`

const fileSelect = `SELECT path, language, content_hash, size, mod_time,
	chunk_count, indexed_at FROM files`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*chunk.Chunk, error) {
	var c chunk.Chunk
	var kind string
	var degraded int
	var createdAt, updatedAt int64
	if err := row.Scan(&c.ID, &c.FilePath, &c.Content, &c.Context, &kind,
		&c.Language, &c.StartLine, &c.EndLine, &c.SymbolName, &c.TokenCount,
		&c.ContentHash, &degraded, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	c.Kind = chunk.Kind(kind)
	c.Degraded = degraded != 0
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &c, nil
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var f FileRecord
	var modTime, indexedAt int64
	if err := row.Scan(&f.Path, &f.Language, &f.ContentHash, &f.Size,
		&modTime, &f.ChunkCount, &indexedAt); err != nil {
		return nil, err
	}
	f.ModTime = time.Unix(modTime, 0).UTC()
	f.IndexedAt = time.Unix(indexedAt, 0).UTC()
	return &f, nil
}

func chunkIDsByPathTx(ctx context.Context, tx *sql.Tx, path string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE file_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk IDs for %s: %w", path, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func symbolID(chunkID, name string, startLine int) string {
	return fmt.Sprintf("%s:%s:%d", chunkID, name, startLine)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// encodeVector packs a float32 vector as little-endian bytes for BLOB storage.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a BLOB written by encodeVector. Returns nil for empty
// or malformed blobs.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
