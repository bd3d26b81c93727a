package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

// SQLiteBM25Index implements BM25Index on SQLite FTS5.
// Content is analyzed in Go before insertion so both backends agree on
// tokens; FTS5 only splits on whitespace and scores with bm25().
type SQLiteBM25Index struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	closed    bool
	stopWords map[string]struct{}
	minLen    int
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// checkSQLiteIndex reports whether an existing database file is usable.
// A missing file is fine; it will be created.
func checkSQLiteIndex(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
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

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_docs'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_docs' missing")
	}
	return nil
}

// NewSQLiteBM25Index opens or creates an FTS5 index at path.
// An empty path creates an in-memory index. A corrupt file is removed and
// recreated empty, with a warning.
func NewSQLiteBM25Index(path string, config BM25Config) (*SQLiteBM25Index, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if bad := checkSQLiteIndex(path); bad != nil {
			slog.Warn("sqlite_bm25_index_corrupted",
				slog.String("path", path),
				slog.String("error", bad.Error()))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, err, bad)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: an in-memory database is per-connection, and a
	// single writer avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	minLen := config.MinTokenLength
	if minLen <= 0 {
		minLen = 1
	}
	idx := &SQLiteBM25Index{
		db:        db,
		path:      path,
		stopWords: BuildStopWordMap(config.StopWords),
		minLen:    minLen,
	}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteBM25Index) initSchema() error {
	_, err := s.db.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_docs USING fts5(
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	CREATE TABLE IF NOT EXISTS doc_ids (
		doc_id TEXT PRIMARY KEY
	);
	`)
	return err
}

// Index adds documents. An existing ID is replaced.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 has no REPLACE; delete then insert.
	del, err := tx.PrepareContext(ctx, `DELETE FROM fts_docs WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `INSERT INTO fts_docs(doc_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer ins.Close()

	track, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO doc_ids(doc_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare id statement: %w", err)
	}
	defer track.Close()

	for _, doc := range docs {
		content := strings.Join(Analyze(doc.Content, s.stopWords, s.minLen), " ")
		if _, err := del.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to replace document %s: %w", doc.ID, err)
		}
		if _, err := ins.ExecContext(ctx, doc.ID, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := track.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to track document %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// matchExpr builds an FTS5 OR query from analyzed terms.
func matchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Search returns documents containing any analyzed query term, best first.
func (s *SQLiteBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	terms := Analyze(query, s.stopWords, s.minLen)
	if len(terms) == 0 || limit <= 0 {
		return []*BM25Result{}, nil
	}

	// bm25() is negative with lower meaning better; ties break on rowid
	// so repeated runs return the same order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_docs) AS score
		FROM fts_docs
		WHERE fts_docs MATCH ?
		ORDER BY score, rowid
		LIMIT ?`, matchExpr(terms), limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]*BM25Result, 0, limit)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &BM25Result{
			DocID:        id,
			Score:        -score,
			MatchedTerms: terms,
		})
	}
	return results, rows.Err()
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *SQLiteBM25Index) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(docIDs)), ",")
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"fts_docs", "doc_ids"} {
		q := fmt.Sprintf("DELETE FROM %s WHERE doc_id IN (%s)", table, placeholders)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// AllIDs returns every indexed ID in lexical order.
func (s *SQLiteBM25Index) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns the document count.
func (s *SQLiteBM25Index) Stats() *IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &IndexStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &IndexStats{}
	}
	return &IndexStats{DocumentCount: count}
}

// Save checkpoints the WAL into the main database file.
func (s *SQLiteBM25Index) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}
	if s.path == "" {
		return nil
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints and closes the database. Safe to call twice.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
