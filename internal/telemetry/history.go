package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

// RunRecord is one row of the run history.
type RunRecord struct {
	RunID      string
	Label      string
	RunPath    string
	Retrieval  string
	Rerank     bool
	StartedAt  time.Time
	Duration   time.Duration
	Queries    int64
	Failed     int64
	ZeroResult int64
}

// History is a SQLite ledger of completed runs, their latency distribution,
// and the query terms they used. It outlives individual run manifests.
type History struct {
	db *sql.DB
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if err := initHistorySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

func initHistorySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		run_path TEXT NOT NULL,
		retrieval TEXT NOT NULL,
		rerank INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		queries INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		zero_result INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	-- Latency histogram per run
	CREATE TABLE IF NOT EXISTS run_latency (
		run_id TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, bucket)
	);

	-- Query terms across all runs
	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// RecordRun stores a run and its profile in one transaction. Recording the
// same run id twice replaces the run row but accumulates term counts.
func (h *History) RecordRun(rec RunRecord, snap *ProfileSnapshot) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs
			(run_id, label, run_path, retrieval, rerank, started_at, duration_ms, queries, failed, zero_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Label, rec.RunPath, rec.Retrieval, rec.Rerank,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds(),
		rec.Queries, rec.Failed, rec.ZeroResult)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if snap != nil {
		latency, err := tx.Prepare(`
			INSERT INTO run_latency (run_id, bucket, count)
			VALUES (?, ?, ?)
			ON CONFLICT(run_id, bucket) DO UPDATE SET count = excluded.count
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer latency.Close()
		for bucket, count := range snap.LatencyDistribution {
			if _, err := latency.Exec(rec.RunID, string(bucket), count); err != nil {
				return fmt.Errorf("insert latency count: %w", err)
			}
		}

		terms, err := tx.Prepare(`
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = CURRENT_TIMESTAMP
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer terms.Close()
		for _, tc := range snap.TopTerms {
			if _, err := terms.Exec(tc.Term, tc.Count); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (h *History) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := h.db.Query(`
		SELECT run_id, label, run_path, retrieval, rerank, started_at, duration_ms, queries, failed, zero_result
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			started    string
			durationMS int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Label, &rec.RunPath, &rec.Retrieval, &rec.Rerank,
			&started, &durationMS, &rec.Queries, &rec.Failed, &rec.ZeroResult); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// LatencyCounts returns the latency distribution recorded for a run.
func (h *History) LatencyCounts(runID string) (map[LatencyBucket]int64, error) {
	rows, err := h.db.Query(`SELECT bucket, count FROM run_latency WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// TopTerms returns the most frequent query terms across all recorded runs.
func (h *History) TopTerms(limit int) ([]TermCount, error) {
	rows, err := h.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
