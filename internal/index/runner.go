// Package index builds the on-disk sparse and dense indexes that a run
// retrieves from, and opens them again for querying.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/rankfuse/internal/config"
	"github.com/Aman-CERP/rankfuse/internal/dataset"
	"github.com/Aman-CERP/rankfuse/internal/embed"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/store"
)

// DefaultBatchSize is the number of docs indexed and embedded together.
const DefaultBatchSize = 64

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// DocsPath is the corpus JSONL file.
	DocsPath string

	// MaxDocChars truncates doc text before indexing (0 keeps it whole).
	MaxDocChars int

	// BatchSize is the number of docs per BM25/embed/vector batch.
	BatchSize int

	// Force removes an existing index before building.
	Force bool
}

// RunnerResult contains the outcome of an indexing run.
type RunnerResult struct {
	Documents int
	Skipped   int
	Duration  time.Duration
	Manifest  *Manifest
}

// ProgressFunc is called after each batch with the running doc count.
type ProgressFunc func(indexed int)

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Embedder produces dense vectors (required).
	Embedder embed.Embedder

	// Options picks the index directory and backends.
	Options Options

	// Progress is optional.
	Progress ProgressFunc

	Logger *slog.Logger
}

// Runner builds an index directory from a docs file.
type Runner struct {
	embedder embed.Embedder
	opts     Options
	progress ProgressFunc
	logger   *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Options.Dir == "" {
		return nil, rferrors.ConfigurationError("index directory is required", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		embedder: deps.Embedder,
		opts:     deps.Options,
		progress: deps.Progress,
		logger:   logger,
	}, nil
}

// stageTiming tracks duration for each indexing stage.
type stageTiming struct {
	read  time.Duration
	bm25  time.Duration
	embed time.Duration
	save  time.Duration
}

// Run streams docs in batches: BM25 index, embed, vector add. Both indexes
// are saved at the end. The index directory is locked for the whole run.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	startTime := time.Now()
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	lock := NewDirLock(r.opts.Dir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			r.logger.Warn("index_unlock_failed", slog.String("error", err.Error()))
		}
	}()

	ix, err := Create(r.opts, r.embedder, cfg.Force)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ix.Close() }()

	r.logger.Info("index_started",
		slog.String("docs", cfg.DocsPath),
		slog.String("dir", r.opts.Dir),
		slog.String("bm25_backend", r.opts.BM25Backend),
		slog.String("vector_backend", r.opts.VectorBackend),
		slog.String("embedder", r.embedder.ModelName()),
		slog.Int("batch_size", batchSize))

	var (
		timing  stageTiming
		batch   = make([]*store.Document, 0, batchSize)
		indexed int
		skipped int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("indexing interrupted at %d docs: %w", indexed, err)
		}
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}

		embedStart := time.Now()
		vectors, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return rferrors.New(rferrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("failed to embed docs %d-%d", indexed, indexed+len(batch)), err)
		}
		timing.embed += time.Since(embedStart)

		addStart := time.Now()
		if err := ix.Add(ctx, batch, vectors); err != nil {
			return rferrors.New(rferrors.ErrCodeWriteFailed, "failed to add batch", err)
		}
		timing.bm25 += time.Since(addStart)

		indexed += len(batch)
		batch = batch[:0]
		if r.progress != nil {
			r.progress(indexed)
		}
		return nil
	}

	readStart := time.Now()
	anomaly := func(a *rferrors.RankError) {
		skipped++
		r.logger.Warn("data_anomaly", rferrors.LogArgs(a)...)
	}
	err = dataset.ScanDocs(cfg.DocsPath, cfg.MaxDocChars, anomaly, func(doc *store.Document) error {
		batch = append(batch, doc)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return nil, err
	}
	timing.read = time.Since(readStart) - timing.embed - timing.bm25

	saveStart := time.Now()
	if err := ix.Save(); err != nil {
		return nil, rferrors.New(rferrors.ErrCodeWriteFailed, "failed to save index", err)
	}
	// Repeated doc ids replace earlier entries, so count what was kept.
	documents := indexed
	if stats := ix.BM25.Stats(); stats != nil {
		documents = stats.DocumentCount
	}
	m := &Manifest{
		Version:       ManifestVersion,
		DocsPath:      cfg.DocsPath,
		Documents:     documents,
		Skipped:       skipped,
		BM25Backend:   string(bm25Backend(r.opts.BM25Backend)),
		VectorBackend: vectorBackend(r.opts.VectorBackend),
		EmbedderModel: r.embedder.ModelName(),
		Dimensions:    r.embedder.Dimensions(),
		MaxDocChars:   cfg.MaxDocChars,
		BuiltAt:       time.Now().UTC(),
	}
	if err := WriteManifest(r.opts.Dir, m); err != nil {
		return nil, err
	}
	timing.save = time.Since(saveStart)

	duration := time.Since(startTime)
	docsPerSec := 0.0
	if timing.embed.Seconds() > 0 {
		docsPerSec = float64(indexed) / timing.embed.Seconds()
	}
	r.logger.Info("index_complete",
		slog.Int("documents", documents),
		slog.Int("skipped", skipped),
		slog.Int64("duration_total_ms", duration.Milliseconds()),
		slog.Int64("duration_read_ms", timing.read.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_index_ms", timing.bm25.Milliseconds()),
		slog.Int64("duration_save_ms", timing.save.Milliseconds()),
		slog.Int("embedder_dimensions", m.Dimensions),
		slog.Float64("docs_per_sec", docsPerSec))

	return &RunnerResult{
		Documents: documents,
		Skipped:   skipped,
		Duration:  duration,
		Manifest:  m,
	}, nil
}

func bm25Backend(s string) store.BM25Backend {
	if s == "" {
		return store.BM25BackendSQLite
	}
	return store.BM25Backend(s)
}

func vectorBackend(s string) string {
	if s == "" {
		return config.VectorBackendHNSW
	}
	return s
}
