package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rankfuse/internal/config"
	"github.com/Aman-CERP/rankfuse/internal/dataset"
	"github.com/Aman-CERP/rankfuse/internal/embed"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/index"
	"github.com/Aman-CERP/rankfuse/internal/output"
	"github.com/Aman-CERP/rankfuse/internal/search"
	"github.com/Aman-CERP/rankfuse/internal/telemetry"
	"github.com/Aman-CERP/rankfuse/pkg/version"
)

type runOptions struct {
	configPath  string
	queriesPath string
	outPath     string
	indexDir    string
	metricsPath string
	historyPath string
	failFast    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Retrieve (and optionally rerank) every query and write a run file",
		Long: `Run every query in the queries file through first-stage retrieval and,
when rerank.enabled is set, the rerank stage. Results are written as JSONL,
one {"qid", "results": [{"doc_id", "score"}]} line per query, in input
order. A manifest with the run id, config, and failed qids is written next
to the run file.

A query whose retriever or scorer fails is written with empty results and
listed in the manifest, unless --fail-fast is set.`,
		Example: `  rankfuse run --queries data/queries.jsonl --out runs/hybrid.jsonl

  # RRF with rerank, exporting Prometheus metrics
  RANKFUSE_RETRIEVAL_TYPE=rrf RANKFUSE_RERANK=true \
    rankfuse run -c exp.yaml --queries data/queries.jsonl --out runs/rrf.jsonl --metrics runs/rrf.prom`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.indexDir != "" {
				cfg.Retrieval.IndexDir = opts.indexDir
			}
			return runQueries(cmd.Context(), cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&opts.queriesPath, "queries", "q", "", "Queries JSONL file (required)")
	cmd.Flags().StringVarP(&opts.outPath, "out", "o", "", "Run JSONL output path (required)")
	cmd.Flags().StringVar(&opts.indexDir, "index-dir", "", "Index directory (default: retrieval.index_dir)")
	cmd.Flags().StringVar(&opts.metricsPath, "metrics", "", "Write Prometheus textfile metrics to this path")
	cmd.Flags().StringVar(&opts.historyPath, "history", "", "Record the run in this history database (see 'rankfuse history')")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Abort on the first failed query")
	_ = cmd.MarkFlagRequired("queries")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runQueries(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts runOptions) error {
	out := output.New(cmd.OutOrStdout())
	logger := commandLogger(cfg)

	queries, err := dataset.ReadQueries(opts.queriesPath)
	if err != nil {
		return err
	}
	out.Statusf("->", "Loaded %d queries from %s", len(queries), opts.queriesPath)

	metrics := telemetry.NewRunMetrics(runLabel(opts.outPath))
	profile := telemetry.NewQueryProfile(telemetry.DefaultProfileConfig())
	onQuery := func(s search.QueryStats) {
		metrics.ObserveQuery(s)
		profile.Observe(s)
	}

	// Everything that can be misconfigured is built before the first query.
	engine, cleanup, err := buildEngine(ctx, cfg, logger, metrics, onQuery, opts.failFast)
	if err != nil {
		return err
	}
	defer cleanup()

	w, err := dataset.CreateRun(opts.outPath)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	manifest := dataset.NewManifest(opts.outPath, cfg)
	manifest.Version = version.Version

	start := time.Now()
	done := 0
	runErr := engine.Run(ctx, queries, func(o search.Outcome) error {
		if o.Err != nil {
			manifest.RecordFailure(o.QID)
		}
		done++
		out.Progress(done, len(queries), "queries")
		return w.Write(o.QID, o.Results)
	})
	if err := w.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		logger.Error("run_failed",
			slog.String("out", opts.outPath),
			slog.Int("written", w.Count()),
			slog.String("error", runErr.Error()))
		return runErr
	}

	manifest.Finish(len(queries))
	snap := profile.Snapshot()
	manifest.Profile = snap
	manifestPath, err := dataset.WriteManifest(manifest)
	if err != nil {
		return err
	}
	if opts.metricsPath != "" {
		if err := metrics.WriteTextfile(opts.metricsPath); err != nil {
			return err
		}
	}

	if opts.historyPath != "" {
		if err := recordHistory(opts.historyPath, manifest, cfg, snap); err != nil {
			return err
		}
	}

	logger.Info("run_complete",
		slog.String("run_id", manifest.RunID),
		slog.String("retrieval", cfg.Retrieval.Type),
		slog.Bool("rerank", cfg.Rerank.Enabled),
		slog.Int("queries", len(queries)),
		slog.Int("failed", len(manifest.FailedQIDs)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	out.Successf("Wrote %d queries to %s", w.Count(), opts.outPath)
	out.KeyValue("Run ID", manifest.RunID)
	out.KeyValue("Manifest", manifestPath)
	if opts.metricsPath != "" {
		out.KeyValue("Metrics", opts.metricsPath)
	}
	if snap.ZeroResultCount > 0 {
		out.KeyValue("Zero results", fmt.Sprintf("%d (%.1f%%)", snap.ZeroResultCount, snap.ZeroResultPercentage()))
	}
	if n := len(manifest.FailedQIDs); n > 0 {
		out.Warningf("%d queries failed and were written with empty results", n)
	}
	return nil
}

// buildEngine opens the indexes and wires retriever, rerank stage, and
// metrics hooks. The returned cleanup releases every opened resource.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *telemetry.RunMetrics, onQuery func(search.QueryStats), failFast bool) (*search.Engine, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}
	fail := func(err error) (*search.Engine, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	// The dense side is only opened when the retrieval type reads it.
	var embedder embed.Embedder
	if cfg.RetrievalType() != search.RetrievalBM25 {
		var err error
		embedder, err = embed.NewEmbedder(ctx, cfg.EmbedOptions())
		if err != nil {
			return fail(err)
		}
		closers = append(closers, embedder)
	}

	ix, _, err := index.Open(index.OptionsFromConfig(cfg), embedder)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, ix)

	signals, err := ix.Signals()
	if err != nil {
		return fail(err)
	}
	retriever, err := search.NewRetriever(cfg.RetrievalType(), signals, cfg.RetrieverOptions())
	if err != nil {
		return fail(err)
	}

	var orch *search.Orchestrator
	if cfg.Rerank.Enabled {
		docs, err := dataset.LoadDocTexts(cfg.Rerank.DocsPath, cfg.Rerank.MaxDocChars, func(a *rferrors.RankError) {
			logger.Warn("data_anomaly", rferrors.LogArgs(a)...)
			metrics.ObserveAnomaly("", a)
		})
		if err != nil {
			return fail(err)
		}
		scorer, closer, err := newScorer(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		orch, err = search.NewOrchestrator(cfg.SearchRerankConfig(), cfg.Retrieval.TopK, scorer, docs,
			search.WithOrchestratorLogger(logger),
			search.WithAnomalyHook(metrics.ObserveAnomaly))
		if err != nil {
			return fail(err)
		}
		logger.Info("rerank_configured",
			slog.String("provider", cfg.Rerank.Provider),
			slog.String("mode", cfg.Rerank.Mode),
			slog.Int("candidate_k", cfg.Rerank.CandidateK),
			slog.Int("docs", len(docs)))
	}

	engine, err := search.NewEngine(retriever, orch, cfg.EngineConfig(failFast),
		search.WithEngineLogger(logger),
		search.WithQueryHook(onQuery))
	if err != nil {
		return fail(err)
	}
	return engine, cleanup, nil
}

// recordHistory appends the finished run to the history database.
func recordHistory(path string, m *dataset.Manifest, cfg *config.Config, snap *telemetry.ProfileSnapshot) error {
	h, err := telemetry.OpenHistory(path)
	if err != nil {
		return rferrors.IOError("failed to open run history", err)
	}
	defer func() { _ = h.Close() }()

	rec := telemetry.RunRecord{
		RunID:      m.RunID,
		Label:      runLabel(m.RunPath),
		RunPath:    m.RunPath,
		Retrieval:  cfg.Retrieval.Type,
		Rerank:     cfg.Rerank.Enabled,
		StartedAt:  m.StartedAt,
		Duration:   m.FinishedAt.Sub(m.StartedAt),
		Queries:    int64(m.NumQueries),
		Failed:     int64(len(m.FailedQIDs)),
		ZeroResult: snap.ZeroResultCount,
	}
	if err := h.RecordRun(rec, snap); err != nil {
		return rferrors.IOError("failed to record run history", err)
	}
	return nil
}

// newScorer builds the configured pairwise scorer. The closer is nil for
// scorers that hold no resources.
func newScorer(ctx context.Context, cfg *config.Config) (search.PairwiseScorer, io.Closer, error) {
	switch strings.ToLower(cfg.Rerank.Provider) {
	case config.RerankProviderHTTP:
		s, err := search.NewHTTPScorer(ctx, cfg.HTTPScorerConfig())
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.RerankProviderNoOp:
		return search.NoOpScorer{}, nil, nil
	case config.RerankProviderLexical, "":
		return search.NewLexicalScorer(), nil, nil
	default:
		return nil, nil, rferrors.New(rferrors.ErrCodeUnknownMode,
			fmt.Sprintf("unknown rerank provider %q", cfg.Rerank.Provider), nil)
	}
}

// runLabel names a run after its output file: runs/rrf.jsonl -> rrf.
func runLabel(outPath string) string {
	base := filepath.Base(outPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
