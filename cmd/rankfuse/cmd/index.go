package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rankfuse/internal/config"
	"github.com/Aman-CERP/rankfuse/internal/embed"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/index"
	"github.com/Aman-CERP/rankfuse/internal/output"
)

type indexOptions struct {
	configPath string
	docsPath   string
	indexDir   string
	batchSize  int
	force      bool
	check      bool
	repair     bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the sparse and dense indexes from a docs file",
		Long: `Build the BM25 and vector indexes that 'rankfuse run' retrieves from.

Each line of the docs file is {"doc_id", "title", "text"}. Title and text
are joined and optionally truncated to rerank.max_doc_chars. Lines
without a doc_id are skipped and reported.

With --check the existing index is verified instead of rebuilt.`,
		Example: `  # Build with the configured backends
  rankfuse index --docs data/docs.jsonl

  # Rebuild into another directory with bleve
  RANKFUSE_BM25_BACKEND=bleve rankfuse index --docs data/docs.jsonl --index-dir idx/bleve --force

  # Verify an existing index
  rankfuse index --check`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.indexDir != "" {
				cfg.Retrieval.IndexDir = opts.indexDir
			}
			if opts.check || opts.repair {
				return runIndexCheck(cmd.Context(), cmd, cfg, opts.repair)
			}
			return runIndex(cmd.Context(), cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&opts.docsPath, "docs", "", "Corpus docs.jsonl (default: rerank.docs_path)")
	cmd.Flags().StringVar(&opts.indexDir, "index-dir", "", "Index directory (default: retrieval.index_dir)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", index.DefaultBatchSize, "Docs per index/embed batch")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace an existing index")
	cmd.Flags().BoolVar(&opts.check, "check", false, "Verify the existing index instead of building")
	cmd.Flags().BoolVar(&opts.repair, "repair", false, "Verify and remove orphan vectors")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())
	logger := commandLogger(cfg)

	docsPath := opts.docsPath
	if docsPath == "" {
		docsPath = cfg.Rerank.DocsPath
	}
	if docsPath == "" {
		return rferrors.ConfigurationError("no docs file to index", nil).
			WithSuggestion("pass --docs or set rerank.docs_path")
	}

	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedOptions())
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Embedder: embedder,
		Options:  index.OptionsFromConfig(cfg),
		Progress: func(n int) { out.Counter(n, "docs indexed") },
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	out.Statusf("->", "Indexing %s into %s", docsPath, cfg.Retrieval.IndexDir)
	res, err := runner.Run(ctx, index.RunnerConfig{
		DocsPath:    docsPath,
		MaxDocChars: cfg.Rerank.MaxDocChars,
		BatchSize:   opts.batchSize,
		Force:       opts.force,
	})
	out.ProgressDone()
	if err != nil {
		return err
	}

	out.Successf("Indexed %d documents in %s", res.Documents, res.Duration.Round(time.Millisecond))
	if res.Skipped > 0 {
		out.Warningf("%d lines skipped (see log for details)", res.Skipped)
	}
	out.KeyValue("BM25", res.Manifest.BM25Backend)
	out.KeyValue("Vectors", res.Manifest.VectorBackend)
	out.KeyValue("Embedder", fmt.Sprintf("%s (%d dims)", res.Manifest.EmbedderModel, res.Manifest.Dimensions))
	return nil
}

func runIndexCheck(ctx context.Context, cmd *cobra.Command, cfg *config.Config, repair bool) error {
	out := output.New(cmd.OutOrStdout())

	embedder, err := embed.NewEmbedder(ctx, cfg.EmbedOptions())
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	opts := index.OptionsFromConfig(cfg)
	if repair {
		lock := index.NewDirLock(opts.Dir)
		if err := lock.TryLock(); err != nil {
			return err
		}
		defer func() { _ = lock.Unlock() }()
	}

	ix, manifest, err := index.Open(opts, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	checker := index.NewConsistencyChecker(ix, manifest)
	res, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	if res.OK() {
		out.Successf("Index consistent (%d documents checked in %s)", res.Checked, res.Duration.Round(time.Millisecond))
		return nil
	}

	for _, issue := range res.Inconsistencies {
		if issue.DocID != "" {
			out.Warningf("%s %s: %s", issue.Type, issue.DocID, issue.Details)
		} else {
			out.Warningf("%s: %s", issue.Type, issue.Details)
		}
	}

	if !repair {
		return fmt.Errorf("index has %d inconsistencies (rerun with --repair or rebuild with --force)", len(res.Inconsistencies))
	}

	if err := checker.Repair(ctx, res.Inconsistencies); err != nil {
		return err
	}
	slog.Info("index_repaired", slog.String("dir", opts.Dir), slog.Int("issues", len(res.Inconsistencies)))
	out.Success("Orphan vectors removed; missing vectors need a rebuild with --force")
	return nil
}
