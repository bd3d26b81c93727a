// Package cmd provides the CLI commands for rankfuse.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rankfuse/internal/config"
	"github.com/Aman-CERP/rankfuse/internal/logging"
	"github.com/Aman-CERP/rankfuse/internal/profiling"
	"github.com/Aman-CERP/rankfuse/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profSession  *profiling.Session
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the rankfuse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rankfuse",
		Short: "Fuse, rerank, and evaluate ranked retrieval runs",
		Long: `rankfuse runs offline ranked retrieval experiments.

It builds sparse (BM25) and dense indexes over a docs.jsonl corpus,
retrieves with bm25, dense, hybrid, or rrf fusion, optionally reranks a
candidate window with a pairwise scorer, writes a JSONL run, and scores
that run against qrels with Recall@k and MRR@k.`,
		Example: `  rankfuse index --docs data/docs.jsonl
  rankfuse run --queries data/queries.jsonl --out runs/hybrid.jsonl
  rankfuse eval --qrels data/qrels.jsonl --run runs/hybrid.jsonl`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("rankfuse version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.rankfuse/logs/")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newCompareCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts profiling and sets up the default logger.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	if debugMode {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}

	opts := profiling.Options{CPU: profileCPU, Heap: profileMem, Trace: profileTrace}
	if opts.Enabled() {
		profSession, err = profiling.Start(opts)
		if err != nil {
			return err
		}
	}
	return nil
}

// stopProfilingAndLogging stops profiling, writes the heap profile if
// requested, and flushes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profSession != nil {
		err = profSession.Stop()
		profSession = nil
		slog.Debug("profiling_stopped", slog.String("heap_in_use", profiling.FormatBytes(profiling.HeapInUse())))
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// commandLogger returns the logger for a command that has loaded cfg.
// Under --debug the file logger from the root hook is kept; otherwise the
// configured level applies to stderr output.
func commandLogger(cfg *config.Config) *slog.Logger {
	if debugMode {
		return slog.Default()
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logger, _, err := logging.Setup(logCfg)
	if err != nil {
		return slog.Default()
	}
	return logger
}
