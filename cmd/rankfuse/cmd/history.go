package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/logging"
	"github.com/Aman-CERP/rankfuse/internal/output"
	"github.com/Aman-CERP/rankfuse/internal/telemetry"
)

// defaultHistoryPath returns ~/.rankfuse/history.db.
func defaultHistoryPath() string {
	return filepath.Join(logging.DefaultDataDir(), "history.db")
}

func newHistoryCmd() *cobra.Command {
	var (
		path       string
		limit      int
		terms      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded with 'rankfuse run --history'",
		Example: `  rankfuse run -q data/queries.jsonl -o runs/rrf.jsonl --history ~/.rankfuse/history.db
  rankfuse history --limit 5 --terms 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(path); err != nil {
				return rferrors.New(rferrors.ErrCodeFileNotFound,
					fmt.Sprintf("no run history at %s", path), err).
					WithSuggestion("record runs with 'rankfuse run --history " + path + "'")
			}
			h, err := telemetry.OpenHistory(path)
			if err != nil {
				return rferrors.IOError("failed to open run history", err)
			}
			defer func() { _ = h.Close() }()

			runs, err := h.ListRuns(limit)
			if err != nil {
				return rferrors.IOError("failed to read run history", err)
			}
			var top []telemetry.TermCount
			if terms > 0 {
				if top, err = h.TopTerms(terms); err != nil {
					return rferrors.IOError("failed to read run history", err)
				}
			}

			if jsonOutput {
				return writeHistoryJSON(cmd, runs, top)
			}
			printHistory(output.New(cmd.OutOrStdout()), runs, top)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "history", defaultHistoryPath(), "History database path")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list, newest first")
	cmd.Flags().IntVar(&terms, "terms", 0, "Also list this many of the most frequent query terms")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type historyRunJSON struct {
	RunID      string    `json:"run_id"`
	Label      string    `json:"label"`
	RunPath    string    `json:"run_path"`
	Retrieval  string    `json:"retrieval"`
	Rerank     bool      `json:"rerank"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Queries    int64     `json:"queries"`
	Failed     int64     `json:"failed"`
	ZeroResult int64     `json:"zero_result"`
}

func writeHistoryJSON(cmd *cobra.Command, runs []telemetry.RunRecord, top []telemetry.TermCount) error {
	payload := struct {
		Runs  []historyRunJSON      `json:"runs"`
		Terms []telemetry.TermCount `json:"terms,omitempty"`
	}{Runs: make([]historyRunJSON, 0, len(runs)), Terms: top}

	for _, r := range runs {
		payload.Runs = append(payload.Runs, historyRunJSON{
			RunID:      r.RunID,
			Label:      r.Label,
			RunPath:    r.RunPath,
			Retrieval:  r.Retrieval,
			Rerank:     r.Rerank,
			StartedAt:  r.StartedAt,
			DurationMS: r.Duration.Milliseconds(),
			Queries:    r.Queries,
			Failed:     r.Failed,
			ZeroResult: r.ZeroResult,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func printHistory(out *output.Writer, runs []telemetry.RunRecord, top []telemetry.TermCount) {
	if len(runs) == 0 {
		out.Status("", "No runs recorded")
		return
	}
	out.Heading("Runs")
	for _, r := range runs {
		retrieval := r.Retrieval
		if r.Rerank {
			retrieval += "+rerank"
		}
		out.Statusf("->", "%s  %-12s %-14s %d queries, %d failed, %d empty (%s)",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Label, retrieval,
			r.Queries, r.Failed, r.ZeroResult, r.Duration)
	}
	if len(top) > 0 {
		out.Newline()
		out.Heading("Top query terms")
		for _, tc := range top {
			out.KeyValue(tc.Term, tc.Count)
		}
	}
}
