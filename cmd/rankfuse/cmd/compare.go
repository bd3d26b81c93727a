package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rankfuse/internal/eval"
	"github.com/Aman-CERP/rankfuse/internal/output"
)

func newCompareCmd() *cobra.Command {
	var (
		qrelsPath     string
		baselinePath  string
		runPath       string
		threshold     float64
		jsonOutput    bool
		failOnRegress bool
		opts          = eval.DefaultOptions()
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare a run against a baseline run",
		Long: `Evaluate two run files against the same qrels and report the change in
every metric. A relative drop larger than --threshold is a regression; with
--fail the command exits non-zero when any metric regresses.`,
		Example: `  rankfuse compare --qrels data/qrels.jsonl --baseline runs/bm25.jsonl --run runs/rrf.jsonl
  rankfuse compare --qrels data/qrels.jsonl --baseline runs/main.jsonl --run runs/new.jsonl --threshold 0.02 --fail`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := eval.EvaluateFiles(qrelsPath, baselinePath, opts)
			if err != nil {
				return err
			}
			cur, err := eval.EvaluateFiles(qrelsPath, runPath, opts)
			if err != nil {
				return err
			}
			cmp, err := eval.Compare(base, cur, threshold)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(cmp); err != nil {
					return err
				}
			} else {
				printComparison(output.New(cmd.OutOrStdout()), cmp)
			}

			if failOnRegress && cmp.Regressed() {
				return fmt.Errorf("%d metrics regressed by more than %.0f%%", cmp.Regressions, threshold*100)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&qrelsPath, "qrels", "", "Qrels JSONL file (required)")
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "Baseline run JSONL file (required)")
	cmd.Flags().StringVar(&runPath, "run", "", "Run JSONL file to compare (required)")
	cmd.Flags().IntSliceVar(&opts.RecallKs, "k", eval.DefaultRecallKs, "Recall cutoffs")
	cmd.Flags().IntVar(&opts.MRRK, "mrr-k", eval.DefaultMRRK, "MRR cutoff")
	cmd.Flags().IntVar(&opts.MinRel, "min-rel", opts.MinRel, "Minimum relevance counted as relevant")
	cmd.Flags().Float64Var(&threshold, "threshold", eval.DefaultRegressionThreshold, "Relative change treated as a regression or improvement")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the comparison as JSON")
	cmd.Flags().BoolVar(&failOnRegress, "fail", false, "Exit non-zero when any metric regresses")
	_ = cmd.MarkFlagRequired("qrels")
	_ = cmd.MarkFlagRequired("baseline")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func printComparison(out *output.Writer, c *eval.Comparison) {
	out.Heading(fmt.Sprintf("%-12s %10s %10s %9s", "METRIC", "BASELINE", "CURRENT", "DELTA"))
	for _, m := range c.Metrics {
		line := fmt.Sprintf("%-12s %10.4f %10.4f %+8.1f%%", m.Name, m.Baseline, m.Current, m.Relative*100)
		switch m.Status {
		case eval.StatusRegressed:
			out.Error(line)
		case eval.StatusImproved:
			out.Success(line)
		default:
			out.Status("  ", line)
		}
	}
	out.Newline()
	out.KeyValue("Regressions", c.Regressions)
	out.KeyValue("Improvements", c.Improvements)
	out.KeyValue("Unchanged", c.Unchanged)
}
