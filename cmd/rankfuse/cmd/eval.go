package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rankfuse/internal/eval"
	"github.com/Aman-CERP/rankfuse/internal/output"
)

func newEvalCmd() *cobra.Command {
	var (
		qrelsPath  string
		runPath    string
		reportPath string
		jsonOutput bool
		opts       = eval.DefaultOptions()
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score a run file with Recall@k and MRR@k",
		Long: `Score a run file against relevance judgements.

Qrels lines are {"qid", "doc_id", "relevance"}; a doc is relevant when
relevance >= --min-rel. Queries with no relevant docs are skipped. Judged
queries missing from the run score zero.`,
		Example: `  rankfuse eval --qrels data/qrels.jsonl --run runs/hybrid.jsonl
  rankfuse eval --qrels data/qrels.jsonl --run runs/rrf.jsonl --k 10,100 --mrr-k 10 --out runs/rrf.eval.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := eval.EvaluateFiles(qrelsPath, runPath, opts)
			if err != nil {
				return err
			}

			if reportPath != "" {
				if err := eval.WriteReport(reportPath, report); err != nil {
					return err
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			out := output.New(cmd.OutOrStdout())
			out.Heading(fmt.Sprintf("Evaluation of %s", runPath))
			for _, k := range report.RecallKs {
				out.KeyValue(fmt.Sprintf("Recall@%d", k), fmt.Sprintf("%.4f", report.RecallAt(k)))
			}
			out.KeyValue(fmt.Sprintf("MRR@%d", report.MRRK), fmt.Sprintf("%.4f", report.MRR))
			out.KeyValue("Evaluated", fmt.Sprintf("%d of %d judged queries (%d in run)",
				report.NumEvaluated, report.NumQrelsQueries, report.NumRunQueries))
			if reportPath != "" {
				out.Successf("Report written to %s", reportPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&qrelsPath, "qrels", "", "Qrels JSONL file (required)")
	cmd.Flags().StringVar(&runPath, "run", "", "Run JSONL file (required)")
	cmd.Flags().IntSliceVar(&opts.RecallKs, "k", eval.DefaultRecallKs, "Recall cutoffs")
	cmd.Flags().IntVar(&opts.MRRK, "mrr-k", eval.DefaultMRRK, "MRR cutoff")
	cmd.Flags().IntVar(&opts.MinRel, "min-rel", opts.MinRel, "Minimum relevance counted as relevant")
	cmd.Flags().StringVarP(&reportPath, "out", "o", "", "Also write the report as JSON to this path")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("qrels")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}
