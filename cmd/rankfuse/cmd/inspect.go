package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/rankfuse/internal/dataset"
	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
	"github.com/Aman-CERP/rankfuse/internal/output"
)

func newInspectCmd() *cobra.Command {
	var (
		qid string
		top int
	)

	cmd := &cobra.Command{
		Use:   "inspect RUN",
		Short: "Show the head of a run file",
		Long: `Print how many queries a run file holds and the top results of one
query (the first one unless --qid is given). Useful as a quick sanity check
after 'rankfuse run'.`,
		Example: `  rankfuse inspect runs/hybrid.jsonl
  rankfuse inspect runs/hybrid.jsonl --qid q42 --top 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := dataset.ReadRun(args[0])
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.KeyValue("Queries", len(records))
			if len(records) == 0 {
				out.Warning("Run file is empty")
				return nil
			}

			rec := records[0]
			if qid != "" {
				found := false
				for _, r := range records {
					if r.QID == qid {
						rec, found = r, true
						break
					}
				}
				if !found {
					return rferrors.New(rferrors.ErrCodeMalformedInput,
						fmt.Sprintf("qid %q not found in %s", qid, args[0]), nil)
				}
			}

			out.KeyValue("QID", rec.QID)
			out.KeyValue("Results", len(rec.Results))
			for i, r := range rec.Results.Head(top) {
				out.Statusf(fmt.Sprintf("%3d.", i+1), "%s  %.6f", r.DocID, r.Score)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&qid, "qid", "", "Query to show (default: first in file)")
	cmd.Flags().IntVar(&top, "top", 3, "Number of results to show")

	return cmd
}
