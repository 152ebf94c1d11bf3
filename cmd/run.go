package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geoclip/internal/job"
)

var runCmd = &cobra.Command{
	Use:   "run <job.yaml>",
	Short: "Run a batch of aggregations from a job file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		j, err := job.Load(args[0])
		if err != nil {
			return err
		}
		if j.Workers == 0 {
			j.Workers = cfg.Spatial.Workers
		}
		if j.SRID == 0 {
			j.SRID = cfg.Spatial.SRID
		}
		if j.Charset == "" {
			j.Charset = cfg.Spatial.Charset
		}
		if j.LabelAttribute == "" {
			j.LabelAttribute = cfg.Spatial.LabelAttribute
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		results, err := (&job.Runner{Store: st}).Run(ctx, j)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		formatJobResults(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// formatJobResults writes a table of finished aggregations to w.
func formatJobResults(out io.Writer, results []job.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tPOLYGONS\tMATCHED\tRUN\tOUTPUT")
	for _, r := range results {
		output := r.Output
		if output == "" {
			output = "-"
		}
		runID := truncateID(r.RunID)
		if runID == "" {
			runID = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", r.Name, r.Records, r.Matched, runID, output)
	}
	_ = w.Flush()
}
