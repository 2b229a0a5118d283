package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lexcodex/deepresearch/persistence"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past research runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := persistence.NewFileRunStore(globalCfg.StateDir)
			if err != nil {
				return err
			}
			runs, err := store.List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tTOPIC\tPHASE\tSTATUS\tUPDATED")
			for _, run := range runs {
				status := "in progress"
				if run.Completed {
					status = "completed"
				} else if run.State != nil && run.State.Error != "" {
					status = "failed"
				}
				topic := ""
				if run.State != nil {
					topic = run.State.Topic()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					run.RunID, topic, run.Phase, status, run.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	return cmd
}
