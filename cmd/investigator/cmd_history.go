package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"investigator/internal/format"
)

func (a *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <case>",
		Short: "List past gap aggregation runs, newest first",
		Args:  cobra.ExactArgs(1),
	}
	outFmt := outputFlag(cmd, "table")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := a.open(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		runs, err := c.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if *outFmt == "json" {
			if runs == nil {
				return writeJSON(out, []any{})
			}
			return writeJSON(out, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No aggregation runs recorded. Run 'investigator gaps' first.")
			return nil
		}
		m, err := tableMode(*outFmt)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, format.HistoryTable(runs, a.now(), m).String())
		return nil
	}
	return cmd
}
