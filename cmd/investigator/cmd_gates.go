package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"investigator/internal/format"
)

func (a *cli) gatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gates <case>",
		Short: "Evaluate all gates and write control/gate_results.json",
		Long:  "Evaluates the eleven gates from disk state. Exits 0 when every gate passes, 1 otherwise.",
		Args:  cobra.ExactArgs(1),
	}
	outFmt := outputFlag(cmd, "table")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := a.open(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		rep, err := c.RunGates(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if *outFmt == "json" {
			if err := writeJSON(out, rep); err != nil {
				return err
			}
		} else {
			m, err := tableMode(*outFmt)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, format.GateTable(rep, m).String())
			if !rep.Overall {
				fmt.Fprintf(out, "\nBlocking: %v\n", rep.BlockingGates)
			}
		}
		if !rep.Overall {
			return exitCode(1)
		}
		return nil
	}
	return cmd
}
