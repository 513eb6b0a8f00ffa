package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"investigator/internal/format"
)

func (a *cli) gapsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gaps <case>",
		Short: "Run verifiers and gates, then write control/gaps.json and digest.json",
		Long:  "Aggregates every verifier's gaps with the gate failures. Exits 0 when no blocking gap remains, 1 otherwise.",
		Args:  cobra.ExactArgs(1),
	}
	outFmt := outputFlag(cmd, "table")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := a.open(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		rep, err := c.Aggregate(cmd.Context())
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
			fmt.Fprintln(out, format.VerifierTable(rep, m).String())
			fmt.Fprintln(out)
			if len(rep.All()) > 0 {
				fmt.Fprintln(out, format.GapTable(rep, m).String())
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "Severity: %s\n", format.SeverityCounts(rep.All()))
			if line := format.ChangeLine(rep.Changes); line != "" {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "Written: %s\n", rep.Paths.Gaps)
		}
		if !rep.CanTerminate() {
			return exitCode(1)
		}
		return nil
	}
	return cmd
}
