package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"investigator/internal/format"
)

func (a *cli) statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <case>",
		Short: "Show phase, gates, lead counts and the last gap digest",
		Long:  "Read-only overview of a case. Nothing under the case directory is written.",
		Args:  cobra.ExactArgs(1),
	}
	outFmt := outputFlag(cmd, "table")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := a.open(args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		if *outFmt == "json" {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		m, err := tableMode(*outFmt)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), format.Status(st, m))
		return nil
	}
	return cmd
}
