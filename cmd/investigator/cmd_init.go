package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"investigator/internal/wiring"
)

func (a *cli) initCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "init <case>",
		Short: "Lay out a new case directory in the PLAN phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			created, err := wiring.Init(dir, topic)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Initialized case %s\n", dir)
			} else {
				fmt.Fprintf(out, "Case %s already initialized\n", dir)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Investigation topic; seeds refined_prompt.md when it does not exist")
	return cmd
}
