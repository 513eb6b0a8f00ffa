package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"investigator/internal/display"
	"investigator/internal/orchestrate"
)

// checkResult is the JSON agents read from check-continue.
type checkResult struct {
	orchestrate.Action
	ExitCode int    `json:"exit_code"`
	Prompt   string `json:"prompt,omitempty"`
}

func (a *cli) checkContinueCmd() *cobra.Command {
	var (
		opts   orchestrate.Options
		prompt bool
	)
	cmd := &cobra.Command{
		Use:   "check-continue [case]",
		Short: "Decide the next action and auto-advance the phase",
		Long: "Evaluates the case and prints the single next action as JSON.\n" +
			"Exits 0 when COMPLETE, 1 on ERROR and 2 when work remains.\n" +
			"The case defaults to the current directory.",
		Args: cobra.MaximumNArgs(1),
	}
	outFmt := cmd.Flags().String("format", "json", "Output format: json or text")
	cmd.Flags().BoolVar(&opts.Batch, "batch", false, "Select several leads for parallel work in FOLLOW")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Leads per batch (default from config)")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Include the rendered agent prompt for the next command")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		c, err := a.open(dir)
		if err != nil {
			return err
		}
		defer c.Close()
		act, err := c.Next(cmd.Context(), opts)
		if err != nil {
			return err
		}

		res := checkResult{Action: act, ExitCode: act.Status.ExitCode()}
		if prompt {
			if res.Prompt, err = c.Prompt(act); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		switch *outFmt {
		case "json":
			if err := writeJSON(out, res); err != nil {
				return err
			}
		case "text":
			for _, t := range act.Advanced {
				fmt.Fprintf(out, "advanced %s (%s)\n", display.PhasePath([]string{string(t.From), string(t.To)}), display.Rule(t.Rule))
			}
			fmt.Fprintf(out, "%s %s: %s\n", act.Status, display.PhaseWithCode(string(act.Phase)), act.Reason)
			if act.Command != "" {
				fmt.Fprintf(out, "next: %s\n", act.Command)
			}
			for _, l := range act.Leads {
				fmt.Fprintf(out, "  %s [%s] %s\n", l.ID, l.Priority, l.Lead)
			}
			if len(act.Missing) > 0 {
				fmt.Fprintf(out, "missing: %s\n", strings.Join(act.Missing, ", "))
			}
			if res.Prompt != "" {
				fmt.Fprintf(out, "\n%s\n", res.Prompt)
			}
		default:
			return fmt.Errorf("--format must be json or text, got %q", *outFmt)
		}
		return exitCode(act.Status.ExitCode())
	}
	return cmd
}
