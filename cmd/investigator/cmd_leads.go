package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"investigator/internal/ledger"
	"investigator/internal/wiring"
)

// leadsFlags are shared by the leads subcommands.
type leadsFlags struct {
	expectVersion int
	priority      string
	sources       []string
}

func (a *cli) leadsCmd() *cobra.Command {
	lf := &leadsFlags{}
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Lead ledger operations (JSON on stdout)",
		Long: "Every leads subcommand prints a JSON object with success, code and error\n" +
			"fields and exits 1 when success is false.",
	}
	cmd.PersistentFlags().IntVar(&lf.expectVersion, "expect-version", 0, "Reject with version_conflict unless the ledger is at this version")

	cmd.AddCommand(
		a.leadsInitCmd(lf),
		a.leadsAddCmd(lf),
		a.ledgerOp("claim <case> <lead-id>", "Claim one pending lead", cobra.ExactArgs(2), lf,
			func(ctx context.Context, l *ledger.Ledger, args []string) (ledger.Outcome, error) {
				return l.Claim(ctx, args[1])
			}),
		a.ledgerOp("batch-claim <case> <lead-id>...", "Claim several leads atomically", cobra.MinimumNArgs(2), lf,
			func(ctx context.Context, l *ledger.Ledger, args []string) (ledger.Outcome, error) {
				return l.BatchClaim(ctx, args[1:])
			}),
		a.ledgerOp("release <case> <lead-id>", "Drop the claim on a lead", cobra.ExactArgs(2), lf,
			func(ctx context.Context, l *ledger.Ledger, args []string) (ledger.Outcome, error) {
				return l.Release(ctx, args[1])
			}),
		a.leadsUpdateCmd(lf),
		a.leadsAddChildCmd(lf),
		a.ledgerOp("cleanup-stale <case>", "Clear claims older than the stale timeout", cobra.ExactArgs(1), lf,
			func(ctx context.Context, l *ledger.Ledger, _ []string) (ledger.Outcome, error) {
				return l.CleanupStale(ctx)
			}),
		a.leadsSelectCmd(),
		a.leadsGetCmd(),
		a.leadsStatsCmd(),
	)
	return cmd
}

type ledgerFunc func(ctx context.Context, l *ledger.Ledger, args []string) (ledger.Outcome, error)

// ledgerOp builds a subcommand whose first argument is the case directory
// and whose result is a ledger.Response.
func (a *cli) ledgerOp(use, short string, nargs cobra.PositionalArgs, lf *leadsFlags, fn ledgerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  nargs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, args[0], lf, func(l *ledger.Ledger) (ledger.Outcome, error) {
				return fn(cmd.Context(), l, args)
			})
		},
	}
}

func (a *cli) withLedger(cmd *cobra.Command, caseDir string, lf *leadsFlags, fn func(*ledger.Ledger) (ledger.Outcome, error)) error {
	c, err := a.open(caseDir)
	if err != nil {
		return respond(cmd, ledger.Outcome{}, err)
	}
	defer c.Close()
	l := c.Ledger
	if lf != nil && lf.expectVersion > 0 {
		l = l.ExpectVersion(lf.expectVersion)
	}
	out, err := fn(l)
	return respond(cmd, out, err)
}

func respond(cmd *cobra.Command, out ledger.Outcome, err error) error {
	r := ledger.Respond(out, err)
	if werr := writeJSON(cmd.OutOrStdout(), r); werr != nil {
		return werr
	}
	if !r.Success {
		return exitCode(1)
	}
	return nil
}

func (a *cli) leadsInitCmd(lf *leadsFlags) *cobra.Command {
	var (
		maxDepth int
		leads    []string
		fromFile string
	)
	cmd := &cobra.Command{
		Use:   "init <case>",
		Short: "Create leads.json with root leads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var roots []ledger.RootSpec
			if fromFile != "" {
				data, err := os.ReadFile(fromFile)
				if err != nil {
					return respond(cmd, ledger.Outcome{}, err)
				}
				if err := json.Unmarshal(data, &roots); err != nil {
					return respond(cmd, ledger.Outcome{}, fmt.Errorf("parse %s: %w", fromFile, err))
				}
			}
			for _, text := range leads {
				roots = append(roots, ledger.RootSpec{Lead: text, Priority: lf.priority, Sources: lf.sources})
			}
			return a.withLedger(cmd, args[0], lf, func(l *ledger.Ledger) (ledger.Outcome, error) {
				return l.Init(cmd.Context(), maxDepth, roots)
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&maxDepth, "max-depth", ledger.DefaultMaxDepth, "Deepest level a child lead may reach")
	f.StringArrayVar(&leads, "lead", nil, "Root lead text (repeatable)")
	f.StringVar(&fromFile, "from", "", "JSON array of {lead, priority, sources} root leads")
	f.StringVar(&lf.priority, "priority", "", "Priority for --lead entries: HIGH, MEDIUM or LOW")
	f.StringSliceVar(&lf.sources, "source", nil, "Source IDs for --lead entries")
	return cmd
}

func (a *cli) leadsAddCmd(lf *leadsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <case> <lead text>",
		Short: "Append a root lead",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := ledger.RootSpec{Lead: args[1], Priority: lf.priority, Sources: lf.sources}
			return a.withLedger(cmd, args[0], lf, func(l *ledger.Ledger) (ledger.Outcome, error) {
				return l.AddRoot(cmd.Context(), spec)
			})
		},
	}
	cmd.Flags().StringVar(&lf.priority, "priority", "", "HIGH, MEDIUM (default) or LOW")
	cmd.Flags().StringSliceVar(&lf.sources, "source", nil, "Source IDs that prompted the lead")
	return cmd
}

func (a *cli) leadsAddChildCmd(lf *leadsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-child <case> <parent-id> <lead text>",
		Short: "Add a follow-up lead one level below its parent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := ledger.ChildSpec{Lead: args[2], Priority: lf.priority, Sources: lf.sources}
			return a.withLedger(cmd, args[0], lf, func(l *ledger.Ledger) (ledger.Outcome, error) {
				return l.AddChild(cmd.Context(), args[1], spec)
			})
		},
	}
	cmd.Flags().StringVar(&lf.priority, "priority", "", "HIGH, MEDIUM (default) or LOW")
	cmd.Flags().StringSliceVar(&lf.sources, "source", nil, "Source IDs that prompted the lead")
	return cmd
}

func (a *cli) leadsUpdateCmd(lf *leadsFlags) *cobra.Command {
	var status, result string
	cmd := &cobra.Command{
		Use:   "update <case> <lead-id>",
		Short: "Finish a lead as investigated or dead_end",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := ledger.UpdateSpec{Status: ledger.Status(status), Result: result}
			if cmd.Flags().Changed("source") {
				spec.Sources = lf.sources
			}
			return a.withLedger(cmd, args[0], lf, func(l *ledger.Ledger) (ledger.Outcome, error) {
				return l.Update(cmd.Context(), args[1], spec)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "investigated or dead_end")
	f.StringVar(&result, "result", "", "What was found, or why it was a dead end")
	f.StringSliceVar(&lf.sources, "source", nil, "Source IDs backing the result")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func (a *cli) leadsSelectCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "batch-select <case>",
		Short: "List claimable leads by priority then depth without claiming",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, args[0], nil, func(l *ledger.Ledger) (ledger.Outcome, error) {
				leads, err := l.BatchSelect(cmd.Context(), count)
				return ledger.Outcome{Leads: leads}, err
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Maximum leads to list (0 = all)")
	return cmd
}

func (a *cli) leadsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <case> <lead-id>",
		Short: "Show one lead",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, args[0], nil, func(l *ledger.Ledger) (ledger.Outcome, error) {
				lead, err := l.Get(cmd.Context(), args[1])
				if err != nil {
					return ledger.Outcome{}, err
				}
				return ledger.Outcome{Leads: []ledger.Lead{lead}}, nil
			})
		},
	}
}

// statsResponse carries ledger counters in the usual response envelope.
type statsResponse struct {
	ledger.Response
	Stats *ledger.Stats `json:"stats,omitempty"`
}

func (a *cli) leadsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <case>",
		Short: "Count leads by status, priority and depth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				st  ledger.Stats
				err error
				c   *wiring.Case
			)
			if c, err = a.open(args[0]); err == nil {
				defer c.Close()
				st, err = c.Ledger.Stats(cmd.Context())
			}
			resp := statsResponse{Response: ledger.Respond(ledger.Outcome{Version: st.Version}, err)}
			if err == nil {
				resp.Stats = &st
			}
			if werr := writeJSON(cmd.OutOrStdout(), resp); werr != nil {
				return werr
			}
			if !resp.Success {
				return exitCode(1)
			}
			return nil
		},
	}
}
