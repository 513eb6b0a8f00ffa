// Package verifiers holds the built-in case verifiers. Each reads the case
// directory, never writes to it, and reports defects as raw gaps for the
// aggregator.
package verifiers

import (
	"context"
	"fmt"
	"log/slog"

	"investigator/internal/casefile"
	"investigator/internal/config"
	"investigator/internal/gap"
	"investigator/internal/logging"
	"investigator/internal/verify"
)

// Built-in verifier names, in run order.
const (
	NameEvidence      = "evidence"
	NameCorroboration = "corroboration"
	NameCitations     = "citations"
	NameLeads         = "leads"
	NameSources       = "sources"
	NameState         = "state"
)

// Builtins returns every built-in verifier in run order.
func Builtins() []verify.Verifier {
	return []verify.Verifier{
		verify.Func{ID: NameEvidence, Fn: Evidence},
		verify.Func{ID: NameCorroboration, Fn: Corroboration},
		verify.Func{ID: NameCitations, Fn: Citations},
		verify.Func{ID: NameLeads, Fn: Leads},
		verify.Func{ID: NameSources, Fn: Sources},
		verify.Func{ID: NameState, Fn: State},
	}
}

// Register adds the built-ins to reg.
func Register(reg *verify.Registry) error {
	for _, v := range Builtins() {
		if err := reg.Register(v); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the built-ins followed by the
// configured command verifiers.
func NewRegistry(cfg *config.Config) (*verify.Registry, error) {
	reg := verify.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	if cfg == nil {
		return reg, nil
	}
	for _, c := range cfg.Verifiers.Commands {
		if err := reg.Register(verify.NewCommand(c)); err != nil {
			return nil, fmt.Errorf("command verifier: %w", err)
		}
	}
	return reg, nil
}

func result(gaps []gap.Gap) verify.Result {
	return verify.Result{Passed: len(gaps) == 0, Gaps: gaps}
}

func loggerOf(opts verify.Options, name string) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger.With("verifier", name)
	}
	return logging.New("verifiers").With("verifier", name)
}

func configOf(opts verify.Options) *config.Config {
	if opts.Config != nil {
		return opts.Config
	}
	return config.Default()
}

// scanSet lists the case-relative markdown files whose citations count:
// the configured scan files plus findings/*.md.
func scanSet(caseDir string, cfg *config.Config) ([]string, error) {
	files := append([]string(nil), cfg.Gates.ScanFiles...)
	findings, err := casefile.ListMarkdown(caseDir, casefile.FindingsDir)
	if err != nil {
		return nil, err
	}
	return append(files, findings...), nil
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled: %w", err)
	}
	return nil
}
