// Package wiring assembles one case's collaborators from its configuration:
// the lead ledger, the verifier registry, the gate engine, the gap
// aggregator with its history store, and the phase orchestrator.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"investigator/adapters/verifiers"
	"investigator/internal/aggregate"
	"investigator/internal/casefile"
	"investigator/internal/config"
	"investigator/internal/gap"
	"investigator/internal/gate"
	"investigator/internal/history"
	"investigator/internal/ledger"
	"investigator/internal/lock"
	"investigator/internal/logging"
	"investigator/internal/orchestrate"
	"investigator/internal/verify"
)

// Options tune Open. Zero values take defaults.
type Options struct {
	// ConfigPath overrides config discovery.
	ConfigPath string
	Logger     *slog.Logger
	Now        func() time.Time
	// History replaces the SQLite store at control/history.db.
	History history.Store
}

// Case is an opened case directory.
type Case struct {
	Dir        string
	Config     *config.Config
	ConfigPath string
	Ledger     *ledger.Ledger
	Gates      *gate.Engine
	Verifiers  []verify.Verifier

	log     *slog.Logger
	now     func() time.Time
	history history.Store
}

// Open resolves configuration for caseDir and builds its collaborators.
// Nothing in the case is written.
func Open(caseDir string, opts Options) (*Case, error) {
	info, err := os.Stat(caseDir)
	if err != nil {
		return nil, fmt.Errorf("open case: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open case: %s is not a directory", caseDir)
	}
	cfg, cfgPath, err := config.Discover(caseDir, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.New("case")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	reg, err := verifiers.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	selected, err := reg.Select(cfg.Verifiers.Enabled)
	if err != nil {
		return nil, fmt.Errorf("verifiers.enabled: %w", err)
	}

	ledgerPath := casefile.Path(caseDir, casefile.LeadsFile)
	store := ledger.NewFileStore(ledgerPath, lock.FileLock{
		Path:          ledgerPath + ".lock",
		Timeout:       cfg.Ledger.LockTimeout.Std(),
		RetryInterval: cfg.Ledger.LockRetry.Std(),
		StaleAfter:    cfg.Ledger.LockStaleAfter.Std(),
		Now:           now,
	})

	engine := gate.New(cfg)
	engine.Now = now
	engine.Logger = log.With("component", "gate")

	c := &Case{
		Dir:        caseDir,
		Config:     cfg,
		ConfigPath: cfgPath,
		Ledger: ledger.New(store, ledger.Options{
			StaleAfter: cfg.Ledger.StaleClaimAfter.Std(),
			Now:        now,
			Logger:     log.With("component", "ledger"),
		}),
		Gates:     engine,
		Verifiers: selected,
		log:       log,
		now:       now,
		history:   opts.History,
	}
	if cfgPath != "" {
		log.Debug("config loaded", "path", cfgPath)
	}
	return c, nil
}

// Close releases the history store if Open created it.
func (c *Case) Close() error {
	if c.history == nil {
		return nil
	}
	err := c.history.Close()
	c.history = nil
	return err
}

func (c *Case) historyStore() (history.Store, error) {
	if c.history != nil {
		return c.history, nil
	}
	s, err := history.Open(casefile.ControlPath(c.Dir, casefile.HistoryDBFile))
	if err != nil {
		return nil, err
	}
	c.history = s
	return s, nil
}

// RunGates evaluates every gate and writes control/gate_results.json.
func (c *Case) RunGates(ctx context.Context) (*gate.Report, error) {
	return c.Gates.Run(ctx, c.Dir)
}

// Aggregate runs the verifiers and the gates, then persists gaps.json,
// digest.json and a history entry.
func (c *Case) Aggregate(ctx context.Context) (*aggregate.Report, error) {
	start := time.Now()
	runner := &verify.Runner{
		Verifiers:   c.Verifiers,
		Parallelism: c.Config.Verifiers.Parallelism,
		Logger:      c.log.With("component", "verify"),
	}
	outcomes := runner.Run(ctx, c.Dir, verify.Options{Config: c.Config, Now: c.now, Logger: c.log})

	gates, err := c.RunGates(ctx)
	if err != nil {
		return nil, err
	}

	hist, err := c.historyStore()
	if err != nil {
		return nil, err
	}
	agg := &aggregate.Aggregator{
		Table:   gap.NewTable(c.Config.Gaps.Severity),
		Now:     c.now,
		Logger:  c.log.With("component", "aggregate"),
		History: hist,
	}
	rep := agg.Build(c.Dir, c.iteration(), outcomes, gates)
	rep.DurationMS = time.Since(start).Milliseconds()
	if err := agg.Persist(ctx, rep); err != nil {
		return nil, err
	}
	c.log.Info("gaps aggregated", "case", c.Dir, "total", rep.Stats.TotalGaps, "blocking", rep.Stats.BlockingCount)
	return rep, nil
}

// iteration is the orchestrator's counter; unreadable state counts as 0
// and is reported by the state verifier instead.
func (c *Case) iteration() int {
	st, err := orchestrate.LoadState(c.Dir)
	if err != nil {
		c.log.Warn("state unreadable, using iteration 0", "error", err)
		return 0
	}
	if st == nil {
		return 0
	}
	return st.Iteration
}

// Next asks the orchestrator for the next action.
func (c *Case) Next(ctx context.Context, opts orchestrate.Options) (orchestrate.Action, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = c.Config.Orchestrator.BatchSize
	}
	o := &orchestrate.Orchestrator{
		CaseDir: c.Dir,
		Gates:   c.Gates,
		Leads:   c.Ledger,
		Now:     c.now,
		Logger:  c.log.With("component", "orchestrate"),
	}
	return o.Next(ctx, opts)
}

// Prompt renders the agent prompt for act from the configured prompt
// directory, falling back to the built-in text.
func (c *Case) Prompt(act orchestrate.Action) (string, error) {
	dir := c.Config.Orchestrator.PromptDir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(c.Dir, dir)
	}
	name := filepath.Base(c.Dir)
	if st, err := orchestrate.LoadState(c.Dir); err == nil && st != nil && st.Case != "" {
		name = st.Case
	}
	return orchestrate.RenderPrompt(dir, orchestrate.PromptParams{Case: name, CaseDir: c.Dir, Action: act})
}

// History returns up to limit recorded aggregation runs, newest first.
func (c *Case) History(ctx context.Context, limit int) ([]history.Run, error) {
	if c.history == nil {
		if _, err := os.Stat(casefile.ControlPath(c.Dir, casefile.HistoryDBFile)); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	hist, err := c.historyStore()
	if err != nil {
		return nil, err
	}
	return hist.Recent(ctx, limit)
}

// Status is a read-only overview of a case.
type Status struct {
	Case      string            `json:"case"`
	Dir       string            `json:"dir"`
	Phase     orchestrate.Phase `json:"phase"`
	Iteration int               `json:"iteration"`
	Gates     *gate.Report      `json:"gates"`
	Leads     *ledger.Stats     `json:"leads,omitempty"`
	Digest    *aggregate.Digest `json:"digest,omitempty"`
}

// Status evaluates the gates without persisting anything.
func (c *Case) Status(ctx context.Context) (*Status, error) {
	st, err := orchestrate.LoadState(c.Dir)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = orchestrate.InitState(filepath.Base(c.Dir))
	}
	out := &Status{
		Case:      st.Case,
		Dir:       c.Dir,
		Phase:     st.Phase,
		Iteration: st.Iteration,
		Gates:     c.Gates.Evaluate(ctx, c.Dir),
	}
	stats, err := c.Ledger.Stats(ctx)
	switch {
	case err == nil:
		out.Leads = &stats
	case ledger.CodeOf(err) != ledger.CodeNotInitialized:
		return nil, err
	}
	if out.Digest, err = aggregate.LoadDigest(c.Dir); err != nil {
		return nil, err
	}
	return out, nil
}

// Init lays out a new case directory and writes state.json in PLAN.
// Existing files are left alone; the return reports whether state.json
// was created.
func Init(caseDir, topic string) (bool, error) {
	for _, d := range []string{casefile.ControlDir, casefile.EvidenceDir, casefile.FindingsDir, casefile.QuestionsDir} {
		if err := os.MkdirAll(filepath.Join(caseDir, d), 0755); err != nil {
			return false, fmt.Errorf("init case: %w", err)
		}
	}
	if topic != "" {
		prompt := casefile.Path(caseDir, "refined_prompt.md")
		if _, err := os.Stat(prompt); errors.Is(err, os.ErrNotExist) {
			if err := casefile.WriteFileAtomic(prompt, []byte("# "+topic+"\n"), 0644); err != nil {
				return false, err
			}
		}
	}
	st, err := orchestrate.LoadState(caseDir)
	if err != nil {
		return false, err
	}
	if st != nil {
		return false, nil
	}
	if err := orchestrate.SaveState(caseDir, orchestrate.InitState(filepath.Base(caseDir))); err != nil {
		return false, err
	}
	return true, nil
}
