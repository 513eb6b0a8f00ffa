// Package gate computes the named pass/fail checks that decide whether an
// investigation may move on. Every gate is recomputed from files on disk;
// nothing a previous step reported about itself is trusted.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"investigator/internal/casefile"
	"investigator/internal/config"
	"investigator/internal/logging"
)

// Gate names.
const (
	Planning       = "planning"
	Questions      = "questions"
	Curiosity      = "curiosity"
	Reconciliation = "reconciliation"
	Article        = "article"
	Sources        = "sources"
	Integrity      = "integrity"
	Legal          = "legal"
	Balance        = "balance"
	Completeness   = "completeness"
	Significance   = "significance"
)

// ProcessGates must hold before quality gates are worked on.
var ProcessGates = []string{Planning, Questions, Curiosity, Reconciliation, Article, Sources, Integrity, Legal}

// QualityGates are remediated in this order once process gates hold.
var QualityGates = []string{Balance, Completeness, Significance}

// Names lists every gate in evaluation and report order.
func Names() []string {
	return append(append([]string(nil), ProcessGates...), QualityGates...)
}

// Result is one gate's verdict. Reason is set only on failure.
type Result struct {
	Name    string         `json:"name"`
	Passed  bool           `json:"passed"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// CheckFunc computes one gate. Returning an error marks the gate failed
// with a GATE_COMPUTE_ERROR reason.
type CheckFunc func(ctx context.Context, in *Inputs) (Result, error)

// Check pairs a gate name with its computation.
type Check struct {
	Name string
	Fn   CheckFunc
}

// Thresholds are fixed: every gate requires full coverage.
var Thresholds = map[string]float64{
	"citations_with_evidence":      1.0,
	"leads_resolved":               1.0,
	"high_leads_cited":             1.0,
	"review_issues_resolved":       1.0,
	"summary_citations_in_article": 1.0,
}

// Summary counts gate outcomes.
type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Report is written to control/gate_results.json.
type Report struct {
	Timestamp     time.Time          `json:"timestamp"`
	CaseDir       string             `json:"case_dir"`
	DurationMS    int64              `json:"duration_ms"`
	Thresholds    map[string]float64 `json:"thresholds"`
	Gates         map[string]Result  `json:"gates"`
	Summary       Summary            `json:"summary"`
	Overall       bool               `json:"overall"`
	BlockingGates []string           `json:"blocking_gates"`
	InputDigest   string             `json:"input_digest"`
}

// Map returns the name→passed matrix.
func (r *Report) Map() map[string]bool {
	m := make(map[string]bool, len(r.Gates))
	for name, g := range r.Gates {
		m[name] = g.Passed
	}
	return m
}

// Failed returns the failing results in gate order.
func (r *Report) Failed() []Result {
	var out []Result
	for _, name := range r.BlockingGates {
		out = append(out, r.Gates[name])
	}
	return out
}

// Engine evaluates a fixed list of checks.
type Engine struct {
	Checks      []Check
	Config      *config.Config
	Parallelism int
	Now         func() time.Time
	Logger      *slog.Logger
}

// New returns an Engine with the standard gates.
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		Checks:      DefaultChecks(),
		Config:      cfg,
		Parallelism: cfg.Gates.Parallelism,
		Now:         time.Now,
		Logger:      logging.New("gate"),
	}
}

// Evaluate computes every gate without writing anything.
func (e *Engine) Evaluate(ctx context.Context, caseDir string) *Report {
	start := time.Now()
	cfg, now, log := e.Config, e.Now, e.Logger
	if cfg == nil {
		cfg = config.Default()
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.New("gate")
	}
	in := newInputs(caseDir, cfg)
	results := make([]Result, len(e.Checks))

	runOne := func(ctx context.Context, i int, c Check) {
		res, err := safeCheck(ctx, c, in, log)
		if err != nil {
			log.Warn("gate compute error", "gate", c.Name, "error", err)
			res = Result{Passed: false, Reason: "GATE_COMPUTE_ERROR: " + err.Error()}
		}
		res.Name = c.Name
		if res.Passed {
			res.Reason = ""
		} else if res.Reason == "" {
			res.Reason = "gate failed"
		}
		results[i] = res
	}

	if e.Parallelism > 1 {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.Parallelism)
		for i, c := range e.Checks {
			g.Go(func() error {
				runOne(gCtx, i, c)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, c := range e.Checks {
			runOne(ctx, i, c)
		}
	}

	rep := &Report{
		Timestamp:     now().UTC(),
		CaseDir:       caseDir,
		Thresholds:    Thresholds,
		Gates:         make(map[string]Result, len(results)),
		Overall:       true,
		BlockingGates: []string{},
	}
	for _, r := range results {
		rep.Gates[r.Name] = r
		rep.Summary.Total++
		if r.Passed {
			rep.Summary.Passed++
		} else {
			rep.Summary.Failed++
			rep.Overall = false
			rep.BlockingGates = append(rep.BlockingGates, r.Name)
		}
	}
	rep.InputDigest = in.Digest()
	rep.DurationMS = time.Since(start).Milliseconds()
	log.Debug("gates evaluated", "case", caseDir, "passed", rep.Summary.Passed, "failed", rep.Summary.Failed)
	return rep
}

// Run evaluates every gate and writes control/gate_results.json.
func (e *Engine) Run(ctx context.Context, caseDir string) (*Report, error) {
	rep := e.Evaluate(ctx, caseDir)
	if err := Write(caseDir, rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// Write persists rep as the case's gate audit trail.
func Write(caseDir string, rep *Report) error {
	if err := casefile.EnsureControlDir(caseDir); err != nil {
		return err
	}
	if err := casefile.WriteJSON(casefile.ControlPath(caseDir, casefile.GateResultsFile), rep); err != nil {
		return fmt.Errorf("write gate results: %w", err)
	}
	return nil
}

// Load reads the last written gate report; nil when none exists.
func Load(caseDir string) (*Report, error) {
	return casefile.ReadJSON[Report](casefile.ControlPath(caseDir, casefile.GateResultsFile))
}

func safeCheck(ctx context.Context, c Check, in *Inputs, log *slog.Logger) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("gate panic", "gate", c.Name, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return c.Fn(ctx, in)
}
