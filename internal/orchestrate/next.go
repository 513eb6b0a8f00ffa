// Package orchestrate decides the single next action for a case. It reads
// the live gate matrix and the lead ledger, auto-advances the persisted
// phase while phase conditions hold, and reports what to do next.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"investigator/internal/gate"
	"investigator/internal/ledger"
	"investigator/internal/logging"
)

// Status classifies an Action. It maps onto process exit codes.
type Status string

const (
	StatusContinue Status = "CONTINUE"
	StatusComplete Status = "COMPLETE"
	StatusError    Status = "ERROR"
)

// ExitCode returns 0 for COMPLETE, 1 for ERROR and 2 for CONTINUE.
func (s Status) ExitCode() int {
	switch s {
	case StatusComplete:
		return 0
	case StatusContinue:
		return 2
	default:
		return 1
	}
}

// Action is the orchestrator's answer to "what now?".
type Action struct {
	Status       Status        `json:"status"`
	Phase        Phase         `json:"phase"`
	Command      string        `json:"command,omitempty"`
	Reason       string        `json:"reason"`
	Rule         string        `json:"rule"`
	Leads        []ledger.Lead `json:"leads,omitempty"`
	Parallel     bool          `json:"parallel,omitempty"`
	FailingGates []string      `json:"failing_gates,omitempty"`
	Missing      []string      `json:"missing,omitempty"`
	Advanced     []Transition  `json:"advanced,omitempty"`
	Iteration    int           `json:"iteration"`
}

// GateSource computes the live gate report for a case.
type GateSource interface {
	Run(ctx context.Context, caseDir string) (*gate.Report, error)
}

// LeadSource is the read side of the ledger.
type LeadSource interface {
	BatchSelect(ctx context.Context, count int) ([]ledger.Lead, error)
	Stats(ctx context.Context) (ledger.Stats, error)
}

// Options select sequential or batch lead dispatch.
type Options struct {
	Batch     bool
	BatchSize int
}

// Orchestrator drives one case.
type Orchestrator struct {
	CaseDir string
	Gates   GateSource
	Leads   LeadSource
	Now     func() time.Time
	Logger  *slog.Logger
}

// maxAdvances bounds auto-advance within one call; the workflow has fewer
// phases than this.
const maxAdvances = 16

// Next evaluates the case and returns the next action, persisting any phase
// advance to state.json. Errors are returned only for unreadable state or
// I/O failures; every workflow condition is expressed as an Action.
func (o *Orchestrator) Next(ctx context.Context, opts Options) (Action, error) {
	log := o.Logger
	if log == nil {
		log = logging.New("orchestrate")
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}

	st, err := LoadState(o.CaseDir)
	if err != nil {
		return Action{}, fmt.Errorf("load state: %w", err)
	}
	if st == nil {
		st = InitState(filepath.Base(o.CaseDir))
	}
	rep, err := o.Gates.Run(ctx, o.CaseDir)
	if err != nil {
		return Action{}, fmt.Errorf("evaluate gates: %w", err)
	}
	gates := rep.Map()
	changed := !sameGates(st.Gates, gates)
	st.Gates = gates

	var advanced []Transition
	advance := func(next Phase, rule, reason string) {
		t := Advance(st, next, rule, reason, now())
		log.Info("phase advanced", "from", t.From, "to", t.To, "rule", rule, "reason", reason)
		advanced = append(advanced, t)
		changed = true
	}

	if !st.Phase.Terminal() && allPassed(gates) {
		advance(PhaseComplete, "all-gates", "every gate passes")
	}

	var act Action
	for i := 0; ; i++ {
		if i == maxAdvances {
			return Action{}, fmt.Errorf("phase did not settle after %d advances", maxAdvances)
		}
		next, a, err := o.decide(ctx, st.Phase, gates, opts)
		if err != nil {
			return Action{}, err
		}
		if next == "" {
			act = a
			break
		}
		advance(next, a.Rule, a.Reason)
	}

	if changed {
		if err := SaveState(o.CaseDir, st); err != nil {
			return Action{}, fmt.Errorf("save state: %w", err)
		}
	}
	act.Phase = st.Phase
	act.Iteration = st.Iteration
	act.Advanced = advanced
	log.Debug("next action", "status", act.Status, "phase", act.Phase, "command", act.Command, "rule", act.Rule)
	return act, nil
}

// decide applies the rule for phase. A non-empty next phase means the
// phase condition holds and the caller should advance and re-evaluate;
// otherwise the returned Action is final.
func (o *Orchestrator) decide(ctx context.Context, phase Phase, gates map[string]bool, opts Options) (Phase, Action, error) {
	cont := func(cmd, rule, reason string) Action {
		return Action{Status: StatusContinue, Command: cmd, Rule: rule, Reason: reason}
	}

	switch phase {
	case PhaseComplete:
		return "", Action{Status: StatusComplete, Rule: "complete", Reason: "investigation complete"}, nil

	case PhasePlan:
		if gates[gate.Planning] {
			return PhaseBootstrap, Action{Rule: "plan.done", Reason: "planning gate passed"}, nil
		}
		return "", cont(CmdPlan, "plan.gate", "planning gate failing"), nil

	case PhaseBootstrap:
		total, err := o.leadTotal(ctx)
		if err != nil {
			return "", Action{}, err
		}
		if total > 0 {
			return PhaseQuestion, Action{Rule: "bootstrap.done", Reason: fmt.Sprintf("ledger has %d leads", total)}, nil
		}
		return "", cont(CmdBootstrap, "bootstrap.leads", "no leads in leads.json"), nil

	case PhaseQuestion:
		if gates[gate.Questions] {
			return PhaseFollow, Action{Rule: "question.done", Reason: "questions gate passed"}, nil
		}
		return "", cont(CmdQuestion, "question.gate", "questions gate failing"), nil

	case PhaseFollow:
		return o.decideFollow(ctx, gates, opts)

	case PhaseWrite:
		if missing := failing(gates, writePrerequisites); len(missing) > 0 {
			return "", Action{
				Status:  StatusError,
				Rule:    "write.prerequisites",
				Reason:  "cannot write article; prerequisite gates failing: " + strings.Join(missing, ", "),
				Missing: missing,
			}, nil
		}
		if gates[gate.Article] {
			return PhaseVerify, Action{Rule: "write.done", Reason: "article gate passed"}, nil
		}
		return "", cont(CmdWrite, "write.gate", "article gate failing"), nil

	case PhaseVerify:
		return "", decideVerify(gates), nil

	default:
		a := cont(CmdVerify, "unknown-phase", fmt.Sprintf("unknown phase %q; running generic verification", phase))
		a.FailingGates = failingAll(gates)
		return "", a, nil
	}
}

func (o *Orchestrator) decideFollow(ctx context.Context, gates map[string]bool, opts Options) (Phase, Action, error) {
	limit := 1
	if opts.Batch {
		limit = opts.BatchSize
	}
	leads, err := o.Leads.BatchSelect(ctx, limit)
	if err != nil && ledger.CodeOf(err) != ledger.CodeNotInitialized {
		return "", Action{}, fmt.Errorf("select leads: %w", err)
	}
	switch {
	case len(leads) > 1:
		ids := make([]string, len(leads))
		for i, l := range leads {
			ids[i] = l.ID
		}
		return "", Action{
			Status:   StatusContinue,
			Command:  CmdFollowBatch,
			Rule:     "follow.batch",
			Reason:   fmt.Sprintf("investigate %d leads in parallel: %s", len(leads), strings.Join(ids, ", ")),
			Leads:    leads,
			Parallel: true,
		}, nil
	case len(leads) == 1:
		return "", Action{
			Status:  StatusContinue,
			Command: CmdFollow,
			Rule:    "follow.lead",
			Reason:  fmt.Sprintf("investigate lead %s (%s, depth %d)", leads[0].ID, leads[0].Priority, leads[0].Depth),
			Leads:   leads,
		}, nil
	}

	if err == nil {
		stats, err := o.Leads.Stats(ctx)
		if err != nil {
			return "", Action{}, fmt.Errorf("lead stats: %w", err)
		}
		if stats.InFlight > 0 {
			return "", Action{
				Status:  StatusContinue,
				Command: CmdWait,
				Rule:    "follow.in-flight",
				Reason:  fmt.Sprintf("%d leads are claimed by other workers; wait for them to finish", stats.InFlight),
			}, nil
		}
	}

	if gates[gate.Reconciliation] && gates[gate.Curiosity] {
		return PhaseWrite, Action{Rule: "follow.done", Reason: "reconciliation and curiosity gates passed"}, nil
	}
	a := Action{Status: StatusContinue, FailingGates: failing(gates, []string{gate.Reconciliation, gate.Curiosity})}
	if !gates[gate.Reconciliation] {
		a.Command, a.Rule, a.Reason = CmdReconcile, "follow.reconcile", "no pending leads; reconciliation gate failing"
	} else {
		a.Command, a.Rule, a.Reason = CmdCuriosity, "follow.curiosity", "no pending leads; curiosity gate failing"
	}
	return "", a, nil
}

func decideVerify(gates map[string]bool) Action {
	fails := failingAll(gates)
	if len(fails) == 0 {
		// Unreachable through Next, which completes first when all gates pass.
		return Action{Status: StatusComplete, Rule: "verify.done", Reason: "every gate passes"}
	}
	if gates[gate.Sources] && !gates[gate.Integrity] && !gates[gate.Legal] {
		return Action{
			Status:       StatusContinue,
			Command:      CmdReviewParallel,
			Rule:         "verify.parallel-review",
			Reason:       "sources verified; run integrity and legal reviews in parallel",
			Parallel:     true,
			FailingGates: []string{gate.Integrity, gate.Legal},
		}
	}
	if len(failing(gates, gate.ProcessGates)) == 0 {
		for _, q := range gate.QualityGates {
			if !gates[q] {
				return Action{
					Status:       StatusContinue,
					Command:      q,
					Rule:         "verify.quality",
					Reason:       q + " gate failing",
					FailingGates: []string{q},
				}
			}
		}
	}
	return Action{
		Status:       StatusContinue,
		Command:      CmdVerify,
		Rule:         "verify.remediate",
		Reason:       "failing gates: " + strings.Join(fails, ", "),
		FailingGates: fails,
	}
}

// leadTotal counts leads; a missing ledger counts as zero.
func (o *Orchestrator) leadTotal(ctx context.Context) (int, error) {
	st, err := o.Leads.Stats(ctx)
	if err != nil {
		var le *ledger.Error
		if errors.As(err, &le) && (le.Code == ledger.CodeNotInitialized || le.Code == ledger.CodeSchemaMismatch) {
			return 0, nil
		}
		return 0, fmt.Errorf("lead stats: %w", err)
	}
	return st.Total, nil
}

// failing returns the names in want that are not passing in gates.
func failing(gates map[string]bool, want []string) []string {
	var out []string
	for _, name := range want {
		if !gates[name] {
			out = append(out, name)
		}
	}
	return out
}

// failingAll lists every failing gate, standard gates in order first.
func failingAll(gates map[string]bool) []string {
	out := failing(gates, gate.Names())
	known := map[string]bool{}
	for _, n := range gate.Names() {
		known[n] = true
	}
	var extra []string
	for name, ok := range gates {
		if !ok && !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func allPassed(gates map[string]bool) bool {
	if len(gates) == 0 {
		return false
	}
	for _, ok := range gates {
		if !ok {
			return false
		}
	}
	return true
}

func sameGates(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
