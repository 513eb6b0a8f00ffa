package orchestrate

import (
	"path/filepath"
	"time"

	"investigator/internal/casefile"
)

// State is the orchestrator's per-case record, persisted as state.json.
type State struct {
	Case      string          `json:"case"`
	Phase     Phase           `json:"phase"`
	Iteration int             `json:"iteration"`
	Gates     map[string]bool `json:"gates"`
	History   []Transition    `json:"history,omitempty"`
}

// Transition logs one phase change.
type Transition struct {
	From      Phase  `json:"from"`
	To        Phase  `json:"to"`
	Rule      string `json:"rule"`
	Reason    string `json:"reason"`
	Iteration int    `json:"iteration"`
	Timestamp string `json:"timestamp"`
}

// InitState returns a fresh state in PLAN.
func InitState(caseName string) *State {
	return &State{Case: caseName, Phase: PhasePlan, Gates: map[string]bool{}}
}

// LoadState reads state.json. Returns nil if it does not exist; a malformed
// file is an error wrapping casefile.ErrSchemaMismatch.
func LoadState(caseDir string) (*State, error) {
	st, err := casefile.ReadJSON[State](filepath.Join(caseDir, casefile.StateFile))
	if err != nil || st == nil {
		return st, err
	}
	if st.Gates == nil {
		st.Gates = map[string]bool{}
	}
	return st, nil
}

// SaveState writes state.json atomically.
func SaveState(caseDir string, st *State) error {
	return casefile.WriteJSON(filepath.Join(caseDir, casefile.StateFile), st)
}

// Advance moves st to next, recording why, and bumps the iteration counter.
func Advance(st *State, next Phase, rule, reason string, now time.Time) Transition {
	st.Iteration++
	t := Transition{
		From:      st.Phase,
		To:        next,
		Rule:      rule,
		Reason:    reason,
		Iteration: st.Iteration,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	st.History = append(st.History, t)
	st.Phase = next
	return t
}
