package verifiers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"investigator/internal/casefile"
	"investigator/internal/gap"
	"investigator/internal/orchestrate"
	"investigator/internal/verify"
)

// State checks that state.json is readable, names a known phase, and that
// the gates recorded with it still justify having reached that phase.
func State(ctx context.Context, caseDir string, opts verify.Options) (verify.Result, error) {
	if err := checkCtx(ctx); err != nil {
		return verify.Result{}, err
	}
	st, err := orchestrate.LoadState(caseDir)
	if err != nil {
		if !errors.Is(err, casefile.ErrSchemaMismatch) {
			return verify.Result{}, err
		}
		return result([]gap.Gap{{
			Type:             gap.TypeStateInconsistent,
			Object:           map[string]any{"file": casefile.StateFile},
			Message:          "state.json is malformed",
			SuggestedActions: []string{"fix or delete state.json; check-continue recreates it in PLAN"},
		}}), nil
	}
	if st == nil {
		return result(nil), nil
	}

	var gaps []gap.Gap
	if !st.Phase.Known() {
		gaps = append(gaps, gap.Gap{
			Type:             gap.TypeStateInconsistent,
			Object:           map[string]any{"file": casefile.StateFile, "phase": string(st.Phase)},
			Message:          fmt.Sprintf("unknown phase %q", st.Phase),
			SuggestedActions: []string{"set phase to one of PLAN, BOOTSTRAP, QUESTION, FOLLOW, WRITE, VERIFY, COMPLETE"},
		})
	} else if missing := notHolding(st.Gates, orchestrate.RequiredGates(st.Phase)); len(missing) > 0 {
		gaps = append(gaps, gap.Gap{
			Type:    gap.TypeStateInconsistent,
			Object:  map[string]any{"file": casefile.StateFile, "phase": string(st.Phase)},
			Message: fmt.Sprintf("phase %s reached but required gates no longer pass", st.Phase),
			SuggestedActions: []string{
				"failing: " + strings.Join(missing, ", "),
				"redo the earlier phase work, or reset the phase",
			},
		})
	}
	loggerOf(opts, NameState).Debug("state checked", "phase", st.Phase, "gaps", len(gaps))
	return result(gaps), nil
}

func notHolding(gates map[string]bool, want []string) []string {
	var out []string
	for _, g := range want {
		if !gates[g] {
			out = append(out, g)
		}
	}
	return out
}
