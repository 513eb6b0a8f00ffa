package orchestrate

import "investigator/internal/gate"

// Phase is a state of the investigation workflow.
type Phase string

const (
	PhasePlan      Phase = "PLAN"
	PhaseBootstrap Phase = "BOOTSTRAP"
	PhaseQuestion  Phase = "QUESTION"
	PhaseFollow    Phase = "FOLLOW"
	PhaseWrite     Phase = "WRITE"
	PhaseVerify    Phase = "VERIFY"
	PhaseComplete  Phase = "COMPLETE"
)

// Phases lists the workflow in order.
var Phases = []Phase{PhasePlan, PhaseBootstrap, PhaseQuestion, PhaseFollow, PhaseWrite, PhaseVerify, PhaseComplete}

// Known reports whether p is one of Phases.
func (p Phase) Known() bool {
	return p.Index() >= 0
}

// Index returns p's position in Phases, or -1.
func (p Phase) Index() int {
	for i, q := range Phases {
		if q == p {
			return i
		}
	}
	return -1
}

// Terminal reports whether p ends the workflow.
func (p Phase) Terminal() bool { return p == PhaseComplete }

// RequiredGates lists the gates that must already hold once a case has
// reached p. A persisted phase past a gate that no longer holds indicates
// tampering or regression.
func RequiredGates(p Phase) []string {
	switch p {
	case PhaseQuestion:
		return []string{gate.Planning}
	case PhaseFollow:
		return []string{gate.Planning, gate.Questions}
	case PhaseWrite, PhaseVerify:
		return writePrerequisites
	}
	return nil
}

// writePrerequisites must hold before an article may be written.
var writePrerequisites = []string{gate.Planning, gate.Questions, gate.Curiosity, gate.Reconciliation}

// Commands emitted in Action.Command.
const (
	CmdPlan           = "plan"
	CmdBootstrap      = "bootstrap"
	CmdQuestion       = "question"
	CmdFollow         = "follow"
	CmdFollowBatch    = "follow-batch"
	CmdWait           = "wait"
	CmdReconcile      = "reconcile"
	CmdCuriosity      = "curiosity"
	CmdWrite          = "write"
	CmdReviewParallel = "review-parallel"
	CmdVerify         = "verify"
)
