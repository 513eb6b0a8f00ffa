// Package mcp exposes case coordination to agents as MCP tools: the next
// action, gate and gap reports, and lead ledger operations.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"investigator/internal/aggregate"
	"investigator/internal/gap"
	"investigator/internal/gate"
	"investigator/internal/ledger"
	"investigator/internal/logging"
	"investigator/internal/orchestrate"
	"investigator/internal/wiring"
)

// Server wraps the MCP SDK server. Every tool call opens its case afresh,
// so concurrent agents only share state through the case directory.
type Server struct {
	MCPServer *sdkmcp.Server
	Options   wiring.Options
	Bus       *SignalBus

	log *slog.Logger
}

// NewServer registers the tools. opts is passed to wiring.Open for every
// call; its Logger, if set, is also the server's.
func NewServer(version string, opts wiring.Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.New("mcp")
	}
	s := &Server{Options: opts, Bus: NewSignalBus(opts.Now), log: log}
	s.MCPServer = sdkmcp.NewServer(&sdkmcp.Implementation{Name: "investigator", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "next_action",
		Description: "Evaluate the case and return the single next action. Auto-advances the phase when its conditions hold. status is CONTINUE, COMPLETE or ERROR.",
	}, s.handleNextAction)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_gates",
		Description: "Evaluate all eleven gates from disk state and write control/gate_results.json.",
	}, s.handleRunGates)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "aggregate_gaps",
		Description: "Run every verifier and the gates, then write control/gaps.json and digest.json. can_terminate is true when no blocking gap remains.",
	}, s.handleAggregateGaps)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "select_leads",
		Description: "List up to count claimable leads by priority then depth. Nothing is claimed.",
	}, s.handleSelectLeads)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "claim_leads",
		Description: "Claim one or more leads atomically. Either all are claimed or none; failures lists why each was refused.",
	}, s.handleClaimLeads)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "release_lead",
		Description: "Drop the claim on a lead without changing its status.",
	}, s.handleReleaseLead)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "update_lead",
		Description: "Finish a lead: status investigated or dead_end, with a result and the S### sources used.",
	}, s.handleUpdateLead)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "add_child_lead",
		Description: "Add a follow-up lead under a parent. Refused with exceeds_max_depth past the ledger's max depth.",
	}, s.handleAddChildLead)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "case_status",
		Description: "Read-only overview: phase, gates, lead counts and the last gap digest.",
	}, s.handleCaseStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "emit_signal",
		Description: "Announce a worker event (picked, done, error) on the message bus for other agents.",
	}, s.handleEmitSignal)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_signals",
		Description: "Read bus signals from an index onward, optionally for one case.",
	}, s.handleGetSignals)
}

// --- Tool input/output types ---

type caseInput struct {
	CaseDir string `json:"case_dir" jsonschema:"path to the case directory"`
}

type nextActionInput struct {
	CaseDir   string `json:"case_dir" jsonschema:"path to the case directory"`
	Batch     bool   `json:"batch,omitempty" jsonschema:"select several leads for parallel work in FOLLOW"`
	BatchSize int    `json:"batch_size,omitempty" jsonschema:"leads per batch (default from config)"`
	Prompt    bool   `json:"prompt,omitempty" jsonschema:"include the rendered agent prompt for the command"`
}

type leadView struct {
	ID        string   `json:"id"`
	Lead      string   `json:"lead"`
	Status    string   `json:"status"`
	Priority  string   `json:"priority"`
	Depth     int      `json:"depth"`
	Parent    string   `json:"parent,omitempty"`
	ClaimedBy string   `json:"claimed_by,omitempty"`
	ClaimedAt string   `json:"claimed_at,omitempty"`
	Result    string   `json:"result,omitempty"`
	Sources   []string `json:"sources,omitempty"`
}

func viewLead(l ledger.Lead) leadView {
	v := leadView{
		ID: l.ID, Lead: l.Lead, Status: string(l.Status), Priority: string(l.Priority),
		Depth: l.Depth, Parent: l.Parent, ClaimedBy: l.ClaimedBy, Result: l.Result, Sources: l.Sources,
	}
	if l.ClaimedAt != nil {
		v.ClaimedAt = l.ClaimedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func viewLeads(leads []ledger.Lead) []leadView {
	out := make([]leadView, len(leads))
	for i, l := range leads {
		out[i] = viewLead(l)
	}
	return out
}

type transitionView struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

type nextActionOutput struct {
	Status       string           `json:"status"`
	ExitCode     int              `json:"exit_code"`
	Phase        string           `json:"phase"`
	Command      string           `json:"command,omitempty"`
	Reason       string           `json:"reason"`
	Rule         string           `json:"rule"`
	Iteration    int              `json:"iteration"`
	Parallel     bool             `json:"parallel,omitempty"`
	Leads        []leadView       `json:"leads,omitempty"`
	FailingGates []string         `json:"failing_gates,omitempty"`
	Missing      []string         `json:"missing,omitempty"`
	Advanced     []transitionView `json:"advanced,omitempty"`
	Prompt       string           `json:"prompt,omitempty"`
}

type gateView struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

type gatesOutput struct {
	Overall       bool       `json:"overall"`
	Passed        int        `json:"passed"`
	Total         int        `json:"total"`
	BlockingGates []string   `json:"blocking_gates,omitempty"`
	Gates         []gateView `json:"gates"`
	InputDigest   string     `json:"input_digest"`
}

type gapsOutput struct {
	CanTerminate bool            `json:"can_terminate"`
	Iteration    int             `json:"iteration"`
	Stats        aggregate.Stats `json:"stats"`
	Blocking     []gap.Gap       `json:"blocking,omitempty"`
	NonBlocking  []gap.Gap       `json:"non_blocking,omitempty"`
	New          []string        `json:"new,omitempty"`
	Resolved     []string        `json:"resolved,omitempty"`
	VerifierErrs []string        `json:"verifier_errors,omitempty"`
}

type selectLeadsInput struct {
	CaseDir string `json:"case_dir" jsonschema:"path to the case directory"`
	Count   int    `json:"count,omitempty" jsonschema:"maximum leads to return (0 = all available)"`
}

type claimLeadsInput struct {
	CaseDir       string   `json:"case_dir" jsonschema:"path to the case directory"`
	LeadIDs       []string `json:"lead_ids" jsonschema:"lead IDs to claim together"`
	Agent         string   `json:"agent,omitempty" jsonschema:"worker name announced on the signal bus"`
	ExpectVersion int      `json:"expect_version,omitempty" jsonschema:"reject with version_conflict unless the ledger is at this version"`
}

type leadInput struct {
	CaseDir string `json:"case_dir" jsonschema:"path to the case directory"`
	LeadID  string `json:"lead_id" jsonschema:"lead ID such as L007"`
	Agent   string `json:"agent,omitempty" jsonschema:"worker name announced on the signal bus"`
}

type updateLeadInput struct {
	CaseDir string   `json:"case_dir" jsonschema:"path to the case directory"`
	LeadID  string   `json:"lead_id" jsonschema:"lead ID such as L007"`
	Status  string   `json:"status" jsonschema:"investigated or dead_end"`
	Result  string   `json:"result" jsonschema:"what was found, or why it was a dead end"`
	Sources []string `json:"sources,omitempty" jsonschema:"S### source IDs backing the result"`
	Agent   string   `json:"agent,omitempty" jsonschema:"worker name announced on the signal bus"`
}

type addChildInput struct {
	CaseDir  string   `json:"case_dir" jsonschema:"path to the case directory"`
	ParentID string   `json:"parent_id" jsonschema:"lead the follow-up came from"`
	Lead     string   `json:"lead" jsonschema:"what to investigate"`
	Priority string   `json:"priority,omitempty" jsonschema:"HIGH, MEDIUM (default) or LOW"`
	Sources  []string `json:"sources,omitempty" jsonschema:"S### sources that prompted the lead"`
}

type ledgerOutput struct {
	Success   bool             `json:"success"`
	Code      string           `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
	Version   int              `json:"version,omitempty"`
	Token     string           `json:"claim_token,omitempty"`
	Leads     []leadView       `json:"leads,omitempty"`
	Failures  []ledger.Failure `json:"failures,omitempty"`
	Rejected  *leadView        `json:"rejected,omitempty"`
}

func ledgerResult(out ledger.Outcome, err error) ledgerOutput {
	r := ledger.Respond(out, err)
	o := ledgerOutput{
		Success: r.Success, Code: string(r.Code), Error: r.Error, Retryable: r.Retryable,
		Version: r.Version, Token: r.Token, Failures: r.Failures,
	}
	if len(r.Leads) > 0 {
		o.Leads = viewLeads(r.Leads)
	}
	if r.Rejected != nil {
		v := viewLead(*r.Rejected)
		o.Rejected = &v
	}
	return o
}

type statusOutput struct {
	Case         string   `json:"case"`
	Phase        string   `json:"phase"`
	Iteration    int      `json:"iteration"`
	GatesPassed  int      `json:"gates_passed"`
	GatesTotal   int      `json:"gates_total"`
	FailingGates []string `json:"failing_gates,omitempty"`
	LeadsTotal   int      `json:"leads_total"`
	LeadsPending int      `json:"leads_pending"`
	LeadsClaimed int      `json:"leads_claimed"`
	BlockingGaps *int     `json:"blocking_gaps,omitempty"`
	CanTerminate bool     `json:"can_terminate"`
}

type emitSignalInput struct {
	Event   string            `json:"event,omitempty" jsonschema:"signal event (picked, done, error)"`
	Agent   string            `json:"agent,omitempty" jsonschema:"worker name"`
	CaseDir string            `json:"case_dir,omitempty" jsonschema:"case the signal is about"`
	LeadID  string            `json:"lead_id,omitempty" jsonschema:"lead the signal is about"`
	Meta    map[string]string `json:"meta,omitempty" jsonschema:"optional key-value metadata"`
}

type emitSignalOutput struct {
	Index int `json:"index"`
}

type getSignalsInput struct {
	Since   int    `json:"since,omitempty" jsonschema:"return signals from this index onward (0-based)"`
	CaseDir string `json:"case_dir,omitempty" jsonschema:"only signals for this case"`
}

type getSignalsOutput struct {
	Signals []Signal `json:"signals"`
	Total   int      `json:"total"`
}

// --- Tool handlers ---

func (s *Server) open(dir string) (*wiring.Case, error) {
	if dir == "" {
		return nil, fmt.Errorf("case_dir is required")
	}
	opts := s.Options
	opts.Logger = s.log
	return wiring.Open(dir, opts)
}

func (s *Server) handleNextAction(ctx context.Context, _ *sdkmcp.CallToolRequest, in nextActionInput) (*sdkmcp.CallToolResult, nextActionOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, nextActionOutput{}, err
	}
	defer c.Close()
	act, err := c.Next(ctx, orchestrate.Options{Batch: in.Batch, BatchSize: in.BatchSize})
	if err != nil {
		return nil, nextActionOutput{}, fmt.Errorf("next_action: %w", err)
	}
	out := nextActionOutput{
		Status: string(act.Status), ExitCode: act.Status.ExitCode(), Phase: string(act.Phase),
		Command: act.Command, Reason: act.Reason, Rule: act.Rule, Iteration: act.Iteration,
		Parallel: act.Parallel, FailingGates: act.FailingGates, Missing: act.Missing,
	}
	if len(act.Leads) > 0 {
		out.Leads = viewLeads(act.Leads)
	}
	for _, t := range act.Advanced {
		out.Advanced = append(out.Advanced, transitionView{From: string(t.From), To: string(t.To), Rule: t.Rule, Reason: t.Reason})
	}
	if in.Prompt {
		if out.Prompt, err = c.Prompt(act); err != nil {
			return nil, nextActionOutput{}, fmt.Errorf("next_action: %w", err)
		}
	}
	return nil, out, nil
}

func (s *Server) handleRunGates(ctx context.Context, _ *sdkmcp.CallToolRequest, in caseInput) (*sdkmcp.CallToolResult, gatesOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, gatesOutput{}, err
	}
	defer c.Close()
	rep, err := c.RunGates(ctx)
	if err != nil {
		return nil, gatesOutput{}, fmt.Errorf("run_gates: %w", err)
	}
	out := gatesOutput{
		Overall: rep.Overall, Passed: rep.Summary.Passed, Total: rep.Summary.Total,
		BlockingGates: rep.BlockingGates, InputDigest: rep.InputDigest, Gates: []gateView{},
	}
	for _, name := range gate.Names() {
		if r, ok := rep.Gates[name]; ok {
			out.Gates = append(out.Gates, gateView{Name: name, Passed: r.Passed, Reason: r.Reason})
		}
	}
	return nil, out, nil
}

func (s *Server) handleAggregateGaps(ctx context.Context, _ *sdkmcp.CallToolRequest, in caseInput) (*sdkmcp.CallToolResult, gapsOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, gapsOutput{}, err
	}
	defer c.Close()
	rep, err := c.Aggregate(ctx)
	if err != nil {
		return nil, gapsOutput{}, fmt.Errorf("aggregate_gaps: %w", err)
	}
	out := gapsOutput{
		CanTerminate: rep.CanTerminate(), Iteration: rep.Iteration, Stats: rep.Stats,
		Blocking: rep.Blocking, NonBlocking: rep.NonBlocking,
	}
	if rep.Changes != nil {
		out.New, out.Resolved = rep.Changes.New, rep.Changes.Resolved
	}
	for _, o := range rep.Verifiers {
		if !o.OK {
			out.VerifierErrs = append(out.VerifierErrs, o.Name+": "+o.Error)
		}
	}
	return nil, out, nil
}

func (s *Server) handleSelectLeads(ctx context.Context, _ *sdkmcp.CallToolRequest, in selectLeadsInput) (*sdkmcp.CallToolResult, ledgerOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, ledgerOutput{}, err
	}
	defer c.Close()
	leads, err := c.Ledger.BatchSelect(ctx, in.Count)
	out := ledgerResult(ledger.Outcome{Leads: leads}, err)
	if err == nil && out.Leads == nil {
		out.Leads = []leadView{}
	}
	return nil, out, nil
}

func (s *Server) handleClaimLeads(ctx context.Context, _ *sdkmcp.CallToolRequest, in claimLeadsInput) (*sdkmcp.CallToolResult, ledgerOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, ledgerOutput{}, err
	}
	defer c.Close()
	l := c.Ledger
	if in.ExpectVersion > 0 {
		l = l.ExpectVersion(in.ExpectVersion)
	}
	var out ledger.Outcome
	if len(in.LeadIDs) == 1 {
		out, err = l.Claim(ctx, in.LeadIDs[0])
	} else {
		out, err = l.BatchClaim(ctx, in.LeadIDs)
	}
	if err == nil {
		for _, id := range in.LeadIDs {
			s.Bus.Emit(Signal{Event: "claimed", Agent: in.Agent, CaseDir: in.CaseDir, LeadID: id})
		}
	}
	return nil, ledgerResult(out, err), nil
}

func (s *Server) handleReleaseLead(ctx context.Context, _ *sdkmcp.CallToolRequest, in leadInput) (*sdkmcp.CallToolResult, ledgerOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, ledgerOutput{}, err
	}
	defer c.Close()
	out, err := c.Ledger.Release(ctx, in.LeadID)
	if err == nil {
		s.Bus.Emit(Signal{Event: "released", Agent: in.Agent, CaseDir: in.CaseDir, LeadID: in.LeadID})
	}
	return nil, ledgerResult(out, err), nil
}

func (s *Server) handleUpdateLead(ctx context.Context, _ *sdkmcp.CallToolRequest, in updateLeadInput) (*sdkmcp.CallToolResult, ledgerOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, ledgerOutput{}, err
	}
	defer c.Close()
	out, err := c.Ledger.Update(ctx, in.LeadID, ledger.UpdateSpec{Status: ledger.Status(in.Status), Result: in.Result, Sources: in.Sources})
	if err == nil {
		s.Bus.Emit(Signal{Event: "done", Agent: in.Agent, CaseDir: in.CaseDir, LeadID: in.LeadID, Meta: map[string]string{"status": in.Status}})
	}
	return nil, ledgerResult(out, err), nil
}

func (s *Server) handleAddChildLead(ctx context.Context, _ *sdkmcp.CallToolRequest, in addChildInput) (*sdkmcp.CallToolResult, ledgerOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, ledgerOutput{}, err
	}
	defer c.Close()
	out, err := c.Ledger.AddChild(ctx, in.ParentID, ledger.ChildSpec{Lead: in.Lead, Priority: in.Priority, Sources: in.Sources})
	return nil, ledgerResult(out, err), nil
}

func (s *Server) handleCaseStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, in caseInput) (*sdkmcp.CallToolResult, statusOutput, error) {
	c, err := s.open(in.CaseDir)
	if err != nil {
		return nil, statusOutput{}, err
	}
	defer c.Close()
	st, err := c.Status(ctx)
	if err != nil {
		return nil, statusOutput{}, fmt.Errorf("case_status: %w", err)
	}
	out := statusOutput{
		Case: st.Case, Phase: string(st.Phase), Iteration: st.Iteration,
		GatesPassed: st.Gates.Summary.Passed, GatesTotal: st.Gates.Summary.Total, FailingGates: st.Gates.BlockingGates,
	}
	if st.Leads != nil {
		out.LeadsTotal = st.Leads.Total
		out.LeadsPending = st.Leads.ByStatus[ledger.StatusPending]
		out.LeadsClaimed = st.Leads.InFlight
	}
	if st.Digest != nil {
		n := st.Digest.BlockingGaps
		out.BlockingGaps = &n
		out.CanTerminate = st.Digest.CanTerminate
	}
	return nil, out, nil
}

func (s *Server) handleEmitSignal(_ context.Context, _ *sdkmcp.CallToolRequest, in emitSignalInput) (*sdkmcp.CallToolResult, emitSignalOutput, error) {
	if in.Event == "" {
		return nil, emitSignalOutput{}, fmt.Errorf("event is required")
	}
	if in.Agent == "" {
		return nil, emitSignalOutput{}, fmt.Errorf("agent is required")
	}
	idx := s.Bus.Emit(Signal{Event: in.Event, Agent: in.Agent, CaseDir: in.CaseDir, LeadID: in.LeadID, Meta: in.Meta}) - 1
	s.log.Info("signal emitted", "index", idx, "event", in.Event, "agent", in.Agent, "lead_id", in.LeadID)
	return nil, emitSignalOutput{Index: idx}, nil
}

func (s *Server) handleGetSignals(_ context.Context, _ *sdkmcp.CallToolRequest, in getSignalsInput) (*sdkmcp.CallToolResult, getSignalsOutput, error) {
	return nil, getSignalsOutput{Signals: s.Bus.Since(in.Since, in.CaseDir), Total: s.Bus.Len()}, nil
}
