package ledger

// Response is the machine-readable result of a ledger operation, shared by
// the CLI's JSON output and the MCP tools.
type Response struct {
	Success   bool      `json:"success"`
	Code      Code      `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
	Rejected  *Lead     `json:"rejected,omitempty"`
	Outcome
}

// Respond folds an operation's result into a Response. Errors that are not
// ledger errors are reported with an empty code.
func Respond(out Outcome, err error) Response {
	if err == nil {
		return Response{Success: true, Outcome: out}
	}
	r := Response{Error: err.Error()}
	if le, ok := AsError(err); ok {
		r.Code = le.Code
		r.Error = le.Msg
		r.Retryable = le.Code.Retryable()
		r.Failures = le.Failures
		r.Rejected = le.Rejected
	}
	return r
}
