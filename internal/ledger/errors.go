package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, machine-readable failure class.
type Code string

const (
	CodeLockTimeout        Code = "lock_timeout"
	CodeNotFound           Code = "not_found"
	CodeNotPending         Code = "not_pending"
	CodeAlreadyClaimed     Code = "already_claimed"
	CodeExceedsMaxDepth    Code = "exceeds_max_depth"
	CodeInvalidStatus      Code = "invalid_status"
	CodeInvalidInput       Code = "invalid_input"
	CodeVersionConflict    Code = "version_conflict"
	CodeSchemaMismatch     Code = "schema_mismatch"
	CodeNotInitialized     Code = "not_initialized"
	CodeAlreadyInitialized Code = "already_initialized"
	CodeBatchRejected      Code = "batch_rejected"
)

// Retryable reports whether the same request may succeed later without change.
func (c Code) Retryable() bool {
	return c == CodeLockTimeout
}

// Failure is one lead's reason for rejecting a batch claim.
type Failure struct {
	LeadID string `json:"lead_id"`
	Code   Code   `json:"code"`
	Msg    string `json:"error"`
}

// Error is the typed failure returned by every ledger operation.
type Error struct {
	Code Code
	Msg  string

	// Failures lists every per-lead rejection of a batch claim.
	Failures []Failure
	// Rejected is the child that AddChild refused to append.
	Rejected *Lead

	Cause error
}

func (e *Error) Error() string {
	if len(e.Failures) > 0 {
		parts := make([]string, len(e.Failures))
		for i, f := range e.Failures {
			parts[i] = f.LeadID + ": " + string(f.Code)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the ledger code from err, or "" if err is not a ledger error.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// AsError returns (*Error, true) if err is or wraps a ledger Error.
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
