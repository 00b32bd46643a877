package model

import (
	"fmt"
	"time"
)

// FailureReason classifies why a single probe did not succeed.
// All reasons collapse into "port failed" for the user; the reason itself
// is kept for diagnostic logging and summary counts.
type FailureReason string

const (
	// ReasonBind indicates the local ephemeral UDP socket could not be opened.
	ReasonBind FailureReason = "bind"

	// ReasonSend indicates the challenge datagram could not be written.
	ReasonSend FailureReason = "send"

	// ReasonRecv indicates reading the response failed for a reason other
	// than the probe deadline (e.g. ICMP port unreachable surfaced by the OS).
	ReasonRecv FailureReason = "recv"

	// ReasonTimeout indicates the whole bind/send/receive sequence did not
	// finish before the per-probe timeout elapsed.
	ReasonTimeout FailureReason = "timeout"

	// ReasonMismatch indicates a datagram arrived but its payload was not
	// byte-identical to the token. Only produced in strict verification mode.
	ReasonMismatch FailureReason = "mismatch"
)

// String returns the string representation of FailureReason.
func (r FailureReason) String() string {
	return string(r)
}

// ProbeOutcome is the tagged result of one probe: either success, or a
// failure carrying its reason and the underlying error.
//
// Outcomes are produced and consumed inside a single probe task and never
// shared between goroutines.
type ProbeOutcome struct {
	// Port is the remote port that was probed.
	Port uint16

	// Reason is empty on success.
	Reason FailureReason

	// Err is the underlying error for failed probes, nil on success.
	Err error

	// RTT is the time between sending the challenge and receiving the reply.
	// Zero for failed probes.
	RTT time.Duration
}

// Succeeded reports whether the probe completed its challenge/response.
func (o ProbeOutcome) Succeeded() bool {
	return o.Reason == ""
}

// Success builds a successful outcome.
func Success(port uint16, rtt time.Duration) ProbeOutcome {
	return ProbeOutcome{Port: port, RTT: rtt}
}

// Failure builds a failed outcome.
func Failure(port uint16, reason FailureReason, err error) ProbeOutcome {
	return ProbeOutcome{Port: port, Reason: reason, Err: err}
}

// ProbeError wraps the error of a failed probe with its port and reason.
type ProbeError struct {
	Port   uint16
	Reason FailureReason
	Err    error
}

// Error satisfies the error interface.
func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe port %d: %s: %v", e.Port, e.Reason, e.Err)
	}
	return fmt.Sprintf("probe port %d: %s", e.Port, e.Reason)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// AsError converts a failed outcome to a *ProbeError. Returns nil on success.
func (o ProbeOutcome) AsError() error {
	if o.Succeeded() {
		return nil
	}
	return &ProbeError{Port: o.Port, Reason: o.Reason, Err: o.Err}
}

// Result is the report of a full client run over a port range.
type Result struct {
	// Target is the probed IP address in string form.
	Target string `json:"target"`

	// Range is the inclusive port range that was probed.
	Range PortRange `json:"range"`

	// Probed is the number of probe tasks that ran to completion.
	// Always equals Range.Len() for a run that returned without error.
	Probed int `json:"probed"`

	// Failed holds every port whose probe failed or timed out, in
	// ascending order, without duplicates.
	Failed []uint16 `json:"failed"`

	// Reasons counts failures per reason. Diagnostic only.
	Reasons map[FailureReason]int `json:"reasons,omitempty"`

	// PeakConcurrency is the highest number of probes observed past the
	// admission gate at the same time.
	PeakConcurrency int `json:"peakConcurrency"`

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration `json:"elapsed"`
}

// Succeeded returns the number of ports that answered correctly.
func (r *Result) Succeeded() int {
	return r.Probed - len(r.Failed)
}

// ExitCode defines the process exit codes of the CLI.
type ExitCode int

const (
	// ExitSuccess indicates the command completed. For the client this holds
	// regardless of how many ports failed.
	ExitSuccess ExitCode = 0

	// ExitError indicates an unrecoverable error: invalid arguments, an
	// unreadable config file, a bind failure, or an aborted run.
	ExitError ExitCode = 100
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
