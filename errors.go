package gridflow

import (
	"fmt"
	"strings"
)

// ValidationError reports config or prior-state shape violations. It is
// always raised synchronously before any callable is invoked, and collects
// every finding rather than stopping at the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n- %s", strings.Join(e.Problems, "\n- "))
}

// ProtocolError reports a violation of the engine's usage protocol: a
// duplicate once-event receipt, resuming against an incompatible snapshot,
// or starting a second concurrent run.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol violation: " + e.Reason
}

// ExecutionError reports a callable or transformation failure that aborted
// the run. Non-fatal callable failures are recorded in the state's error
// history instead and never surface as an ExecutionError.
type ExecutionError struct {
	Node string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TransitionError reports a fatal failure of a connection's transition
// stage: an evaluation error or a result whose shape disagrees with the
// declared targets. Malformed graph logic cannot be resolved locally, so a
// TransitionError always aborts the run.
type TransitionError struct {
	Connection int
	Detail     string
	Err        error
}

func (e *TransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection %d transition failed: %s: %v", e.Connection, e.Detail, e.Err)
	}
	return fmt.Sprintf("connection %d transition failed: %s", e.Connection, e.Detail)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// CancellationError reports that the run's context was cancelled. Cause
// carries the caller-supplied reason, if any.
type CancellationError struct {
	Cause error
}

func (e *CancellationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("run cancelled: %v", e.Cause)
	}
	return "run cancelled"
}

func (e *CancellationError) Unwrap() error { return e.Cause }
