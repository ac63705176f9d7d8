package sequence

import (
	"errors"
	"fmt"
)

// ErrInvalidSequence is returned by New for malformed step lists.
var ErrInvalidSequence = errors.New("sequence: invalid step list")

// VerifyError marks a failure of a step's success predicate, as opposed to
// its action.
type VerifyError struct {
	Err error
}

func (e *VerifyError) Error() string {
	return "verify: " + e.Err.Error()
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// StepFailure records that a step failed after all its attempts.
type StepFailure struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepFailure) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("step %s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
	}
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepFailure) Unwrap() error {
	return e.Err
}

// SequenceAbort is returned by Run when a required step fails or the run is
// cancelled. Index is the 0-based position of the step that stopped the run.
type SequenceAbort struct {
	Board string
	Step  string
	Index int
	Cause error
}

func (e *SequenceAbort) Error() string {
	return fmt.Sprintf("bringup of %s aborted at step %d (%s): %v", e.Board, e.Index+1, e.Step, e.Cause)
}

func (e *SequenceAbort) Unwrap() error {
	return e.Cause
}
