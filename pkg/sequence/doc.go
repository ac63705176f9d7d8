// Package sequence runs an ordered list of bringup steps against one board.
//
// A Step is plain data: a name, an Action, an optional Verify predicate, an
// Optional flag and a Retry policy. Building the list as data lets callers
// compose recipes (see package snap) and lets tests supply fake actions.
//
// # Semantics
//
//   - Steps run in declared order, one at a time, on the calling goroutine.
//   - A step succeeds when its Action and then its Verify return nil. A
//     failing attempt is retried up to Retry.Attempts times, Retry.Delay
//     apart; there are no retries by default.
//   - When a required step fails, Run returns a *SequenceAbort wrapping the
//     *StepFailure, and the remaining steps are recorded as skipped without
//     being invoked.
//   - An optional step that fails is recorded as failed and the run goes on.
//   - Cancelling the context stops the run before the next step or during a
//     retry delay.
//
// The board handle is passed explicitly to every step, so several boards can
// be brought up independently with one Sequencer each.
package sequence
