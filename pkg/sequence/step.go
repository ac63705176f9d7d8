package sequence

import (
	"context"
	"time"

	"github.com/GReX-Telescope/snap_bringup/pkg/board"
)

// Action performs one unit of bringup work against a board.
type Action func(ctx context.Context, h *board.Handle) error

// Retry is a step's own retry policy. The zero value runs the step once.
// Retried steps must be idempotent.
type Retry struct {
	Attempts int           // Total attempts, including the first
	Delay    time.Duration // Wait between attempts
}

func (r Retry) attempts() int {
	if r.Attempts < 1 {
		return 1
	}
	return r.Attempts
}

// Step describes one bringup step. Steps are plain data; the order of the
// slice handed to New is the execution order.
type Step struct {
	Name        string
	Description string

	// Optional steps may fail without aborting the sequence.
	Optional bool
	Retry    Retry

	Action Action
	// Verify is the success predicate, checked after Action succeeds. A nil
	// Verify accepts any successful Action.
	Verify Action
}

// run executes one attempt.
func (s Step) run(ctx context.Context, h *board.Handle) error {
	if err := s.Action(ctx, h); err != nil {
		return err
	}
	if s.Verify != nil {
		if err := s.Verify(ctx, h); err != nil {
			return &VerifyError{Err: err}
		}
	}
	return nil
}
