package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GReX-Telescope/snap_bringup/pkg/board"
)

// Observer receives progress events. Calls are made synchronously from the
// goroutine running the sequence.
type Observer interface {
	StepStarted(boardName string, index int, step Step)
	StepRetrying(boardName string, index int, step Step, attempt int, err error)
	StepFinished(boardName string, rec StepRecord)
	RunFinished(res *Result)
}

// Sequencer runs an ordered list of steps against one board.
type Sequencer struct {
	steps    []Step
	observer Observer
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newID    func() string
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

// WithClock replaces time.Now for step durations.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// WithSleep replaces the wait between retry attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sequencer) { s.sleep = sleep }
}

// WithRunID replaces the uuid run id generator.
func WithRunID(newID func() string) Option {
	return func(s *Sequencer) { s.newID = newID }
}

// New validates steps and builds a Sequencer. Names must be non-empty and
// unique and every step needs an Action.
func New(steps []Step, opts ...Option) (*Sequencer, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidSequence)
	}
	seen := make(map[string]bool, len(steps))
	for i, st := range steps {
		if st.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalidSequence, i+1)
		}
		if seen[st.Name] {
			return nil, fmt.Errorf("%w: duplicate step %q", ErrInvalidSequence, st.Name)
		}
		seen[st.Name] = true
		if st.Action == nil {
			return nil, fmt.Errorf("%w: step %q has no action", ErrInvalidSequence, st.Name)
		}
		if st.Retry.Attempts < 0 || st.Retry.Delay < 0 {
			return nil, fmt.Errorf("%w: step %q has a negative retry policy", ErrInvalidSequence, st.Name)
		}
	}

	s := &Sequencer{
		steps:    append([]Step(nil), steps...),
		observer: nopObserver{},
		now:      time.Now,
		sleep:    sleepContext,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Steps returns a copy of the step list.
func (s *Sequencer) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Bringup connects with connect, runs the sequence and closes the handle. If
// connect fails no step is invoked: every step is recorded as skipped and
// the connection error is returned.
func (s *Sequencer) Bringup(ctx context.Context, boardName string, connect func(ctx context.Context) (*board.Handle, error)) (*Result, error) {
	h, err := connect(ctx)
	if err != nil {
		res := s.newResult(boardName)
		res.Err = err
		res.Ended = s.now()
		s.observer.RunFinished(res)
		return res, err
	}
	defer h.Close()
	return s.Run(ctx, h)
}

// Run executes the steps in order. A required step that fails, or a
// cancelled context, stops the run with a *SequenceAbort; the steps after it
// are recorded as skipped and never invoked.
func (s *Sequencer) Run(ctx context.Context, h *board.Handle) (*Result, error) {
	if h == nil {
		return nil, errors.New("sequence: nil board handle")
	}
	res := s.newResult(h.Target.Name)

	for i, st := range s.steps {
		if err := ctx.Err(); err != nil {
			res.Err = &SequenceAbort{Board: res.Board, Step: st.Name, Index: i, Cause: err}
			break
		}

		rec := s.runStep(ctx, h, res.Board, i, st)
		res.Steps[i] = rec
		if rec.Status == StatusFailed && !st.Optional {
			res.Err = &SequenceAbort{Board: res.Board, Step: st.Name, Index: i, Cause: rec.Err}
			break
		}
	}

	res.Ended = s.now()
	s.observer.RunFinished(res)
	return res, res.Err
}

func (s *Sequencer) newResult(boardName string) *Result {
	res := &Result{
		RunID:   s.newID(),
		Board:   boardName,
		Started: s.now(),
		Steps:   make([]StepRecord, len(s.steps)),
	}
	for i, st := range s.steps {
		res.Steps[i] = StepRecord{Index: i, Name: st.Name, Optional: st.Optional, Status: StatusSkipped}
	}
	return res
}

func (s *Sequencer) runStep(ctx context.Context, h *board.Handle, boardName string, index int, st Step) StepRecord {
	s.observer.StepStarted(boardName, index, st)
	start := s.now()
	rec := StepRecord{Index: index, Name: st.Name, Optional: st.Optional}

	var err error
	attempts := st.Retry.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		rec.Attempts = attempt
		if err = st.run(ctx, h); err == nil {
			break
		}
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		s.observer.StepRetrying(boardName, index, st, attempt, err)
		if serr := s.sleep(ctx, st.Retry.Delay); serr != nil {
			err = fmt.Errorf("%w (last attempt: %v)", serr, err)
			break
		}
	}

	rec.Duration = s.now().Sub(start)
	if err != nil {
		rec.Status = StatusFailed
		rec.Err = &StepFailure{Step: st.Name, Attempts: rec.Attempts, Err: err}
	} else {
		rec.Status = StatusSucceeded
	}
	s.observer.StepFinished(boardName, rec)
	return rec
}

type nopObserver struct{}

func (nopObserver) StepStarted(string, int, Step)             {}
func (nopObserver) StepRetrying(string, int, Step, int, error) {}
func (nopObserver) StepFinished(string, StepRecord)           {}
func (nopObserver) RunFinished(*Result)                       {}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
