// Package report renders bringup progress and results for the operator.
package report

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"

	"github.com/GReX-Telescope/snap_bringup/pkg/sequence"
)

// Reporter is a sequence.Observer that logs every step event and prints a
// result table when a run finishes. One Reporter may observe several boards
// at once.
type Reporter struct {
	log   *zap.Logger
	out   io.Writer
	color bool

	mu      sync.Mutex
	results []*sequence.Result
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithColor colors the status column of result tables.
func WithColor(enabled bool) Option {
	return func(r *Reporter) { r.color = enabled }
}

// New creates a Reporter logging to log and writing tables to out. A nil
// out disables tables.
func New(log *zap.Logger, out io.Writer, opts ...Option) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reporter{log: log, out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ sequence.Observer = (*Reporter)(nil)

func (r *Reporter) StepStarted(boardName string, index int, step sequence.Step) {
	fields := []zap.Field{zap.String("board", boardName), zap.String("step", step.Name), zap.Int("index", index+1)}
	if step.Description != "" {
		fields = append(fields, zap.String("description", step.Description))
	}
	r.log.Info("step started", fields...)
}

func (r *Reporter) StepRetrying(boardName string, index int, step sequence.Step, attempt int, err error) {
	r.log.Warn("step attempt failed, retrying",
		zap.String("board", boardName),
		zap.String("step", step.Name),
		zap.Int("attempt", attempt),
		zap.Int("attempts", step.Retry.Attempts),
		zap.Error(err))
}

func (r *Reporter) StepFinished(boardName string, rec sequence.StepRecord) {
	fields := []zap.Field{
		zap.String("board", boardName),
		zap.String("step", rec.Name),
		zap.Int("attempt", rec.Attempts),
		zap.Duration("duration", rec.Duration),
	}
	switch {
	case rec.Status == sequence.StatusSucceeded:
		r.log.Info("step succeeded", fields...)
	case rec.Optional:
		r.log.Warn("optional step failed", append(fields, zap.Error(rec.Err))...)
	default:
		r.log.Error("step failed", append(fields, zap.Error(rec.Err))...)
	}
}

func (r *Reporter) RunFinished(res *sequence.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)

	fields := []zap.Field{
		zap.String("board", res.Board),
		zap.String("run_id", res.RunID),
		zap.Duration("duration", res.Duration()),
		zap.Int("succeeded", res.Count(sequence.StatusSucceeded)),
		zap.Int("failed", res.Count(sequence.StatusFailed)),
		zap.Int("skipped", res.Count(sequence.StatusSkipped)),
	}
	if res.OK() {
		r.log.Info("bringup finished", fields...)
	} else {
		r.log.Error("bringup aborted", append(fields, zap.Error(res.Err))...)
	}

	if r.out != nil {
		r.render(res)
	}
}

// Results returns the results observed so far, in completion order.
func (r *Reporter) Results() []*sequence.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*sequence.Result(nil), r.results...)
}

// render writes the step table and a one-line summary. Callers hold r.mu.
func (r *Reporter) render(res *sequence.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s (run %s)", res.Board, res.RunID))
	t.AppendHeader(table.Row{"#", "Step", "Status", "Attempts", "Duration", "Error"})

	for _, rec := range res.Steps {
		attempts, duration, reason := "-", "-", ""
		if rec.Status != sequence.StatusSkipped {
			attempts = strconv.Itoa(rec.Attempts)
			duration = rec.Duration.Round(time.Millisecond).String()
		}
		if rec.Err != nil {
			reason = rec.Err.Error()
		}
		name := rec.Name
		if rec.Optional {
			name += " (optional)"
		}
		t.AppendRow(table.Row{rec.Index + 1, name, r.status(rec.Status), attempts, duration, reason})
	}
	t.Render()

	fmt.Fprintln(r.out, Summary(res))
}

func (r *Reporter) status(s sequence.Status) string {
	if !r.color {
		return string(s)
	}
	switch s {
	case sequence.StatusSucceeded:
		return text.FgGreen.Sprint(s)
	case sequence.StatusFailed:
		return text.FgRed.Sprint(s)
	default:
		return text.FgYellow.Sprint(s)
	}
}

// Summary is a one-line description of a run.
func Summary(res *sequence.Result) string {
	counts := fmt.Sprintf("%d succeeded, %d failed, %d skipped",
		res.Count(sequence.StatusSucceeded),
		res.Count(sequence.StatusFailed),
		res.Count(sequence.StatusSkipped))
	if res.OK() {
		return fmt.Sprintf("%s: bringup complete in %s (%s)", res.Board, res.Duration().Round(time.Millisecond), counts)
	}
	return fmt.Sprintf("%s: bringup FAILED: %v (%s)", res.Board, res.Err, counts)
}
