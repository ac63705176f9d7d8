package sequence

import (
	"time"

	"github.com/samber/lo"
)

// Status is the outcome of one step.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped" // not run: an earlier required step failed
)

// StepRecord is the outcome of one declared step.
type StepRecord struct {
	Index    int
	Name     string
	Optional bool
	Status   Status
	Attempts int
	Duration time.Duration
	Err      error
}

// Result is the outcome of one bringup run against one board. Steps holds
// one record per declared step, in declared order.
type Result struct {
	RunID   string
	Board   string
	Started time.Time
	Ended   time.Time
	Steps   []StepRecord
	Err     error
}

// OK reports whether the run completed without aborting.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Failed returns the record of the required step that aborted the run.
func (r *Result) Failed() (StepRecord, bool) {
	return lo.Find(r.Steps, func(rec StepRecord) bool {
		return rec.Status == StatusFailed && !rec.Optional
	})
}

// Count returns how many records have the given status.
func (r *Result) Count(status Status) int {
	return lo.CountBy(r.Steps, func(rec StepRecord) bool {
		return rec.Status == status
	})
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.Ended.Sub(r.Started)
}
