package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GReX-Telescope/snap_bringup/pkg/sequence"
)

// RunDocument is the persisted form of one sequence.Result.
type RunDocument struct {
	RunID    string         `yaml:"run_id"`
	Board    string         `yaml:"board"`
	Started  time.Time      `yaml:"started"`
	Ended    time.Time      `yaml:"ended"`
	Duration string         `yaml:"duration"`
	OK       bool           `yaml:"ok"`
	Error    string         `yaml:"error,omitempty"`
	Steps    []StepDocument `yaml:"steps"`
}

// StepDocument is the persisted form of one sequence.StepRecord.
type StepDocument struct {
	Index    int    `yaml:"index"`
	Name     string `yaml:"name"`
	Optional bool   `yaml:"optional,omitempty"`
	Status   string `yaml:"status"`
	Attempts int    `yaml:"attempts"`
	Duration string `yaml:"duration,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// Document converts a result to its persisted form.
func Document(res *sequence.Result) RunDocument {
	doc := RunDocument{
		RunID:    res.RunID,
		Board:    res.Board,
		Started:  res.Started.UTC(),
		Ended:    res.Ended.UTC(),
		Duration: res.Duration().Round(time.Millisecond).String(),
		OK:       res.OK(),
		Steps:    make([]StepDocument, len(res.Steps)),
	}
	if res.Err != nil {
		doc.Error = res.Err.Error()
	}
	for i, rec := range res.Steps {
		step := StepDocument{
			Index:    rec.Index,
			Name:     rec.Name,
			Optional: rec.Optional,
			Status:   string(rec.Status),
			Attempts: rec.Attempts,
		}
		if rec.Status != sequence.StatusSkipped {
			step.Duration = rec.Duration.Round(time.Millisecond).String()
		}
		if rec.Err != nil {
			step.Error = rec.Err.Error()
		}
		doc.Steps[i] = step
	}
	return doc
}

// Encode writes results to w as a YAML list of run documents.
func Encode(w io.Writer, results []*sequence.Result) error {
	docs := make([]RunDocument, len(results))
	for i, res := range results {
		docs[i] = Document(res)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(docs); err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	return enc.Close()
}

// WriteFile saves results to path as YAML.
func WriteFile(path string, results []*sequence.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := Encode(f, results); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// ReadFile loads run documents written by WriteFile.
func ReadFile(path string) ([]RunDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	var docs []RunDocument
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("report: parse %s: %w", path, err)
	}
	return docs, nil
}
