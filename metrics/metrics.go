package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/TFMV/evfeatures/pkg/features"
)

// -----------------------------
// Domain Types & Metadata
// -----------------------------

// RunMetadata captures high-level context for a derivation run.
type RunMetadata struct {
	Tool        string        `json:"tool"`
	Version     string        `json:"version"`
	Input       string        `json:"input"`
	InputType   string        `json:"input_type"`
	Output      string        `json:"output,omitempty"`
	OutputType  string        `json:"output_type,omitempty"`
	CurrentYear int           `json:"current_year"`
	UrbanColumn string        `json:"urban_column"`
	TieBreak    string        `json:"tie_break"`
	Parallel    bool          `json:"parallel"`
	Workers     int           `json:"workers"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
}

// TableMetadata describes the table before and after derivation.
type TableMetadata struct {
	NumRows         int64             `json:"num_rows"`
	InputColumns    int               `json:"input_columns"`
	OutputColumns   int               `json:"output_columns"`
	DerivedColumns  []string          `json:"derived_columns"`
	ColumnDataTypes map[string]string `json:"column_data_types"`
}

// -----------------------------
// Result Types
// -----------------------------

// StepResult records one executed derivation step.
type StepResult struct {
	Name     string        `json:"name"`
	Columns  []string      `json:"columns"`
	Groups   int           `json:"groups"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StepsFromStats converts pipeline step statistics to report entries.
func StepsFromStats(stats []features.StepStat) []StepResult {
	out := make([]StepResult, len(stats))
	for i, s := range stats {
		out[i] = StepResult{
			Name:     s.Name,
			Columns:  s.Columns,
			Groups:   s.Groups,
			Warnings: s.Warnings,
			Duration: s.Duration,
		}
	}
	return out
}

// InvariantResult is the outcome of one post-derivation check.
type InvariantResult struct {
	Name       string `json:"name"`
	Passed     bool   `json:"passed"`
	Violations int    `json:"violations"`
	Message    string `json:"message,omitempty"`
}

// InvariantReport aggregates invariant checks.
type InvariantReport struct {
	Passed  bool              `json:"passed"`
	Results []InvariantResult `json:"results"`
}

// Add appends a result and keeps Passed current.
func (r *InvariantReport) Add(res InvariantResult) {
	if len(r.Results) == 0 {
		r.Passed = true
	}
	r.Results = append(r.Results, res)
	r.Passed = r.Passed && res.Passed
}

// Failed returns the failing checks.
func (r InvariantReport) Failed() []InvariantResult {
	var failed []InvariantResult
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err returns a ValidationError describing the failed checks, or nil.
func (r InvariantReport) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	details := make(map[string]interface{}, len(failed))
	for _, f := range failed {
		details[f.Name] = f.Message
	}
	return &ValidationError{
		Code:    "invariant_failed",
		Message: fmt.Sprintf("%d of %d invariants failed", len(failed), len(r.Results)),
		Details: details,
	}
}

// RunStatus holds the final status of a run.
type RunStatus struct {
	Passed    bool      `json:"passed"`
	ErrorCode string    `json:"error_code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunReport aggregates everything known about a derivation run.
type RunReport struct {
	Run        RunMetadata     `json:"run"`
	Table      TableMetadata   `json:"table"`
	Steps      []StepResult    `json:"steps"`
	Invariants InvariantReport `json:"invariants"`
	Status     RunStatus       `json:"status"`
}

// Warnings flattens step warnings, prefixed with the step name.
func (r RunReport) Warnings() []string {
	var out []string
	for _, s := range r.Steps {
		for _, w := range s.Warnings {
			out = append(out, s.Name+": "+w)
		}
	}
	return out
}

// -----------------------------
// Metrics Storage
// -----------------------------

// MetricsStore abstracts run report storage.
type MetricsStore interface {
	Save(run RunReport) error
	SaveWithContext(ctx context.Context, run RunReport) error
}

// JSONMetricsStore appends each run as one JSON line, so a file collects the
// history of runs. With no FilePath the report is printed to stdout.
type JSONMetricsStore struct {
	FilePath string
}

func (j *JSONMetricsStore) Save(run RunReport) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if j.FilePath == "" {
		fmt.Println(string(data))
		return nil
	}
	f, err := os.OpenFile(j.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open metrics file: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to append metrics: %w", err)
	}
	return f.Close()
}

func (j *JSONMetricsStore) SaveWithContext(ctx context.Context, run RunReport) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return j.Save(run)
	}
}

// -----------------------------
// Error Handling
// -----------------------------

type ValidationError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation Error [%s]: %s", e.Code, e.Message)
}
