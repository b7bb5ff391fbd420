// Package runner drives one derivation run from a dataset reader to a
// validated table and its run report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/TFMV/evfeatures/pkg/features"
	"github.com/TFMV/evfeatures/pkg/readers"
	"github.com/TFMV/evfeatures/pkg/schema"
	"github.com/TFMV/evfeatures/validation"
	"github.com/TFMV/evfeatures/version"
)

// Runner holds the options shared by every run.
type Runner struct {
	Options features.Options
	Logger  *zap.Logger

	// Now is the clock used for report timestamps.
	Now func() time.Time
}

// New returns a Runner. A nil logger discards output.
func New(opts features.Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &Runner{Options: opts, Logger: logger, Now: time.Now}
}

// Outcome is a completed run. Output is nil unless every invariant held.
type Outcome struct {
	Input  arrow.Record
	Output arrow.Record
	Report metrics.RunReport
}

// Release releases the input and output tables.
func (o *Outcome) Release() {
	if o == nil {
		return
	}
	if o.Input != nil {
		o.Input.Release()
		o.Input = nil
	}
	if o.Output != nil {
		o.Output.Release()
		o.Output = nil
	}
}

// Derive reads the whole source, derives the feature columns and checks the
// result. The returned Outcome carries a report even when err is non-nil, as
// long as the input could be read.
func (r *Runner) Derive(ctx context.Context, reader core.DatasetReader, meta metrics.RunMetadata) (*Outcome, error) {
	start := r.Now()
	meta.Tool = "evfeatures"
	meta.Version = version.GetVersion()
	meta.CurrentYear = r.Options.CurrentYear
	meta.UrbanColumn = r.Options.UrbanColumn
	meta.TieBreak = string(r.Options.TieBreak)
	meta.Parallel = r.Options.Parallel
	meta.Workers = r.Options.Workers
	meta.StartTime = start

	in, err := readers.ReadAll(ctx, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	out := &Outcome{Input: in, Report: metrics.RunReport{Run: meta}}
	out.Report.Table.NumRows = in.NumRows()
	out.Report.Table.InputColumns = int(in.NumCols())

	finish := func(err error) (*Outcome, error) {
		end := r.Now()
		out.Report.Run.EndTime = end
		out.Report.Run.Duration = end.Sub(start)
		out.Report.Status = status(err, end)
		return out, err
	}

	pipeline, err := features.New(r.Options)
	if err != nil {
		return finish(err)
	}
	// A source without even a header has nothing to check columns against.
	if in.NumRows() == 0 && in.NumCols() == 0 {
		return finish(&features.Fault{Code: features.ErrEmptyTable, Message: "input has no header and no rows"})
	}
	if err := r.preflight(pipeline, in.Schema()); err != nil {
		return finish(err)
	}

	res, err := pipeline.Run(ctx, in)
	if err != nil {
		return finish(err)
	}
	out.Report.Steps = metrics.StepsFromStats(res.Steps)
	describeOutput(&out.Report.Table, res)

	inv, err := validation.NewValidator(r.Options, r.Logger).Validate(ctx, in, res.Record)
	out.Report.Invariants = inv
	if err == nil {
		err = inv.Err()
	}
	if err != nil {
		res.Release()
		return finish(err)
	}

	out.Output = res.Record
	r.Logger.Info("Derivation complete",
		zap.Int64("rows", in.NumRows()),
		zap.Int("derived_columns", len(out.Report.Table.DerivedColumns)))
	return finish(nil)
}

// preflight checks the source schema before any step runs. Missing columns
// are reported as pipeline faults so callers see a single error shape.
func (r *Runner) preflight(p *features.Pipeline, s *arrow.Schema) error {
	result := schema.ForRegistrations(r.Options).ValidateSchema(s)
	for rule, notes := range result.Warnings {
		for _, n := range notes {
			r.Logger.Warn("Schema advisory", zap.String("rule", rule), zap.String("note", n))
		}
	}
	if result.Valid {
		return nil
	}
	if err := p.Check(s); err != nil {
		return err
	}
	details := make(map[string]interface{}, len(result.Errors))
	var msgs []string
	for rule, errs := range result.Errors {
		details[rule] = errs
		msgs = append(msgs, errs...)
	}
	return &metrics.ValidationError{
		Code:    "schema_invalid",
		Message: strings.Join(msgs, "; "),
		Details: details,
	}
}

func describeOutput(t *metrics.TableMetadata, res *features.Result) {
	t.OutputColumns = int(res.Record.NumCols())
	t.ColumnDataTypes = make(map[string]string, t.OutputColumns)
	for i, f := range res.Record.Schema().Fields() {
		t.ColumnDataTypes[f.Name] = f.Type.String()
		if i >= t.InputColumns {
			t.DerivedColumns = append(t.DerivedColumns, f.Name)
		}
	}
}

// ErrorCode returns a stable identifier for a run error.
func ErrorCode(err error) string {
	var fault *features.Fault
	var verr *metrics.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fault):
		return fault.Kind()
	case errors.As(err, &verr):
		return verr.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

func status(err error, at time.Time) metrics.RunStatus {
	if err == nil {
		return metrics.RunStatus{Passed: true, Timestamp: at}
	}
	return metrics.RunStatus{ErrorCode: ErrorCode(err), Message: err.Error(), Timestamp: at}
}

// WriteOutput writes rec through w and commits it. Any failure discards the
// partial output.
func WriteOutput(ctx context.Context, w core.DatasetWriter, rec arrow.Record) error {
	if err := w.Write(ctx, rec); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			return errors.Join(err, abortErr)
		}
		return err
	}
	return w.Close()
}
