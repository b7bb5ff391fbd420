// Package features derives analytical columns from an electric-vehicle
// registration table held as an Arrow record.
//
// A Pipeline is an ordered list of Steps. Each step receives the table built
// so far and returns a new record with its columns set; rows are never added,
// dropped or reordered. The default catalog appends, in order:
//
//	Make_Proportion, Urban, Urban_CAFV_Interaction_*, Vehicle Age,
//	Yearly_Growth_Rate, Quarter, Month, BEV_Proportion, PHEV_Proportion,
//	Dominant_Manufacturer, Dominant_Manufacturer_Proportion
//
// Any Fault aborts the run.
package features

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"
)

// StepStat describes one executed step.
type StepStat struct {
	Name     string
	Columns  []string
	Groups   int
	Warnings []string
	Duration time.Duration
}

// Result is the outcome of a pipeline run. The caller owns Record.
type Result struct {
	Record arrow.Record
	Steps  []StepStat
}

// Release releases the derived record.
func (r *Result) Release() {
	if r != nil && r.Record != nil {
		r.Record.Release()
		r.Record = nil
	}
}

// Pipeline applies steps in order.
type Pipeline struct {
	steps  []Step
	logger *zap.Logger
}

// NewPipeline creates a pipeline from explicit steps.
func NewPipeline(logger *zap.Logger, steps ...Step) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{steps: steps, logger: logger}
}

// New validates opts and creates a pipeline running the default catalog.
func New(opts Options) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature options: %w", err)
	}
	return NewPipeline(opts.logger(), DefaultCatalog(opts)...), nil
}

// Check verifies that every column a step reads is either in schema or
// produced by an earlier step.
func (p *Pipeline) Check(schema *arrow.Schema) error {
	available := make(map[string]bool, schema.NumFields())
	for _, f := range schema.Fields() {
		available[f.Name] = true
	}
	for _, step := range p.steps {
		for _, col := range step.Requires() {
			if !available[col] {
				return newFault(ErrMissingColumn, step.Name(), col, "required column is neither in the input nor produced by an earlier step")
			}
		}
		for _, col := range step.Produces() {
			available[col] = true
		}
	}
	return nil
}

// Run derives every step's columns from rec. rec is not modified or released.
func (p *Pipeline) Run(ctx context.Context, rec arrow.Record) (*Result, error) {
	if rec == nil || rec.NumRows() == 0 {
		return nil, newFault(ErrEmptyTable, "", "", "input has no rows")
	}
	if err := p.Check(rec.Schema()); err != nil {
		return nil, err
	}

	rows := rec.NumRows()
	current := rec
	current.Retain()
	release := func() { current.Release() }

	result := &Result{Steps: make([]StepStat, 0, len(p.steps))}
	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		default:
		}

		start := time.Now()
		out, err := step.Apply(ctx, current)
		if err != nil {
			release()
			p.logger.Error("Derivation step failed", zap.String("step", step.Name()), zap.Error(err))
			return nil, err
		}
		if out.Record.NumRows() != rows {
			out.Record.Release()
			release()
			return nil, fmt.Errorf("step %s changed the row count from %d to %d", step.Name(), rows, out.Record.NumRows())
		}

		stat := StepStat{
			Name:     step.Name(),
			Columns:  changedColumns(current.Schema(), out.Record.Schema(), step.Produces()),
			Groups:   out.Groups,
			Warnings: out.Warnings,
			Duration: time.Since(start),
		}
		result.Steps = append(result.Steps, stat)
		p.logger.Info("Derived columns",
			zap.String("step", stat.Name),
			zap.Strings("columns", stat.Columns),
			zap.Int("groups", stat.Groups),
			zap.Duration("duration", stat.Duration))

		current.Release()
		current = out.Record
	}

	result.Record = current
	return result, nil
}

// changedColumns lists the columns a step appended, plus any it replaced.
func changedColumns(before, after *arrow.Schema, produced []string) []string {
	var cols []string
	for _, f := range after.Fields() {
		if !before.HasField(f.Name) {
			cols = append(cols, f.Name)
			continue
		}
		for _, p := range produced {
			if p == f.Name {
				cols = append(cols, f.Name)
				break
			}
		}
	}
	return cols
}
