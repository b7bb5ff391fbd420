package features

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
)

// VehicleAgeStep derives CurrentYear - Model Year. CurrentYear is resolved
// once by the caller, never per row.
type VehicleAgeStep struct {
	Output      string
	YearColumn  string
	CurrentYear int
	// Clamp sets negative ages (model year after CurrentYear) to 0.
	Clamp bool

	alloc  memory.Allocator
	logger *zap.Logger
}

// NewVehicleAgeStep creates the age step from opts.
func NewVehicleAgeStep(opts Options) *VehicleAgeStep {
	return &VehicleAgeStep{
		Output:      ColVehicleAge,
		YearColumn:  ColModelYear,
		CurrentYear: opts.CurrentYear,
		Clamp:       opts.ClampVehicleAge,
		alloc:       opts.allocator(),
		logger:      opts.logger(),
	}
}

func (s *VehicleAgeStep) Name() string { return s.Output }
func (s *VehicleAgeStep) Requires() []string { return []string{s.YearColumn} }
func (s *VehicleAgeStep) Produces() []string { return []string{s.Output} }

// Apply implements Step.
func (s *VehicleAgeStep) Apply(_ context.Context, rec arrow.Record) (StepOutput, error) {
	years, err := integers(rec, s.Name(), s.YearColumn)
	if err != nil {
		return StepOutput{}, err
	}

	var future int
	ages := make([]int64, len(years))
	for i, y := range years {
		age := int64(s.CurrentYear) - y
		if age < 0 {
			future++
			if s.Clamp {
				age = 0
			}
		}
		ages[i] = age
	}

	var warnings []string
	if future > 0 {
		verb := "kept negative"
		if s.Clamp {
			verb = "clamped to 0"
		}
		warnings = append(warnings, fmt.Sprintf("%d rows have a model year after %d; ages %s", future, s.CurrentYear, verb))
		s.logger.Warn("Model year after current year",
			zap.Int("rows", future),
			zap.Int("current_year", s.CurrentYear),
			zap.Bool("clamped", s.Clamp))
	}

	field := arrow.Field{Name: s.Output, Type: arrow.PrimitiveTypes.Int64}
	return StepOutput{
		Record:   withColumns(rec, []arrow.Field{field}, []arrow.Array{int64Array(s.alloc, ages)}),
		Warnings: warnings,
	}, nil
}

// DatePartsStep reads a bare year as January 1 of that year and extracts the
// quarter and month. Both are therefore always 1: the columns carry no
// seasonal signal and exist so downstream consumers keep a stable schema.
type DatePartsStep struct {
	YearColumn    string
	QuarterOutput string
	MonthOutput   string

	alloc memory.Allocator
}

// NewDatePartsStep creates the Quarter/Month step.
func NewDatePartsStep(opts Options) *DatePartsStep {
	return &DatePartsStep{
		YearColumn:    ColModelYear,
		QuarterOutput: ColQuarter,
		MonthOutput:   ColMonth,
		alloc:         opts.allocator(),
	}
}

func (s *DatePartsStep) Name() string { return s.QuarterOutput + "/" + s.MonthOutput }
func (s *DatePartsStep) Requires() []string { return []string{s.YearColumn} }
func (s *DatePartsStep) Produces() []string { return []string{s.QuarterOutput, s.MonthOutput} }

// Apply implements Step.
func (s *DatePartsStep) Apply(_ context.Context, rec arrow.Record) (StepOutput, error) {
	years, err := integers(rec, s.Name(), s.YearColumn)
	if err != nil {
		return StepOutput{}, err
	}

	quarters := make([]int64, len(years))
	months := make([]int64, len(years))
	for i, y := range years {
		if y < 1 || y > 9999 {
			return StepOutput{}, newFault(ErrTypeMismatch, s.Name(), s.YearColumn, "year %d at row %d is not a valid calendar year", y, i)
		}
		d := time.Date(int(y), time.January, 1, 0, 0, 0, 0, time.UTC)
		months[i] = int64(d.Month())
		quarters[i] = (months[i]-1)/3 + 1
	}

	fields := []arrow.Field{
		{Name: s.QuarterOutput, Type: arrow.PrimitiveTypes.Int64},
		{Name: s.MonthOutput, Type: arrow.PrimitiveTypes.Int64},
	}
	cols := []arrow.Array{int64Array(s.alloc, quarters), int64Array(s.alloc, months)}
	return StepOutput{Record: withColumns(rec, fields, cols)}, nil
}
