package features

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Labels written by the urban classification.
const (
	LabelUrban    = "Urban"
	LabelNonUrban = "Non-Urban"
)

// ClassifyStep labels each row by membership of Column in an allow-list.
// Applying it again on the same Output replaces the earlier result.
type ClassifyStep struct {
	Output   string
	Column   string
	Accepted map[string]struct{}
	InLabel  string
	OutLabel string

	alloc memory.Allocator
}

// NewClassifyStep creates an allow-list classifier writing InLabel/OutLabel
// ("Urban"/"Non-Urban" unless changed) to output.
func NewClassifyStep(output, column string, accepted []string, opts Options) *ClassifyStep {
	set := make(map[string]struct{}, len(accepted))
	for _, v := range accepted {
		set[v] = struct{}{}
	}
	return &ClassifyStep{
		Output:   output,
		Column:   column,
		Accepted: set,
		InLabel:  LabelUrban,
		OutLabel: LabelNonUrban,
		alloc:    opts.allocator(),
	}
}

func (s *ClassifyStep) Name() string { return s.Output }
func (s *ClassifyStep) Requires() []string { return []string{s.Column} }
func (s *ClassifyStep) Produces() []string { return []string{s.Output} }

// Apply implements Step.
func (s *ClassifyStep) Apply(_ context.Context, rec arrow.Record) (StepOutput, error) {
	values, err := categorical(rec, s.Name(), s.Column)
	if err != nil {
		return StepOutput{}, err
	}

	out := make([]string, len(values))
	for i, v := range values {
		if _, ok := s.Accepted[v]; ok {
			out[i] = s.InLabel
		} else {
			out[i] = s.OutLabel
		}
	}

	field := arrow.Field{Name: s.Output, Type: arrow.BinaryTypes.String}
	return StepOutput{
		Record: withColumns(rec, []arrow.Field{field}, []arrow.Array{stringArray(s.alloc, out)}),
	}, nil
}
