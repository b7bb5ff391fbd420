package features

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// InteractionStep concatenates Left and Right with Separator and expands the
// combined value into one boolean indicator column per category. Categories
// are ordered lexicographically; with DropFirst the first one is the reference
// level and gets no column. The combined column itself is never materialised.
type InteractionStep struct {
	Output    string
	Left      string
	Right     string
	Separator string
	DropFirst bool

	alloc memory.Allocator
}

// NewInteractionStep creates a one-hot interaction named name.
func NewInteractionStep(name, left, right string, opts Options) *InteractionStep {
	return &InteractionStep{
		Output:    name,
		Left:      left,
		Right:     right,
		Separator: opts.Separator,
		DropFirst: true,
		alloc:     opts.allocator(),
	}
}

func (s *InteractionStep) Name() string { return s.Output }
func (s *InteractionStep) Requires() []string { return []string{s.Left, s.Right} }
func (s *InteractionStep) Produces() []string { return nil }

// IndicatorName returns the column name used for category.
func (s *InteractionStep) IndicatorName(category string) string {
	return s.Output + "_" + category
}

// Categories returns the sorted distinct combined values present in rec.
func (s *InteractionStep) Categories(rec arrow.Record) ([]string, []string, error) {
	left, err := categorical(rec, s.Name(), s.Left)
	if err != nil {
		return nil, nil, err
	}
	right, err := categorical(rec, s.Name(), s.Right)
	if err != nil {
		return nil, nil, err
	}

	combined := make([]string, len(left))
	seen := make(map[string]struct{})
	var categories []string
	for i := range left {
		v := left[i] + s.Separator + right[i]
		combined[i] = v
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			categories = append(categories, v)
		}
	}
	sort.Strings(categories)
	return categories, combined, nil
}

// Apply implements Step.
func (s *InteractionStep) Apply(_ context.Context, rec arrow.Record) (StepOutput, error) {
	categories, combined, err := s.Categories(rec)
	if err != nil {
		return StepOutput{}, err
	}
	if s.DropFirst && len(categories) > 0 {
		categories = categories[1:]
	}

	fields := make([]arrow.Field, 0, len(categories))
	cols := make([]arrow.Array, 0, len(categories))
	for _, category := range categories {
		flags := make([]bool, len(combined))
		for i, v := range combined {
			flags[i] = v == category
		}
		fields = append(fields, arrow.Field{Name: s.IndicatorName(category), Type: arrow.FixedWidthTypes.Boolean})
		cols = append(cols, boolArray(s.alloc, flags))
	}

	var warnings []string
	if len(categories) == 0 {
		warnings = append(warnings, fmt.Sprintf("%s has a single category; no indicator columns emitted", s.Name()))
	}

	return StepOutput{
		Record:   withColumns(rec, fields, cols),
		Groups:   len(categories),
		Warnings: warnings,
	}, nil
}

// IndicatorCategory is the inverse of IndicatorName. It reports false for
// columns that are not this step's indicators.
func (s *InteractionStep) IndicatorCategory(column string) (string, bool) {
	return strings.CutPrefix(column, s.Output+"_")
}
