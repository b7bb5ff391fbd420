package features

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Kind is the closed set of grouped aggregations a Rule can express.
type Kind string

const (
	// KindValueShare is the share of the row's own Target value within its group.
	KindValueShare Kind = "value_share"
	// KindValueMean is the fraction of rows in the group whose Target equals Value.
	KindValueMean Kind = "value_mean"
	// KindMode is the most frequent Target value in the group.
	KindMode Kind = "mode"
	// KindModeShare is the mode's row count divided by the group size.
	KindModeShare Kind = "mode_share"
	// KindSeqPctChange is the period-over-period change in row count per
	// (GroupKey, OrderBy) bucket, ordered by OrderBy within each GroupKey.
	KindSeqPctChange Kind = "seq_pct_change"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindValueShare, KindValueMean, KindMode, KindModeShare, KindSeqPctChange:
		return true
	}
	return false
}

// TieBreak selects the winner when two values share the maximum count.
type TieBreak string

const (
	// TieBreakLexical picks the lexicographically smallest value.
	TieBreakLexical TieBreak = "lexical"
	// TieBreakFirstSeen picks the value that occurs first in row order.
	TieBreakFirstSeen TieBreak = "first_seen"
)

// Valid reports whether t is a known tie-break policy.
func (t TieBreak) Valid() bool {
	return t == TieBreakLexical || t == TieBreakFirstSeen
}

// Rule describes one grouped aggregation whose result is broadcast back to every row.
type Rule struct {
	Output   string
	GroupKey string
	Target   string
	Kind     Kind
	Value    string // KindValueMean only
	OrderBy  string // KindSeqPctChange only
}

// Validate checks that the rule carries the fields its kind needs.
func (r Rule) Validate() error {
	if r.Output == "" {
		return fmt.Errorf("rule output column is required")
	}
	if r.GroupKey == "" {
		return fmt.Errorf("rule %s: group key is required", r.Output)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("rule %s: unknown aggregation kind %q", r.Output, r.Kind)
	}
	switch r.Kind {
	case KindSeqPctChange:
		if r.OrderBy == "" {
			return fmt.Errorf("rule %s: order-by column is required for %s", r.Output, r.Kind)
		}
	default:
		if r.Target == "" {
			return fmt.Errorf("rule %s: target column is required for %s", r.Output, r.Kind)
		}
	}
	return nil
}

// Requires lists the columns the rule reads.
func (r Rule) Requires() []string {
	if r.Kind == KindSeqPctChange {
		return []string{r.GroupKey, r.OrderBy}
	}
	return []string{r.GroupKey, r.Target}
}

// Step is one stage of the derivation pipeline. Apply must not add, drop or
// reorder rows; it returns a new record with the step's columns set.
type Step interface {
	Name() string
	Requires() []string
	// Produces lists statically known output columns. Steps whose output
	// columns depend on the data return nil.
	Produces() []string
	Apply(ctx context.Context, rec arrow.Record) (StepOutput, error)
}

// StepOutput is what a step hands back to the pipeline.
type StepOutput struct {
	Record   arrow.Record
	Groups   int
	Warnings []string
}
