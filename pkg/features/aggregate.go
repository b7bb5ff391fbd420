package features

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// AggregateStep evaluates a Rule and broadcasts the per-group result to each row.
type AggregateStep struct {
	Rule     Rule
	TieBreak TieBreak
	Workers  int

	alloc  memory.Allocator
	logger *zap.Logger
}

// NewAggregateStep creates a step for rule.
func NewAggregateStep(rule Rule, opts Options) *AggregateStep {
	return &AggregateStep{
		Rule:     rule,
		TieBreak: opts.TieBreak,
		Workers:  opts.workers(),
		alloc:    opts.allocator(),
		logger:   opts.logger(),
	}
}

func (s *AggregateStep) Name() string { return s.Rule.Output }
func (s *AggregateStep) Requires() []string { return s.Rule.Requires() }
func (s *AggregateStep) Produces() []string { return []string{s.Rule.Output} }

// Apply implements Step.
func (s *AggregateStep) Apply(ctx context.Context, rec arrow.Record) (StepOutput, error) {
	if err := s.Rule.Validate(); err != nil {
		return StepOutput{}, err
	}
	if s.Rule.Kind == KindSeqPctChange {
		return s.applyGrowth(rec)
	}

	keys, err := categorical(rec, s.Name(), s.Rule.GroupKey)
	if err != nil {
		return StepOutput{}, err
	}
	targets, err := categorical(rec, s.Name(), s.Rule.Target)
	if err != nil {
		return StepOutput{}, err
	}
	groups := buildGroups(keys)

	var col arrow.Array
	var field arrow.Field
	switch s.Rule.Kind {
	case KindMode:
		labels := make([]string, groups.len())
		err = forEachGroup(ctx, groups.len(), s.Workers, func(g int) error {
			label, _, err := s.modeOf(targets, groups.rows[g])
			labels[g] = label
			return err
		})
		if err != nil {
			return StepOutput{}, err
		}
		out := make([]string, len(keys))
		for row, g := range groups.of {
			out[row] = labels[g]
		}
		col = stringArray(s.alloc, out)
		field = arrow.Field{Name: s.Rule.Output, Type: arrow.BinaryTypes.String}
	default:
		out, err := s.ratios(ctx, groups, targets)
		if err != nil {
			return StepOutput{}, err
		}
		col = float64Array(s.alloc, out)
		field = arrow.Field{Name: s.Rule.Output, Type: arrow.PrimitiveTypes.Float64}
	}

	return StepOutput{
		Record: withColumns(rec, []arrow.Field{field}, []arrow.Array{col}),
		Groups: groups.len(),
	}, nil
}

// ratios computes the float-valued kinds. Each group's result lands in the
// rows belonging to that group only.
func (s *AggregateStep) ratios(ctx context.Context, groups *groupIndex, targets []string) ([]float64, error) {
	out := make([]float64, len(targets))
	err := forEachGroup(ctx, groups.len(), s.Workers, func(g int) error {
		rows := groups.rows[g]
		if len(rows) == 0 {
			return newFault(ErrDegenerateGroup, s.Name(), s.Rule.GroupKey, "group %q has no rows", groups.keys[g])
		}
		size := float64(len(rows))

		switch s.Rule.Kind {
		case KindValueShare:
			counts := make(map[string]int)
			for _, r := range rows {
				counts[targets[r]]++
			}
			for _, r := range rows {
				out[r] = float64(counts[targets[r]]) / size
			}
		case KindValueMean:
			indicator := make([]float64, len(rows))
			for i, r := range rows {
				if targets[r] == s.Rule.Value {
					indicator[i] = 1
				}
			}
			mean := stat.Mean(indicator, nil)
			for _, r := range rows {
				out[r] = mean
			}
		case KindModeShare:
			_, n, err := s.modeOf(targets, rows)
			if err != nil {
				return err
			}
			share := float64(n) / size
			for _, r := range rows {
				out[r] = share
			}
		default:
			return fmt.Errorf("rule %s: kind %s does not produce a ratio", s.Rule.Output, s.Rule.Kind)
		}
		return nil
	})
	return out, err
}

// modeOf returns the most frequent value among rows and its count.
func (s *AggregateStep) modeOf(values []string, rows []int) (string, int, error) {
	if len(rows) == 0 {
		return "", 0, newFault(ErrDegenerateGroup, s.Name(), s.Rule.GroupKey, "cannot take the mode of an empty group")
	}

	counts := make(map[string]int)
	var order []string
	for _, r := range rows {
		v := values[r]
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}

	best, bestN := "", -1
	for _, v := range order {
		n := counts[v]
		switch {
		case n > bestN:
			best, bestN = v, n
		case n == bestN && s.TieBreak != TieBreakFirstSeen && v < best:
			best = v
		}
	}
	return best, bestN, nil
}

type bucket struct {
	key    string
	period int64
}

// applyGrowth partitions rows by GroupKey, counts rows per OrderBy value and
// joins the percentage change against the previous period back onto each row.
func (s *AggregateStep) applyGrowth(rec arrow.Record) (StepOutput, error) {
	keys, err := categorical(rec, s.Name(), s.Rule.GroupKey)
	if err != nil {
		return StepOutput{}, err
	}
	periods, err := integers(rec, s.Name(), s.Rule.OrderBy)
	if err != nil {
		return StepOutput{}, err
	}

	rates, partitions := growthRates(keys, periods)

	var missing int
	out := make([]float64, len(keys))
	for row := range keys {
		rate, ok := rates[bucket{keys[row], periods[row]}]
		if !ok {
			missing++
			continue
		}
		out[row] = rate
	}

	var warnings []string
	if missing > 0 {
		msg := fmt.Sprintf("%d rows had no growth statistic and were set to 0", missing)
		s.logger.Warn("Growth statistic missing for rows", zap.String("step", s.Name()), zap.Int("rows", missing))
		warnings = append(warnings, msg)
	}

	col := float64Array(s.alloc, out)
	field := arrow.Field{Name: s.Rule.Output, Type: arrow.PrimitiveTypes.Float64}
	return StepOutput{
		Record:   withColumns(rec, []arrow.Field{field}, []arrow.Array{col}),
		Groups:   partitions,
		Warnings: warnings,
	}, nil
}

// growthRates computes (count - previous) / previous for every (key, period)
// bucket with periods ascending inside each key. The first period of a key and
// any undefined ratio are 0.
func growthRates(keys []string, periods []int64) (map[bucket]float64, int) {
	counts := make(map[bucket]int)
	byKey := make(map[string][]int64)
	for row, key := range keys {
		b := bucket{key, periods[row]}
		if counts[b] == 0 {
			byKey[key] = append(byKey[key], periods[row])
		}
		counts[b]++
	}

	rates := make(map[bucket]float64, len(counts))
	for key, ps := range byKey {
		sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
		for i, p := range ps {
			if i == 0 {
				rates[bucket{key, p}] = 0
				continue
			}
			prev := float64(counts[bucket{key, ps[i-1]}])
			cur := float64(counts[bucket{key, p}])
			rate := (cur - prev) / prev
			if prev == 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
				rate = 0
			}
			rates[bucket{key, p}] = rate
		}
	}
	return rates, len(byKey)
}
