// Package validation re-checks the derived table against the properties every
// correct derivation must satisfy. A run whose output fails any check is not
// written.
package validation

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/features"
)

// DefaultTolerance is the absolute tolerance for floating point comparisons.
const DefaultTolerance = 1e-9

// Validator manages the configuration and validation logic.
type Validator struct {
	Options   features.Options
	Tolerance float64

	// Logger for structured logging.
	Logger *zap.Logger
}

// NewValidator constructs a new Validator instance.
func NewValidator(opts features.Options, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		Options:   opts,
		Tolerance: DefaultTolerance,
		Logger:    logger,
	}
}

type check struct {
	name string
	fn   func(in, out arrow.Record) metrics.InvariantResult
}

func (v *Validator) checks() []check {
	return []check{
		{"row_count", v.rowCount},
		{"source_columns_unchanged", v.sourceColumns},
		{"make_proportion_sums", v.makeProportionSums},
		{"urban_membership", v.urbanMembership},
		{"interaction_one_hot", v.interactionOneHot},
		{"vehicle_age", v.vehicleAge},
		{"growth_first_period_zero", v.growthFirstPeriod},
		{"vehicle_type_shares", v.vehicleTypeShares},
		{"dominant_manufacturer", v.dominantManufacturer},
		{"date_parts", v.dateParts},
	}
}

// Validate runs all checks concurrently and returns the report in check order.
// Checks that have not started when ctx is done are skipped.
func (v *Validator) Validate(ctx context.Context, in, out arrow.Record) (metrics.InvariantReport, error) {
	checks := v.checks()
	results := make([]metrics.InvariantResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, c := range checks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := c.fn(in, out)
			res.Name = c.name
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return metrics.InvariantReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return metrics.InvariantReport{}, err
	}

	var report metrics.InvariantReport
	for _, res := range results {
		report.Add(res)
		if res.Passed {
			v.Logger.Debug("Invariant held", zap.String("invariant", res.Name))
		} else {
			v.Logger.Error("Invariant violated",
				zap.String("invariant", res.Name),
				zap.Int("violations", res.Violations),
				zap.String("message", res.Message))
		}
	}
	return report, nil
}

// -----------------------------
// Column access
// -----------------------------

func column(rec arrow.Record, name string) (arrow.Array, bool) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, false
	}
	return rec.Column(idx[0]), true
}

func strs(rec arrow.Record, name string) ([]string, bool) {
	col, ok := column(rec, name)
	if !ok {
		return nil, false
	}
	out := make([]string, col.Len())
	for i := range out {
		if col.IsValid(i) {
			out[i] = col.ValueStr(i)
		}
	}
	return out, true
}

func nums(rec arrow.Record, name string) ([]float64, bool) {
	col, ok := column(rec, name)
	if !ok {
		return nil, false
	}
	out := make([]float64, col.Len())
	for i := range out {
		if col.IsNull(i) {
			out[i] = math.NaN()
			continue
		}
		switch c := col.(type) {
		case *array.Float64:
			out[i] = c.Value(i)
		case *array.Int64:
			out[i] = float64(c.Value(i))
		default:
			f, err := strconv.ParseFloat(strings.TrimSpace(col.ValueStr(i)), 64)
			if err != nil {
				f = math.NaN()
			}
			out[i] = f
		}
	}
	return out, true
}

func bools(rec arrow.Record, name string) ([]bool, bool) {
	col, ok := column(rec, name)
	if !ok {
		return nil, false
	}
	c, ok := col.(*array.Boolean)
	if !ok {
		return nil, false
	}
	out := make([]bool, c.Len())
	for i := range out {
		out[i] = c.IsValid(i) && c.Value(i)
	}
	return out, true
}

func skipped(missing string) metrics.InvariantResult {
	return metrics.InvariantResult{Passed: true, Message: "skipped: column " + missing + " not present"}
}

func result(violations int, format string, a ...any) metrics.InvariantResult {
	if violations == 0 {
		return metrics.InvariantResult{Passed: true}
	}
	return metrics.InvariantResult{Violations: violations, Message: fmt.Sprintf(format, a...)}
}

func (v *Validator) near(a, b float64) bool {
	return math.Abs(a-b) <= v.Tolerance
}

// -----------------------------
// Checks
// -----------------------------

func (v *Validator) rowCount(in, out arrow.Record) metrics.InvariantResult {
	if in.NumRows() != out.NumRows() {
		return result(1, "input has %d rows, output has %d", in.NumRows(), out.NumRows())
	}
	return result(0, "")
}

func (v *Validator) sourceColumns(in, out arrow.Record) metrics.InvariantResult {
	var bad []string
	for i, f := range in.Schema().Fields() {
		if i >= int(out.NumCols()) || out.ColumnName(i) != f.Name || !array.Equal(in.Column(i), out.Column(i)) {
			bad = append(bad, f.Name)
		}
	}
	return result(len(bad), "source columns changed: %s", strings.Join(bad, ", "))
}

func (v *Validator) makeProportionSums(_, out arrow.Record) metrics.InvariantResult {
	counties, ok1 := strs(out, features.ColCounty)
	makes, ok2 := strs(out, features.ColMake)
	props, ok3 := nums(out, features.ColMakeProportion)
	if !ok1 || !ok2 {
		return skipped(features.ColCounty + "/" + features.ColMake)
	}
	if !ok3 {
		return skipped(features.ColMakeProportion)
	}

	shares := make(map[string]map[string]float64)
	var inconsistent int
	for i := range counties {
		m := shares[counties[i]]
		if m == nil {
			m = make(map[string]float64)
			shares[counties[i]] = m
		}
		if prev, seen := m[makes[i]]; seen && !v.near(prev, props[i]) {
			inconsistent++
		}
		m[makes[i]] = props[i]
	}

	var off []string
	for county, m := range shares {
		vals := make([]float64, 0, len(m))
		for _, p := range m {
			vals = append(vals, p)
		}
		// Summing per make is exact to within len(vals) ulps.
		if sum := floats.Sum(vals); math.Abs(sum-1) > v.Tolerance*float64(len(vals)+1) {
			off = append(off, fmt.Sprintf("%s=%.12g", county, sum))
		}
	}
	sort.Strings(off)
	return result(len(off)+inconsistent, "proportions do not sum to 1 (%s); %d inconsistent rows", strings.Join(off, ", "), inconsistent)
}

func (v *Validator) urbanMembership(_, out arrow.Record) metrics.InvariantResult {
	source := v.Options.UrbanColumn
	values, ok1 := strs(out, source)
	labels, ok2 := strs(out, features.ColUrban)
	if !ok1 {
		return skipped(source)
	}
	if !ok2 {
		return skipped(features.ColUrban)
	}

	allowed := v.Options.UrbanValues
	if len(allowed) == 0 {
		allowed = features.UrbanCounties
		if source == features.ColCity {
			allowed = features.UrbanCities
		}
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}

	var bad int
	for i := range values {
		want := features.LabelNonUrban
		if set[values[i]] {
			want = features.LabelUrban
		}
		if labels[i] != want {
			bad++
		}
	}
	return result(bad, "%d rows have the wrong urban label", bad)
}

func (v *Validator) interactionOneHot(_, out arrow.Record) metrics.InvariantResult {
	urban, ok1 := strs(out, features.ColUrban)
	cafv, ok2 := strs(out, features.ColEligibility)
	if !ok1 || !ok2 {
		return skipped(features.ColUrban + "/" + features.ColEligibility)
	}

	step := features.NewInteractionStep(features.ColUrbanCAFVInteraction, features.ColUrban, features.ColEligibility, v.Options)
	type indicator struct {
		category string
		values   []bool
	}
	var indicators []indicator
	for _, f := range out.Schema().Fields() {
		category, ok := step.IndicatorCategory(f.Name)
		if !ok {
			continue
		}
		vals, ok := bools(out, f.Name)
		if !ok {
			return result(1, "indicator %s is not boolean", f.Name)
		}
		indicators = append(indicators, indicator{category, vals})
	}

	var bad int
	reference := make(map[string]bool)
	for row := range urban {
		combined := urban[row] + step.Separator + cafv[row]
		set := 0
		for _, ind := range indicators {
			if ind.values[row] {
				set++
				if ind.category != combined {
					bad++
				}
			}
		}
		switch set {
		case 0:
			reference[combined] = true
		case 1:
		default:
			bad++
		}
	}
	if len(reference) > 1 {
		bad += len(reference) - 1
	}
	return result(bad, "%d one-hot violations; %d categories without an indicator", bad, len(reference))
}

func (v *Validator) vehicleAge(_, out arrow.Record) metrics.InvariantResult {
	years, ok1 := nums(out, features.ColModelYear)
	ages, ok2 := nums(out, features.ColVehicleAge)
	if !ok1 {
		return skipped(features.ColModelYear)
	}
	if !ok2 {
		return skipped(features.ColVehicleAge)
	}

	var bad int
	for i := range years {
		want := float64(v.Options.CurrentYear) - years[i]
		if v.Options.ClampVehicleAge && want < 0 {
			want = 0
		}
		if ages[i] != want {
			bad++
		}
	}
	return result(bad, "%d rows where Vehicle Age != %d - Model Year", bad, v.Options.CurrentYear)
}

func (v *Validator) growthFirstPeriod(_, out arrow.Record) metrics.InvariantResult {
	counties, ok1 := strs(out, features.ColCounty)
	years, ok2 := nums(out, features.ColModelYear)
	rates, ok3 := nums(out, features.ColYearlyGrowthRate)
	if !ok1 || !ok2 {
		return skipped(features.ColCounty + "/" + features.ColModelYear)
	}
	if !ok3 {
		return skipped(features.ColYearlyGrowthRate)
	}

	first := make(map[string]float64)
	for i, c := range counties {
		if y, ok := first[c]; !ok || years[i] < y {
			first[c] = years[i]
		}
	}

	var bad int
	for i, c := range counties {
		if math.IsNaN(rates[i]) || math.IsInf(rates[i], 0) {
			bad++
			continue
		}
		if years[i] == first[c] && rates[i] != 0 {
			bad++
		}
	}
	return result(bad, "%d rows with an undefined rate or a non-zero first-period rate", bad)
}

func (v *Validator) vehicleTypeShares(_, out arrow.Record) metrics.InvariantResult {
	bev, ok1 := nums(out, features.ColBEVProportion)
	phev, ok2 := nums(out, features.ColPHEVProportion)
	if !ok1 || !ok2 {
		return skipped(features.ColBEVProportion + "/" + features.ColPHEVProportion)
	}

	var bad int
	for i := range bev {
		inRange := bev[i] >= -v.Tolerance && phev[i] >= -v.Tolerance
		if !inRange || bev[i]+phev[i] > 1+v.Tolerance {
			bad++
		}
	}
	return result(bad, "%d rows where BEV and PHEV shares are outside [0, 1]", bad)
}

func (v *Validator) dominantManufacturer(_, out arrow.Record) metrics.InvariantResult {
	counties, ok1 := strs(out, features.ColCounty)
	makes, ok2 := strs(out, features.ColMake)
	props, ok3 := nums(out, features.ColMakeProportion)
	dominant, ok4 := strs(out, features.ColDominantManufacturer)
	share, ok5 := nums(out, features.ColDominantManufacturerPct)
	if !ok1 || !ok2 || !ok3 {
		return skipped(features.ColMakeProportion)
	}
	if !ok4 || !ok5 {
		return skipped(features.ColDominantManufacturer)
	}

	byCounty := make(map[string][]float64)
	propOf := make(map[[2]string]float64)
	for i, c := range counties {
		byCounty[c] = append(byCounty[c], props[i])
		propOf[[2]string{c, makes[i]}] = props[i]
	}

	var bad int
	for i, c := range counties {
		top := floats.Max(byCounty[c])
		if !v.near(share[i], top) || !v.near(propOf[[2]string{c, dominant[i]}], top) {
			bad++
		}
	}
	return result(bad, "%d rows where the dominant share is not the largest make share", bad)
}

func (v *Validator) dateParts(_, out arrow.Record) metrics.InvariantResult {
	if !v.Options.DateParts {
		return metrics.InvariantResult{Passed: true, Message: "skipped: date parts disabled"}
	}
	quarters, ok1 := nums(out, features.ColQuarter)
	months, ok2 := nums(out, features.ColMonth)
	if !ok1 || !ok2 {
		return skipped(features.ColQuarter + "/" + features.ColMonth)
	}

	var bad int
	for i := range quarters {
		if quarters[i] < 1 || quarters[i] > 4 || months[i] < 1 || months[i] > 12 || quarters[i] != math.Floor((months[i]-1)/3)+1 {
			bad++
		}
	}
	return result(bad, "%d rows with an impossible quarter or month", bad)
}
