package features

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
)

// Source columns.
const (
	ColCounty      = "County"
	ColCity        = "City"
	ColMake        = "Make"
	ColModelYear   = "Model Year"
	ColVehicleType = "Electric Vehicle Type"
	ColEligibility = "CAFV Eligibility"
)

// Derived columns, in the order the default catalog appends them.
const (
	ColMakeProportion          = "Make_Proportion"
	ColUrban                   = "Urban"
	ColUrbanCAFVInteraction    = "Urban_CAFV_Interaction"
	ColVehicleAge              = "Vehicle Age"
	ColYearlyGrowthRate        = "Yearly_Growth_Rate"
	ColQuarter                 = "Quarter"
	ColMonth                   = "Month"
	ColBEVProportion           = "BEV_Proportion"
	ColPHEVProportion          = "PHEV_Proportion"
	ColDominantManufacturer    = "Dominant_Manufacturer"
	ColDominantManufacturerPct = "Dominant_Manufacturer_Proportion"
)

// Allow-lists for the urban classification.
var (
	UrbanCounties = []string{"King", "Pierce", "Snohomish", "Clark", "Thurston"}
	UrbanCities   = []string{"Seattle", "Bellevue", "Redmond", "Tacoma", "Vancouver"}
)

// Options configures the default catalog.
type Options struct {
	// CurrentYear is the reference year for Vehicle Age, fixed for the whole run.
	CurrentYear int

	// UrbanColumn is County or City; UrbanValues defaults to the matching allow-list.
	UrbanColumn string
	UrbanValues []string

	// Separator joins Urban and CAFV Eligibility before one-hot expansion.
	Separator string

	ClampVehicleAge bool
	TieBreak        TieBreak

	// DateParts emits the Quarter and Month columns.
	DateParts bool

	BEVLabel  string
	PHEVLabel string

	Parallel bool
	Workers  int

	Allocator memory.Allocator
	Logger    *zap.Logger
}

// DefaultOptions returns the standard configuration with the current year
// taken from now.
func DefaultOptions(now time.Time) Options {
	return Options{
		CurrentYear:     now.Year(),
		UrbanColumn:     ColCounty,
		UrbanValues:     append([]string(nil), UrbanCounties...),
		Separator:       "_",
		ClampVehicleAge: true,
		TieBreak:        TieBreakLexical,
		DateParts:       true,
		BEVLabel:        "BEV",
		PHEVLabel:       "PHEV",
		Workers:         runtime.NumCPU(),
	}
}

// Validate checks the options for internal consistency.
func (o Options) Validate() error {
	var errs []error
	if o.CurrentYear <= 0 {
		errs = append(errs, fmt.Errorf("current year must be positive, got %d", o.CurrentYear))
	}
	if o.UrbanColumn != ColCounty && o.UrbanColumn != ColCity {
		errs = append(errs, fmt.Errorf("urban column must be %q or %q, got %q", ColCounty, ColCity, o.UrbanColumn))
	}
	if !o.TieBreak.Valid() {
		errs = append(errs, fmt.Errorf("unknown tie-break %q", o.TieBreak))
	}
	if o.BEVLabel == "" || o.PHEVLabel == "" {
		errs = append(errs, errors.New("BEV and PHEV labels are required"))
	}
	if o.Parallel && o.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1 when parallel, got %d", o.Workers))
	}
	return errors.Join(errs...)
}

// urbanValues falls back to the allow-list of the chosen column.
func (o Options) urbanValues() []string {
	if len(o.UrbanValues) > 0 {
		return o.UrbanValues
	}
	if o.UrbanColumn == ColCity {
		return UrbanCities
	}
	return UrbanCounties
}

func (o Options) allocator() memory.Allocator {
	if o.Allocator == nil {
		return memory.NewGoAllocator()
	}
	return o.Allocator
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) workers() int {
	if !o.Parallel {
		return 1
	}
	return o.Workers
}

// DefaultCatalog returns the derivation steps in their canonical order.
func DefaultCatalog(opts Options) []Step {
	steps := []Step{
		NewAggregateStep(Rule{
			Output:   ColMakeProportion,
			GroupKey: ColCounty,
			Target:   ColMake,
			Kind:     KindValueShare,
		}, opts),
		NewClassifyStep(ColUrban, opts.UrbanColumn, opts.urbanValues(), opts),
		NewInteractionStep(ColUrbanCAFVInteraction, ColUrban, ColEligibility, opts),
		NewVehicleAgeStep(opts),
		NewAggregateStep(Rule{
			Output:   ColYearlyGrowthRate,
			GroupKey: ColCounty,
			OrderBy:  ColModelYear,
			Kind:     KindSeqPctChange,
		}, opts),
	}
	if opts.DateParts {
		steps = append(steps, NewDatePartsStep(opts))
	}
	return append(steps,
		NewAggregateStep(Rule{
			Output:   ColBEVProportion,
			GroupKey: ColCounty,
			Target:   ColVehicleType,
			Kind:     KindValueMean,
			Value:    opts.BEVLabel,
		}, opts),
		NewAggregateStep(Rule{
			Output:   ColPHEVProportion,
			GroupKey: ColCounty,
			Target:   ColVehicleType,
			Kind:     KindValueMean,
			Value:    opts.PHEVLabel,
		}, opts),
		NewAggregateStep(Rule{
			Output:   ColDominantManufacturer,
			GroupKey: ColCounty,
			Target:   ColMake,
			Kind:     KindMode,
		}, opts),
		NewAggregateStep(Rule{
			Output:   ColDominantManufacturerPct,
			GroupKey: ColCounty,
			Target:   ColMake,
			Kind:     KindModeShare,
		}, opts),
	)
}

// RequiredColumns lists the source columns the default catalog reads.
func RequiredColumns(opts Options) []string {
	cols := []string{ColCounty, ColMake, ColModelYear, ColVehicleType, ColEligibility}
	if opts.UrbanColumn == ColCity {
		cols = append(cols, ColCity)
	}
	return cols
}
