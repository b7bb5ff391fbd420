package validation

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/features"
)

func createInput() arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: features.ColCounty, Type: arrow.BinaryTypes.String},
		{Name: features.ColMake, Type: arrow.BinaryTypes.String},
		{Name: features.ColModelYear, Type: arrow.PrimitiveTypes.Int64},
		{Name: features.ColVehicleType, Type: arrow.BinaryTypes.String},
		{Name: features.ColEligibility, Type: arrow.BinaryTypes.String},
	}, nil)

	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).AppendValues([]string{"King", "King", "King", "Yakima", "Pierce", "Pierce"}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"TESLA", "TESLA", "KIA", "TOYOTA", "TESLA", "FORD"}, nil)
	b.Field(2).(*array.Int64Builder).AppendValues([]int64{2019, 2020, 2020, 2018, 2026, 2021}, nil)
	b.Field(3).(*array.StringBuilder).AppendValues([]string{"BEV", "BEV", "PHEV", "PHEV", "BEV", "PHEV"}, nil)
	b.Field(4).(*array.StringBuilder).AppendValues([]string{"Eligible", "Eligible", "Not eligible", "Eligible", "Unknown", "Eligible"}, nil)
	return b.NewRecord()
}

func derive(t *testing.T, opts features.Options, in arrow.Record) arrow.Record {
	t.Helper()
	p, err := features.New(opts)
	require.NoError(t, err)
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	return res.Record
}

// replaceColumn returns a copy of rec with column name swapped for col.
func replaceColumn(t *testing.T, rec arrow.Record, name string, col arrow.Array) arrow.Record {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	require.Len(t, idx, 1)
	cols := append([]arrow.Array{}, rec.Columns()...)
	cols[idx[0]] = col
	return array.NewRecord(rec.Schema(), cols, rec.NumRows())
}

func testOptions() features.Options {
	return features.DefaultOptions(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
}

func TestValidateDerivedTablePasses(t *testing.T) {
	in := createInput()
	defer in.Release()
	opts := testOptions()
	out := derive(t, opts, in)
	defer out.Release()

	report, err := NewValidator(opts, nil).Validate(context.Background(), in, out)
	require.NoError(t, err)

	for _, res := range report.Results {
		assert.True(t, res.Passed, "%s: %s", res.Name, res.Message)
	}
	assert.True(t, report.Passed)
	assert.Len(t, report.Results, 10)
	assert.NoError(t, report.Err())
}

func TestValidateUnclampedAges(t *testing.T) {
	in := createInput()
	defer in.Release()
	opts := testOptions()
	opts.ClampVehicleAge = false
	out := derive(t, opts, in)
	defer out.Release()

	report, err := NewValidator(opts, nil).Validate(context.Background(), in, out)
	require.NoError(t, err)
	assert.True(t, report.Passed)

	// The same table judged with clamping expected must fail the age check.
	clamped := testOptions()
	report, err = NewValidator(clamped, nil).Validate(context.Background(), in, out)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, "vehicle_age", report.Failed()[0].Name)
}

func TestValidateDetectsBrokenProportions(t *testing.T) {
	in := createInput()
	defer in.Release()
	opts := testOptions()
	out := derive(t, opts, in)
	defer out.Release()

	fb := array.NewFloat64Builder(memory.NewGoAllocator())
	defer fb.Release()
	fb.AppendValues([]float64{0.5, 0.5, 0.25, 1, 0.5, 0.5}, nil)
	bad := fb.NewArray()
	defer bad.Release()

	tampered := replaceColumn(t, out, features.ColMakeProportion, bad)
	defer tampered.Release()

	report, err := NewValidator(opts, nil).Validate(context.Background(), in, tampered)
	require.NoError(t, err)
	assert.False(t, report.Passed)

	failed := map[string]bool{}
	for _, f := range report.Failed() {
		failed[f.Name] = true
	}
	assert.True(t, failed["make_proportion_sums"])
	assert.True(t, failed["dominant_manufacturer"])

	var verr *metrics.ValidationError
	assert.ErrorAs(t, report.Err(), &verr)
}

func TestValidateDetectsWrongUrbanLabel(t *testing.T) {
	in := createInput()
	defer in.Release()
	opts := testOptions()
	out := derive(t, opts, in)
	defer out.Release()

	sb := array.NewStringBuilder(memory.NewGoAllocator())
	defer sb.Release()
	sb.AppendValues([]string{"Urban", "Urban", "Urban", "Urban", "Urban", "Urban"}, nil)
	labels := sb.NewArray()
	defer labels.Release()

	tampered := replaceColumn(t, out, features.ColUrban, labels)
	defer tampered.Release()

	report, err := NewValidator(opts, nil).Validate(context.Background(), in, tampered)
	require.NoError(t, err)

	var urban metrics.InvariantResult
	for _, r := range report.Results {
		if r.Name == "urban_membership" {
			urban = r
		}
	}
	assert.False(t, urban.Passed)
	assert.Equal(t, 1, urban.Violations)
}

func TestValidateRowCountMismatch(t *testing.T) {
	in := createInput()
	defer in.Release()
	opts := testOptions()
	out := derive(t, opts, in)
	defer out.Release()

	short := out.NewSlice(0, 3)
	defer short.Release()

	report, err := NewValidator(opts, nil).Validate(context.Background(), in, short)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, "row_count", report.Failed()[0].Name)
}

func TestValidateSkipsAbsentColumns(t *testing.T) {
	in := createInput()
	defer in.Release()

	report, err := NewValidator(testOptions(), nil).Validate(context.Background(), in, in)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	for _, r := range report.Results[2:] {
		assert.Contains(t, r.Message, "skipped", r.Name)
	}
}

func TestValidateCancelled(t *testing.T) {
	in := createInput()
	defer in.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewValidator(testOptions(), nil).Validate(ctx, in, in)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateCancelledSkipsChecks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Every check dereferences its records, so any check that ran would panic.
	report, err := NewValidator(testOptions(), nil).Validate(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}
