package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/TFMV/evfeatures/pkg/features"
	"github.com/TFMV/evfeatures/pkg/readers"
	"github.com/TFMV/evfeatures/pkg/schema"
	"github.com/TFMV/evfeatures/pkg/writers"
)

const registrationsCSV = `County,City,Make,Model Year,Electric Vehicle Type,CAFV Eligibility
King,Seattle,TESLA,2020,BEV,Eligible
King,Seattle,NISSAN,2021,BEV,Eligible
King,Bellevue,TESLA,2021,PHEV,Not eligible
Yakima,Yakima,TOYOTA,2019,PHEV,Eligible
Pierce,Tacoma,FORD,2022,PHEV,Unknown
`

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	opts := features.DefaultOptions(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(opts, nil)
}

func csvReader(r *Runner, body string) core.DatasetReader {
	return readers.NewCSVStreamReader(strings.NewReader(body), core.ReaderConfig{
		ColumnTypes: schema.SourceColumnTypes(r.Options),
	})
}

func TestDerive(t *testing.T) {
	r := newTestRunner(t)

	out, err := r.Derive(context.Background(), csvReader(r, registrationsCSV), metrics.RunMetadata{Input: "stdin", InputType: "csv"})
	require.NoError(t, err)
	defer out.Release()

	require.NotNil(t, out.Output)
	assert.Equal(t, int64(5), out.Output.NumRows())

	rep := out.Report
	assert.True(t, rep.Status.Passed)
	assert.True(t, rep.Invariants.Passed)
	assert.Equal(t, "evfeatures", rep.Run.Tool)
	assert.Equal(t, 2024, rep.Run.CurrentYear)
	assert.Equal(t, 6, rep.Table.InputColumns)
	assert.Equal(t, int(out.Output.NumCols()), rep.Table.OutputColumns)
	assert.Contains(t, rep.Table.DerivedColumns, features.ColDominantManufacturer)
	assert.NotContains(t, rep.Table.DerivedColumns, features.ColMake)
	assert.Equal(t, "float64", rep.Table.ColumnDataTypes[features.ColMakeProportion])
	assert.Len(t, rep.Steps, 10)
	assert.False(t, rep.Run.EndTime.Before(rep.Run.StartTime))
}

func TestDeriveMissingColumn(t *testing.T) {
	r := newTestRunner(t)
	body := "County,Make,Model Year,Electric Vehicle Type\nKing,TESLA,2020,BEV\n"

	out, err := r.Derive(context.Background(), csvReader(r, body), metrics.RunMetadata{})
	require.Error(t, err)
	defer out.Release()

	assert.ErrorIs(t, err, features.ErrMissingColumn)
	assert.Equal(t, "missing_column", ErrorCode(err))
	assert.Nil(t, out.Output)
	assert.False(t, out.Report.Status.Passed)
	assert.Equal(t, "missing_column", out.Report.Status.ErrorCode)
}

func TestDeriveBadYear(t *testing.T) {
	r := newTestRunner(t)
	body := strings.Replace(registrationsCSV, "2019", "unknown", 1)

	out, err := r.Derive(context.Background(), csvReader(r, body), metrics.RunMetadata{})
	require.Error(t, err)
	defer out.Release()

	assert.ErrorIs(t, err, features.ErrTypeMismatch)
	assert.Equal(t, "type_mismatch", out.Report.Status.ErrorCode)
}

func TestDeriveDuplicateColumns(t *testing.T) {
	r := newTestRunner(t)
	body := strings.Replace(registrationsCSV, "City,", "Make,", 1)

	out, err := r.Derive(context.Background(), csvReader(r, body), metrics.RunMetadata{})
	require.Error(t, err)
	defer out.Release()
	assert.Equal(t, "schema_invalid", ErrorCode(err))
}

func TestDeriveEmptyInput(t *testing.T) {
	header := "County,City,Make,Model Year,Electric Vehicle Type,CAFV Eligibility"
	tests := []struct {
		name string
		body string
	}{
		{"header only", header + "\n"},
		{"header and blank lines", header + "\n\n\n"},
		{"no header", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t)

			out, err := r.Derive(context.Background(), csvReader(r, tt.body), metrics.RunMetadata{})
			require.Error(t, err)
			require.NotNil(t, out)
			defer out.Release()

			assert.ErrorIs(t, err, features.ErrEmptyTable)
			assert.Equal(t, "empty_table", ErrorCode(err))
			assert.Nil(t, out.Output)
			assert.Equal(t, "empty_table", out.Report.Status.ErrorCode)
			assert.Zero(t, out.Report.Table.NumRows)
		})
	}
}

func stringColumn(t *testing.T, rec arrow.Record, name string) []string {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	require.Len(t, idx, 1, name)
	col := rec.Column(idx[0])
	out := make([]string, col.Len())
	for i := range out {
		if col.IsValid(i) {
			out[i] = col.ValueStr(i)
		}
	}
	return out
}

func floatColumn(t *testing.T, rec arrow.Record, name string) []float64 {
	t.Helper()
	idx := rec.Schema().FieldIndices(name)
	require.Len(t, idx, 1, name)
	col, ok := rec.Column(idx[0]).(*array.Float64)
	require.True(t, ok, name)
	return col.Float64Values()
}

func TestDeriveNullCategoricals(t *testing.T) {
	r := newTestRunner(t)
	body := `County,City,Make,Model Year,Electric Vehicle Type,CAFV Eligibility
King,Seattle,TESLA,2020,BEV,Eligible
King,Seattle,,2021,BEV,Eligible
King,Bellevue,,2021,PHEV,
,Tacoma,TESLA,2020,PHEV,Eligible
,Tacoma,TESLA,2021,BEV,Not eligible
,,NISSAN,2021,BEV,
`
	out, err := r.Derive(context.Background(), csvReader(r, body), metrics.RunMetadata{})
	require.NoError(t, err)
	defer out.Release()
	rec := out.Output

	tests := []struct {
		column string
		want   []string
	}{
		{features.ColUrban, []string{"Urban", "Urban", "Urban", "Non-Urban", "Non-Urban", "Non-Urban"}},
		{features.ColDominantManufacturer, []string{"", "", "", "TESLA", "TESLA", "TESLA"}},
		{features.ColUrbanCAFVInteraction + "_Urban_", []string{"false", "false", "true", "false", "false", "false"}},
		{features.ColUrbanCAFVInteraction + "_Non-Urban_Eligible", []string{"false", "false", "false", "true", "false", "false"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stringColumn(t, rec, tt.column), tt.column)
	}

	third, twoThirds := 1.0/3, 2.0/3
	assert.InDeltaSlice(t, []float64{third, twoThirds, twoThirds, twoThirds, twoThirds, third},
		floatColumn(t, rec, features.ColMakeProportion), 1e-12)
	assert.InDeltaSlice(t, []float64{twoThirds, twoThirds, twoThirds, twoThirds, twoThirds, twoThirds},
		floatColumn(t, rec, features.ColDominantManufacturerPct), 1e-12)
	assert.Equal(t, []float64{0, 1, 1, 0, 1, 1}, floatColumn(t, rec, features.ColYearlyGrowthRate))

	// The empty combined category sorts first and is the dropped level.
	assert.Empty(t, rec.Schema().FieldIndices(features.ColUrbanCAFVInteraction+"_Non-Urban_"))
}

func TestDeriveCancelled(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Derive(ctx, csvReader(r, registrationsCSV), metrics.RunMetadata{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", ErrorCode(err))
}

func TestWriteOutput(t *testing.T) {
	r := newTestRunner(t)
	out, err := r.Derive(context.Background(), csvReader(r, registrationsCSV), metrics.RunMetadata{})
	require.NoError(t, err)
	defer out.Release()

	path := filepath.Join(t.TempDir(), "features.csv")
	w, err := writers.DefaultFactory.Create(core.WriterConfig{Type: "csv", Path: path})
	require.NoError(t, err)
	require.NoError(t, WriteOutput(context.Background(), w, out.Output))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	header := strings.SplitN(string(data), "\n", 2)[0]
	assert.True(t, strings.HasPrefix(header, "County,City,Make,Model Year"))
	assert.Contains(t, header, features.ColDominantManufacturerPct)
	_, err = os.Stat(writers.TempPath(path))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteOutputCancelledAborts(t *testing.T) {
	r := newTestRunner(t)
	out, err := r.Derive(context.Background(), csvReader(r, registrationsCSV), metrics.RunMetadata{})
	require.NoError(t, err)
	defer out.Release()

	dir := t.TempDir()
	w, err := writers.DefaultFactory.Create(core.WriterConfig{Type: "parquet", Path: filepath.Join(dir, "features.parquet")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WriteOutput(ctx, w, out.Output), context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, "internal", ErrorCode(os.ErrNotExist))
	assert.Equal(t, "invariant_failed", ErrorCode(&metrics.ValidationError{Code: "invariant_failed"}))
}
