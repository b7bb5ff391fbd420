package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/TFMV/evfeatures/pkg/features"
	"github.com/TFMV/evfeatures/pkg/readers"
	"github.com/TFMV/evfeatures/pkg/writers"
	"github.com/TFMV/evfeatures/report"
)

const registrationsCSV = `County,City,Make,Model Year,Electric Vehicle Type,CAFV Eligibility
King,Seattle,TESLA,2020,BEV,Eligible
King,Seattle,NISSAN,2021,BEV,Eligible
King,Bellevue,TESLA,2021,PHEV,Not eligible
Yakima,Yakima,TOYOTA,2019,PHEV,Eligible
Pierce,Tacoma,FORD,2022,PHEV,Unknown
`

func writeInput(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "registrations.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func executeCommand(rootCmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(append([]string{"--log-file="}, args...))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCLI_Help(t *testing.T) {
	out, _, err := executeCommand(newRootCommand(), "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "derive")
}

func TestCLI_Version(t *testing.T) {
	out, _, err := executeCommand(newRootCommand(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "evfeatures")
}

func TestCLI_DeriveToParquet(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, registrationsCSV)
	output := filepath.Join(dir, "features.parquet")
	reportPath := filepath.Join(dir, "report.json")
	htmlPath := filepath.Join(dir, "report.html")

	_, stderr, err := executeCommand(newRootCommand(), "derive", input,
		"--output", output,
		"--current-year", "2024",
		"--report-json", reportPath,
		"--report-html", htmlPath)
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "Derived table saved to")
	assert.Contains(t, stderr, "make_proportion_sums")

	reader, err := readers.DefaultFactory.Create(core.ReaderConfig{Type: "parquet", Path: output})
	require.NoError(t, err)
	defer reader.Close()
	rec, err := readers.ReadAll(context.Background(), reader)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(5), rec.NumRows())
	assert.NotEmpty(t, rec.Schema().FieldIndices(features.ColVehicleAge))
	assert.NotEmpty(t, rec.Schema().FieldIndices(features.ColDominantManufacturerPct))

	rep, err := report.ReportFromFilePath(reportPath)
	require.NoError(t, err)
	assert.True(t, rep.Status.Passed)
	assert.Equal(t, 2024, rep.Run.CurrentYear)
	assert.Equal(t, "parquet", rep.Run.OutputType)
	assert.FileExists(t, htmlPath)
	assert.NoFileExists(t, filepath.Join(dir, "alert.json"))
}

func TestCLI_DeriveToStdout(t *testing.T) {
	input := writeInput(t, t.TempDir(), registrationsCSV)

	stdout, stderr, err := executeCommand(newRootCommand(), "derive", input, "--current-year", "2024", "--parallel", "--workers", "2")
	require.NoError(t, err, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "County,City,Make"))
	assert.Contains(t, lines[0], features.ColYearlyGrowthRate)
}

func TestCLI_DeriveMissingColumnWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "County,Make,Model Year\nKing,TESLA,2020\n")
	output := filepath.Join(dir, "features.csv")
	reportPath := filepath.Join(dir, "report.json")
	alertPath := filepath.Join(dir, "alert.json")
	metricsPath := filepath.Join(dir, "metrics.jsonl")

	_, stderr, err := executeCommand(newRootCommand(), "derive", input, "-o", output,
		"--report-json", reportPath, "--alert-file", alertPath, "--metrics-file", metricsPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, features.ErrMissingColumn)
	assert.Contains(t, stderr, "missing_column")

	assert.NoFileExists(t, output)
	assert.NoFileExists(t, writers.TempPath(output))

	rep, err := report.ReportFromFilePath(reportPath)
	require.NoError(t, err)
	assert.False(t, rep.Status.Passed)
	assert.Equal(t, "missing_column", rep.Status.ErrorCode)

	alert, err := os.ReadFile(alertPath)
	require.NoError(t, err)
	assert.Contains(t, string(alert), "Derivation Failed")

	history, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(history), "\n"))
}

func TestCLI_DeriveHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "County,City,Make,Model Year,Electric Vehicle Type,CAFV Eligibility\n")
	output := filepath.Join(dir, "features.parquet")

	_, stderr, err := executeCommand(newRootCommand(), "derive", input, "-o", output)
	require.Error(t, err)
	assert.ErrorIs(t, err, features.ErrEmptyTable)
	assert.Contains(t, stderr, "empty_table")
	assert.NoFileExists(t, output)
}

func TestCLI_DeriveInvalidOptions(t *testing.T) {
	input := writeInput(t, t.TempDir(), registrationsCSV)

	_, _, err := executeCommand(newRootCommand(), "derive", input, "--tie-break", "random")
	assert.ErrorContains(t, err, "tie break")

	_, _, err = executeCommand(newRootCommand(), "derive")
	assert.ErrorContains(t, err, "input path")
}

func TestCLI_Schema(t *testing.T) {
	input := writeInput(t, t.TempDir(), registrationsCSV)

	out, _, err := executeCommand(newRootCommand(), "schema", input)
	require.NoError(t, err)
	assert.Contains(t, out, "Electric Vehicle Type")
	assert.Contains(t, out, "Schema validation passed.")
	assert.Contains(t, out, "converted to year")

	out, _, err = executeCommand(newRootCommand(), "schema", input, "--urban-column", "City")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema validation passed.")
}

func TestCLI_SchemaMissingColumns(t *testing.T) {
	input := writeInput(t, t.TempDir(), "County,Make\nKing,TESLA\n")

	out, _, err := executeCommand(newRootCommand(), "schema", input)
	require.Error(t, err)
	assert.Contains(t, out, "Schema validation failed!")
	assert.Contains(t, out, "Model Year")
}
