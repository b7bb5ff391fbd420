package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/evfeatures/pkg/features"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evfeatures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
input:
  type: csv
  path: registrations.csv
output:
  path: features.parquet
  compression: zstd
features:
  current_year: 2023
  urban_column: City
  tie_break: first_seen
  parallel: true
  workers: 4
report:
  json: report.json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "registrations.csv", cfg.Input.Path)
	assert.Equal(t, int64(64*1024), cfg.Input.BatchSize)
	assert.Equal(t, "zstd", cfg.Output.Compression)
	assert.Equal(t, 2023, cfg.Features.CurrentYear)
	assert.True(t, cfg.Features.ClampAge)
	assert.Equal(t, "report.json", cfg.Report.JSON)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	opts := cfg.FeatureOptions(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2023, opts.CurrentYear)
	assert.Equal(t, features.ColCity, opts.UrbanColumn)
	assert.Equal(t, features.UrbanCities, opts.UrbanValues)
	assert.Equal(t, features.TieBreakFirstSeen, opts.TieBreak)
	assert.Equal(t, 4, opts.Workers)
	assert.NoError(t, opts.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	opts := cfg.FeatureOptions(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2025, opts.CurrentYear)
	assert.Equal(t, features.ColCounty, opts.UrbanColumn)
	assert.Equal(t, features.UrbanCounties, opts.UrbanValues)
	assert.True(t, opts.DateParts)
	assert.Equal(t, "_", opts.Separator)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("EVFEATURES_FEATURES_CURRENT_YEAR", "2020")
	t.Setenv("EVFEATURES_INPUT_PATH", "env.csv")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2020, cfg.Features.CurrentYear)
	assert.Equal(t, "env.csv", cfg.Input.Path)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	// no input
	assert.Error(t, cfg.Validate())

	cfg.Input.Path = "ev.csv"
	assert.NoError(t, cfg.Validate())

	cfg.Features.TieBreak = "random"
	assert.ErrorContains(t, cfg.Validate(), "tie break")
	cfg.Features.TieBreak = "lexical"

	cfg.Features.UrbanColumn = "State"
	assert.ErrorContains(t, cfg.Validate(), "urban column")
	cfg.Features.UrbanColumn = "County"

	cfg.Output.Compression = "lzo"
	assert.ErrorContains(t, cfg.Validate(), "compression")
}

func TestValidateFeatureConfig(t *testing.T) {
	fc := FeatureConfig{UrbanColumn: "County", TieBreak: "lexical", Parallel: true, Workers: -1}
	assert.Error(t, fc.Validate())

	fc.Workers = 0
	assert.NoError(t, fc.Validate())

	fc.CurrentYear = -1
	assert.Error(t, fc.Validate())
}
