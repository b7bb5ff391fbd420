package main

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/evfeatures/internal/runner"
	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/TFMV/evfeatures/pkg/features"
	"github.com/TFMV/evfeatures/pkg/readers"
)

func TestGeneratedRegistrationsDerive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registrations.parquet")
	config := Config{rowCount: 2500, batchSize: 1000, nullRate: 0.05, minYear: 2015, maxYear: 2024}

	require.NoError(t, generateFile(context.Background(), path, config, rand.New(rand.NewSource(7))))

	reader, err := readers.DefaultFactory.Create(core.ReaderConfig{Type: "parquet", Path: path})
	require.NoError(t, err)
	defer reader.Close()

	opts := features.DefaultOptions(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	opts.Parallel = true
	opts.Workers = 4
	out, err := runner.New(opts, nil).Derive(context.Background(), reader, metrics.RunMetadata{Input: path})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, int64(2500), out.Output.NumRows())
	assert.True(t, out.Report.Invariants.Passed)
	assert.Equal(t, 7, out.Report.Table.InputColumns)
}

func TestGenerateBatchDeterministic(t *testing.T) {
	config := Config{minYear: 2020, maxYear: 2020}
	a := generateBatch(50, rand.New(rand.NewSource(1)), config)
	defer a.Release()
	b := generateBatch(50, rand.New(rand.NewSource(1)), config)
	defer b.Release()

	for i := 0; i < int(a.NumCols()); i++ {
		assert.Equal(t, a.Column(i).String(), b.Column(i).String(), a.ColumnName(i))
	}
}

func TestGenerateFileUnknownExtension(t *testing.T) {
	err := generateFile(context.Background(), filepath.Join(t.TempDir(), "out.txt"), Config{rowCount: 1}, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}
