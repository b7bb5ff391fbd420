package readers

import (
	"bufio"
	"context"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// CSVReader implements a reader for CSV files, converting to Arrow.
type CSVReader struct {
	schema  *arrow.Schema
	file    *os.File
	reader  *csv.Reader
	alloc   memory.Allocator
	pending arrow.Record // batch read early by Schema
}

// NewCSVReader creates a new CSV reader. The first row is the header; empty
// cells are null. Columns listed in config.ColumnTypes skip type inference.
func NewCSVReader(config core.ReaderConfig) (core.DatasetReader, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for CSV reader")
	}

	file, err := os.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	return newCSVReader(file, config), nil
}

// NewCSVStreamReader reads CSV from r instead of a file.
func NewCSVStreamReader(r io.Reader, config core.ReaderConfig) core.DatasetReader {
	return newCSVReader(r, config)
}

func newCSVReader(r io.Reader, config core.ReaderConfig) *CSVReader {
	cr := &CSVReader{alloc: memory.NewGoAllocator()}
	if f, ok := r.(*os.File); ok {
		cr.file = f
	}

	// The inferring reader cannot build a schema without a data row, so an
	// input without one is answered from the header alone.
	br := bufio.NewReader(r)
	header, _ := br.ReadString('\n')
	if names, ok := headerOnly(header, br); ok {
		cr.schema = headerSchema(names, config.ColumnTypes)
		return cr
	}

	chunkSize := config.BatchSize
	if chunkSize <= 0 {
		chunkSize = 10000
	}
	opts := []csv.Option{
		csv.WithChunk(int(chunkSize)),
		csv.WithHeader(true),
		csv.WithNullReader(true, ""),
		csv.WithAllocator(cr.alloc),
	}
	if len(config.ColumnTypes) > 0 {
		opts = append(opts, csv.WithColumnTypes(config.ColumnTypes))
	}
	cr.reader = csv.NewInferringReader(io.MultiReader(strings.NewReader(header), br), opts...)
	return cr
}

// headerOnly reports whether nothing but blank lines follow header, and
// returns the header's column names. A blank input has no columns.
func headerOnly(header string, br *bufio.Reader) ([]string, bool) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			break
		}
		if b[0] != '\n' && b[0] != '\r' {
			return nil, false
		}
		_, _ = br.ReadByte()
	}
	if strings.TrimSpace(header) == "" {
		return nil, true
	}
	names, err := stdcsv.NewReader(strings.NewReader(header)).Read()
	if err != nil {
		return nil, false
	}
	return names, true
}

// headerSchema types the header's columns from hints, defaulting to string.
func headerSchema(names []string, hints map[string]arrow.DataType) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		typ, ok := hints[name]
		if !ok {
			typ = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// Read returns the next batch of records.
func (r *CSVReader) Read(ctx context.Context) (arrow.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if r.pending != nil {
		rec := r.pending
		r.pending = nil
		return rec, nil
	}
	return r.next()
}

func (r *CSVReader) next() (arrow.Record, error) {
	if r.reader == nil {
		return nil, io.EOF
	}
	if !r.reader.Next() {
		if err := r.reader.Err(); err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		return nil, io.EOF
	}
	if r.schema == nil {
		r.schema = r.reader.Schema()
	}
	rec := r.reader.Record()
	rec.Retain()
	return rec, nil
}

// Schema returns the schema of the dataset. The schema is only known after
// the first batch has been inferred, so it may read ahead one batch.
func (r *CSVReader) Schema() *arrow.Schema {
	if r.schema == nil && r.pending == nil && r.reader != nil {
		rec, err := r.next()
		if err == nil {
			r.pending = rec
		}
	}
	return r.schema
}

// Close closes the reader and releases resources.
func (r *CSVReader) Close() error {
	if r.pending != nil {
		r.pending.Release()
		r.pending = nil
	}

	if r.reader != nil {
		r.reader.Release()
		r.reader = nil
	}

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}

	return nil
}
