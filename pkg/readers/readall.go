package readers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ReadAll drains reader and concatenates every batch into a single record.
// A source with no batches yields a zero-row record carrying the reader's
// schema. The caller must release the result.
func ReadAll(ctx context.Context, reader core.DatasetReader) (arrow.Record, error) {
	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	for {
		rec, err := reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, rec)
	}

	switch len(batches) {
	case 0:
		schema := reader.Schema()
		if schema == nil {
			schema = arrow.NewSchema(nil, nil)
		}
		return emptyRecord(schema), nil
	case 1:
		batches[0].Retain()
		return batches[0], nil
	}
	return concatenate(batches)
}

// concatenate joins batches column by column. All batches must share the
// schema of the first.
func concatenate(batches []arrow.Record) (arrow.Record, error) {
	schema := batches[0].Schema()
	mem := memory.NewGoAllocator()

	var rows int64
	for _, b := range batches {
		if !b.Schema().Equal(schema) {
			return nil, fmt.Errorf("batch schema %s differs from %s", b.Schema(), schema)
		}
		rows += b.NumRows()
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	parts := make([]arrow.Array, len(batches))
	for i := range cols {
		for j, b := range batches {
			parts[j] = b.Column(i)
		}
		col, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, fmt.Errorf("failed to concatenate column %q: %w", schema.Field(i).Name, err)
		}
		cols[i] = col
	}
	return array.NewRecord(schema, cols, rows), nil
}

func emptyRecord(schema *arrow.Schema) arrow.Record {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	return b.NewRecord()
}
