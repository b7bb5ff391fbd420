package writers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
)

// JSONWriter writes rows as a JSON array of objects whose keys follow the
// column order.
type JSONWriter struct {
	file     *stagedFile
	buf      *bufio.Writer
	firstRow bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for JSON writer")
	}

	file, err := createStaged(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON file: %w", err)
	}

	buf := bufio.NewWriter(file)
	if _, err := buf.WriteString("["); err != nil {
		file.abort()
		return nil, fmt.Errorf("failed to write opening bracket: %w", err)
	}

	return &JSONWriter{
		file:     file,
		buf:      buf,
		firstRow: true,
	}, nil
}

// Write writes a record to the file.
func (w *JSONWriter) Write(ctx context.Context, record arrow.Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	schema := record.Schema()
	keys := make([][]byte, schema.NumFields())
	for j, f := range schema.Fields() {
		k, err := json.Marshal(f.Name)
		if err != nil {
			return fmt.Errorf("failed to encode column name %q: %w", f.Name, err)
		}
		keys[j] = k
	}

	for i := 0; i < int(record.NumRows()); i++ {
		if !w.firstRow {
			w.buf.WriteString(",")
		}
		w.firstRow = false
		w.buf.WriteString("\n  {")

		for j, col := range record.Columns() {
			if j > 0 {
				w.buf.WriteString(",")
			}
			// GetOneForMarshal yields nil for nulls.
			v, err := json.Marshal(col.GetOneForMarshal(i))
			if err != nil {
				return fmt.Errorf("failed to encode row %d column %s: %w", i, schema.Field(j).Name, err)
			}
			w.buf.Write(keys[j])
			w.buf.WriteString(":")
			w.buf.Write(v)
		}
		if _, err := w.buf.WriteString("}"); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	return nil
}

// Close terminates the array and moves the file into place.
func (w *JSONWriter) Close() error {
	w.buf.WriteString("\n]\n")
	return w.file.commit(w.buf.Flush())
}

// Abort discards the staged file.
func (w *JSONWriter) Abort() error {
	return w.file.abort()
}
