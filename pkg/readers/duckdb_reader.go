package readers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	// Import DuckDB driver
	_ "github.com/marcboeker/go-duckdb"
)

// DuckDBReader implements a reader for DuckDB using standard SQL interface.
type DuckDBReader struct {
	db        *sql.DB
	query     string
	schema    *arrow.Schema
	batchSize int64
	alloc     memory.Allocator
	rows      *sql.Rows
	mu        sync.Mutex
	done      bool
}

// NewDuckDBReader creates a new DuckDB reader over a table or a query.
func NewDuckDBReader(config core.ReaderConfig) (core.DatasetReader, error) {
	if config.Path == "" && config.ConnectionString == "" {
		return nil, errors.New("either path or connection string is required for DuckDB reader")
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}

	dbPath := config.Path
	if config.ConnectionString != "" {
		dbPath = config.ConnectionString
	}

	query := config.Query
	if query == "" && config.Table != "" {
		query = fmt.Sprintf("SELECT * FROM %s", config.Table)
	}
	if query == "" {
		return nil, errors.New("either query or table is required for DuckDB reader")
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB database: %w", err)
	}

	schema, err := probeSchema(db, query)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DuckDBReader{
		db:        db,
		query:     query,
		schema:    schema,
		batchSize: batchSize,
		alloc:     memory.NewGoAllocator(),
	}, nil
}

// probeSchema runs the query with LIMIT 0 and maps the column types to Arrow.
func probeSchema(db *sql.DB, query string) (*arrow.Schema, error) {
	rows, err := db.QueryContext(context.Background(), fmt.Sprintf("SELECT * FROM (%s) LIMIT 0", query))
	if err != nil {
		return nil, fmt.Errorf("failed to execute schema query: %w", err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	fields := make([]arrow.Field, len(columnTypes))
	for i, colType := range columnTypes {
		fields[i] = arrow.Field{
			Name:     colType.Name(),
			Type:     duckDBTypeToArrow(colType.DatabaseTypeName()),
			Nullable: true,
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// duckDBTypeToArrow collapses DuckDB column types into the families the
// feature pipeline reads: integers, floats, booleans and strings.
func duckDBTypeToArrow(typeName string) arrow.DataType {
	switch {
	case typeName == "BOOLEAN":
		return arrow.FixedWidthTypes.Boolean
	case strings.HasSuffix(typeName, "INT"), strings.HasSuffix(typeName, "INTEGER"):
		return arrow.PrimitiveTypes.Int64
	case typeName == "FLOAT", typeName == "DOUBLE", typeName == "REAL", strings.HasPrefix(typeName, "DECIMAL"):
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// Read returns the next batch of records.
func (r *DuckDBReader) Read(ctx context.Context) (arrow.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if r.done {
		return nil, io.EOF
	}

	if r.rows == nil {
		rows, err := r.db.QueryContext(ctx, r.query)
		if err != nil {
			return nil, fmt.Errorf("failed to execute query: %w", err)
		}
		r.rows = rows
	}

	b := array.NewRecordBuilder(r.alloc, r.schema)
	defer b.Release()

	columnCount := r.schema.NumFields()
	values := make([]any, columnCount)
	scanValues := make([]any, columnCount)
	for i := range values {
		scanValues[i] = &values[i]
	}

	var rowCount int64
	for rowCount < r.batchSize {
		if !r.rows.Next() {
			r.done = true
			break
		}
		if err := r.rows.Scan(scanValues...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if err := appendValue(b.Field(i), v); err != nil {
				return nil, fmt.Errorf("column %q: %w", r.schema.Field(i).Name, err)
			}
		}
		rowCount++
	}

	if r.done {
		err := r.rows.Err()
		r.rows.Close()
		r.rows = nil
		if err != nil {
			return nil, fmt.Errorf("error iterating rows: %w", err)
		}
		if rowCount == 0 {
			return nil, io.EOF
		}
	}

	return b.NewRecord(), nil
}

// appendValue appends a scanned SQL value to a builder of one of the four
// families produced by duckDBTypeToArrow.
func appendValue(b array.Builder, val any) error {
	if val == nil {
		b.AppendNull()
		return nil
	}

	switch builder := b.(type) {
	case *array.Int64Builder:
		switch v := val.(type) {
		case int8:
			builder.Append(int64(v))
		case int16:
			builder.Append(int64(v))
		case int32:
			builder.Append(int64(v))
		case int64:
			builder.Append(v)
		case uint8:
			builder.Append(int64(v))
		case uint16:
			builder.Append(int64(v))
		case uint32:
			builder.Append(int64(v))
		case uint64:
			builder.Append(int64(v))
		case interface{ Int64() int64 }: // HUGEINT arrives as *big.Int
			builder.Append(v.Int64())
		default:
			return fmt.Errorf("unexpected integer value %T", val)
		}
	case *array.Float64Builder:
		switch v := val.(type) {
		case float32:
			builder.Append(float64(v))
		case float64:
			builder.Append(v)
		case interface{ Float64() float64 }:
			builder.Append(v.Float64())
		default:
			return fmt.Errorf("unexpected float value %T", val)
		}
	case *array.BooleanBuilder:
		v, ok := val.(bool)
		if !ok {
			return fmt.Errorf("unexpected boolean value %T", val)
		}
		builder.Append(v)
	case *array.StringBuilder:
		switch v := val.(type) {
		case string:
			builder.Append(v)
		case []byte:
			builder.Append(string(v))
		case time.Time:
			builder.Append(v.Format(time.RFC3339))
		default:
			builder.Append(fmt.Sprint(v))
		}
	default:
		b.AppendNull()
	}
	return nil
}

// Schema returns the schema of the dataset.
func (r *DuckDBReader) Schema() *arrow.Schema {
	return r.schema
}

// Close closes the reader and releases resources.
func (r *DuckDBReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.rows != nil {
		err = r.rows.Close()
		r.rows = nil
	}

	if r.db != nil {
		if dbErr := r.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
		r.db = nil
	}

	r.done = true
	return err
}
