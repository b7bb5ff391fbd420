// Package core provides the dataset reader and writer contracts shared by the
// evfeatures I/O packages.
package core

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// DatasetReader defines an interface for reading data from various sources.
type DatasetReader interface {
	// Read returns a record batch and an error if any.
	// Returns io.EOF when there are no more batches.
	// The caller must release the returned record.
	Read(ctx context.Context) (arrow.Record, error)

	// Schema returns the schema of the dataset.
	Schema() *arrow.Schema

	// Close closes the reader and releases resources.
	Close() error
}

// DatasetWriter defines an interface for writing data to various destinations.
//
// Writers stage their output; nothing is visible at the destination until
// Close succeeds. Abort discards the staged output instead.
type DatasetWriter interface {
	// Write writes a record to the destination.
	Write(ctx context.Context, record arrow.Record) error

	// Close flushes pending data and commits the output.
	Close() error

	// Abort discards everything written so far.
	Abort() error
}

// ReaderConfig provides configuration for creating a reader.
type ReaderConfig struct {
	// Type is the type of the reader.
	Type string

	// Path is the path to the file or database.
	Path string

	// ConnectionString is the connection string or URI for a database.
	ConnectionString string

	// Driver is the shared library of an ADBC driver.
	Driver string

	// Table is the table name for a database.
	Table string

	// Query is the query to execute for a database.
	Query string

	// BatchSize is the size of batches to read.
	BatchSize int64

	// ColumnTypes pins the Arrow type of named CSV columns instead of
	// inferring them.
	ColumnTypes map[string]arrow.DataType
}

// WriterConfig provides configuration for creating a writer.
type WriterConfig struct {
	// Type is the type of the writer.
	Type string

	// Path is the destination file.
	Path string

	// Compression is the Parquet codec: snappy (default), zstd, gzip or none.
	Compression string

	// BatchSize is the size of batches to write.
	BatchSize int64
}
