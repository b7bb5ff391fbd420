package readers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-adbc/go/adbc/drivermgr"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ADBCReader streams the result of a SQL query through an ADBC driver loaded
// by the driver manager. Any database with an ADBC driver (PostgreSQL,
// SQLite, Snowflake, DuckDB) can feed the pipeline this way.
type ADBCReader struct {
	db      adbc.Database
	conn    adbc.Connection
	stmt    adbc.Statement
	records array.RecordReader
}

// defaultADBCDriver returns the conventional install location of the
// PostgreSQL driver for the current platform.
func defaultADBCDriver() string {
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/lib/libadbc_driver_postgresql.dylib"
	case "linux":
		return "/usr/local/lib/libadbc_driver_postgresql.so"
	case "windows":
		if home, err := os.UserHomeDir(); err == nil {
			return home + "/Downloads/postgresql-windows-amd64/postgresql.dll"
		}
	}
	return ""
}

// adbcQuery resolves the statement to run from a reader config.
func adbcQuery(config core.ReaderConfig) (string, error) {
	if config.Query != "" {
		return config.Query, nil
	}
	if config.Table != "" {
		return fmt.Sprintf("SELECT * FROM %s", config.Table), nil
	}
	return "", errors.New("either query or table is required for ADBC reader")
}

// NewADBCReader opens a database through the ADBC driver manager and
// executes the configured query.
func NewADBCReader(config core.ReaderConfig) (core.DatasetReader, error) {
	if config.ConnectionString == "" {
		return nil, errors.New("connection string is required for ADBC reader")
	}
	query, err := adbcQuery(config)
	if err != nil {
		return nil, err
	}

	driverPath := config.Driver
	if driverPath == "" {
		driverPath = defaultADBCDriver()
	}

	var drv drivermgr.Driver
	db, err := drv.NewDatabase(map[string]string{
		"driver":          driverPath,
		adbc.OptionKeyURI: config.ConnectionString,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ADBC database: %w", err)
	}

	ctx := context.Background()
	r := &ADBCReader{db: db}

	r.conn, err = db.Open(ctx)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open ADBC connection: %w", err)
	}

	r.stmt, err = r.conn.NewStatement()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create statement: %w", err)
	}
	if err := r.stmt.SetSqlQuery(query); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to set SQL query: %w", err)
	}

	r.records, _, err = r.stmt.ExecuteQuery(ctx)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return r, nil
}

// Read returns the next batch of the result set.
func (r *ADBCReader) Read(ctx context.Context) (arrow.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if !r.records.Next() {
		if err := r.records.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read ADBC result: %w", err)
		}
		return nil, io.EOF
	}
	rec := r.records.Record()
	rec.Retain()
	return rec, nil
}

// Schema returns the schema of the result set.
func (r *ADBCReader) Schema() *arrow.Schema {
	return r.records.Schema()
}

// Close releases the result set and closes the statement, connection and
// database in that order.
func (r *ADBCReader) Close() error {
	if r.records != nil {
		r.records.Release()
		r.records = nil
	}

	var errs []error
	if r.stmt != nil {
		errs = append(errs, r.stmt.Close())
		r.stmt = nil
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
		r.conn = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}
