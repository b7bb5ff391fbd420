package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TFMV/evfeatures/config"
	"github.com/TFMV/evfeatures/internal/runner"
	"github.com/TFMV/evfeatures/logger"
	"github.com/TFMV/evfeatures/metrics"
	"github.com/TFMV/evfeatures/pkg/core"
	"github.com/TFMV/evfeatures/pkg/readers"
	"github.com/TFMV/evfeatures/pkg/schema"
	"github.com/TFMV/evfeatures/pkg/writers"
	"github.com/TFMV/evfeatures/report"
)

// newDeriveCommand creates the derive command.
func newDeriveCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive [flags] [INPUT]",
		Short: "Derive feature columns from a registration table",
		Long: `The derive command reads a registration table, appends the feature columns
and writes the result. Nothing is written unless every derived column passes
its consistency checks.

Input may be a file (type detected from the extension) or, with
--connection, a DuckDB or ADBC source queried with --table or --query.
Without --output the derived table is written to stdout as CSV.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.cfg.Input.Path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDerive(ctx, c.cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.String("input-type", "", "Input type (csv, parquet, arrow, duckdb, adbc); detected when empty")
	f.String("connection", "", "Connection string for duckdb or adbc input")
	f.String("driver", "", "ADBC driver library")
	f.String("table", "", "Table to read from a database input")
	f.String("query", "", "Query to read from a database input")
	f.Int64("batch-size", 64*1024, "Rows per read batch")
	f.StringP("output", "o", "", "Output path (csv, parquet, arrow, json by extension)")
	f.String("output-type", "", "Output type; detected from the extension when empty")
	f.String("compression", "snappy", "Parquet compression (snappy, zstd, gzip, none)")
	f.Int("current-year", 0, "Reference year for Vehicle Age; 0 means the current year")
	f.String("urban-column", "County", "Column classified as urban (County or City)")
	f.String("tie-break", "lexical", "Dominant manufacturer tie-break (lexical, first_seen)")
	f.Bool("clamp-age", true, "Clamp negative vehicle ages to 0")
	f.Bool("date-parts", true, "Emit Quarter and Month columns")
	f.Bool("parallel", false, "Derive per-county groups in parallel")
	f.Int("workers", 0, "Worker goroutines when parallel; 0 means one per CPU")
	f.String("report-json", "", "Write the run report as JSON")
	f.String("report-html", "", "Write the run report as HTML")
	f.String("metrics-file", "", "Append the run report as one JSON line")
	f.String("alert-file", "", "Write a JSON alert when the run fails")

	for flag, key := range map[string]string{
		"input-type":   "input.type",
		"connection":   "input.connection_string",
		"driver":       "input.driver",
		"table":        "input.table",
		"query":        "input.query",
		"batch-size":   "input.batch_size",
		"output":       "output.path",
		"output-type":  "output.type",
		"compression":  "output.compression",
		"current-year": "features.current_year",
		"urban-column": "features.urban_column",
		"tie-break":    "features.tie_break",
		"clamp-age":    "features.clamp_vehicle_age",
		"date-parts":   "features.date_parts",
		"parallel":     "features.parallel",
		"workers":      "features.workers",
		"report-json":  "report.json",
		"report-html":  "report.html",
		"metrics-file": "report.metrics",
		"alert-file":   "report.alert",
	} {
		c.bind(cmd, flag, key)
	}
	return cmd
}

// readerConfig resolves the input section to a reader configuration.
func readerConfig(cfg *config.Config) (core.ReaderConfig, error) {
	in := cfg.Input
	rc := core.ReaderConfig{
		Type:             in.Type,
		Path:             in.Path,
		ConnectionString: in.ConnectionString,
		Driver:           in.Driver,
		Table:            in.Table,
		Query:            in.Query,
		BatchSize:        in.BatchSize,
	}
	if rc.Type == "" {
		if rc.Path == "" {
			return rc, errors.New("input type is required for connection-string input")
		}
		typ, err := readers.DetectType(rc.Path)
		if err != nil {
			return rc, err
		}
		rc.Type = typ
	}
	if rc.Type == "duckdb" && rc.ConnectionString == "" {
		rc.ConnectionString = rc.Path
	}
	return rc, nil
}

func runDerive(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	log := logger.GetLogger()
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts := cfg.FeatureOptions(time.Now())

	rc, err := readerConfig(cfg)
	if err != nil {
		return err
	}
	if rc.Type == "csv" {
		rc.ColumnTypes = schema.SourceColumnTypes(opts)
	}
	reader, err := readers.DefaultFactory.Create(rc)
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Close()

	outputType := cfg.Output.Type
	if cfg.Output.Path != "" && outputType == "" {
		if outputType, err = writers.DetectType(cfg.Output.Path); err != nil {
			return err
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(stderr))
	s.Suffix = " Deriving features..."
	s.Start()

	inputName := rc.Path
	if inputName == "" {
		inputName = rc.Type + ":" + rc.Table + rc.Query
	}
	meta := metrics.RunMetadata{Input: inputName, InputType: rc.Type, Output: cfg.Output.Path, OutputType: outputType}
	out, err := runner.New(opts, log).Derive(ctx, reader, meta)
	s.Stop()
	if out == nil {
		return err
	}
	defer out.Release()

	if repErr := saveReports(cfg.Report, out.Report); repErr != nil {
		log.Error("Failed to save reports", zap.Error(repErr))
		err = errors.Join(err, repErr)
	}
	printSummary(stderr, out.Report)
	if err != nil {
		return err
	}

	if cfg.Output.Path == "" {
		return writeCSV(stdout, out.Output)
	}

	writer, err := writers.DefaultFactory.Create(core.WriterConfig{
		Type:        outputType,
		Path:        cfg.Output.Path,
		Compression: cfg.Output.Compression,
	})
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}
	if err := runner.WriteOutput(ctx, writer, out.Output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintf(stderr, "Derived table saved to %s\n", cfg.Output.Path)
	return nil
}

// saveReports writes every report format the config asks for.
func saveReports(rc config.ReportConfig, run metrics.RunReport) error {
	if err := report.SaveReports(run, rc.JSON, rc.HTML); err != nil {
		return err
	}
	if rc.Metrics != "" {
		store := &metrics.JSONMetricsStore{FilePath: rc.Metrics}
		if err := store.Save(run); err != nil {
			return err
		}
	}
	return report.SaveAlert(run, rc.Alert)
}

func writeCSV(w io.Writer, rec arrow.Record) error {
	cw := csv.NewWriter(w, rec.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := cw.Write(rec); err != nil {
		return err
	}
	return cw.Flush()
}

// printSummary renders the run report as tables.
func printSummary(w io.Writer, rep metrics.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Derivation steps")
	t.AppendHeader(table.Row{"Step", "Columns", "Groups", "Duration", "Warnings"})
	for _, s := range rep.Steps {
		t.AppendRow(table.Row{s.Name, strings.Join(s.Columns, "\n"), s.Groups, s.Duration.Round(time.Microsecond), strings.Join(s.Warnings, "\n")})
	}
	t.Render()

	if len(rep.Invariants.Results) > 0 {
		inv := table.NewWriter()
		inv.SetOutputMirror(w)
		inv.SetStyle(table.StyleLight)
		inv.SetTitle("Checks")
		inv.AppendHeader(table.Row{"Check", "Status", "Violations", "Message"})
		for _, r := range rep.Invariants.Results {
			st := "PASS"
			if !r.Passed {
				st = "FAIL"
			}
			inv.AppendRow(table.Row{r.Name, st, r.Violations, r.Message})
		}
		inv.Render()
	}

	fmt.Fprintf(w, "Rows: %d  Columns: %d -> %d  Duration: %s\n",
		rep.Table.NumRows, rep.Table.InputColumns, rep.Table.OutputColumns, rep.Run.Duration.Round(time.Millisecond))
	if !rep.Status.Passed {
		fmt.Fprintf(w, "FAILED [%s]: %s\n", rep.Status.ErrorCode, rep.Status.Message)
	}
}
