package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/TFMV/evfeatures/config"
	"github.com/TFMV/evfeatures/pkg/readers"
	"github.com/TFMV/evfeatures/pkg/schema"
)

// newSchemaCommand creates the schema command.
func newSchemaCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [flags] INPUT",
		Short: "Show an input schema and check it against the feature requirements",
		Long: `Print the Arrow schema of a registration table and run the preflight
checks used by derive: required columns, duplicate names, and whether the
categorical and Model Year columns can be read. No rows are derived.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c.cfg.Input.Path = args[0]
			}
			return runSchema(cmd.Context(), c.cfg, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.String("input-type", "", "Input type (csv, parquet, arrow, duckdb, adbc); detected when empty")
	f.String("urban-column", "County", "Column classified as urban (County or City)")
	c.bind(cmd, "input-type", "input.type")
	c.bind(cmd, "urban-column", "features.urban_column")
	return cmd
}

func runSchema(ctx context.Context, cfg *config.Config, w io.Writer) error {
	if err := cfg.Input.Validate(); err != nil {
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

	s := reader.Schema()
	if s == nil {
		// Some readers only learn the schema from the first batch.
		rec, err := reader.Read(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if rec != nil {
			s = rec.Schema()
			rec.Release()
		}
	}
	if s == nil {
		return errors.New("input has no schema")
	}

	fmt.Fprint(w, schema.SchemaToString(s))
	result := schema.ForRegistrations(opts).ValidateSchema(s)
	fmt.Fprint(w, schema.PrintValidationResult(result))
	if !result.Valid {
		return errors.New("schema validation failed")
	}
	return nil
}
