package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jedib0t/go-pretty/v6/table"
)

// SchemaToString renders an Arrow schema as a table of fields, followed by
// any schema metadata.
func SchemaToString(schema *arrow.Schema) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Field", "Type", "Nullable"})
	for i, field := range schema.Fields() {
		t.AppendRow(table.Row{i + 1, field.Name, field.Type.String(), field.Nullable})
	}

	var builder strings.Builder
	builder.WriteString(t.Render())
	builder.WriteString("\n")

	metadata := schema.Metadata()
	if metadata.Len() > 0 {
		builder.WriteString("\nMetadata:\n")
		for i, key := range metadata.Keys() {
			fmt.Fprintf(&builder, "  %s: %s\n", key, metadata.Values()[i])
		}
	}

	return builder.String()
}

// PrintValidationResult prints a validation result in a human-readable format.
func PrintValidationResult(result ValidationResult) string {
	var builder strings.Builder

	if result.Valid {
		builder.WriteString("Schema validation passed.\n")
	} else {
		builder.WriteString("Schema validation failed!\n")
	}

	writeGroup(&builder, "Errors", result.Errors)
	writeGroup(&builder, "Warnings", result.Warnings)
	return builder.String()
}

func writeGroup(b *strings.Builder, title string, byRule map[string][]string) {
	if len(byRule) == 0 {
		return
	}
	rules := make([]string, 0, len(byRule))
	for r := range byRule {
		rules = append(rules, r)
	}
	sort.Strings(rules)

	fmt.Fprintf(b, "\n%s:\n", title)
	for _, r := range rules {
		fmt.Fprintf(b, "  Rule '%s':\n", r)
		for _, msg := range byRule[r] {
			fmt.Fprintf(b, "    - %s\n", msg)
		}
	}
}
