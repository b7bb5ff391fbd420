// Package schema provides preflight validation of input Arrow schemas.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// ValidationRule defines an interface for schema validation rules.
type ValidationRule interface {
	// Validate checks if the schema meets the rule's criteria.
	Validate(schema *arrow.Schema) (bool, error)

	// Name returns the human-readable name of the rule.
	Name() string

	// Description returns a detailed description of what the rule validates.
	Description() string
}

// Advisor is implemented by rules that also report non-fatal findings.
type Advisor interface {
	Advise(schema *arrow.Schema) []string
}

// ValidationResult represents the result of a schema validation.
type ValidationResult struct {
	// Valid indicates whether the schema is valid according to all rules.
	Valid bool

	// Errors contains validation errors grouped by rule name.
	Errors map[string][]string

	// Warnings contains validation warnings grouped by rule name.
	Warnings map[string][]string
}

// RequiredFieldsRule is a validation rule that checks for required fields.
type RequiredFieldsRule struct {
	// RequiredFields is the list of field names that must be present in the schema.
	RequiredFields []string
}

// Validate implements ValidationRule.Validate.
func (r *RequiredFieldsRule) Validate(schema *arrow.Schema) (bool, error) {
	var missingFields []string
	for _, fieldName := range r.RequiredFields {
		if !schema.HasField(fieldName) {
			missingFields = append(missingFields, fieldName)
		}
	}

	if len(missingFields) > 0 {
		return false, fmt.Errorf("required fields missing: %s", strings.Join(missingFields, ", "))
	}
	return true, nil
}

// Name implements ValidationRule.Name.
func (r *RequiredFieldsRule) Name() string {
	return "RequiredFieldsRule"
}

// Description implements ValidationRule.Description.
func (r *RequiredFieldsRule) Description() string {
	return "Validates that all required fields are present in the schema"
}

// UniqueFieldsRule rejects schemas where a column name appears twice, which
// would make every by-name lookup ambiguous.
type UniqueFieldsRule struct{}

// Validate implements ValidationRule.Validate.
func (r *UniqueFieldsRule) Validate(schema *arrow.Schema) (bool, error) {
	seen := make(map[string]int, schema.NumFields())
	for _, f := range schema.Fields() {
		seen[f.Name]++
	}

	var dups []string
	for name, n := range seen {
		if n > 1 {
			dups = append(dups, name)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return false, fmt.Errorf("duplicate column names: %s", strings.Join(dups, ", "))
	}
	return true, nil
}

// Name implements ValidationRule.Name.
func (r *UniqueFieldsRule) Name() string {
	return "UniqueFieldsRule"
}

// Description implements ValidationRule.Description.
func (r *UniqueFieldsRule) Description() string {
	return "Validates that column names are unique"
}

// Family groups Arrow types by how the feature pipeline reads them.
type Family string

const (
	// FamilyCategorical columns are read as strings; every primitive type qualifies.
	FamilyCategorical Family = "categorical"
	// FamilyYear columns must hold whole numbers.
	FamilyYear Family = "year"
)

// classify reports whether dt belongs to family natively, or only after
// coercion (a string or float that must be parsed per row).
func classify(dt arrow.DataType, family Family) (native, coercible bool) {
	switch family {
	case FamilyCategorical:
		switch dt.ID() {
		case arrow.STRING, arrow.LARGE_STRING:
			return true, true
		case arrow.LIST, arrow.LARGE_LIST, arrow.FIXED_SIZE_LIST, arrow.STRUCT, arrow.MAP, arrow.NULL:
			return false, false
		}
		return false, true
	case FamilyYear:
		switch dt.ID() {
		case arrow.INT64, arrow.INT32, arrow.INT16, arrow.UINT16, arrow.UINT32:
			return true, true
		case arrow.FLOAT64, arrow.STRING:
			return false, true
		}
	}
	return false, false
}

// TypeFamilyRule checks that each listed column has a type the pipeline can
// read for its family. Columns that are absent are left to RequiredFieldsRule.
type TypeFamilyRule struct {
	Families map[string]Family
}

func (r *TypeFamilyRule) columns() []string {
	cols := make([]string, 0, len(r.Families))
	for c := range r.Families {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Validate implements ValidationRule.Validate.
func (r *TypeFamilyRule) Validate(schema *arrow.Schema) (bool, error) {
	var problems []string
	for _, name := range r.columns() {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			continue
		}
		dt := schema.Field(idx[0]).Type
		if _, ok := classify(dt, r.Families[name]); !ok {
			problems = append(problems, fmt.Sprintf("field '%s' has type '%s', which cannot be read as %s", name, dt, r.Families[name]))
		}
	}

	if len(problems) > 0 {
		return false, fmt.Errorf("type family validation failed: %s", strings.Join(problems, "; "))
	}
	return true, nil
}

// Advise implements Advisor. It lists columns that will be parsed per row.
func (r *TypeFamilyRule) Advise(schema *arrow.Schema) []string {
	var notes []string
	for _, name := range r.columns() {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			continue
		}
		dt := schema.Field(idx[0]).Type
		if native, ok := classify(dt, r.Families[name]); ok && !native {
			notes = append(notes, fmt.Sprintf("field '%s' has type '%s' and will be converted to %s per row", name, dt, r.Families[name]))
		}
	}
	return notes
}

// Name implements ValidationRule.Name.
func (r *TypeFamilyRule) Name() string {
	return "TypeFamilyRule"
}

// Description implements ValidationRule.Description.
func (r *TypeFamilyRule) Description() string {
	return "Validates that source columns have types the feature pipeline can read"
}
