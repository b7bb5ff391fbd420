package schema

import (
	"github.com/TFMV/evfeatures/pkg/features"
	"github.com/apache/arrow-go/v18/arrow"
)

// Validator runs a set of rules against a schema.
type Validator struct {
	rules []ValidationRule
}

// NewValidator creates a validator with the given rules.
func NewValidator(rules ...ValidationRule) *Validator {
	return &Validator{rules: rules}
}

// AddRule adds a validation rule to the validator.
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Rules returns the configured rules.
func (v *Validator) Rules() []ValidationRule {
	return v.rules
}

// ValidateSchema checks if a schema is valid according to the validator's rules.
func (v *Validator) ValidateSchema(schema *arrow.Schema) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   make(map[string][]string),
		Warnings: make(map[string][]string),
	}

	for _, rule := range v.rules {
		valid, err := rule.Validate(schema)
		if !valid {
			result.Valid = false
			if err != nil {
				result.Errors[rule.Name()] = append(result.Errors[rule.Name()], err.Error())
			}
		}
		if a, ok := rule.(Advisor); ok {
			if notes := a.Advise(schema); len(notes) > 0 {
				result.Warnings[rule.Name()] = append(result.Warnings[rule.Name()], notes...)
			}
		}
	}

	return result
}

// ForRegistrations returns the preflight validator for a registration table
// feeding the default feature catalog.
func ForRegistrations(opts features.Options) *Validator {
	families := make(map[string]Family)
	for _, col := range features.RequiredColumns(opts) {
		families[col] = FamilyCategorical
	}
	families[features.ColModelYear] = FamilyYear

	return NewValidator(
		&UniqueFieldsRule{},
		&RequiredFieldsRule{RequiredFields: features.RequiredColumns(opts)},
		&TypeFamilyRule{Families: families},
	)
}

// SourceColumnTypes pins every registration column to string for CSV input.
// Categorical columns then never turn numeric, and Model Year is parsed by the
// pipeline itself, so a bad year surfaces as a type mismatch fault rather
// than a CSV parse error.
func SourceColumnTypes(opts features.Options) map[string]arrow.DataType {
	types := map[string]arrow.DataType{features.ColCity: arrow.BinaryTypes.String}
	for _, col := range features.RequiredColumns(opts) {
		types[col] = arrow.BinaryTypes.String
	}
	return types
}
