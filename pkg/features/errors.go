package features

import (
	"errors"
	"fmt"
	"strings"
)

// Fault codes. Every Fault wraps exactly one of these, so callers can use errors.Is.
var (
	ErrMissingColumn   = errors.New("missing column")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrDegenerateGroup = errors.New("degenerate group")
	ErrEmptyTable      = errors.New("empty table")
)

// Fault is a fatal derivation error. A run that hits a Fault produces no output.
type Fault struct {
	Code    error
	Step    string
	Column  string
	Message string
}

func newFault(code error, step, column, format string, a ...any) *Fault {
	return &Fault{
		Code:    code,
		Step:    step,
		Column:  column,
		Message: fmt.Sprintf(format, a...),
	}
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Code.Error())
	if f.Step != "" {
		fmt.Fprintf(&b, " in step %s", f.Step)
	}
	if f.Column != "" {
		fmt.Fprintf(&b, " (column %q)", f.Column)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

func (f *Fault) Unwrap() error {
	return f.Code
}

// Kind returns a stable snake_case identifier for the fault code.
func (f *Fault) Kind() string {
	switch f.Code {
	case ErrMissingColumn:
		return "missing_column"
	case ErrTypeMismatch:
		return "type_mismatch"
	case ErrDegenerateGroup:
		return "degenerate_group"
	case ErrEmptyTable:
		return "empty_table"
	default:
		return "unknown"
	}
}
