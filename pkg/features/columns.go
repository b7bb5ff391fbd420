package features

import (
	"math"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// columnIndex returns the position of the first field named name.
func columnIndex(rec arrow.Record, name string) (int, bool) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return -1, false
	}
	return idx[0], true
}

// categorical reads a column as strings. Nulls read as "", so they form a
// group of their own, can be a group's mode, and combine into interaction
// categories such as "Urban_". pandas differs here: groupby and value_counts
// drop NaN, and astype(str) spells it "nan".
func categorical(rec arrow.Record, step, name string) ([]string, error) {
	i, ok := columnIndex(rec, name)
	if !ok {
		return nil, newFault(ErrMissingColumn, step, name, "column not found in table")
	}

	col := rec.Column(i)
	out := make([]string, col.Len())
	switch c := col.(type) {
	case *array.String:
		for j := range out {
			if c.IsValid(j) {
				out[j] = c.Value(j)
			}
		}
	case *array.LargeString:
		for j := range out {
			if c.IsValid(j) {
				out[j] = c.Value(j)
			}
		}
	default:
		for j := range out {
			if col.IsValid(j) {
				out[j] = col.ValueStr(j)
			}
		}
	}
	return out, nil
}

// integers reads a column that must hold whole numbers for every row.
func integers(rec arrow.Record, step, name string) ([]int64, error) {
	i, ok := columnIndex(rec, name)
	if !ok {
		return nil, newFault(ErrMissingColumn, step, name, "column not found in table")
	}

	col := rec.Column(i)
	out := make([]int64, col.Len())
	for j := range out {
		if col.IsNull(j) {
			return nil, newFault(ErrTypeMismatch, step, name, "null value at row %d", j)
		}
	}

	switch c := col.(type) {
	case *array.Int64:
		copy(out, c.Int64Values())
	case *array.Int32:
		for j := range out {
			out[j] = int64(c.Value(j))
		}
	case *array.Int16:
		for j := range out {
			out[j] = int64(c.Value(j))
		}
	case *array.Uint16:
		for j := range out {
			out[j] = int64(c.Value(j))
		}
	case *array.Uint32:
		for j := range out {
			out[j] = int64(c.Value(j))
		}
	case *array.Float64:
		for j := range out {
			v := c.Value(j)
			if v != math.Trunc(v) || math.IsInf(v, 0) {
				return nil, newFault(ErrTypeMismatch, step, name, "non-integral value %v at row %d", v, j)
			}
			out[j] = int64(v)
		}
	case *array.String:
		for j := range out {
			v, err := strconv.ParseInt(strings.TrimSpace(c.Value(j)), 10, 64)
			if err != nil {
				return nil, newFault(ErrTypeMismatch, step, name, "unparseable value %q at row %d", c.Value(j), j)
			}
			out[j] = v
		}
	default:
		return nil, newFault(ErrTypeMismatch, step, name, "unsupported column type %s", col.DataType())
	}
	return out, nil
}

func float64Array(mem memory.Allocator, values []float64) arrow.Array {
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues(values, nil)
	return b.NewArray()
}

func int64Array(mem memory.Allocator, values []int64) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(values, nil)
	return b.NewArray()
}

func stringArray(mem memory.Allocator, values []string) arrow.Array {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.AppendValues(values, nil)
	return b.NewArray()
}

func boolArray(mem memory.Allocator, values []bool) arrow.Array {
	b := array.NewBooleanBuilder(mem)
	defer b.Release()
	b.AppendValues(values, nil)
	return b.NewArray()
}

// withColumns returns a new record holding rec's columns plus cols. A column
// whose name already exists replaces the old one in place; the rest are
// appended in order. Ownership of cols passes to the returned record.
func withColumns(rec arrow.Record, fields []arrow.Field, cols []arrow.Array) arrow.Record {
	schema := rec.Schema()
	outFields := append([]arrow.Field{}, schema.Fields()...)
	outCols := append([]arrow.Array{}, rec.Columns()...)

	for k, field := range fields {
		if i, ok := columnIndex(rec, field.Name); ok {
			outFields[i] = field
			outCols[i] = cols[k]
			continue
		}
		outFields = append(outFields, field)
		outCols = append(outCols, cols[k])
	}

	md := schema.Metadata()
	out := array.NewRecord(arrow.NewSchema(outFields, &md), outCols, rec.NumRows())
	for _, c := range cols {
		c.Release()
	}
	return out
}
