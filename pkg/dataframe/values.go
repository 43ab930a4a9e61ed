package dataframe

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// ValueAt returns the Go value stored at row i of arr. Nulls are returned as
// nil, structs as map[string]any, lists as []any, dates and timestamps as
// [time.Time] in UTC.
func ValueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}

	switch arr := arr.(type) {
	case *array.Boolean:
		return arr.Value(i)
	case *array.Int8:
		return arr.Value(i)
	case *array.Uint8:
		return arr.Value(i)
	case *array.Int16:
		return arr.Value(i)
	case *array.Int32:
		return arr.Value(i)
	case *array.Int64:
		return arr.Value(i)
	case *array.Uint32:
		return arr.Value(i)
	case *array.Uint64:
		return arr.Value(i)
	case *array.Float32:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.LargeString:
		return arr.Value(i)
	case *array.Binary:
		return append([]byte(nil), arr.Value(i)...)
	case *array.Date32:
		return arr.Value(i).ToTime().UTC()
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return arr.Value(i).ToTime(unit).UTC()
	case *array.Struct:
		st := arr.DataType().(*arrow.StructType)
		out := make(map[string]any, st.NumFields())
		for f := range st.NumFields() {
			out[st.Field(f).Name] = ValueAt(arr.Field(f), i)
		}
		return out
	case *array.List:
		start, end := arr.ValueOffsets(i)
		values := arr.ListValues()
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, ValueAt(values, int(j)))
		}
		return out
	default:
		return arr.ValueStr(i)
	}
}

// AppendValue appends v to b, converting between compatible Go and Arrow
// types. A nil v appends a null.
func AppendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch b := b.(type) {
	case *array.BooleanBuilder:
		x, err := toBool(v)
		if err != nil {
			return err
		}
		b.Append(x)
	case *array.Int8Builder:
		x, err := toInt(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		b.Append(int8(x))
	case *array.Uint8Builder:
		x, err := toInt(v, 0, math.MaxUint8)
		if err != nil {
			return err
		}
		b.Append(uint8(x))
	case *array.Int16Builder:
		x, err := toInt(v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		b.Append(int16(x))
	case *array.Int32Builder:
		x, err := toInt(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		b.Append(int32(x))
	case *array.Int64Builder:
		x, err := toInt(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		b.Append(x)
	case *array.Float32Builder:
		x, err := toFloat(v)
		if err != nil {
			return err
		}
		b.Append(float32(x))
	case *array.Float64Builder:
		x, err := toFloat(v)
		if err != nil {
			return err
		}
		b.Append(x)
	case *array.StringBuilder:
		switch x := v.(type) {
		case string:
			b.Append(x)
		case []byte:
			b.Append(string(x))
		case fmt.Stringer:
			b.Append(x.String())
		default:
			b.Append(fmt.Sprint(x))
		}
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			b.Append(x)
		case string:
			b.AppendString(x)
		default:
			return mismatch(v, "binary")
		}
	case *array.Date32Builder:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.TimestampBuilder:
		t, err := toTime(v)
		if err != nil {
			return err
		}
		unit := b.Type().(*arrow.TimestampType).Unit
		ts, err := arrow.TimestampFromTime(t, unit)
		if err != nil {
			return errdefs.TypeMismatchf("timestamp %v: %v", t, err)
		}
		b.Append(ts)
	case *array.StructBuilder:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch(v, "struct")
		}
		st := b.Type().(*arrow.StructType)
		b.Append(true)
		for f := range st.NumFields() {
			if err := AppendValue(b.FieldBuilder(f), m[st.Field(f).Name]); err != nil {
				return fmt.Errorf("struct field %s: %w", st.Field(f).Name, err)
			}
		}
	case *array.ListBuilder:
		items, ok := v.([]any)
		if !ok {
			return mismatch(v, "list")
		}
		b.Append(true)
		for _, item := range items {
			if err := AppendValue(b.ValueBuilder(), item); err != nil {
				return err
			}
		}
	default:
		return errdefs.TypeMismatchf("unsupported builder %T", b)
	}
	return nil
}

func mismatch(v any, want string) error {
	return errdefs.TypeMismatchf("cannot convert %T (%v) to %s", v, v, want)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, mismatch(v, "bool")
		}
		return b, nil
	case int, int8, int16, int32, int64:
		n, err := toInt(x, 0, 1)
		if err != nil {
			return false, mismatch(v, "bool")
		}
		return n == 1, nil
	}
	return false, mismatch(v, "bool")
}

func toInt(v any, lo, hi int64) (int64, error) {
	var x int64
	switch n := v.(type) {
	case int:
		x = int64(n)
	case int8:
		x = int64(n)
	case int16:
		x = int64(n)
	case int32:
		x = int64(n)
	case int64:
		x = n
	case uint8:
		x = int64(n)
	case uint16:
		x = int64(n)
	case uint32:
		x = int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return 0, mismatch(v, "integer")
		}
		x = int64(n)
	case float32:
		if float32(int64(n)) != n {
			return 0, mismatch(v, "integer")
		}
		x = int64(n)
	case float64:
		if float64(int64(n)) != n {
			return 0, mismatch(v, "integer")
		}
		x = int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, mismatch(v, "integer")
		}
		x = parsed
	default:
		return 0, mismatch(v, "integer")
	}
	if x < lo || x > hi {
		return 0, errdefs.TypeMismatchf("value %d out of range [%d, %d]", x, lo, hi)
	}
	return x, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, mismatch(v, "float")
		}
		return f, nil
	}
	i, err := toInt(v, math.MinInt64, math.MaxInt64)
	if err != nil {
		return 0, mismatch(v, "float")
	}
	return float64(i), nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, mismatch(v, "time")
}

// RecordFromRows builds a record with the given schema from rows of Go
// values. Every row must have one value per schema field.
func RecordFromRows(mem memory.Allocator, schema *arrow.Schema, rows [][]any) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	for i, row := range rows {
		if len(row) != schema.NumFields() {
			return nil, errdefs.TypeMismatchf("row %d has %d values, schema has %d fields", i, len(row), schema.NumFields())
		}
		for f, v := range row {
			if err := AppendValue(rb.Field(f), v); err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i, schema.Field(f).Name, err)
			}
		}
	}
	return rb.NewRecord(), nil
}

// RowsFromRecord returns the rows of rec as Go values.
func RowsFromRecord(rec arrow.Record) [][]any {
	rows := make([][]any, rec.NumRows())
	for i := range rows {
		rows[i] = RowAt(rec, i)
	}
	return rows
}

// RowAt returns row i of rec as Go values.
func RowAt(rec arrow.Record, i int) []any {
	row := make([]any, rec.NumCols())
	for c := range row {
		row[c] = ValueAt(rec.Column(c), i)
	}
	return row
}

// EmptyRecord returns a record with schema and no rows.
func EmptyRecord(schema *arrow.Schema) arrow.Record {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()
	return rb.NewRecord()
}

// ConcatRecords concatenates recs, which must all have schema, into a single
// record.
func ConcatRecords(mem memory.Allocator, schema *arrow.Schema, recs []arrow.Record) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var nonEmpty []arrow.Record
	for _, rec := range recs {
		if rec.NumRows() > 0 {
			nonEmpty = append(nonEmpty, rec)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return EmptyRecord(schema), nil
	case 1:
		nonEmpty[0].Retain()
		return nonEmpty[0], nil
	}

	var (
		rows int64
		cols = make([]arrow.Array, schema.NumFields())
	)
	for _, rec := range nonEmpty {
		if !rec.Schema().Equal(schema) {
			return nil, errdefs.TypeMismatchf("cannot concatenate %s into %s", rec.Schema(), schema)
		}
		rows += rec.NumRows()
	}
	for c := range cols {
		parts := make([]arrow.Array, len(nonEmpty))
		for i, rec := range nonEmpty {
			parts[i] = rec.Column(c)
		}
		col, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, err
		}
		defer col.Release()
		cols[c] = col
	}
	return array.NewRecord(schema, cols, rows), nil
}

// TableRecord flattens the chunks of tbl into a single record.
func TableRecord(tbl arrow.Table, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema := tbl.Schema()
	cols := make([]arrow.Array, schema.NumFields())
	for i := range cols {
		chunks := tbl.Column(i).Data().Chunks()
		if len(chunks) == 0 {
			return EmptyRecord(schema), nil
		}
		col, err := array.Concatenate(chunks, mem)
		if err != nil {
			return nil, err
		}
		defer col.Release()
		cols[i] = col
	}
	return array.NewRecord(schema, cols, tbl.NumRows()), nil
}
