package arrowengine

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/partition"
)

// columnIndices returns the index of every named column of schema.
func columnIndices(schema *arrow.Schema, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, errdefs.Configurationf("column %q not found in schema %s", name, schema)
		}
		out[i] = idx[0]
	}
	return out, nil
}

// keyString encodes the values at cols of row into a comparable key. The
// second result is false if any of the values is null.
func keyString(row []any, cols []int) (string, bool) {
	var sb strings.Builder
	valid := true
	for _, c := range cols {
		v := row[c]
		if v == nil {
			valid = false
			sb.WriteString("\x00null\x00")
			continue
		}
		fmt.Fprintf(&sb, "%T:%v\x00", v, v)
	}
	return sb.String(), valid
}

// compareValues orders two values of the same column. Nulls sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int8:
		return cmp.Compare(x, b.(int8))
	case uint8:
		return cmp.Compare(x, b.(uint8))
	case int16:
		return cmp.Compare(x, b.(int16))
	case int32:
		return cmp.Compare(x, b.(int32))
	case int64:
		return cmp.Compare(x, b.(int64))
	case uint32:
		return cmp.Compare(x, b.(uint32))
	case uint64:
		return cmp.Compare(x, b.(uint64))
	case float32:
		return cmp.Compare(x, b.(float32))
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	case []byte:
		return bytes.Compare(x, b.([]byte))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// sortRows stably sorts the row indices idx of rows by keys. Descending keys
// put nulls last.
func sortRows(rows [][]any, idx []int64, schema *arrow.Schema, keys []partition.SortKey) error {
	if len(keys) == 0 {
		return nil
	}
	cols := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = k.Column
	}
	colIdx, err := columnIndices(schema, cols)
	if err != nil {
		return err
	}

	slices.SortStableFunc(idx, func(a, b int64) int {
		for i, k := range keys {
			c := compareValues(rows[a][colIdx[i]], rows[b][colIdx[i]])
			if c == 0 {
				continue
			}
			if !k.Ascending {
				return -c
			}
			return c
		}
		return 0
	})
	return nil
}

// takeRecord returns the rows of rec at indices, in order.
func takeRecord(ctx context.Context, rec arrow.Record, indices []int64, mem memory.Allocator) (arrow.Record, error) {
	if len(indices) == 0 {
		return dataframe.EmptyRecord(rec.Schema()), nil
	}

	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	ib.AppendValues(indices, nil)
	idx := ib.NewArray()
	defer idx.Release()

	ctx = compute.WithAllocator(ctx, mem)
	cols := make([]arrow.Array, rec.NumCols())
	for i := range cols {
		col, err := compute.TakeArray(ctx, rec.Column(i), idx)
		if err != nil {
			return nil, fmt.Errorf("take column %s: %w", rec.ColumnName(i), err)
		}
		defer col.Release()
		cols[i] = col
	}
	return array.NewRecord(rec.Schema(), cols, int64(len(indices))), nil
}

// outputRecord converts the result of a map function to a record with
// schema. A nil result is empty.
func outputRecord(ctx context.Context, res dataframe.LocalDataFrame, schema *arrow.Schema, mem memory.Allocator) (arrow.Record, error) {
	if res == nil {
		return dataframe.EmptyRecord(schema), nil
	}
	if res.Schema().Equal(schema) {
		rec, err := res.AsRecord(ctx)
		if err != nil {
			return nil, err
		}
		rec.Retain()
		return rec, nil
	}
	rows, err := res.AsArray(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := dataframe.RecordFromRows(mem, schema, rows)
	if err != nil {
		return nil, fmt.Errorf("map output does not match %s: %w", schema, err)
	}
	return rec, nil
}
