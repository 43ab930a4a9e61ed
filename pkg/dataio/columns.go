package dataio

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
)

// hiveDefault is the directory value used for null partition keys.
const hiveDefault = "__HIVE_DEFAULT_PARTITION__"

// parseColumns parses a column selection. A schema expression returns the
// typed schema together with its names; a plain list returns names only.
//
// For CSV the schema expression must list every stored column in file
// order.
func parseColumns(cols string) (*arrow.Schema, []string, error) {
	cols = strings.TrimSpace(cols)
	if cols == "" {
		return nil, nil, nil
	}
	if !strings.Contains(cols, ":") {
		var names []string
		for name := range strings.SplitSeq(cols, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		return nil, names, nil
	}

	schema, err := dataframe.ParseSchema(cols)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return schema, names, nil
}

// hiveValues returns the key=value directory segments between root and obj.
func hiveValues(root, obj string) [][2]string {
	root = strings.TrimSuffix(root, "/")
	if obj == root {
		return nil
	}
	rel := strings.TrimPrefix(obj, root+"/")

	var out [][2]string
	for seg := range strings.SplitSeq(path.Dir(rel), "/") {
		if k, v, ok := strings.Cut(seg, "="); ok && k != "" {
			out = append(out, [2]string{k, v})
		}
	}
	return out
}

func hiveKeys(hive [][2]string) []string {
	keys := make([]string, len(hive))
	for i, kv := range hive {
		keys[i] = kv[0]
	}
	return keys
}

func withoutColumns(schema *arrow.Schema, drop []string) *arrow.Schema {
	fields := make([]arrow.Field, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		if !slices.Contains(drop, f.Name) {
			fields = append(fields, f)
		}
	}
	return arrow.NewSchema(fields, nil)
}

// addHiveColumns appends one string column per hive segment not already
// present in rec. rec is released.
func addHiveColumns(rec arrow.Record, hive [][2]string, mem memory.Allocator) (arrow.Record, error) {
	defer rec.Release()

	fields := slices.Clone(rec.Schema().Fields())
	cols := slices.Clone(rec.Columns())
	for _, kv := range hive {
		if rec.Schema().HasField(kv[0]) {
			continue
		}
		b := array.NewStringBuilder(mem)
		for range rec.NumRows() {
			if kv[1] == hiveDefault {
				b.AppendNull()
			} else {
				b.Append(kv[1])
			}
		}
		col := b.NewArray()
		b.Release()
		defer col.Release()

		fields = append(fields, arrow.Field{Name: kv[0], Type: arrow.BinaryTypes.String, Nullable: true})
		cols = append(cols, col)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, rec.NumRows()), nil
}

// checkTypes verifies that every column of want exists in got with the same
// type.
func checkTypes(got, want *arrow.Schema) error {
	for _, f := range want.Fields() {
		idx := got.FieldIndices(f.Name)
		if len(idx) == 0 {
			return errdefs.Configurationf("column %q not found in %s", f.Name, got)
		}
		if actual := got.Field(idx[0]).Type; !arrow.TypeEqual(actual, f.Type) {
			return errdefs.TypeMismatchf("column %q has type %s, expected %s", f.Name, actual, f.Type)
		}
	}
	return nil
}

// selectColumns projects recs onto names. The input records are released.
func selectColumns(schema *arrow.Schema, recs []arrow.Record, names []string) (*arrow.Schema, []arrow.Record, error) {
	sub, err := dataframe.SelectSchema(schema, names...)
	if err != nil {
		return nil, nil, err
	}

	out := make([]arrow.Record, len(recs))
	for i, rec := range recs {
		cols := make([]arrow.Array, len(names))
		for c, name := range names {
			cols[c] = rec.Column(rec.Schema().FieldIndices(name)[0])
		}
		out[i] = array.NewRecord(sub, cols, rec.NumRows())
		rec.Release()
	}
	return sub, out, nil
}

type keyGroup struct {
	dir string
	rec arrow.Record
}

// splitByKeys groups the rows of rec by the values of keys. Each group
// holds the non-key columns and the key=value directory of its values.
// Groups are returned in order of first appearance.
func splitByKeys(rec arrow.Record, keys []string, mem memory.Allocator) ([]keyGroup, error) {
	schema := rec.Schema()
	keyIdx := make([]int, len(keys))
	for i, k := range keys {
		idx := schema.FieldIndices(k)
		if len(idx) == 0 {
			return nil, errdefs.Configurationf("partition key %q not found in %s", k, schema)
		}
		keyIdx[i] = idx[0]
	}
	valueSchema := withoutColumns(schema, keys)

	var (
		order  []string
		groups = make(map[string][][]any)
	)
	for _, row := range dataframe.RowsFromRecord(rec) {
		segs := make([]string, len(keys))
		for i, k := range keys {
			v := row[keyIdx[i]]
			if v == nil {
				segs[i] = k + "=" + hiveDefault
			} else {
				segs[i] = fmt.Sprintf("%s=%v", k, v)
			}
		}
		dir := strings.Join(segs, "/")

		values := make([]any, 0, len(row)-len(keys))
		for c, v := range row {
			if !slices.Contains(keyIdx, c) {
				values = append(values, v)
			}
		}
		if _, ok := groups[dir]; !ok {
			order = append(order, dir)
		}
		groups[dir] = append(groups[dir], values)
	}

	out := make([]keyGroup, 0, len(order))
	for _, dir := range order {
		rec, err := dataframe.RecordFromRows(mem, valueSchema, groups[dir])
		if err != nil {
			for _, g := range out {
				g.rec.Release()
			}
			return nil, err
		}
		out = append(out, keyGroup{dir: dir, rec: rec})
	}
	return out, nil
}
