package dataframe

import (
	"slices"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

func TestParseSchema(t *testing.T) {
	for _, tt := range []struct {
		expr   string
		want   *arrow.Schema
		format string
	}{
		{
			expr:   "",
			want:   arrow.NewSchema(nil, nil),
			format: "",
		},
		{
			expr: "a:int, b:str,c:DOUBLE",
			want: arrow.NewSchema([]arrow.Field{
				{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
				{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
				{Name: "c", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			}, nil),
			format: "a:int,b:str,c:double",
		},
		{
			expr: "d:{x:long,y:[str]},e:[int]",
			want: arrow.NewSchema([]arrow.Field{
				{Name: "d", Type: arrow.StructOf(
					arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
					arrow.Field{Name: "y", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
				), Nullable: true},
				{Name: "e", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
			}, nil),
			format: "d:{x:long,y:[str]},e:[int]",
		},
	} {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseSchema(tt.expr)
			require.NoError(t, err)
			require.True(t, tt.want.Equal(s), "got %s", s)

			formatted, err := FormatSchema(s)
			require.NoError(t, err)
			require.Equal(t, tt.format, formatted)
		})
	}

	for _, expr := range []string{"a", "a:", "a:nope", "a:int,a:str", "a:{x:int", "a:[int", ":int", "a:int}"} {
		t.Run("invalid "+expr, func(t *testing.T) {
			_, err := ParseSchema(expr)
			require.ErrorIs(t, err, errdefs.ErrConfiguration)
		})
	}
}

func TestHasNestedTypes(t *testing.T) {
	require.False(t, HasNestedTypes(MustParseSchema("a:int,b:str")))
	require.True(t, HasNestedTypes(MustParseSchema("a:int,b:[str]")))
	require.False(t, HasStructTypes(MustParseSchema("a:int,b:[str]")))
	require.True(t, HasStructTypes(MustParseSchema("a:int,b:{c:str}")))
}

func TestRecordRoundTrip(t *testing.T) {
	schema := MustParseSchema("a:int,b:str,c:{x:long},d:[double],e:datetime,f:bool")
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	rows := [][]any{
		{int32(1), "x", map[string]any{"x": int64(10)}, []any{1.5, 2.5}, ts, true},
		{nil, nil, nil, nil, nil, nil},
	}

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	rec, err := RecordFromRows(mem, schema, rows)
	require.NoError(t, err)
	defer rec.Release()

	require.EqualValues(t, 2, rec.NumRows())
	if diff := cmp.Diff(rows, RowsFromRecord(rec)); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendValue_Conversions(t *testing.T) {
	schema := MustParseSchema("a:int,b:double,c:long,d:date")
	rec, err := RecordFromRows(nil, schema, [][]any{{5, 3, "7", "2024-01-02"}})
	require.NoError(t, err)

	row := RowAt(rec, 0)
	require.Equal(t, int32(5), row[0])
	require.Equal(t, 3.0, row[1])
	require.Equal(t, int64(7), row[2])
	require.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), row[3])

	_, err = RecordFromRows(nil, MustParseSchema("a:byte"), [][]any{{300}})
	require.ErrorIs(t, err, errdefs.ErrTypeMismatch)

	_, err = RecordFromRows(nil, MustParseSchema("a:int"), [][]any{{1.5}})
	require.ErrorIs(t, err, errdefs.ErrTypeMismatch)

	_, err = RecordFromRows(nil, MustParseSchema("a:int"), [][]any{{1, 2}})
	require.ErrorIs(t, err, errdefs.ErrTypeMismatch)
}

func TestConcatRecords(t *testing.T) {
	schema := MustParseSchema("a:int,b:str")
	r1, err := RecordFromRows(nil, schema, [][]any{{1, "a"}})
	require.NoError(t, err)
	r2, err := RecordFromRows(nil, schema, [][]any{{2, "b"}, {3, "c"}})
	require.NoError(t, err)

	out, err := ConcatRecords(nil, schema, []arrow.Record{r1, EmptyRecord(schema), r2})
	require.NoError(t, err)
	require.Equal(t, [][]any{{int32(1), "a"}, {int32(2), "b"}, {int32(3), "c"}}, RowsFromRecord(out))

	empty, err := ConcatRecords(nil, schema, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, empty.NumRows())
	require.True(t, schema.Equal(empty.Schema()))
}

func TestLocalDataFrames(t *testing.T) {
	schema := MustParseSchema("a:int,b:str")
	rows := [][]any{{int32(1), "a"}, {int32(2), "b"}}

	array, err := NewArray(rows, schema)
	require.NoError(t, err)
	rec, err := array.AsRecord(t.Context())
	require.NoError(t, err)

	for name, df := range map[string]LocalDataFrame{
		"array":    array,
		"arrow":    NewArrow(rec, nil),
		"iterable": NewIterable(slices.Values(rows), schema),
	} {
		t.Run(name, func(t *testing.T) {
			require.False(t, df.Empty())
			require.True(t, df.IsLocal())

			first, err := df.Peek()
			require.NoError(t, err)
			require.Equal(t, rows[0], first)

			n, err := df.Count(t.Context())
			require.NoError(t, err)
			require.EqualValues(t, 2, n)

			got, err := df.AsArray(t.Context())
			require.NoError(t, err)
			require.Equal(t, rows, got)

			rec, err := df.AsRecord(t.Context())
			require.NoError(t, err)
			require.EqualValues(t, 2, rec.NumRows())
		})
	}

	t.Run("empty", func(t *testing.T) {
		for _, df := range []LocalDataFrame{
			Empty(schema),
			NewIterable(slices.Values([][]any(nil)), schema),
		} {
			require.True(t, df.Empty())
			_, err := df.Peek()
			require.ErrorIs(t, err, errdefs.ErrConfiguration)
			require.True(t, schema.Equal(df.Schema()))
		}
	})

	t.Run("array arity", func(t *testing.T) {
		_, err := NewArray([][]any{{1}}, schema)
		require.ErrorIs(t, err, errdefs.ErrTypeMismatch)
	})
}

func TestIterableDataFrame_Next(t *testing.T) {
	df := NewIterable(slices.Values([][]any{{1}, {2}, {3}}), MustParseSchema("a:int"))
	defer df.Close()

	first, err := df.Peek()
	require.NoError(t, err)
	require.Equal(t, []any{1}, first)

	var got []any
	for row, ok := df.Next(); ok; row, ok = df.Next() {
		got = append(got, row[0])
	}
	require.Equal(t, []any{1, 2, 3}, got)
	require.True(t, df.Empty())
}

func TestDataFrames(t *testing.T) {
	a := Empty(MustParseSchema("a:int"))
	b := Empty(MustParseSchema("b:int"))

	t.Run("positional", func(t *testing.T) {
		dfs := NewDataFrames(a, b)
		require.False(t, dfs.HasKey())
		require.Equal(t, []string{"_0", "_1"}, dfs.Names())
		got, ok := dfs.Lookup("_1")
		require.True(t, ok)
		require.Same(t, b, got)
	})

	t.Run("keyed", func(t *testing.T) {
		dfs, err := NewKeyedDataFrames([]string{"left", "right"}, []DataFrame{a, b})
		require.NoError(t, err)
		require.True(t, dfs.HasKey())
		require.Same(t, a, dfs.Get(0))
		_, ok := dfs.Lookup("missing")
		require.False(t, ok)
	})

	t.Run("invalid keys", func(t *testing.T) {
		_, err := NewKeyedDataFrames([]string{"x", "x"}, []DataFrame{a, b})
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
		_, err = NewKeyedDataFrames([]string{"x"}, []DataFrame{a, b})
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
	})
}

func TestMetadata(t *testing.T) {
	m := Metadata{"b": 1, "a": 2}
	require.Equal(t, []string{"a", "b"}, m.Keys())
	require.Equal(t, 3, m.Get("c", 3))

	c := m.Clone()
	c["c"] = 4
	require.NotContains(t, m, "c")
	require.Nil(t, Metadata(nil).Clone())
}
