package partition

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
)

func TestParseAlgo(t *testing.T) {
	for name, want := range map[string]Algo{
		"":       Hash,
		"HASH":   Hash,
		"rand":   Random,
		"random": Random,
		"even":   Even,
	} {
		got, err := ParseAlgo(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseAlgo("coarse")
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestParse(t *testing.T) {
	s, err := Parse("by: a, b; presort: c desc, d; num: ROWCOUNT/2; algo: even")
	require.NoError(t, err)

	require.Equal(t, Even, s.Algo())
	require.Equal(t, []string{"a", "b"}, s.PartitionBy())
	require.Equal(t, []SortKey{{Column: "c"}, {Column: "d", Ascending: true}}, s.Presort())
	require.Equal(t, "ROWCOUNT/2", s.Num())
	require.False(t, s.Empty())
	require.Equal(t, "by:a,b;presort:c desc,d asc;num:ROWCOUNT/2;algo:even", s.String())

	roundTrip, err := Parse(s.String())
	require.NoError(t, err)
	require.Equal(t, s, roundTrip)

	for _, hint := range []string{
		"algo:coarse",
		"by:a,a",
		"by:a;presort:a",
		"presort:c sideways",
		"num:ROWCOUNT/",
		"num:ROWS/2",
		"colour:blue",
		"by",
	} {
		t.Run(hint, func(t *testing.T) {
			_, err := Parse(hint)
			require.ErrorIs(t, err, errdefs.ErrConfiguration)
		})
	}
}

func TestSpec_Empty(t *testing.T) {
	require.True(t, EmptySpec.Empty())
	require.Equal(t, Hash, EmptySpec.Algo())
	require.True(t, MustNew(WithNum("0")).Empty())
	require.True(t, MustNew(WithAlgo("even")).Empty())
	require.False(t, MustNew(By("a")).Empty())
	require.False(t, MustNew(WithNumPartitions(3)).Empty())
}

func TestSpec_Sorts(t *testing.T) {
	schema := dataframe.MustParseSchema("a:int,b:str,c:double")
	s := MustNew(By("b"), WithPresort("c desc"))

	sorts, err := s.Sorts(schema)
	require.NoError(t, err)
	require.Equal(t, []SortKey{{Column: "b", Ascending: true}, {Column: "c"}}, sorts)

	_, err = MustNew(By("x")).Sorts(schema)
	require.ErrorIs(t, err, errdefs.ErrConfiguration)

	keys, err := s.KeySchema(schema)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, []string{keys.Field(0).Name})
}

func TestSpec_NumPartitions(t *testing.T) {
	var counted int
	rowCount := func(context.Context) (int64, error) {
		counted++
		return 10, nil
	}

	for _, tt := range []struct {
		num     string
		want    int
		counted int
	}{
		{num: "", want: 0},
		{num: "0", want: 0},
		{num: "7", want: 7},
		{num: "ROWCOUNT/4", want: 2, counted: 1},
		{num: "CONCURRENCY*2", want: 8},
		{num: "max(1, ROWCOUNT/100)", want: 1, counted: 1},
		{num: "ceil(ROWCOUNT/4)", want: 3, counted: 1},
	} {
		t.Run(tt.num, func(t *testing.T) {
			counted = 0
			n, err := MustNew(WithNum(tt.num)).NumPartitions(t.Context(), rowCount, 4)
			require.NoError(t, err)
			require.Equal(t, tt.want, n)
			require.Equal(t, tt.counted, counted, "row count must only be computed when referenced")
		})
	}

	t.Run("negative", func(t *testing.T) {
		_, err := MustNew(WithNum("1-ROWCOUNT")).NumPartitions(t.Context(), rowCount, 4)
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := MustNew(WithNum(`"x"`)).NumPartitions(t.Context(), rowCount, 4)
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
	})

	t.Run("row count failure", func(t *testing.T) {
		failure := errors.New("count failed")
		_, err := MustNew(WithNum("ROWCOUNT")).NumPartitions(t.Context(), func(context.Context) (int64, error) {
			return 0, failure
		}, 4)
		require.ErrorIs(t, err, failure)
	})
}

func TestCursor(t *testing.T) {
	schema := dataframe.MustParseSchema("a:int,b:str")
	c, err := MustNew(By("b")).NewCursor(schema, 2)
	require.NoError(t, err)

	c.Set([]any{int32(1), "x"}, 3, 0)
	require.Equal(t, 2, c.PhysicalPartition())
	require.Equal(t, 3, c.Partition())
	require.Equal(t, 0, c.Slice())
	require.Equal(t, []any{int32(1), "x"}, c.Row())
	require.Equal(t, []any{"x"}, c.KeyValues())
	require.Equal(t, []string{"b"}, c.KeyNames())

	_, err = MustNew(By("z")).NewCursor(schema, 0)
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestPartitioner_Split(t *testing.T) {
	schema := dataframe.MustParseSchema("k:str,v:int")
	rows := [][]any{{"a", 1}, {"a", 2}, {"a", 3}, {"b", 4}, {"c", 5}, {"c", 6}}

	collect := func(p *Partitioner, rows [][]any) []Run {
		return slices.Collect(p.Split(slices.Values(rows)))
	}

	t.Run("by key", func(t *testing.T) {
		p, err := MustNew(By("k")).NewPartitioner(schema, 0)
		require.NoError(t, err)
		require.Equal(t, []Run{
			{Partition: 0, Rows: rows[0:3]},
			{Partition: 1, Rows: rows[3:4]},
			{Partition: 2, Rows: rows[4:6]},
		}, collect(p, rows))
	})

	t.Run("row limit", func(t *testing.T) {
		p, err := MustNew(By("k")).NewPartitioner(schema, 2)
		require.NoError(t, err)
		require.Equal(t, []Run{
			{Partition: 0, Slice: 0, Rows: rows[0:2]},
			{Partition: 0, Slice: 1, Rows: rows[2:3]},
			{Partition: 1, Rows: rows[3:4]},
			{Partition: 2, Rows: rows[4:6]},
		}, collect(p, rows))
	})

	t.Run("no keys", func(t *testing.T) {
		p, err := EmptySpec.NewPartitioner(schema, 0)
		require.NoError(t, err)
		require.Equal(t, []Run{{Rows: rows}}, collect(p, rows))
	})

	t.Run("empty", func(t *testing.T) {
		p, err := MustNew(By("k")).NewPartitioner(schema, 0)
		require.NoError(t, err)
		require.Empty(t, collect(p, nil))
	})
}
