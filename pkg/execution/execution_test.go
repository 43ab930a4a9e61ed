package execution

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/partition"
)

func TestNormalizeJoinKind(t *testing.T) {
	for _, tt := range []struct {
		how  string
		want JoinKind
	}{
		{"inner", InnerJoin},
		{"INNER", InnerJoin},
		{"leftouter", LeftOuterJoin},
		{"left_outer", LeftOuterJoin},
		{"left outer", LeftOuterJoin},
		{"right_outer", RightOuterJoin},
		{"full_outer", FullOuterJoin},
		{"cross", CrossJoin},
		{"semi", SemiJoin},
		{"left_semi", SemiJoin},
		{"anti", AntiJoin},
		{"LeftAnti", AntiJoin},
	} {
		t.Run(tt.how, func(t *testing.T) {
			got, err := NormalizeJoinKind(tt.how)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	a, err := NormalizeJoinKind("leftouter")
	require.NoError(t, err)
	b, err := NormalizeJoinKind("left_outer")
	require.NoError(t, err)
	require.Equal(t, a, b)

	_, err = NormalizeJoinKind("bogus")
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
	require.NotErrorIs(t, err, errdefs.ErrBackend)
}

func fieldNames(s *arrow.Schema) []string {
	names := make([]string, s.NumFields())
	for i, f := range s.Fields() {
		names[i] = f.Name
	}
	return names
}

func TestJoinSchemas(t *testing.T) {
	left := dataframe.MustParseSchema("id:long,a:str")
	right := dataframe.MustParseSchema("id:long,b:double")

	t.Run("default keys", func(t *testing.T) {
		keys, out, err := JoinSchemas(left, right, InnerJoin, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"id"}, fieldNames(keys))
		require.Equal(t, []string{"id", "a", "b"}, fieldNames(out))
	})

	t.Run("semi outputs left", func(t *testing.T) {
		_, out, err := JoinSchemas(left, right, SemiJoin, []string{"id"})
		require.NoError(t, err)
		require.True(t, left.Equal(out))
	})

	t.Run("cross", func(t *testing.T) {
		_, out, err := JoinSchemas(left, dataframe.MustParseSchema("c:int"), CrossJoin, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"id", "a", "c"}, fieldNames(out))

		_, _, err = JoinSchemas(left, right, CrossJoin, nil)
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
	})

	t.Run("collision outside keys", func(t *testing.T) {
		_, _, err := JoinSchemas(
			dataframe.MustParseSchema("id:long,x:str"),
			dataframe.MustParseSchema("id:long,x:str"),
			InnerJoin, []string{"id"},
		)
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
	})

	t.Run("no common columns", func(t *testing.T) {
		_, _, err := JoinSchemas(left, dataframe.MustParseSchema("c:int"), InnerJoin, nil)
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
	})

	t.Run("key type mismatch", func(t *testing.T) {
		_, _, err := JoinSchemas(left, dataframe.MustParseSchema("id:str"), InnerJoin, nil)
		require.ErrorIs(t, err, errdefs.ErrTypeMismatch)
	})
}

func TestMergeConf(t *testing.T) {
	conf, err := MergeConf(
		DefaultConf(),
		Conf{ConfDefaultPartitions: 8},
		Conf{ConfUseBatchUDF: "true", "spark.app.name": "x"},
	)
	require.NoError(t, err)

	useBatch, err := conf.Bool(ConfUseBatchUDF)
	require.NoError(t, err)
	require.True(t, useBatch)

	n, err := conf.Int(ConfDefaultPartitions)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	level, err := conf.String(ConfDefaultPersistLevel)
	require.NoError(t, err)
	require.Equal(t, "MEMORY_AND_DISK", level)

	t.Run("zero values override", func(t *testing.T) {
		conf, err := MergeConf(Conf{ConfMaxWorkers: 4}, Conf{ConfMaxWorkers: 0})
		require.NoError(t, err)
		n, err := conf.Int(ConfMaxWorkers)
		require.NoError(t, err)
		require.Equal(t, 0, n)
	})

	t.Run("invalid values", func(t *testing.T) {
		conf := Conf{"b": "maybe", "i": "many"}
		_, err := conf.Bool("b")
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
		_, err = conf.Int("i")
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
		_, err = conf.Int("missing")
		require.ErrorIs(t, err, errdefs.ErrConfiguration)

		def, err := conf.IntOr("missing", 3)
		require.NoError(t, err)
		require.Equal(t, 3, def)
	})
}

func TestParsePersistLevel(t *testing.T) {
	level, err := ParsePersistLevel("", MemoryAndDisk)
	require.NoError(t, err)
	require.Equal(t, MemoryAndDisk, level)

	level, err = ParsePersistLevel("disk_only", MemoryAndDisk)
	require.NoError(t, err)
	require.Equal(t, DiskOnly, level)

	_, err = ParsePersistLevel("OFF_HEAP", MemoryAndDisk)
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestParseSaveMode(t *testing.T) {
	mode, err := ParseSaveMode("")
	require.NoError(t, err)
	require.Equal(t, SaveOverwrite, mode)

	mode, err = ParseSaveMode("Append")
	require.NoError(t, err)
	require.Equal(t, SaveAppend, mode)

	_, err = ParseSaveMode("ignore")
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

type namedStrategy string

func (s namedStrategy) Name() string { return string(s) }
func (s namedStrategy) Map(context.Context, dataframe.DataFrame, MapRequest) (dataframe.DataFrame, error) {
	return nil, nil
}

func TestSelectMapStrategy(t *testing.T) {
	var (
		rows  = namedStrategy("rows")
		batch = namedStrategy("batch")
		fn    = func(context.Context, *partition.Cursor, dataframe.LocalDataFrame) (dataframe.LocalDataFrame, error) {
			return nil, nil
		}
		flat   = dataframe.MustParseSchema("a:int")
		nested = dataframe.MustParseSchema("a:int,b:[int]")
		byA    = partition.MustNew(partition.By("a"))
		on     = Conf{ConfUseBatchUDF: true}
	)

	for _, tt := range []struct {
		name string
		conf Conf
		req  MapRequest
		want MapStrategy
	}{
		{"disabled", Conf{}, MapRequest{Func: fn, OutputSchema: flat, Partition: byA}, rows},
		{"enabled", on, MapRequest{Func: fn, OutputSchema: flat, Partition: byA}, batch},
		{"no keys", on, MapRequest{Func: fn, OutputSchema: flat}, rows},
		{"nested output", on, MapRequest{Func: fn, OutputSchema: nested, Partition: byA}, rows},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectMapStrategy(tt.conf, tt.req, rows, batch)
			require.NoError(t, err)
			require.Equal(t, tt.want.Name(), got.Name())
		})
	}

	_, err := SelectMapStrategy(on, MapRequest{OutputSchema: flat}, rows, batch)
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}
