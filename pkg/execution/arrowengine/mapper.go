package arrowengine

import (
	"context"
	"iter"
	"slices"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/partition"
	"github.com/dagframe/dagframe/pkg/util/runonce"
)

func (e *Engine) Map(ctx context.Context, df dataframe.DataFrame, req execution.MapRequest) (dataframe.DataFrame, error) {
	strategy, err := execution.SelectMapStrategy(e.conf, req, rowStreamStrategy{e}, batchStrategy{e})
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Engine.Map", trace.WithAttributes(
		attribute.String("strategy", strategy.Name()),
		attribute.Stringer("partition", req.Partition),
	))
	defer span.End()

	level.Debug(e.logger).Log("msg", "map", "strategy", strategy.Name(), "partition", req.Partition)
	e.metrics.operations.WithLabelValues("map").Inc()
	return strategy.Map(ctx, df, req)
}

// initGuard runs the on-init hook of one map invocation at most once per
// physical partition, however often the mapped dataset is evaluated.
type initGuard struct {
	done runonce.Group[struct{}]
}

func (g *initGuard) run(ctx context.Context, no int, req execution.MapRequest, df dataframe.DataFrame) error {
	if req.OnInit == nil {
		return nil
	}
	_, err := g.done.Do(strconv.Itoa(no), func() (struct{}, error) {
		return struct{}{}, req.OnInit(ctx, no, df)
	})
	return err
}

// rowStreamStrategy repartitions the input and streams every physical
// partition through the map function, one call per run of identical key
// values.
type rowStreamStrategy struct{ e *Engine }

func (rowStreamStrategy) Name() string { return "row_stream" }

func (s rowStreamStrategy) Map(ctx context.Context, df dataframe.DataFrame, req execution.MapRequest) (dataframe.DataFrame, error) {
	e := s.e
	ds, err := e.toDataset(ctx, df, nil, nil)
	if err != nil {
		return nil, err
	}
	input, err := e.repartition(ctx, ds, req.Partition)
	if err != nil {
		return nil, err
	}
	splitter, err := req.Partition.NewPartitioner(ds.schema, 0)
	if err != nil {
		return nil, err
	}

	inits := &initGuard{}
	return newDataset(req.OutputSchema, req.Metadata, e.session.mem, func(ctx context.Context) ([]arrow.Record, error) {
		parts, err := input.Partitions(ctx)
		if err != nil {
			return nil, err
		}
		return e.runPartitions(ctx, len(parts), func(ctx context.Context, no int) (arrow.Record, error) {
			return s.mapPartition(ctx, inits, no, parts[no], splitter, req)
		})
	}), nil
}

func (s rowStreamStrategy) mapPartition(ctx context.Context, inits *initGuard, no int, rec arrow.Record, splitter *partition.Partitioner, req execution.MapRequest) (arrow.Record, error) {
	e := s.e
	if rec.NumRows() == 0 {
		return dataframe.EmptyRecord(req.OutputSchema), nil
	}

	cursor, err := req.Partition.NewCursor(rec.Schema(), no)
	if err != nil {
		return nil, err
	}
	if err := inits.run(ctx, no, req, dataframe.NewArrow(rec, nil)); err != nil {
		return nil, err
	}

	rows := dataframe.RowsFromRecord(rec)
	var runs iter.Seq[partition.Run]
	if req.Partition.Empty() {
		runs = func(yield func(partition.Run) bool) {
			yield(partition.Run{Rows: rows})
		}
	} else {
		runs = splitter.Split(slices.Values(rows))
	}

	var outs []arrow.Record
	for run := range runs {
		cursor.Set(run.Rows[0], run.Partition, run.Slice)
		sub := dataframe.NewIterable(slices.Values(run.Rows), rec.Schema())
		res, err := req.Func(ctx, cursor, sub)
		sub.Close()
		if err != nil {
			return nil, err
		}
		out, err := outputRecord(ctx, res, req.OutputSchema, e.session.mem)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return dataframe.ConcatRecords(e.session.mem, req.OutputSchema, outs)
}

// batchStrategy groups the whole input by the partition keys and calls the
// map function once per group with a columnar view of the group. Physical
// partitions are not visible to the map function: the cursor and the on-init
// hook always see partition 0.
type batchStrategy struct{ e *Engine }

func (batchStrategy) Name() string { return "batch" }

func (s batchStrategy) Map(ctx context.Context, df dataframe.DataFrame, req execution.MapRequest) (dataframe.DataFrame, error) {
	e := s.e
	ds, err := e.toDataset(ctx, df, nil, nil)
	if err != nil {
		return nil, err
	}
	keyIdx, err := columnIndices(ds.schema, req.Partition.PartitionBy())
	if err != nil {
		return nil, err
	}
	if _, err := req.Partition.Sorts(ds.schema); err != nil {
		return nil, err
	}
	presort := req.Partition.Presort()

	inits := &initGuard{}
	mem := e.session.mem
	return newDataset(req.OutputSchema, req.Metadata, mem, func(ctx context.Context) ([]arrow.Record, error) {
		rec, err := ds.record(ctx)
		if err != nil {
			return nil, err
		}
		if rec.NumRows() == 0 {
			return nil, nil
		}

		rows := dataframe.RowsFromRecord(rec)
		groups := groupRows(rows, keyIdx)
		return e.runPartitions(ctx, len(groups), func(ctx context.Context, g int) (arrow.Record, error) {
			idx := groups[g]
			if err := sortRows(rows, idx, ds.schema, presort); err != nil {
				return nil, err
			}
			group, err := takeRecord(ctx, rec, idx, mem)
			if err != nil {
				return nil, err
			}
			if group.NumRows() == 0 {
				return dataframe.EmptyRecord(req.OutputSchema), nil
			}

			local := dataframe.NewArrow(group, nil)
			if err := inits.run(ctx, 0, req, local); err != nil {
				return nil, err
			}
			cursor, err := req.Partition.NewCursor(ds.schema, 0)
			if err != nil {
				return nil, err
			}
			first, err := local.Peek()
			if err != nil {
				return nil, err
			}
			cursor.Set(first, 0, 0)

			res, err := req.Func(ctx, cursor, local)
			if err != nil {
				return nil, err
			}
			return outputRecord(ctx, res, req.OutputSchema, mem)
		})
	}), nil
}

// groupRows returns the row indices of every distinct key, in order of first
// appearance.
func groupRows(rows [][]any, keyIdx []int) [][]int64 {
	var (
		order  []string
		groups = make(map[string][]int64)
	)
	for i, row := range rows {
		key, _ := keyString(row, keyIdx)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], int64(i))
	}
	out := make([][]int64, len(order))
	for i, key := range order {
		out[i] = groups[key]
	}
	return out
}
