package arrowengine

import (
	"context"
	"math/rand/v2"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/partition"
)

func (e *Engine) Repartition(ctx context.Context, df dataframe.DataFrame, spec partition.Spec) (dataframe.DataFrame, error) {
	ds, err := e.toDataset(ctx, df, nil, nil)
	if err != nil {
		return nil, err
	}
	out, err := e.repartition(ctx, ds, spec)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// repartition resolves the partition count eagerly and returns a dataset
// that redistributes and sorts the rows of ds when evaluated. An empty spec
// returns ds unchanged.
func (e *Engine) repartition(ctx context.Context, ds *Dataset, spec partition.Spec) (*Dataset, error) {
	if spec.Empty() {
		return ds, nil
	}

	ctx, span := tracer.Start(ctx, "Engine.Repartition", trace.WithAttributes(
		attribute.Stringer("spec", spec),
	))
	defer span.End()

	sorts, err := spec.Sorts(ds.schema)
	if err != nil {
		return nil, err
	}
	keyIdx, err := columnIndices(ds.schema, spec.PartitionBy())
	if err != nil {
		return nil, err
	}

	// Even partitioning and row count expressions need a stable input.
	src := ds
	if spec.Algo() == partition.Even {
		if src, err = e.persist(ctx, ds, ""); err != nil {
			return nil, err
		}
	}
	num, err := spec.NumPartitions(ctx, func(ctx context.Context) (int64, error) {
		persisted, err := e.persist(ctx, ds, "")
		if err != nil {
			return 0, err
		}
		src = persisted
		return persisted.Count(ctx)
	}, e.maxWorkers)
	if err != nil {
		return nil, err
	}
	if num == 0 {
		num = e.defaultPartitions
	}

	e.metrics.operations.WithLabelValues("repartition").Inc()
	level.Debug(e.logger).Log("msg", "repartition", "algo", spec.Algo(), "num", num, "keys", len(keyIdx))

	mem := e.session.mem
	return newDataset(ds.schema, ds.meta, mem, func(ctx context.Context) ([]arrow.Record, error) {
		rec, err := src.record(ctx)
		if err != nil {
			return nil, err
		}
		rows := dataframe.RowsFromRecord(rec)

		var dest [][]int64
		switch spec.Algo() {
		case partition.Hash:
			dest = hashAssign(rows, keyIdx, num)
		case partition.Random:
			dest = randomAssign(len(rows), num, e.randomSeed())
		case partition.Even:
			dest = evenAssign(rows, keyIdx, num)
		default:
			return nil, errdefs.Configurationf("%s is not a supported partition algorithm", spec.Algo())
		}

		parts := make([]arrow.Record, num)
		for p, idx := range dest {
			if err := sortRows(rows, idx, ds.schema, sorts); err != nil {
				return nil, err
			}
			if parts[p], err = takeRecord(ctx, rec, idx, mem); err != nil {
				return nil, errdefs.Backend("repartition", err)
			}
		}
		return parts, nil
	}), nil
}

// hashAssign co-locates rows with identical key values. Without keys rows are
// dealt round robin.
func hashAssign(rows [][]any, keyIdx []int, num int) [][]int64 {
	dest := make([][]int64, num)
	for i, row := range rows {
		p := i % num
		if len(keyIdx) > 0 {
			key, _ := keyString(row, keyIdx)
			p = int(xxhash.Sum64String(key) % uint64(num))
		}
		dest[p] = append(dest[p], int64(i))
	}
	return dest
}

// randomSeed returns the configured seed, or the current time when none is
// configured.
func (e *Engine) randomSeed() int64 {
	if e.seed != 0 {
		return e.seed
	}
	return e.clock.Now().UnixNano()
}

// randomAssign ignores keys.
func randomAssign(n, num int, seed int64) [][]int64 {
	s := uint64(seed)
	rng := rand.New(rand.NewPCG(s, s>>1|1))

	dest := make([][]int64, num)
	for i := range n {
		p := rng.IntN(num)
		dest[p] = append(dest[p], int64(i))
	}
	return dest
}

// evenAssign cuts the rows into num contiguous ranges whose sizes differ by
// at most one. With keys, whole key groups are placed on the least loaded
// partition in order of first appearance.
func evenAssign(rows [][]any, keyIdx []int, num int) [][]int64 {
	dest := make([][]int64, num)
	if len(keyIdx) == 0 {
		n := len(rows)
		for p := range num {
			lo, hi := p*n/num, (p+1)*n/num
			for i := lo; i < hi; i++ {
				dest[p] = append(dest[p], int64(i))
			}
		}
		return dest
	}

	for _, group := range groupRows(rows, keyIdx) {
		smallest := 0
		for p := 1; p < num; p++ {
			if len(dest[p]) < len(dest[smallest]) {
				smallest = p
			}
		}
		dest[smallest] = append(dest[smallest], group...)
	}
	return dest
}
