package arrowengine

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/execution"
)

// computeFunc produces the partitions of a dataset.
type computeFunc func(ctx context.Context) ([]arrow.Record, error)

// Dataset is the native dataframe of the engine: a lazily evaluated list of
// partitions, each an Arrow record with the dataset schema.
//
// Partitions are computed again on every access unless the dataset was
// produced by Persist or Broadcast. Datasets are immutable.
type Dataset struct {
	schema  *arrow.Schema
	meta    dataframe.Metadata
	compute computeFunc
	mem     memory.Allocator

	level     execution.PersistLevel
	broadcast bool
}

var (
	_ dataframe.DataFrame = (*Dataset)(nil)
	_ dataframe.Localizer = (*Dataset)(nil)
)

func newDataset(schema *arrow.Schema, meta dataframe.Metadata, mem memory.Allocator, compute computeFunc) *Dataset {
	return &Dataset{schema: schema, meta: meta, mem: mem, compute: compute}
}

// materialized returns a dataset over already computed partitions.
func materialized(schema *arrow.Schema, meta dataframe.Metadata, mem memory.Allocator, parts []arrow.Record) *Dataset {
	return newDataset(schema, meta, mem, func(context.Context) ([]arrow.Record, error) {
		return parts, nil
	})
}

func (ds *Dataset) Schema() *arrow.Schema { return ds.schema }
func (ds *Dataset) Metadata() dataframe.Metadata { return ds.meta }
func (ds *Dataset) IsLocal() bool { return false }
func (ds *Dataset) IsBounded() bool { return true }

// PersistLevel returns the storage level of a persisted dataset, or the
// empty string.
func (ds *Dataset) PersistLevel() execution.PersistLevel { return ds.level }

// IsBroadcast reports whether the dataset was produced by Broadcast.
func (ds *Dataset) IsBroadcast() bool { return ds.broadcast }

// Partitions evaluates the dataset.
func (ds *Dataset) Partitions(ctx context.Context) ([]arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ds.compute(ctx)
}

// NumPartitions evaluates the dataset and returns its number of partitions.
func (ds *Dataset) NumPartitions(ctx context.Context) (int, error) {
	parts, err := ds.Partitions(ctx)
	return len(parts), err
}

func (ds *Dataset) Count(ctx context.Context) (int64, error) {
	parts, err := ds.Partitions(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, p := range parts {
		n += p.NumRows()
	}
	return n, nil
}

// AsLocal collects all partitions into one local dataframe.
func (ds *Dataset) AsLocal(ctx context.Context) (dataframe.LocalDataFrame, error) {
	rec, err := ds.record(ctx)
	if err != nil {
		return nil, err
	}
	return dataframe.NewArrow(rec, ds.meta), nil
}

// record concatenates all partitions.
func (ds *Dataset) record(ctx context.Context) (arrow.Record, error) {
	parts, err := ds.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	return dataframe.ConcatRecords(ds.mem, ds.schema, parts)
}
