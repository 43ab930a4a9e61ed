package execution

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/partition"
)

// MapFunc processes one logical partition. cursor points at the first row of
// the partition.
type MapFunc func(ctx context.Context, cursor *partition.Cursor, df dataframe.LocalDataFrame) (dataframe.LocalDataFrame, error)

// OnInitFunc runs once per physical partition before the first MapFunc call
// of that partition. It is never called for an empty partition.
type OnInitFunc func(ctx context.Context, partitionNo int, df dataframe.DataFrame) error

// MapRequest describes a partition-wise map.
type MapRequest struct {
	Func         MapFunc
	OutputSchema *arrow.Schema
	Partition    partition.Spec
	Metadata     dataframe.Metadata

	// OnInit is optional.
	OnInit OnInitFunc
}

func (r MapRequest) validate() error {
	if r.Func == nil {
		return errdefs.Configurationf("map function must be set")
	}
	if r.OutputSchema == nil {
		return errdefs.Configurationf("map output schema must be set")
	}
	return nil
}

// MapStrategy is one physical execution of a partition-wise map.
//
// Every strategy must skip empty partitions without calling OnInit or Func,
// call OnInit at most once per physical partition even if the partition is
// retried, and return a dataframe with the output schema even when the
// input is empty.
type MapStrategy interface {
	Name() string
	Map(ctx context.Context, df dataframe.DataFrame, req MapRequest) (dataframe.DataFrame, error)
}

// SelectMapStrategy picks the strategy for req. The batch strategy is used
// when conf enables it, the request has partition keys and the output schema
// has no nested types; rowStream is used otherwise.
func SelectMapStrategy(conf Conf, req MapRequest, rowStream, batch MapStrategy) (MapStrategy, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	useBatch, err := conf.BoolOr(ConfUseBatchUDF, false)
	if err != nil {
		return nil, err
	}
	if batch != nil && useBatch &&
		len(req.Partition.PartitionBy()) > 0 &&
		!dataframe.HasNestedTypes(req.OutputSchema) {
		return batch, nil
	}
	return rowStream, nil
}
