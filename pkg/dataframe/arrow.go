package dataframe

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// ArrowDataFrame is a local dataframe backed by a single Arrow record.
type ArrowDataFrame struct {
	rec  arrow.Record
	meta Metadata
}

var _ LocalDataFrame = (*ArrowDataFrame)(nil)

// NewArrow wraps rec. The dataframe takes ownership of the caller's
// reference to rec.
func NewArrow(rec arrow.Record, meta Metadata) *ArrowDataFrame {
	return &ArrowDataFrame{rec: rec, meta: meta}
}

func (df *ArrowDataFrame) Schema() *arrow.Schema { return df.rec.Schema() }
func (df *ArrowDataFrame) Metadata() Metadata { return df.meta }
func (df *ArrowDataFrame) Count(context.Context) (int64, error) { return df.rec.NumRows(), nil }
func (df *ArrowDataFrame) IsLocal() bool { return true }
func (df *ArrowDataFrame) IsBounded() bool { return true }
func (df *ArrowDataFrame) Empty() bool { return df.rec.NumRows() == 0 }
func (df *ArrowDataFrame) AsRecord(context.Context) (arrow.Record, error) { return df.rec, nil }

// Record returns the underlying record.
func (df *ArrowDataFrame) Record() arrow.Record { return df.rec }

func (df *ArrowDataFrame) AsArray(context.Context) ([][]any, error) {
	return RowsFromRecord(df.rec), nil
}

func (df *ArrowDataFrame) Peek() ([]any, error) {
	if df.Empty() {
		return nil, errdefs.Configurationf("cannot peek an empty dataframe")
	}
	return RowAt(df.rec, 0), nil
}

// Release releases the underlying record.
func (df *ArrowDataFrame) Release() { df.rec.Release() }
