package dataframe

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// ArrayDataFrame is a local dataframe holding rows of Go values. It is
// converted to Arrow on the first call to AsRecord.
type ArrayDataFrame struct {
	schema *arrow.Schema
	rows   [][]any
	meta   Metadata

	once sync.Once
	rec  arrow.Record
	err  error
}

var _ LocalDataFrame = (*ArrayDataFrame)(nil)

// NewArray creates a dataframe from rows. Every row must have one value per
// schema field.
func NewArray(rows [][]any, schema *arrow.Schema) (*ArrayDataFrame, error) {
	for i, row := range rows {
		if len(row) != schema.NumFields() {
			return nil, errdefs.TypeMismatchf("row %d has %d values, schema %s has %d fields", i, len(row), schema, schema.NumFields())
		}
	}
	return &ArrayDataFrame{schema: schema, rows: rows}, nil
}

// MustNewArray is like [NewArray] with a schema expression and panics on
// error.
func MustNewArray(rows [][]any, schemaExpr string) *ArrayDataFrame {
	df, err := NewArray(rows, MustParseSchema(schemaExpr))
	if err != nil {
		panic(err)
	}
	return df
}

// WithMetadata returns df with its metadata set to meta.
func (df *ArrayDataFrame) WithMetadata(meta Metadata) *ArrayDataFrame {
	df.meta = meta
	return df
}

func (df *ArrayDataFrame) Schema() *arrow.Schema { return df.schema }
func (df *ArrayDataFrame) Metadata() Metadata { return df.meta }
func (df *ArrayDataFrame) Count(context.Context) (int64, error) { return int64(len(df.rows)), nil }
func (df *ArrayDataFrame) IsLocal() bool { return true }
func (df *ArrayDataFrame) IsBounded() bool { return true }
func (df *ArrayDataFrame) Empty() bool { return len(df.rows) == 0 }

func (df *ArrayDataFrame) AsArray(context.Context) ([][]any, error) { return df.rows, nil }

func (df *ArrayDataFrame) AsRecord(context.Context) (arrow.Record, error) {
	df.once.Do(func() {
		df.rec, df.err = RecordFromRows(memory.DefaultAllocator, df.schema, df.rows)
	})
	return df.rec, df.err
}

func (df *ArrayDataFrame) Peek() ([]any, error) {
	if df.Empty() {
		return nil, errdefs.Configurationf("cannot peek an empty dataframe")
	}
	return df.rows[0], nil
}
