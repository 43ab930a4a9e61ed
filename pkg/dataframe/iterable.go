package dataframe

import (
	"context"
	"iter"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// IterableDataFrame is a local dataframe over a single-pass row iterator.
// Peek and Empty look at the first row without consuming it. Any call that
// needs all rows drains the iterator once and keeps the rows.
type IterableDataFrame struct {
	schema *arrow.Schema
	meta   Metadata

	mut    sync.Mutex
	next   func() ([]any, bool)
	stop   func()
	peeked []any
	rows   [][]any
	done   bool
}

var _ LocalDataFrame = (*IterableDataFrame)(nil)

// NewIterable creates a dataframe reading rows from seq.
func NewIterable(seq iter.Seq[[]any], schema *arrow.Schema) *IterableDataFrame {
	next, stop := iter.Pull(seq)
	return &IterableDataFrame{schema: schema, next: next, stop: stop}
}

func (df *IterableDataFrame) Schema() *arrow.Schema { return df.schema }
func (df *IterableDataFrame) Metadata() Metadata { return df.meta }
func (df *IterableDataFrame) IsLocal() bool { return true }
func (df *IterableDataFrame) IsBounded() bool { return false }

func (df *IterableDataFrame) Empty() bool {
	df.mut.Lock()
	defer df.mut.Unlock()
	return !df.fill()
}

func (df *IterableDataFrame) Peek() ([]any, error) {
	df.mut.Lock()
	defer df.mut.Unlock()
	if !df.fill() {
		return nil, errdefs.Configurationf("cannot peek an empty dataframe")
	}
	if df.peeked != nil {
		return df.peeked, nil
	}
	return df.rows[0], nil
}

// fill makes sure a first row is available and reports whether there is
// one.
func (df *IterableDataFrame) fill() bool {
	if len(df.rows) > 0 || df.peeked != nil {
		return true
	}
	if df.done {
		return false
	}
	row, ok := df.next()
	if !ok {
		df.finish()
		return false
	}
	df.peeked = row
	return true
}

// Next returns the next row and advances the iterator.
func (df *IterableDataFrame) Next() ([]any, bool) {
	df.mut.Lock()
	defer df.mut.Unlock()
	if df.peeked != nil {
		row := df.peeked
		df.peeked = nil
		return row, true
	}
	if df.done {
		return nil, false
	}
	row, ok := df.next()
	if !ok {
		df.finish()
	}
	return row, ok
}

func (df *IterableDataFrame) drain() [][]any {
	df.mut.Lock()
	defer df.mut.Unlock()
	if df.peeked != nil {
		df.rows = append(df.rows, df.peeked)
		df.peeked = nil
	}
	for !df.done {
		row, ok := df.next()
		if !ok {
			df.finish()
			break
		}
		df.rows = append(df.rows, row)
	}
	return df.rows
}

func (df *IterableDataFrame) finish() {
	df.done = true
	df.stop()
}

func (df *IterableDataFrame) Count(context.Context) (int64, error) {
	return int64(len(df.drain())), nil
}

func (df *IterableDataFrame) AsArray(context.Context) ([][]any, error) {
	return df.drain(), nil
}

func (df *IterableDataFrame) AsRecord(context.Context) (arrow.Record, error) {
	return RecordFromRows(memory.DefaultAllocator, df.schema, df.drain())
}

// Close stops the underlying iterator.
func (df *IterableDataFrame) Close() {
	df.mut.Lock()
	defer df.mut.Unlock()
	if !df.done {
		df.finish()
	}
}
