package partition

import (
	"iter"
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// Run is a contiguous group of rows sharing the same partition key values.
type Run struct {
	Partition int
	Slice     int
	Rows      [][]any
}

// Partitioner splits a stream of rows sorted by the partition keys into runs
// of identical key values.
type Partitioner struct {
	keyIdx   []int
	rowLimit int
}

// NewPartitioner returns a Partitioner for rows of schema. When rowLimit is
// positive, a logical partition is further cut into slices of at most
// rowLimit rows.
func (s Spec) NewPartitioner(schema *arrow.Schema, rowLimit int) (*Partitioner, error) {
	p := &Partitioner{rowLimit: rowLimit}
	for _, col := range s.partitionBy {
		idx := schema.FieldIndices(col)
		if len(idx) == 0 {
			return nil, errdefs.Configurationf("partition key %q not found in schema %s", col, schema)
		}
		p.keyIdx = append(p.keyIdx, idx[0])
	}
	return p, nil
}

// Split yields the runs of rows. Without partition keys all rows form one
// logical partition. An empty input yields nothing.
func (p *Partitioner) Split(rows iter.Seq[[]any]) iter.Seq[Run] {
	return func(yield func(Run) bool) {
		var (
			cur   Run
			first []any
		)
		for row := range rows {
			switch {
			case cur.Rows == nil:
				first = row
			case !p.sameKeys(first, row):
				if !yield(cur) {
					return
				}
				cur = Run{Partition: cur.Partition + 1}
				first = row
			case p.rowLimit > 0 && len(cur.Rows) >= p.rowLimit:
				if !yield(cur) {
					return
				}
				cur = Run{Partition: cur.Partition, Slice: cur.Slice + 1}
			}
			cur.Rows = append(cur.Rows, row)
		}
		if cur.Rows != nil {
			yield(cur)
		}
	}
}

func (p *Partitioner) sameKeys(a, b []any) bool {
	for _, idx := range p.keyIdx {
		if !reflect.DeepEqual(a[idx], b[idx]) {
			return false
		}
	}
	return true
}
