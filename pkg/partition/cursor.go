package partition

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// Cursor is the per-partition iteration state handed to partition-wise map
// functions. One cursor belongs to one physical partition; it is moved
// forward at every logical partition boundary and must not be shared across
// partitions.
type Cursor struct {
	schema  *arrow.Schema
	keyIdx  []int
	keyCols []string

	row               []any
	physicalPartition int
	partition         int
	slice             int
}

// NewCursor returns a cursor over rows of schema partitioned by spec.
func (s Spec) NewCursor(schema *arrow.Schema, physicalPartition int) (*Cursor, error) {
	c := &Cursor{schema: schema, physicalPartition: physicalPartition}
	for _, col := range s.partitionBy {
		idx := schema.FieldIndices(col)
		if len(idx) == 0 {
			return nil, errdefs.Configurationf("partition key %q not found in schema %s", col, schema)
		}
		c.keyIdx = append(c.keyIdx, idx[0])
		c.keyCols = append(c.keyCols, col)
	}
	return c, nil
}

// Set moves the cursor to a new logical partition whose first row is row.
func (c *Cursor) Set(row []any, partition, slice int) {
	c.row = row
	c.partition = partition
	c.slice = slice
}

// Row returns the first row of the current logical partition.
func (c *Cursor) Row() []any { return c.row }

// Schema returns the schema of the rows.
func (c *Cursor) Schema() *arrow.Schema { return c.schema }

// PhysicalPartition returns the index of the physical partition being
// processed.
func (c *Cursor) PhysicalPartition() int { return c.physicalPartition }

// Partition returns the index of the current logical partition within the
// physical partition.
func (c *Cursor) Partition() int { return c.partition }

// Slice returns the index of the current slice within the logical
// partition.
func (c *Cursor) Slice() int { return c.slice }

// KeyValues returns the partition key values of the current row.
func (c *Cursor) KeyValues() []any {
	out := make([]any, len(c.keyIdx))
	for i, idx := range c.keyIdx {
		out[i] = c.row[idx]
	}
	return out
}

// KeyNames returns the partition key column names.
func (c *Cursor) KeyNames() []string { return c.keyCols }
