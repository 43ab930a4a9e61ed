// Package dataframe defines the dataframe capability shared by the workflow
// layer and the execution engines, along with the local, in-process
// dataframes used at partition boundaries.
//
// A DataFrame has a typed Arrow schema, a metadata bag and a row count.
// Local dataframes additionally expose their rows in columnar form
// (AsRecord) and as Go values (AsArray).
package dataframe

import (
	"context"
	"maps"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// DataFrame is the capability every dataframe provides, whether local or
// owned by an execution engine.
type DataFrame interface {
	// Schema returns the schema of the dataframe.
	Schema() *arrow.Schema

	// Metadata returns the metadata bag attached to the dataframe.
	Metadata() Metadata

	// Count returns the number of rows. Count may trigger evaluation of
	// lazy dataframes.
	Count(ctx context.Context) (int64, error)

	// IsLocal reports whether all rows live in the current process.
	IsLocal() bool

	// IsBounded reports whether the dataframe has a finite number of rows
	// that can be read more than once.
	IsBounded() bool
}

// LocalDataFrame is a dataframe whose rows are held in the current process.
type LocalDataFrame interface {
	DataFrame

	// AsRecord returns the rows as a single Arrow record. The caller must
	// not release the returned record.
	AsRecord(ctx context.Context) (arrow.Record, error)

	// AsArray returns the rows as Go values.
	AsArray(ctx context.Context) ([][]any, error)

	// Peek returns the first row without consuming it. Peek fails with
	// ErrConfiguration on an empty dataframe.
	Peek() ([]any, error)

	// Empty reports whether the dataframe has no rows.
	Empty() bool
}

// Localizer is implemented by non-local dataframes that can be collected into
// the current process.
type Localizer interface {
	AsLocal(ctx context.Context) (LocalDataFrame, error)
}

// AsLocal returns df as a local dataframe, collecting it if needed.
func AsLocal(ctx context.Context, df DataFrame) (LocalDataFrame, error) {
	switch df := df.(type) {
	case LocalDataFrame:
		return df, nil
	case Localizer:
		return df.AsLocal(ctx)
	}
	return nil, errdefs.TypeMismatchf("%T cannot be converted to a local dataframe", df)
}

// Metadata is the string keyed parameter bag attached to dataframes and
// tasks. A nil Metadata is empty.
type Metadata map[string]any

// Keys returns the keys of m in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Get returns the value for key, or def if the key is not set.
func (m Metadata) Get(key string, def any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Empty returns an empty local dataframe with schema.
func Empty(schema *arrow.Schema) *ArrowDataFrame {
	return NewArrow(EmptyRecord(schema), nil)
}
