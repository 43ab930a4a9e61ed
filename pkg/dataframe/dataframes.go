package dataframe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// DataFrames is an ordered collection of dataframes passed to extensions.
// A collection is either positional, with generated names "_0", "_1", ...,
// or keyed by names chosen by the caller.
type DataFrames struct {
	names []string
	dfs   []DataFrame
	keyed bool
}

// NewDataFrames returns a positional collection.
func NewDataFrames(dfs ...DataFrame) DataFrames {
	names := make([]string, len(dfs))
	for i := range dfs {
		names[i] = "_" + strconv.Itoa(i)
	}
	return DataFrames{names: names, dfs: dfs}
}

// NewKeyedDataFrames returns a collection keyed by names. Names must be unique
// and must not be empty.
func NewKeyedDataFrames(names []string, dfs []DataFrame) (DataFrames, error) {
	if len(names) != len(dfs) {
		return DataFrames{}, errdefs.Configurationf("%d names for %d dataframes", len(names), len(dfs))
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			return DataFrames{}, errdefs.Configurationf("dataframe name must not be empty")
		}
		if _, ok := seen[name]; ok {
			return DataFrames{}, errdefs.Configurationf("duplicate dataframe name %q", name)
		}
		seen[name] = struct{}{}
	}
	return DataFrames{names: names, dfs: dfs, keyed: true}, nil
}

// Len returns the number of dataframes.
func (d DataFrames) Len() int { return len(d.dfs) }

// HasKey reports whether the collection is keyed by caller-chosen names.
func (d DataFrames) HasKey() bool { return d.keyed }

// Get returns the i-th dataframe.
func (d DataFrames) Get(i int) DataFrame { return d.dfs[i] }

// Names returns the names of the dataframes in order.
func (d DataFrames) Names() []string { return d.names }

// All returns the dataframes in order.
func (d DataFrames) All() []DataFrame { return d.dfs }

// Lookup returns the dataframe with the given name.
func (d DataFrames) Lookup(name string) (DataFrame, bool) {
	for i, n := range d.names {
		if n == name {
			return d.dfs[i], true
		}
	}
	return nil, false
}

func (d DataFrames) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, name := range d.names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s:%T", name, d.dfs[i])
	}
	sb.WriteByte(']')
	return sb.String()
}
