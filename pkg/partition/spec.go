// Package partition describes how a dataframe is divided into partitions and
// ordered within them, and provides the cursor and key-run splitter used by
// partition-wise map functions.
package partition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// Algo is a repartition algorithm.
type Algo string

const (
	// Hash assigns rows by a hash of the partition keys. Identical keys
	// always land in the same partition.
	Hash Algo = "hash"

	// Random assigns rows uniformly at random, ignoring the keys.
	Random Algo = "rand"

	// Even splits rows into partitions whose sizes differ by at most one.
	Even Algo = "even"
)

// ParseAlgo parses an algorithm name. The empty string selects [Hash].
func ParseAlgo(name string) (Algo, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hash":
		return Hash, nil
	case "rand", "random":
		return Random, nil
	case "even":
		return Even, nil
	}
	return "", errdefs.Configurationf("%q is not a supported partition algorithm", name)
}

// SortKey is one presort entry.
type SortKey struct {
	Column    string
	Ascending bool
}

func (k SortKey) String() string {
	if k.Ascending {
		return k.Column + " asc"
	}
	return k.Column + " desc"
}

// Spec describes a repartition request. The zero value is the empty spec:
// no keys, no presort, default count, hash algorithm.
//
// Spec is an immutable value; build it with [New] or [Parse].
type Spec struct {
	algo        Algo
	partitionBy []string
	presort     []SortKey
	num         string
}

// EmptySpec is the sentinel meaning that no partitioning was requested.
var EmptySpec = Spec{}

// Option configures a Spec built by [New].
type Option func(*Spec) error

// By sets the partition keys.
func By(columns ...string) Option {
	return func(s *Spec) error {
		s.partitionBy = append(s.partitionBy, columns...)
		return nil
	}
}

// WithAlgo sets the algorithm by name.
func WithAlgo(name string) Option {
	return func(s *Spec) error {
		algo, err := ParseAlgo(name)
		s.algo = algo
		return err
	}
}

// WithNum sets the partition count expression. It is either an integer
// literal or an expression over ROWCOUNT and CONCURRENCY such as
// "ROWCOUNT/4". "0" and "" leave the choice to the engine.
func WithNum(expr string) Option {
	return func(s *Spec) error {
		s.num = strings.TrimSpace(expr)
		return nil
	}
}

// WithNumPartitions sets a literal partition count.
func WithNumPartitions(n int) Option {
	return WithNum(fmt.Sprint(n))
}

// WithPresort sets the within-partition sort order from an expression such
// as "a, b desc". Columns without a direction sort ascending.
func WithPresort(expr string) Option {
	return func(s *Spec) error {
		keys, err := ParsePresort(expr)
		if err != nil {
			return err
		}
		s.presort = append(s.presort, keys...)
		return nil
	}
}

// SortBy appends one presort entry.
func SortBy(column string, ascending bool) Option {
	return func(s *Spec) error {
		s.presort = append(s.presort, SortKey{Column: column, Ascending: ascending})
		return nil
	}
}

// New builds a Spec from opts.
func New(opts ...Option) (Spec, error) {
	s := Spec{algo: Hash}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return Spec{}, err
		}
	}
	if err := s.validate(); err != nil {
		return Spec{}, err
	}
	if s.num != "" {
		if _, err := parseNum(s.num); err != nil {
			return Spec{}, err
		}
	}
	return s, nil
}

// MustNew is like [New] but panics on error.
func MustNew(opts ...Option) Spec {
	s, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Spec) validate() error {
	seen := make(map[string]struct{}, len(s.partitionBy)+len(s.presort))
	for _, col := range s.partitionBy {
		if col == "" {
			return errdefs.Configurationf("partition key must not be empty")
		}
		if _, ok := seen[col]; ok {
			return errdefs.Configurationf("duplicate partition key %q", col)
		}
		seen[col] = struct{}{}
	}
	for _, key := range s.presort {
		if _, ok := seen[key.Column]; ok {
			return errdefs.Configurationf("presort column %q is a partition key or is repeated", key.Column)
		}
		seen[key.Column] = struct{}{}
	}
	return nil
}

// Parse builds a Spec from a hint such as
//
//	by:a,b;presort:c desc;num:ROWCOUNT/2;algo:even
//
// Sections are separated by semicolons and may appear in any order.
func Parse(hint string) (Spec, error) {
	var opts []Option
	for section := range strings.SplitSeq(hint, ";") {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		key, value, ok := strings.Cut(section, ":")
		if !ok {
			return Spec{}, errdefs.Configurationf("invalid partition hint section %q", section)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "by", "partition_by":
			opts = append(opts, By(splitList(value)...))
		case "presort":
			opts = append(opts, WithPresort(value))
		case "num", "num_partitions":
			opts = append(opts, WithNum(value))
		case "algo":
			opts = append(opts, WithAlgo(value))
		default:
			return Spec{}, errdefs.Configurationf("unknown partition hint %q", key)
		}
	}
	return New(opts...)
}

// ParsePresort parses a presort expression such as "a, b desc".
func ParsePresort(expr string) ([]SortKey, error) {
	var keys []SortKey
	for _, item := range splitList(expr) {
		fields := strings.Fields(item)
		switch {
		case len(fields) == 1:
			keys = append(keys, SortKey{Column: fields[0], Ascending: true})
		case len(fields) == 2 && strings.EqualFold(fields[1], "asc"):
			keys = append(keys, SortKey{Column: fields[0], Ascending: true})
		case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
			keys = append(keys, SortKey{Column: fields[0], Ascending: false})
		default:
			return nil, errdefs.Configurationf("invalid presort item %q", item)
		}
	}
	return keys, nil
}

func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Algo returns the algorithm.
func (s Spec) Algo() Algo {
	if s.algo == "" {
		return Hash
	}
	return s.algo
}

// PartitionBy returns the partition keys in order.
func (s Spec) PartitionBy() []string { return slices.Clone(s.partitionBy) }

// Presort returns the within-partition sort entries in order.
func (s Spec) Presort() []SortKey { return slices.Clone(s.presort) }

// Num returns the partition count expression.
func (s Spec) Num() string { return s.num }

// Empty reports whether no partitioning was requested.
func (s Spec) Empty() bool {
	return len(s.partitionBy) == 0 && len(s.presort) == 0 && (s.num == "" || s.num == "0")
}

// Sorts returns the partition keys in ascending order followed by the presort
// entries, after checking that every column exists in schema.
func (s Spec) Sorts(schema *arrow.Schema) ([]SortKey, error) {
	keys := make([]SortKey, 0, len(s.partitionBy)+len(s.presort))
	for _, col := range s.partitionBy {
		keys = append(keys, SortKey{Column: col, Ascending: true})
	}
	keys = append(keys, s.presort...)

	for _, key := range keys {
		if !schema.HasField(key.Column) {
			return nil, errdefs.Configurationf("column %q not found in schema %s", key.Column, schema)
		}
	}
	return keys, nil
}

// KeySchema returns the schema of the partition keys.
func (s Spec) KeySchema(schema *arrow.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(s.partitionBy))
	for _, col := range s.partitionBy {
		idx := schema.FieldIndices(col)
		if len(idx) == 0 {
			return nil, errdefs.Configurationf("partition key %q not found in schema %s", col, schema)
		}
		fields = append(fields, schema.Field(idx[0]))
	}
	return arrow.NewSchema(fields, nil), nil
}

// String returns the hint form of s, accepted by [Parse].
func (s Spec) String() string {
	var parts []string
	if len(s.partitionBy) > 0 {
		parts = append(parts, "by:"+strings.Join(s.partitionBy, ","))
	}
	if len(s.presort) > 0 {
		items := make([]string, len(s.presort))
		for i, k := range s.presort {
			items[i] = k.String()
		}
		parts = append(parts, "presort:"+strings.Join(items, ","))
	}
	if s.num != "" {
		parts = append(parts, "num:"+s.num)
	}
	parts = append(parts, "algo:"+string(s.Algo()))
	return strings.Join(parts, ";")
}
