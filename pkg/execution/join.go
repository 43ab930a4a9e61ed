package execution

import (
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// JoinKind is a normalized join type.
type JoinKind string

const (
	InnerJoin      JoinKind = "inner"
	LeftOuterJoin  JoinKind = "left_outer"
	RightOuterJoin JoinKind = "right_outer"
	FullOuterJoin  JoinKind = "full_outer"
	CrossJoin      JoinKind = "cross"
	SemiJoin       JoinKind = "left_semi"
	AntiJoin       JoinKind = "left_anti"
)

// joinKinds maps the accepted spellings, lower-cased and stripped of
// underscores and spaces, to their kind.
var joinKinds = map[string]JoinKind{
	"inner":      InnerJoin,
	"leftouter":  LeftOuterJoin,
	"rightouter": RightOuterJoin,
	"fullouter":  FullOuterJoin,
	"cross":      CrossJoin,
	"semi":       SemiJoin,
	"anti":       AntiJoin,
	"leftsemi":   SemiJoin,
	"leftanti":   AntiJoin,
}

// NormalizeJoinKind maps a user supplied join type such as "left_outer",
// "LeftOuter" or "left outer" to its JoinKind. Unknown types fail with
// ErrConfiguration.
func NormalizeJoinKind(how string) (JoinKind, error) {
	key := strings.NewReplacer("_", "", " ", "").Replace(strings.ToLower(how))
	kind, ok := joinKinds[key]
	if !ok {
		return "", errdefs.Configurationf("%s is not supported as a join type", how)
	}
	return kind, nil
}

// JoinSchemas validates a join of left and right and returns the schema of
// the join keys and the output schema.
//
// When on is empty, the keys are the columns present on both sides. Every
// column present on both sides must be a key: name collisions outside the
// keys are rejected rather than renamed. Cross joins must have no common
// columns. Semi and anti joins output the left schema; every other kind
// outputs the left columns followed by the right non-key columns.
func JoinSchemas(left, right *arrow.Schema, kind JoinKind, on []string) (keys, output *arrow.Schema, err error) {
	var common []string
	for _, f := range left.Fields() {
		if right.HasField(f.Name) {
			common = append(common, f.Name)
		}
	}

	if kind == CrossJoin {
		if len(on) > 0 {
			return nil, nil, errdefs.Configurationf("cross join can't have join keys %v", on)
		}
		if len(common) > 0 {
			return nil, nil, errdefs.Configurationf("cross join can't have common columns %v", common)
		}
		return arrow.NewSchema(nil, nil), concatSchemas(left, right, nil), nil
	}

	if len(on) == 0 {
		on = common
	} else {
		if dup := firstDuplicate(on); dup != "" {
			return nil, nil, errdefs.Configurationf("duplicate join key %q", dup)
		}
		for _, key := range on {
			if !slices.Contains(common, key) {
				return nil, nil, errdefs.Configurationf("join key %q must exist in both dataframes", key)
			}
		}
		for _, col := range common {
			if !slices.Contains(on, col) {
				return nil, nil, errdefs.Configurationf("column %q exists in both dataframes but is not a join key", col)
			}
		}
	}
	if len(on) == 0 {
		return nil, nil, errdefs.Configurationf("%s join requires at least one join key", kind)
	}

	keyFields := make([]arrow.Field, 0, len(on))
	for _, key := range on {
		lf := left.Field(left.FieldIndices(key)[0])
		rf := right.Field(right.FieldIndices(key)[0])
		if !arrow.TypeEqual(lf.Type, rf.Type) {
			return nil, nil, errdefs.TypeMismatchf("join key %q has type %s on the left and %s on the right", key, lf.Type, rf.Type)
		}
		keyFields = append(keyFields, lf)
	}
	keys = arrow.NewSchema(keyFields, nil)

	switch kind {
	case SemiJoin, AntiJoin:
		return keys, left, nil
	default:
		return keys, concatSchemas(left, right, on), nil
	}
}

func concatSchemas(left, right *arrow.Schema, skip []string) *arrow.Schema {
	fields := slices.Clone(left.Fields())
	for _, f := range right.Fields() {
		if !slices.Contains(skip, f.Name) {
			fields = append(fields, f)
		}
	}
	return arrow.NewSchema(fields, nil)
}

func firstDuplicate(names []string) string {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return n
		}
		seen[n] = struct{}{}
	}
	return ""
}
