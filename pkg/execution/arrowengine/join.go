package arrowengine

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/dolthub/swiss"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
)

func (e *Engine) Join(ctx context.Context, left, right dataframe.DataFrame, how string, on []string, meta dataframe.Metadata) (dataframe.DataFrame, error) {
	kind, err := execution.NormalizeJoinKind(how)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Engine.Join", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.StringSlice("on", on),
	))
	defer span.End()

	l, err := e.toDataset(ctx, left, nil, nil)
	if err != nil {
		return nil, err
	}
	r, err := e.toDataset(ctx, right, nil, nil)
	if err != nil {
		return nil, err
	}
	keys, output, err := execution.JoinSchemas(l.schema, r.schema, kind, on)
	if err != nil {
		return nil, err
	}

	j := &hashJoin{kind: kind, output: output}
	for _, f := range keys.Fields() {
		j.keys = append(j.keys, f.Name)
	}
	if j.leftKeys, err = columnIndices(l.schema, j.keys); err != nil {
		return nil, err
	}
	if j.rightKeys, err = columnIndices(r.schema, j.keys); err != nil {
		return nil, err
	}
	for i, f := range r.schema.Fields() {
		if !keys.HasField(f.Name) {
			j.rightValues = append(j.rightValues, i)
		}
	}
	// A broadcast left side of an inner join is the build side.
	j.buildLeft = kind == execution.InnerJoin && l.broadcast && !r.broadcast

	e.metrics.operations.WithLabelValues("join").Inc()

	mem := e.session.mem
	return newDataset(output, meta, mem, func(ctx context.Context) ([]arrow.Record, error) {
		lrec, err := l.record(ctx)
		if err != nil {
			return nil, err
		}
		rrec, err := r.record(ctx)
		if err != nil {
			return nil, err
		}
		rows := j.run(dataframe.RowsFromRecord(lrec), dataframe.RowsFromRecord(rrec))
		rec, err := dataframe.RecordFromRows(mem, output, rows)
		if err != nil {
			return nil, errdefs.Backend("join", err)
		}
		return []arrow.Record{rec}, nil
	}), nil
}

// hashJoin joins rows on equal key values. Null keys never match.
type hashJoin struct {
	kind   execution.JoinKind
	output *arrow.Schema

	keys        []string
	leftKeys    []int
	rightKeys   []int
	rightValues []int // right columns that are not keys
	buildLeft   bool
}

func (j *hashJoin) run(left, right [][]any) [][]any {
	if j.kind == execution.CrossJoin {
		out := make([][]any, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				out = append(out, j.combine(l, r))
			}
		}
		return out
	}
	if j.buildLeft {
		return j.buildLeftJoin(left, right)
	}

	table := buildTable(right, j.rightKeys)
	matched := make([]bool, len(right))

	var out [][]any
	for _, l := range left {
		var matches []int
		if key, ok := keyString(l, j.leftKeys); ok {
			matches, _ = table.Get(key)
		}

		switch j.kind {
		case execution.SemiJoin:
			if len(matches) > 0 {
				out = append(out, l)
			}
			continue
		case execution.AntiJoin:
			if len(matches) == 0 {
				out = append(out, l)
			}
			continue
		}

		for _, m := range matches {
			matched[m] = true
			out = append(out, j.combine(l, right[m]))
		}
		if len(matches) == 0 && (j.kind == execution.LeftOuterJoin || j.kind == execution.FullOuterJoin) {
			out = append(out, j.combine(l, nil))
		}
	}

	if j.kind == execution.RightOuterJoin || j.kind == execution.FullOuterJoin {
		for i, r := range right {
			if !matched[i] {
				out = append(out, j.unmatchedRight(r))
			}
		}
	}
	return out
}

// buildLeftJoin is the inner join with the left side as the build side. The
// output column order stays left then right.
func (j *hashJoin) buildLeftJoin(left, right [][]any) [][]any {
	table := buildTable(left, j.leftKeys)
	var out [][]any
	for _, r := range right {
		key, ok := keyString(r, j.rightKeys)
		if !ok {
			continue
		}
		matches, _ := table.Get(key)
		for _, m := range matches {
			out = append(out, j.combine(left[m], r))
		}
	}
	return out
}

func buildTable(rows [][]any, keyIdx []int) *swiss.Map[string, []int] {
	table := swiss.NewMap[string, []int](uint32(len(rows)))
	for i, row := range rows {
		if key, ok := keyString(row, keyIdx); ok {
			matches, _ := table.Get(key)
			table.Put(key, append(matches, i))
		}
	}
	return table
}

// combine returns the output row for l and r. A nil side is all nulls.
func (j *hashJoin) combine(l, r []any) []any {
	out := make([]any, 0, j.output.NumFields())
	if l == nil {
		out = append(out, make([]any, j.output.NumFields()-len(j.rightValues))...)
	} else {
		out = append(out, l...)
	}
	for _, c := range j.rightValues {
		if r == nil {
			out = append(out, nil)
		} else {
			out = append(out, r[c])
		}
	}
	return out
}

// unmatchedRight returns the output row of a right row without a match: the
// left columns are null except for the keys, which take the right values.
func (j *hashJoin) unmatchedRight(r []any) []any {
	out := j.combine(nil, r)
	for i, c := range j.leftKeys {
		out[c] = r[j.rightKeys[i]]
	}
	return out
}
