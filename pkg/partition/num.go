package partition

import (
	"context"
	"math/big"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// Variables available to partition count expressions.
const (
	RowCountVar    = "ROWCOUNT"
	ConcurrencyVar = "CONCURRENCY"
)

var numFunctions = map[string]function.Function{
	"min":   stdlib.MinFunc,
	"max":   stdlib.MaxFunc,
	"ceil":  stdlib.CeilFunc,
	"floor": stdlib.FloorFunc,
}

// parsedNums caches parsed count expressions by source text.
var parsedNums = mustLRU[string, hclsyntax.Expression](256)

func mustLRU[K comparable, V any](size int) *lru.Cache[K, V] {
	c, err := lru.New[K, V](size)
	if err != nil {
		panic(err)
	}
	return c
}

func parseNum(expr string) (hclsyntax.Expression, error) {
	if parsed, ok := parsedNums.Get(expr); ok {
		return parsed, nil
	}
	parsed, diags := hclsyntax.ParseExpression([]byte(expr), "num", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, errdefs.Configurationf("invalid partition count %q: %s", expr, diags.Error())
	}
	for _, traversal := range parsed.Variables() {
		switch name := traversal.RootName(); name {
		case RowCountVar, ConcurrencyVar:
		default:
			return nil, errdefs.Configurationf("invalid partition count %q: unknown variable %s", expr, name)
		}
	}
	parsedNums.Add(expr, parsed)
	return parsed, nil
}

// NeedsRowCount reports whether resolving the partition count requires the
// row count of the input.
func (s Spec) NeedsRowCount() bool {
	if s.num == "" {
		return false
	}
	expr, err := parseNum(s.num)
	if err != nil {
		return false
	}
	for _, traversal := range expr.Variables() {
		if traversal.RootName() == RowCountVar {
			return true
		}
	}
	return false
}

// NumPartitions resolves the partition count expression. rowCount is only
// called when the expression references ROWCOUNT; concurrency is the value of
// CONCURRENCY. A result of 0 means the caller should use its default.
// Fractional results are truncated.
func (s Spec) NumPartitions(ctx context.Context, rowCount func(context.Context) (int64, error), concurrency int) (int, error) {
	num := strings.TrimSpace(s.num)
	if num == "" || num == "0" {
		return 0, nil
	}

	expr, err := parseNum(num)
	if err != nil {
		return 0, err
	}

	vars := map[string]cty.Value{
		ConcurrencyVar: cty.NumberIntVal(int64(concurrency)),
	}
	if s.NeedsRowCount() {
		if rowCount == nil {
			return 0, errdefs.Configurationf("partition count %q needs a row count", num)
		}
		n, err := rowCount(ctx)
		if err != nil {
			return 0, err
		}
		vars[RowCountVar] = cty.NumberIntVal(n)
	}

	val, diags := expr.Value(&hcl.EvalContext{Variables: vars, Functions: numFunctions})
	if diags.HasErrors() {
		return 0, errdefs.Configurationf("invalid partition count %q: %s", num, diags.Error())
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.Number {
		return 0, errdefs.Configurationf("partition count %q must evaluate to a number", num)
	}

	n, _ := val.AsBigFloat().Int64()
	if n < 0 || val.AsBigFloat().Cmp(big.NewFloat(float64(1<<31))) >= 0 {
		return 0, errdefs.Configurationf("partition count %q evaluated to %s", num, val.AsBigFloat().String())
	}
	return int(n), nil
}
