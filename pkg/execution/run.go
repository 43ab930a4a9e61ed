package execution

import "context"

type runKey struct{}

// WithRun returns a context carrying the id of the workflow run it belongs
// to. Engines scope their per-run memoization by it.
func WithRun(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunFromContext returns the run id carried by ctx, or "" outside a run.
func RunFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

// RunFinisher is implemented by engines keeping state per run. FinishRun
// releases that state once the run is over.
type RunFinisher interface {
	FinishRun(id string)
}
