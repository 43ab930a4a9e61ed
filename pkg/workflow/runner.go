package workflow

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
)

// RunnerParams configures a [Runner].
type RunnerParams struct {
	Logger     log.Logger
	Registerer prometheus.Registerer

	// Concurrency bounds the number of tasks executing at once. Zero
	// selects 4.
	Concurrency int
}

// Runner executes workflows. Tasks run in dependency order, independent
// tasks concurrently. The first failure stops the run and no task depending
// on a failed task is executed.
type Runner struct {
	logger      log.Logger
	metrics     *metrics
	concurrency int
}

// NewRunner returns a runner. A nil Registerer registers the metrics on a
// private registry.
func NewRunner(p RunnerParams) *Runner {
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	return &Runner{
		logger:      p.Logger,
		metrics:     newMetrics(p.Registerer),
		concurrency: p.Concurrency,
	}
}

type taskResult struct {
	task *Task
	err  error
}

// Run executes wf on engine and returns the context holding the results of
// the executed tasks.
func (r *Runner) Run(ctx context.Context, wf *Workflow, engine execution.ExecutionEngine) (*WorkflowContext, error) {
	if engine == nil {
		return nil, errdefs.Configurationf("workflow requires an execution engine")
	}
	wctx := NewWorkflowContext(engine)
	runID := wctx.RunID().String()
	logger := log.With(r.logger, "run", runID)

	ctx = execution.WithRun(ctx, runID)
	if f, ok := engine.(execution.RunFinisher); ok {
		defer f.FinishRun(runID)
	}

	ctx, span := tracer.Start(ctx, "Runner.Run", trace.WithAttributes(
		attribute.String("run", runID),
		attribute.Int("tasks", wf.Len()),
	))
	defer span.End()

	needed := r.required(wf)
	pending := make(map[*Task]int, len(needed))
	var ready []*Task
	for _, t := range wf.graph.TopologicalSort() {
		if _, ok := needed[t]; !ok {
			r.metrics.tasks.WithLabelValues(t.role.String(), outcomeSkipped).Inc()
			level.Debug(logger).Log("msg", "skipping lazy task", "task", t)
			continue
		}
		pending[t] = len(wf.graph.Parents(t))
		if pending[t] == 0 {
			ready = append(ready, t)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan taskResult)
	running := 0
	failed := false

	for len(ready) > 0 || running > 0 {
		for !failed && len(ready) > 0 && running < r.concurrency {
			t := ready[0]
			ready = ready[1:]
			running++
			g.Go(func() error {
				err := r.execute(gctx, logger, wctx, t)
				results <- taskResult{task: t, err: err}
				return err
			})
		}
		if running == 0 {
			break
		}

		res := <-results
		running--
		if res.err != nil {
			failed = true
			continue
		}
		for _, child := range wf.graph.Children(res.task) {
			if _, ok := pending[child]; !ok {
				continue
			}
			if pending[child]--; pending[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		level.Error(logger).Log("msg", "workflow failed", "err", err)
		return wctx, err
	}
	level.Info(logger).Log("msg", "workflow finished", "executed", wctx.Len())
	return wctx, nil
}

// required returns the non-lazy tasks and everything they depend on.
func (r *Runner) required(wf *Workflow) map[*Task]struct{} {
	needed := make(map[*Task]struct{})
	for _, t := range wf.graph.Nodes() {
		if t.lazy {
			continue
		}
		needed[t] = struct{}{}
		for a := range wf.graph.Ancestors(t) {
			needed[a] = struct{}{}
		}
	}
	return needed
}

func (r *Runner) execute(ctx context.Context, logger log.Logger, wctx *WorkflowContext, t *Task) (err error) {
	role := t.role.String()
	defer func() {
		if err != nil {
			r.metrics.tasks.WithLabelValues(role, outcomeFailed).Inc()
			level.Error(logger).Log("msg", "task failed", "task", t, "role", role, "err", err)
		}
	}()

	inputs := make([]dataframe.DataFrame, len(t.upstream))
	for i, up := range t.upstream {
		df, ok := wctx.Result(up)
		if !ok {
			return fmt.Errorf("task %s: result of input %s is missing", t, up)
		}
		inputs[i] = df
	}

	id, err := t.Identity()
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "Runner.execute", trace.WithAttributes(
		attribute.String("task", t.String()),
		attribute.String("role", role),
		attribute.String("identity", id),
	))
	defer span.End()

	if !t.deterministic {
		if _, err := t.Execute(ctx, wctx, inputs); err != nil {
			return err
		}
		r.metrics.tasks.WithLabelValues(role, outcomeExecuted).Inc()
		return nil
	}

	ran := false
	df, err := wctx.byIdentity.Do(id, func() (dataframe.DataFrame, error) {
		ran = true
		return t.Execute(ctx, wctx, inputs)
	})
	if err != nil {
		if ran {
			wctx.byIdentity.Forget(id)
		}
		return err
	}
	if ran {
		r.metrics.tasks.WithLabelValues(role, outcomeExecuted).Inc()
		level.Debug(logger).Log("msg", "task executed", "task", t, "role", role, "identity", id)
		return nil
	}

	// Another task of the same identity produced the result.
	r.metrics.cacheHits.Inc()
	r.metrics.tasks.WithLabelValues(role, outcomeCached).Inc()
	span.SetAttributes(attribute.Bool("cached", true))
	level.Debug(logger).Log("msg", "reusing task result", "task", t, "identity", id)
	return wctx.SetResult(t, df)
}
