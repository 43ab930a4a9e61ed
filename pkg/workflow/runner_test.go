package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/execution/arrowengine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).purgeStaleWorkers"),
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*poolCommon).ticktock"),
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*Pool).purgeStaleWorkers"),
		goleak.IgnoreAnyFunction("github.com/panjf2000/ants/v2.(*Pool).ticktock"),
	)
}

func newTestEngine(t *testing.T) *arrowengine.Engine {
	t.Helper()
	e, err := arrowengine.New(arrowengine.Params{Session: arrowengine.NewSession(arrowengine.SessionOptions{})})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Stop()) })
	return e
}

func newTestRunner() (*Runner, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewRunner(RunnerParams{Registerer: reg, Concurrency: 2}), reg
}

func taskCount(r *Runner, role Role, outcome string) float64 {
	return testutil.ToFloat64(r.metrics.tasks.WithLabelValues(role.String(), outcome))
}

func rowsOf(ctx context.Context, t *testing.T, df dataframe.DataFrame) [][]any {
	t.Helper()
	local, err := dataframe.AsLocal(ctx, df)
	require.NoError(t, err)
	rows, err := local.AsArray(ctx)
	require.NoError(t, err)
	return rows
}

// fixture creates a:int,b:int with three rows.
func fixture(created *atomic.Int32) CreatorFunc {
	return func(ctx context.Context, ec ExtensionContext) (dataframe.DataFrame, error) {
		created.Add(1)
		df := dataframe.MustNewArray([][]any{
			{int32(1), int32(10)},
			{int32(2), int32(20)},
			{int32(3), int32(30)},
		}, "a:int,b:int")
		return ec.Engine.ToDF(ctx, df, nil, nil)
	}
}

// doubler doubles column b.
func doubler(calls *atomic.Int32) ProcessorFunc {
	return func(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) (dataframe.DataFrame, error) {
		calls.Add(1)
		local, err := dataframe.AsLocal(ctx, dfs.Get(0))
		if err != nil {
			return nil, err
		}
		rows, err := local.AsArray(ctx)
		if err != nil {
			return nil, err
		}
		out := make([][]any, len(rows))
		for i, row := range rows {
			out[i] = []any{row[0], row[1].(int32) * 2}
		}
		df, err := dataframe.NewArray(out, local.Schema())
		if err != nil {
			return nil, err
		}
		return ec.Engine.ToDF(ctx, df, nil, nil)
	}
}

type collector struct {
	mut  sync.Mutex
	rows map[string][][]any
}

func (c *collector) Output(ctx context.Context, ec ExtensionContext, dfs dataframe.DataFrames) error {
	local, err := dataframe.AsLocal(ctx, dfs.Get(0))
	if err != nil {
		return err
	}
	rows, err := local.AsArray(ctx)
	if err != nil {
		return err
	}

	c.mut.Lock()
	defer c.mut.Unlock()
	if c.rows == nil {
		c.rows = make(map[string][][]any)
	}
	c.rows[ec.Params.Get("name", "").(string)] = rows
	return nil
}

func TestRunner_EndToEnd(t *testing.T) {
	var (
		created, doubled atomic.Int32
		sink             collector
	)

	w := New()
	create, err := w.Create(fixture(&created))
	require.NoError(t, err)
	process, err := w.Process(doubler(&doubled), []*Task{create})
	require.NoError(t, err)
	first, err := w.Output(&sink, []*Task{process}, WithParams(dataframe.Metadata{"name": "first"}))
	require.NoError(t, err)
	second, err := w.Output(&sink, []*Task{process}, WithParams(dataframe.Metadata{"name": "second"}))
	require.NoError(t, err)

	r, _ := newTestRunner()
	wctx, err := r.Run(t.Context(), w, newTestEngine(t))
	require.NoError(t, err)

	require.Equal(t, int32(1), created.Load())
	require.Equal(t, int32(1), doubled.Load(), "the process result is reused by both outputs")

	want := [][]any{
		{int32(1), int32(20)},
		{int32(2), int32(40)},
		{int32(3), int32(60)},
	}
	require.Empty(t, cmp.Diff(want, sink.rows["first"]))
	require.Empty(t, cmp.Diff(want, sink.rows["second"]))

	require.Equal(t, 4, wctx.Len())
	result, ok := wctx.Result(process)
	require.True(t, ok)
	require.Empty(t, cmp.Diff(want, rowsOf(t.Context(), t, result)))
	for _, out := range []*Task{first, second} {
		dummy, ok := wctx.Result(out)
		require.True(t, ok)
		require.Equal(t, "_0", dummy.Schema().Field(0).Name)
	}

	require.Equal(t, 2.0, taskCount(r, RoleOutput, outcomeExecuted))
	require.Equal(t, 1.0, taskCount(r, RoleProcess, outcomeExecuted))
	require.Equal(t, 0.0, testutil.ToFloat64(r.metrics.cacheHits))
}

func TestRunner_ReuseByIdentity(t *testing.T) {
	var created, doubled atomic.Int32
	double := doubler(&doubled)

	w := New()
	create, err := w.Create(fixture(&created))
	require.NoError(t, err)
	p1, err := w.Process(double, []*Task{create}, WithExtensionIdentity("double"))
	require.NoError(t, err)
	p2, err := w.Process(double, []*Task{create}, WithExtensionIdentity("double"))
	require.NoError(t, err)
	require.Equal(t, mustIdentity(t, p1), mustIdentity(t, p2))

	r, _ := newTestRunner()
	wctx, err := r.Run(t.Context(), w, newTestEngine(t))
	require.NoError(t, err)

	require.Equal(t, int32(1), doubled.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.cacheHits))
	require.Equal(t, 1.0, taskCount(r, RoleProcess, outcomeCached))

	r1, ok := wctx.Result(p1)
	require.True(t, ok)
	r2, ok := wctx.Result(p2)
	require.True(t, ok)
	require.Same(t, r1, r2)

	t.Run("non deterministic tasks always run", func(t *testing.T) {
		var created, doubled atomic.Int32
		double := doubler(&doubled)

		w := New()
		create, err := w.Create(fixture(&created))
		require.NoError(t, err)
		for range 2 {
			_, err := w.Process(double, []*Task{create}, Deterministic(false), WithExtensionIdentity("double"))
			require.NoError(t, err)
		}

		r, _ := newTestRunner()
		_, err = r.Run(t.Context(), w, newTestEngine(t))
		require.NoError(t, err)
		require.Equal(t, int32(2), doubled.Load())
	})
}

func TestRunner_DistinctExtensions(t *testing.T) {
	t.Run("sinks", func(t *testing.T) {
		var (
			created      atomic.Int32
			sinkA, sinkB collector
		)
		w := New()
		create, err := w.Create(fixture(&created))
		require.NoError(t, err)
		_, err = w.Output(&sinkA, []*Task{create})
		require.NoError(t, err)
		_, err = w.Output(&sinkB, []*Task{create})
		require.NoError(t, err)

		r, _ := newTestRunner()
		_, err = r.Run(t.Context(), w, newTestEngine(t))
		require.NoError(t, err)

		require.Len(t, sinkA.rows[""], 3)
		require.Len(t, sinkB.rows[""], 3)
		require.Equal(t, 2.0, taskCount(r, RoleOutput, outcomeExecuted))
		require.Equal(t, 0.0, testutil.ToFloat64(r.metrics.cacheHits))
	})

	t.Run("closures", func(t *testing.T) {
		var created, first, second atomic.Int32
		w := New()
		create, err := w.Create(fixture(&created))
		require.NoError(t, err)
		p1, err := w.Process(doubler(&first), []*Task{create})
		require.NoError(t, err)
		p2, err := w.Process(doubler(&second), []*Task{create})
		require.NoError(t, err)
		require.NotEqual(t, mustIdentity(t, p1), mustIdentity(t, p2))

		r, _ := newTestRunner()
		_, err = r.Run(t.Context(), w, newTestEngine(t))
		require.NoError(t, err)
		require.Equal(t, int32(1), first.Load())
		require.Equal(t, int32(1), second.Load())
	})
}

type finishingEngine struct {
	*arrowengine.Engine
	finished []string
}

func (e *finishingEngine) FinishRun(id string) {
	e.finished = append(e.finished, id)
	e.Engine.FinishRun(id)
}

func TestRunner_RunScope(t *testing.T) {
	var seen atomic.Value
	w := New()
	_, err := w.Create(CreatorFunc(func(ctx context.Context, ec ExtensionContext) (dataframe.DataFrame, error) {
		seen.Store(execution.RunFromContext(ctx))
		return dataframe.MustNewArray(nil, "a:int"), nil
	}), Lazy(false))
	require.NoError(t, err)

	engine := &finishingEngine{Engine: newTestEngine(t)}
	r, _ := newTestRunner()
	wctx, err := r.Run(t.Context(), w, engine)
	require.NoError(t, err)

	runID := wctx.RunID().String()
	require.Equal(t, runID, seen.Load())
	require.Equal(t, []string{runID}, engine.finished)
}

func TestRunner_Lazy(t *testing.T) {
	var used, unused atomic.Int32

	w := New()
	_, err := w.Create(fixture(&unused))
	require.NoError(t, err)
	create, err := w.Create(fixture(&used))
	require.NoError(t, err)
	var sink collector
	_, err = w.Output(&sink, []*Task{create}, WithParams(dataframe.Metadata{"name": "out"}))
	require.NoError(t, err)

	// A lazy chain nobody consumes.
	lazyCreate, err := w.Create(fixture(&unused))
	require.NoError(t, err)
	var doubled atomic.Int32
	_, err = w.Process(doubler(&doubled), []*Task{lazyCreate}, Lazy(true))
	require.NoError(t, err)

	r, _ := newTestRunner()
	wctx, err := r.Run(t.Context(), w, newTestEngine(t))
	require.NoError(t, err)

	require.Equal(t, int32(1), used.Load())
	require.Equal(t, int32(0), unused.Load())
	require.Equal(t, int32(0), doubled.Load())
	require.Equal(t, 2, wctx.Len())
	require.Equal(t, 2.0, taskCount(r, RoleCreate, outcomeSkipped))
	require.Equal(t, 1.0, taskCount(r, RoleProcess, outcomeSkipped))
	require.Len(t, sink.rows["out"], 3)
}

func TestRunner_Failure(t *testing.T) {
	var created atomic.Int32
	boom := errors.New("boom")

	w := New()
	create, err := w.Create(fixture(&created))
	require.NoError(t, err)
	failing, err := w.Process(ProcessorFunc(func(context.Context, ExtensionContext, dataframe.DataFrames) (dataframe.DataFrame, error) {
		return nil, errdefs.Backend("process", boom)
	}), []*Task{create})
	require.NoError(t, err)

	var outputs atomic.Int32
	_, err = w.Output(OutputterFunc(func(context.Context, ExtensionContext, dataframe.DataFrames) error {
		outputs.Add(1)
		return nil
	}), []*Task{failing})
	require.NoError(t, err)

	r, _ := newTestRunner()
	wctx, err := r.Run(t.Context(), w, newTestEngine(t))
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, errdefs.ErrBackend)

	require.Equal(t, int32(0), outputs.Load(), "dependents of a failed task never run")
	_, ok := wctx.Result(failing)
	require.False(t, ok)
	require.False(t, wctx.byIdentity.Cached(mustIdentity(t, failing)), "the failed entry is cleared")
	_, ok = wctx.Result(create)
	require.True(t, ok)
	require.Equal(t, 1.0, taskCount(r, RoleProcess, outcomeFailed))
}

func TestRunner_Hints(t *testing.T) {
	var created atomic.Int32

	w := New()
	persisted, err := w.Create(fixture(&created), Lazy(false))
	require.NoError(t, err)
	require.NoError(t, persisted.Persist(execution.MemoryOnly))

	broadcast, err := w.Create(fixture(&created), Lazy(false), WithParams(dataframe.Metadata{"b": true}))
	require.NoError(t, err)
	require.NoError(t, broadcast.Broadcast())

	wctx, err := w.Run(t.Context(), newTestEngine(t))
	require.NoError(t, err)

	df, ok := wctx.Result(persisted)
	require.True(t, ok)
	require.IsType(t, &arrowengine.Dataset{}, df)
	require.Equal(t, execution.MemoryOnly, df.(*arrowengine.Dataset).PersistLevel())

	df, ok = wctx.Result(broadcast)
	require.True(t, ok)
	require.True(t, df.(*arrowengine.Dataset).IsBroadcast())
}

func TestRunner_NamedInputs(t *testing.T) {
	var created atomic.Int32

	w := New()
	left, err := w.Create(fixture(&created))
	require.NoError(t, err)
	right, err := w.Create(fixture(&created), WithParams(dataframe.Metadata{"side": "right"}))
	require.NoError(t, err)

	var got []string
	_, err = w.Output(OutputterFunc(func(_ context.Context, _ ExtensionContext, dfs dataframe.DataFrames) error {
		if !dfs.HasKey() {
			return errors.New("inputs are not keyed")
		}
		got = dfs.Names()
		return nil
	}), []*Task{left, right}, WithInputNames("l", "r"))
	require.NoError(t, err)

	r, _ := newTestRunner()
	_, err = r.Run(t.Context(), w, newTestEngine(t))
	require.NoError(t, err)
	require.Equal(t, []string{"l", "r"}, got)
	require.Equal(t, int32(2), created.Load())
}

func TestRunner_NoEngine(t *testing.T) {
	r, _ := newTestRunner()
	_, err := r.Run(t.Context(), New(), nil)
	require.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestWorkflowContext_SetResultOnce(t *testing.T) {
	task, err := NewCreate(CreatorFunc(nopCreate))
	require.NoError(t, err)

	wctx := NewWorkflowContext(newTestEngine(t))
	df := dataframe.MustNewArray(nil, "a:int")
	require.NoError(t, wctx.SetResult(task, df))
	require.ErrorIs(t, wctx.SetResult(task, df), errdefs.ErrConfiguration)

	got, ok := wctx.Result(task)
	require.True(t, ok)
	require.Same(t, df, got)
}
