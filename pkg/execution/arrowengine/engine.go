// Package arrowengine is an in-process execution engine over partitioned
// Arrow records.
//
// Dataframes are converted into lazily evaluated [Dataset] values. Physical
// partitions are processed in parallel on a bounded worker pool. Persisted
// partitions are kept in memory or spilled to the session bucket in Arrow IPC
// format, and SQL statements run on an embedded SQLite database loaded from
// the session views.
package arrowengine

import (
	"context"
	"fmt"
	"maps"
	"path"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/coder/quartz"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/dataio"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/util/runonce"
)

var tracer = otel.Tracer("pkg/execution/arrowengine")

// Params holds the dependencies of an Engine.
type Params struct {
	// Session is required.
	Session *Session

	// Conf holds run supplied options. They override the engine defaults
	// and are overridden by the session runtime configuration.
	Conf execution.Conf

	Logger     log.Logger
	Registerer prometheus.Registerer

	// Clock seeds random repartitioning when no seed is configured.
	Clock quartz.Clock
}

// memo is the memoized result of broadcast, persist and register. It keeps
// the source dataframe alive, failed entries included, so that its address
// can't be reused by another dataframe while the entry exists.
type memo struct {
	src dataframe.DataFrame
	out *Dataset
}

// runMemos holds the memoized results of one run.
type runMemos struct {
	broadcasts runonce.Group[memo]
	persists   runonce.Group[memo]
	registers  runonce.Group[memo]
}

// Engine implements [execution.ExecutionEngine].
type Engine struct {
	session *Session
	conf    execution.Conf
	logger  log.Logger
	clock   quartz.Clock
	metrics *metrics
	io      *dataio.IO
	pool    *ants.Pool
	sql     *SQLEngine

	defaultPartitions int
	maxWorkers        int
	seed              int64
	persistLevel      execution.PersistLevel

	runsMut sync.Mutex
	runs    map[string]*runMemos

	stopOnce sync.Once
}

var (
	_ execution.ExecutionEngine = (*Engine)(nil)
	_ execution.RunFinisher     = (*Engine)(nil)
)

// New creates an engine bound to p.Session.
func New(p Params) (*Engine, error) {
	if p.Session == nil {
		return nil, errdefs.Configurationf("engine requires a session")
	}
	if p.Logger == nil {
		p.Logger = log.NewNopLogger()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Clock == nil {
		p.Clock = quartz.NewReal()
	}

	conf, err := execution.MergeConf(execution.DefaultConf(), p.Conf, p.Session.RuntimeConf())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		session: p.Session,
		conf:    conf,
		logger:  p.Logger,
		clock:   p.Clock,
		metrics: newMetrics(p.Registerer),
		io:      dataio.New(p.Session.Bucket(), p.Logger, p.Session.mem),
		runs:    make(map[string]*runMemos),
	}
	if e.defaultPartitions, err = conf.Int(execution.ConfDefaultPartitions); err != nil {
		return nil, err
	}
	if e.maxWorkers, err = conf.Int(execution.ConfMaxWorkers); err != nil {
		return nil, err
	}
	if e.defaultPartitions <= 0 || e.maxWorkers <= 0 {
		return nil, errdefs.Configurationf("%s and %s must be positive", execution.ConfDefaultPartitions, execution.ConfMaxWorkers)
	}
	seed, err := conf.Int(execution.ConfRandomSeed)
	if err != nil {
		return nil, err
	}
	e.seed = int64(seed)
	levelName, err := conf.String(execution.ConfDefaultPersistLevel)
	if err != nil {
		return nil, err
	}
	if e.persistLevel, err = execution.ParsePersistLevel(levelName, execution.MemoryAndDisk); err != nil {
		return nil, err
	}

	e.pool, err = ants.NewPool(e.maxWorkers, ants.WithLogger(poolLogger{p.Logger}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	e.sql = &SQLEngine{engine: e}
	return e, nil
}

// poolLogger adapts a go-kit logger to the worker pool.
type poolLogger struct{ logger log.Logger }

func (l poolLogger) Printf(format string, args ...any) {
	level.Warn(l.logger).Log("msg", fmt.Sprintf(format, args...), "component", "worker_pool")
}

func (e *Engine) Conf() execution.Conf { return maps.Clone(e.conf) }
func (e *Engine) Log() log.Logger { return e.logger }
func (e *Engine) DefaultSQLEngine() execution.SQLEngine { return e.sql }

// Session returns the session the engine is bound to.
func (e *Engine) Session() *Session { return e.session }

// Stop releases the worker pool. The session stays open.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		err = e.pool.ReleaseTimeout(3 * time.Second)
		level.Debug(e.logger).Log("msg", "engine stopped")
	})
	return err
}

// memos returns the memoized results of the run ctx belongs to. Calls made
// outside a run share one set that lives as long as the engine.
func (e *Engine) memos(ctx context.Context) *runMemos {
	id := execution.RunFromContext(ctx)

	e.runsMut.Lock()
	defer e.runsMut.Unlock()
	m, ok := e.runs[id]
	if !ok {
		m = &runMemos{}
		e.runs[id] = m
	}
	return m
}

// FinishRun drops the memoized results of run id.
func (e *Engine) FinishRun(id string) {
	e.runsMut.Lock()
	defer e.runsMut.Unlock()
	delete(e.runs, id)
	level.Debug(e.logger).Log("msg", "run finished", "run", id)
}

func (e *Engine) ToDF(ctx context.Context, data any, schema *arrow.Schema, meta dataframe.Metadata) (dataframe.DataFrame, error) {
	ds, err := e.toDataset(ctx, data, schema, meta)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (e *Engine) toDataset(_ context.Context, data any, schema *arrow.Schema, meta dataframe.Metadata) (*Dataset, error) {
	mem := e.session.mem
	switch d := data.(type) {
	case *Dataset:
		if schema != nil || meta != nil {
			return nil, errdefs.TypeMismatchf("schema and metadata must be nil when converting a dataframe")
		}
		return d, nil

	case dataframe.DataFrame:
		if schema != nil || meta != nil {
			return nil, errdefs.TypeMismatchf("schema and metadata must be nil when converting a dataframe")
		}
		return e.fromDataFrame(d), nil

	case arrow.Record:
		if schema != nil && !schema.Equal(d.Schema()) {
			return nil, errdefs.TypeMismatchf("record schema %s does not match %s", d.Schema(), schema)
		}
		d.Retain()
		return materialized(d.Schema(), meta, mem, []arrow.Record{d}), nil

	case arrow.Table:
		if schema != nil && !schema.Equal(d.Schema()) {
			return nil, errdefs.TypeMismatchf("table schema %s does not match %s", d.Schema(), schema)
		}
		rec, err := dataframe.TableRecord(d, mem)
		if err != nil {
			return nil, errdefs.Backend("convert table", err)
		}
		return materialized(rec.Schema(), meta, mem, []arrow.Record{rec}), nil

	case [][]any:
		if schema == nil {
			return nil, errdefs.TypeMismatchf("schema is required to convert rows")
		}
		rec, err := dataframe.RecordFromRows(mem, schema, d)
		if err != nil {
			return nil, err
		}
		return materialized(schema, meta, mem, []arrow.Record{rec}), nil

	case nil:
		return nil, errdefs.TypeMismatchf("can't convert nil to a dataframe")
	}
	return nil, errdefs.TypeMismatchf("can't convert %T to a dataframe", data)
}

// fromDataFrame wraps a foreign dataframe. Schemas with struct types go
// through the row path, everything else through the columnar path.
func (e *Engine) fromDataFrame(df dataframe.DataFrame) *Dataset {
	schema := df.Schema()
	mem := e.session.mem
	return newDataset(schema, df.Metadata(), mem, func(ctx context.Context) ([]arrow.Record, error) {
		local, err := dataframe.AsLocal(ctx, df)
		if err != nil {
			return nil, err
		}
		if dataframe.HasStructTypes(schema) {
			rows, err := local.AsArray(ctx)
			if err != nil {
				return nil, err
			}
			rec, err := dataframe.RecordFromRows(mem, schema, rows)
			if err != nil {
				return nil, err
			}
			return []arrow.Record{rec}, nil
		}
		rec, err := local.AsRecord(ctx)
		if err != nil {
			return nil, err
		}
		rec.Retain()
		return []arrow.Record{rec}, nil
	})
}

func (e *Engine) Broadcast(ctx context.Context, df dataframe.DataFrame) (dataframe.DataFrame, error) {
	m, err := e.memos(ctx).broadcasts.Do(runonce.ObjectKey(df), func() (memo, error) {
		ctx, span := tracer.Start(ctx, "Engine.Broadcast")
		defer span.End()

		ds, err := e.toDataset(ctx, df, nil, nil)
		if err != nil {
			return memo{src: df}, err
		}
		e.metrics.operations.WithLabelValues("broadcast").Inc()

		rec, err := ds.record(ctx)
		if err != nil {
			return memo{src: df}, errdefs.Backend("broadcast", err)
		}
		out := materialized(ds.schema, ds.meta, ds.mem, []arrow.Record{rec})
		out.level = ds.level
		out.broadcast = true
		return memo{src: df, out: out}, nil
	})
	if err != nil {
		return nil, err
	}
	return m.out, nil
}

func (e *Engine) Persist(ctx context.Context, df dataframe.DataFrame, lvl execution.PersistLevel) (dataframe.DataFrame, error) {
	ds, err := e.persist(ctx, df, lvl)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// persist memoizes on the instance of df only; a second call with another
// level returns the first result.
func (e *Engine) persist(ctx context.Context, df dataframe.DataFrame, lvl execution.PersistLevel) (*Dataset, error) {
	lvl, err := execution.ParsePersistLevel(string(lvl), e.persistLevel)
	if err != nil {
		return nil, err
	}

	m, err := e.memos(ctx).persists.Do(runonce.ObjectKey(df), func() (memo, error) {
		ctx, span := tracer.Start(ctx, "Engine.Persist", trace.WithAttributes(
			attribute.String("level", string(lvl)),
		))
		defer span.End()

		ds, err := e.toDataset(ctx, df, nil, nil)
		if err != nil {
			return memo{src: df}, err
		}
		e.metrics.operations.WithLabelValues("persist").Inc()

		parts, err := ds.Partitions(ctx)
		if err != nil {
			return memo{src: df}, errdefs.Backend("persist", err)
		}
		var out *Dataset
		if lvl == execution.DiskOnly {
			if out, err = e.spill(ctx, ds, parts); err != nil {
				return memo{src: df}, err
			}
		} else {
			out = materialized(ds.schema, ds.meta, ds.mem, parts)
		}
		out.level = lvl
		out.broadcast = ds.broadcast

		count, err := out.Count(ctx)
		if err != nil {
			return memo{src: df}, errdefs.Backend("persist", err)
		}
		level.Info(e.logger).Log("msg", "persist dataframe", "level", lvl, "count", count)
		return memo{src: df, out: out}, nil
	})
	return m.out, err
}

// spill writes parts to the session bucket and returns a dataset reading
// them back on every access.
func (e *Engine) spill(ctx context.Context, ds *Dataset, parts []arrow.Record) (*Dataset, error) {
	dir := path.Join(e.session.spillDir, ulid.Make().String()+dataio.Arrow.Ext())
	if err := e.io.Save(ctx, ds.schema, parts, dir, execution.SaveOptions{
		Format: string(dataio.Arrow),
		Mode:   execution.SaveError,
	}); err != nil {
		return nil, err
	}

	return newDataset(ds.schema, ds.meta, ds.mem, func(ctx context.Context) ([]arrow.Record, error) {
		_, recs, err := e.io.Load(ctx, []string{dir}, execution.LoadOptions{Format: string(dataio.Arrow)})
		return recs, err
	}), nil
}

// Register converts df once and points the view name at it. Registering
// another dataframe under the same name replaces the view.
func (e *Engine) Register(ctx context.Context, df dataframe.DataFrame, name string) (dataframe.DataFrame, error) {
	if name == "" {
		return nil, errdefs.Configurationf("view name must not be empty")
	}
	m, err := e.memos(ctx).registers.Do(runonce.ObjectKey(df), func() (memo, error) {
		ds, err := e.toDataset(ctx, df, nil, nil)
		if err != nil {
			return memo{src: df}, err
		}
		e.metrics.operations.WithLabelValues("register").Inc()
		return memo{src: df, out: ds}, nil
	})
	if err != nil {
		return nil, err
	}
	if e.session.replaceView(name, m.out) {
		level.Debug(e.logger).Log("msg", "registered view", "name", name)
	}
	return m.out, nil
}

func (e *Engine) LoadDF(ctx context.Context, paths []string, opts execution.LoadOptions) (dataframe.DataFrame, error) {
	ctx, span := tracer.Start(ctx, "Engine.LoadDF", trace.WithAttributes(
		attribute.StringSlice("paths", paths),
		attribute.String("format", opts.Format),
	))
	defer span.End()

	e.metrics.operations.WithLabelValues("load").Inc()
	schema, recs, err := e.io.Load(ctx, paths, opts)
	if err != nil {
		return nil, err
	}
	return materialized(schema, nil, e.session.mem, recs), nil
}

// SaveDF writes df to p. A partition count in opts.Partition repartitions df
// first.
func (e *Engine) SaveDF(ctx context.Context, df dataframe.DataFrame, p string, opts execution.SaveOptions) error {
	ctx, span := tracer.Start(ctx, "Engine.SaveDF", trace.WithAttributes(
		attribute.String("path", p),
		attribute.String("format", opts.Format),
		attribute.String("mode", string(opts.Mode)),
		attribute.Bool("force_single", opts.ForceSingle),
	))
	defer span.End()

	ds, err := e.toDataset(ctx, df, nil, nil)
	if err != nil {
		return err
	}
	if n := opts.Partition.Num(); n != "" && n != "0" && !opts.ForceSingle {
		if ds, err = e.repartition(ctx, ds, opts.Partition); err != nil {
			return err
		}
	}

	e.metrics.operations.WithLabelValues("save").Inc()
	parts, err := ds.Partitions(ctx)
	if err != nil {
		return errdefs.Backend("save", err)
	}
	return e.io.Save(ctx, ds.schema, parts, p, opts)
}

// runPartitions runs fn for every partition index on the worker pool and
// returns the results in index order. The first error cancels the remaining
// partitions.
//
// fn must not evaluate other datasets of the engine: nested evaluation can
// exhaust the pool.
func (e *Engine) runPartitions(ctx context.Context, n int, fn func(ctx context.Context, i int) (arrow.Record, error)) ([]arrow.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		out      = make([]arrow.Record, n)
		wg       sync.WaitGroup
		mut      sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mut.Lock()
		defer mut.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for i := range n {
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					setErr(errdefs.Backend(fmt.Sprintf("partition %d", i), fmt.Errorf("panic: %v", r)))
				}
			}()
			if err := ctx.Err(); err != nil {
				setErr(err)
				return
			}
			rec, err := fn(ctx, i)
			if err != nil {
				setErr(errdefs.Backend(fmt.Sprintf("partition %d", i), err))
				return
			}
			e.metrics.partitions.Inc()
			out[i] = rec
		})
		if err != nil {
			wg.Done()
			setErr(errdefs.Backend("submit partition", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
