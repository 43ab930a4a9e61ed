package workflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/partition"
	"github.com/dagframe/dagframe/pkg/util/runonce"
)

// Role is the closed set of task kinds.
type Role uint8

const (
	RoleCreate Role = iota + 1
	RoleProcess
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleCreate:
		return "create"
	case RoleProcess:
		return "process"
	case RoleOutput:
		return "output"
	}
	return "Role(" + strconv.Itoa(int(r)) + ")"
}

// dummySchema is the schema of the placeholder result of output tasks.
var dummySchema = arrow.NewSchema([]arrow.Field{{Name: "_0", Type: arrow.PrimitiveTypes.Int32, Nullable: true}}, nil)

// Task is one node of a workflow. It wraps a [Creator], a [Processor] or an
// [Outputter] and carries a content identity used to reuse results within a
// run.
//
// Tasks must only be used through the pointer returned by their constructor.
// A value copy is detected and rejected by every operation.
type Task struct {
	self *Task

	role Role
	name string

	inputNames  []string
	inputHasKey bool
	outputs     int
	upstream    []*Task

	configs       dataframe.Metadata
	params        dataframe.Metadata
	deterministic bool
	lazy          bool
	prePartition  partition.Spec
	schema        *arrow.Schema

	creator     Creator
	processor   Processor
	outputter   Outputter
	extensionID string

	// persist is nil when no persist was requested. An empty level selects
	// the engine default.
	persist             *execution.PersistLevel
	broadcast           bool
	checkpoint          bool
	checkpointNamespace string
}

// Option configures a task at construction.
type Option func(*Task) error

// WithParams sets the parameter bag handed to the extension.
func WithParams(params dataframe.Metadata) Option {
	return func(t *Task) error {
		t.params = params.Clone()
		return nil
	}
}

// WithConfigs sets task level configuration. It is part of the identity but
// not visible to the extension.
func WithConfigs(configs dataframe.Metadata) Option {
	return func(t *Task) error {
		t.configs = configs.Clone()
		return nil
	}
}

// WithInputNames names the inputs. Named inputs reach the extension as a
// keyed [dataframe.DataFrames].
func WithInputNames(names ...string) Option {
	return func(t *Task) error {
		if len(names) != len(t.inputNames) {
			return errdefs.Configurationf("%d input names given for %d inputs", len(names), len(t.inputNames))
		}
		t.inputNames = append([]string(nil), names...)
		t.inputHasKey = true
		return nil
	}
}

// WithPrePartition sets the partitioning handed to processors and outputters.
func WithPrePartition(spec partition.Spec) Option {
	return func(t *Task) error {
		if t.role == RoleCreate {
			return errdefs.Configurationf("create tasks can't be pre-partitioned")
		}
		t.prePartition = spec
		return nil
	}
}

// WithSchema declares the output schema of the extension.
func WithSchema(schema *arrow.Schema) Option {
	return func(t *Task) error {
		t.schema = schema
		return nil
	}
}

// WithExtensionIdentity sets the identity of the wrapped extension, taking
// precedence over [Identifier]. Use it to make tasks built from closures
// interchangeable.
func WithExtensionIdentity(id string) Option {
	return func(t *Task) error {
		if id == "" {
			return errdefs.Configurationf("extension identity must not be empty")
		}
		t.extensionID = id
		return nil
	}
}

// Lazy marks whether the task may be skipped when nothing depends on it.
func Lazy(lazy bool) Option {
	return func(t *Task) error {
		t.lazy = lazy
		return nil
	}
}

// Deterministic marks whether the task produces the same result for the
// same identity. Only deterministic tasks are reused by identity.
func Deterministic(deterministic bool) Option {
	return func(t *Task) error {
		t.deterministic = deterministic
		return nil
	}
}

// WithOutputs sets the number of output slots. Tasks have at most one.
func WithOutputs(n int) Option {
	return func(t *Task) error {
		switch {
		case n > 1:
			return errdefs.Unsupportedf("multiple output tasks are not supported")
		case n < 0:
			return errdefs.Configurationf("invalid output count %d", n)
		}
		t.outputs = n
		return nil
	}
}

// NewCreate returns a task producing a dataframe with creator. Create tasks
// are lazy unless configured otherwise.
func NewCreate(creator Creator, opts ...Option) (*Task, error) {
	if creator == nil {
		return nil, errdefs.Configurationf("creator is required")
	}
	t := &Task{role: RoleCreate, creator: creator, lazy: true}
	return t.init(0, opts)
}

// NewProcess returns a task transforming n inputs with processor.
func NewProcess(n int, processor Processor, opts ...Option) (*Task, error) {
	if processor == nil {
		return nil, errdefs.Configurationf("processor is required")
	}
	t := &Task{role: RoleProcess, processor: processor}
	return t.init(n, opts)
}

// NewOutput returns a task consuming n inputs with outputter. n must be at
// least one.
func NewOutput(n int, outputter Outputter, opts ...Option) (*Task, error) {
	if outputter == nil {
		return nil, errdefs.Configurationf("outputter is required")
	}
	if n <= 0 {
		return nil, errdefs.Configurationf("output tasks must have at least one input")
	}
	t := &Task{role: RoleOutput, outputter: outputter}
	return t.init(n, opts)
}

func (t *Task) init(n int, opts []Option) (*Task, error) {
	if n < 0 {
		return nil, errdefs.Configurationf("invalid input count %d", n)
	}
	t.self = t
	t.deterministic = true
	t.outputs = 1
	t.inputNames = make([]string, n)
	for i := range t.inputNames {
		t.inputNames[i] = "_" + strconv.Itoa(i)
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Task) checkCopy() error {
	if t.self != t {
		return errdefs.Unsupportedf("task %s can't be copied", t.name)
	}
	return nil
}

// Clone always fails: tasks can't be copied.
func (t *Task) Clone() (*Task, error) {
	return nil, errdefs.Unsupportedf("task %s can't be copied", t.name)
}

func (t *Task) Role() Role { return t.role }

// Name returns the name assigned by the workflow, empty for tasks that were
// never added to one.
func (t *Task) Name() string { return t.name }

func (t *Task) String() string {
	if t.name == "" {
		return t.role.String()
	}
	return t.name
}

func (t *Task) NumInputs() int { return len(t.inputNames) }

func (t *Task) InputNames() []string { return append([]string(nil), t.inputNames...) }

func (t *Task) IsLazy() bool { return t.lazy }

func (t *Task) IsDeterministic() bool { return t.deterministic }

// SingleOutputExpression returns the reference to the single output of the
// task, such as "_1._0".
func (t *Task) SingleOutputExpression() (string, error) {
	if err := t.checkCopy(); err != nil {
		return "", err
	}
	if t.outputs != 1 {
		return "", errdefs.Configurationf("task %s does not have single output", t)
	}
	return t.name + "._0", nil
}

// Persist requests the result to be persisted at level. The empty level
// selects the engine default.
func (t *Task) Persist(level execution.PersistLevel) error {
	if err := t.checkCopy(); err != nil {
		return err
	}
	lvl, err := execution.ParsePersistLevel(string(level), "")
	if err != nil {
		return err
	}
	t.persist = &lvl
	return nil
}

// Broadcast requests the result to be broadcast.
func (t *Task) Broadcast() error {
	if err := t.checkCopy(); err != nil {
		return err
	}
	t.broadcast = true
	return nil
}

// Checkpoint records a checkpoint request. It only affects the identity.
func (t *Task) Checkpoint(namespace string) error {
	if err := t.checkCopy(); err != nil {
		return err
	}
	t.checkpoint = true
	t.checkpointNamespace = namespace
	return nil
}

// Identity returns the content identity of the task. It is derived on every
// call so that it reflects the current persist, broadcast and checkpoint
// hints.
func (t *Task) Identity() (string, error) {
	if err := t.checkCopy(); err != nil {
		return "", err
	}

	h := newHasher()
	h.metadata(t.configs)
	h.bool(t.inputHasKey)
	h.strings(t.inputNames)
	h.int(t.outputs)
	h.metadata(t.params)
	h.bool(t.deterministic)
	h.bool(t.lazy)

	// The structural position is the identity of what feeds each input.
	h.int(len(t.upstream))
	for _, up := range t.upstream {
		id, err := up.Identity()
		if err != nil {
			return "", err
		}
		h.str(id)
	}

	if t.persist == nil {
		h.str("")
	} else {
		h.str("persist:" + string(*t.persist))
	}
	h.bool(t.broadcast)
	h.bool(t.checkpoint)
	h.str(t.checkpointNamespace)

	h.str(t.role.String())
	h.str(t.extensionIdentity())
	h.str(t.prePartition.String())
	h.str(schemaString(t.schema))
	return h.sum(), nil
}

// extensionIdentity falls back to the task instance when the extension has
// no identity of its own.
func (t *Task) extensionIdentity() string {
	if t.extensionID != "" {
		return "id:" + t.extensionID
	}
	if id, ok := extensionIdentity(t.extension()); ok {
		return id
	}
	return runonce.ObjectKey(t.self)
}

func (t *Task) extension() any {
	switch t.role {
	case RoleCreate:
		return t.creator
	case RoleProcess:
		return t.processor
	default:
		return t.outputter
	}
}

func schemaString(s *arrow.Schema) string {
	if s == nil {
		return ""
	}
	if expr, err := dataframe.FormatSchema(s); err == nil {
		return expr
	}
	return s.String()
}

// Execute runs the task against the engine of wctx with the results of its
// upstream tasks, applies persist then broadcast, and records the result in
// wctx.
func (t *Task) Execute(ctx context.Context, wctx *WorkflowContext, inputs []dataframe.DataFrame) (dataframe.DataFrame, error) {
	if err := t.checkCopy(); err != nil {
		return nil, err
	}
	if len(inputs) != len(t.inputNames) {
		return nil, errdefs.Configurationf("task %s expects %d inputs, got %d", t, len(t.inputNames), len(inputs))
	}

	ctx, span := tracer.Start(ctx, "Task.Execute", trace.WithAttributes(
		attribute.String("task", t.String()),
		attribute.Stringer("role", t.role),
	))
	defer span.End()

	engine := wctx.Engine()
	ec := ExtensionContext{
		Engine:    engine,
		Logger:    engine.Log(),
		Params:    t.params.Clone(),
		Partition: t.prePartition,
		Schema:    t.schema,
	}

	var (
		df  dataframe.DataFrame
		err error
	)
	switch t.role {
	case RoleCreate:
		df, err = t.creator.Create(ctx, ec)
	case RoleProcess:
		var dfs dataframe.DataFrames
		if dfs, err = t.gather(inputs); err == nil {
			df, err = t.processor.Process(ctx, ec, dfs)
		}
	case RoleOutput:
		var dfs dataframe.DataFrames
		if dfs, err = t.gather(inputs); err == nil {
			err = t.outputter.Output(ctx, ec, dfs)
		}
		// Downstream bookkeeping expects every task to yield a dataframe.
		df = dataframe.Empty(dummySchema)
	default:
		err = fmt.Errorf("unknown task role %s", t.role)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if df == nil {
		return nil, errdefs.Configurationf("task %s produced no dataframe", t)
	}

	if t.role != RoleOutput {
		if df, err = t.handlePersist(ctx, engine, df); err != nil {
			return nil, err
		}
		if df, err = t.handleBroadcast(ctx, engine, df); err != nil {
			return nil, err
		}
	}
	if err := wctx.SetResult(t, df); err != nil {
		return nil, err
	}
	return df, nil
}

func (t *Task) gather(inputs []dataframe.DataFrame) (dataframe.DataFrames, error) {
	if t.inputHasKey {
		return dataframe.NewKeyedDataFrames(t.inputNames, inputs)
	}
	return dataframe.NewDataFrames(inputs...), nil
}

func (t *Task) handlePersist(ctx context.Context, engine execution.ExecutionEngine, df dataframe.DataFrame) (dataframe.DataFrame, error) {
	if t.persist == nil {
		return df, nil
	}
	return engine.Persist(ctx, df, *t.persist)
}

func (t *Task) handleBroadcast(ctx context.Context, engine execution.ExecutionEngine, df dataframe.DataFrame) (dataframe.DataFrame, error) {
	if !t.broadcast {
		return df, nil
	}
	return engine.Broadcast(ctx, df)
}
