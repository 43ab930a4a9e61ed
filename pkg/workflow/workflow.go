// Package workflow represents dataframe computations as a DAG of tasks and
// runs them against an execution engine.
//
// Every task has a content identity. Within a run, deterministic tasks of the
// same identity execute once and share their result. Lazy tasks only execute
// when a non-lazy task depends on them.
package workflow

import (
	"context"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel"

	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/util/dag"
)

var tracer = otel.Tracer("pkg/workflow")

// Workflow builds a DAG of tasks. Tasks are named "_0", "_1", ... in the
// order they are added.
type Workflow struct {
	graph dag.Graph[*Task]
}

// New returns an empty workflow.
func New() *Workflow { return &Workflow{} }

// Add adds t with inputs as its upstream tasks, in input order. Inputs must
// already be part of the workflow.
func (w *Workflow) Add(t *Task, inputs ...*Task) error {
	if err := t.checkCopy(); err != nil {
		return err
	}
	if w.graph.Contains(t) || t.name != "" {
		return errdefs.Configurationf("task %s was already added to a workflow", t)
	}
	if len(inputs) != len(t.inputNames) {
		return errdefs.Configurationf("task expects %d inputs, got %d", len(t.inputNames), len(inputs))
	}
	for _, in := range inputs {
		if in == nil || !w.graph.Contains(in) {
			return errdefs.Configurationf("input %v is not part of the workflow", in)
		}
	}

	w.graph.Add(t)
	for _, in := range inputs {
		if slices.Contains(w.graph.Parents(t), in) {
			continue
		}
		if err := w.graph.AddEdge(dag.Edge[*Task]{Parent: in, Child: t}); err != nil {
			return err
		}
	}
	t.name = "_" + strconv.Itoa(w.graph.Len()-1)
	t.upstream = append([]*Task(nil), inputs...)
	return nil
}

// Create adds a create task.
func (w *Workflow) Create(creator Creator, opts ...Option) (*Task, error) {
	t, err := NewCreate(creator, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Process adds a process task fed by inputs.
func (w *Workflow) Process(processor Processor, inputs []*Task, opts ...Option) (*Task, error) {
	t, err := NewProcess(len(inputs), processor, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Add(t, inputs...); err != nil {
		return nil, err
	}
	return t, nil
}

// Output adds an output task fed by inputs.
func (w *Workflow) Output(outputter Outputter, inputs []*Task, opts ...Option) (*Task, error) {
	t, err := NewOutput(len(inputs), outputter, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Add(t, inputs...); err != nil {
		return nil, err
	}
	return t, nil
}

// Tasks returns the tasks in the order they were added.
func (w *Workflow) Tasks() []*Task { return w.graph.Nodes() }

// Len returns the number of tasks.
func (w *Workflow) Len() int { return w.graph.Len() }

// Run executes the workflow on engine with a default runner.
func (w *Workflow) Run(ctx context.Context, engine execution.ExecutionEngine) (*WorkflowContext, error) {
	r := NewRunner(RunnerParams{Logger: engine.Log()})
	return r.Run(ctx, w, engine)
}
