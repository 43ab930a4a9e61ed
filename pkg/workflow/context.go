package workflow

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/util/runonce"
)

// WorkflowContext is the state of one workflow run: the bound engine, the
// result of every executed task instance and the results shared between
// tasks of the same identity.
type WorkflowContext struct {
	engine execution.ExecutionEngine
	runID  ulid.ULID

	mut     sync.RWMutex
	results map[*Task]dataframe.DataFrame

	byIdentity runonce.Group[dataframe.DataFrame]
}

// NewWorkflowContext returns a context for a new run on engine.
func NewWorkflowContext(engine execution.ExecutionEngine) *WorkflowContext {
	return &WorkflowContext{
		engine:  engine,
		runID:   ulid.Make(),
		results: make(map[*Task]dataframe.DataFrame),
	}
}

func (c *WorkflowContext) Engine() execution.ExecutionEngine { return c.engine }

func (c *WorkflowContext) RunID() ulid.ULID { return c.runID }

// SetResult records the result of t. A result is never overwritten.
func (c *WorkflowContext) SetResult(t *Task, df dataframe.DataFrame) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	if _, ok := c.results[t]; ok {
		return errdefs.Configurationf("result of task %s is already set", t)
	}
	c.results[t] = df
	return nil
}

// Result returns the result of t, if it was executed in this run.
func (c *WorkflowContext) Result(t *Task) (dataframe.DataFrame, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()
	df, ok := c.results[t]
	return df, ok
}

// Len returns the number of recorded results.
func (c *WorkflowContext) Len() int {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return len(c.results)
}
