// Package pipeline turns a declarative list of steps into a workflow.
//
// A pipeline file looks like:
//
//	steps:
//	  - name: events
//	    kind: load
//	    paths: [raw/events]
//	    columns: "user:str,amount:long"
//	  - name: totals
//	    kind: sql
//	    inputs: [events]
//	    statement: SELECT user, SUM(amount) AS total FROM events GROUP BY user
//	  - kind: save
//	    inputs: [totals]
//	    path: reports/totals.parquet
//	    force_single: true
package pipeline

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/partition"
	"github.com/dagframe/dagframe/pkg/workflow"
)

const (
	KindLoad        = "load"
	KindSQL         = "sql"
	KindRepartition = "repartition"
	KindJoin        = "join"
	KindSave        = "save"
)

// Config is the content of a pipeline file.
type Config struct {
	Steps []Step `yaml:"steps"`
}

// Step is one pipeline step. Which fields apply depends on Kind.
type Step struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind"`
	Inputs []string `yaml:"inputs"`

	// load and save
	Paths   []string `yaml:"paths"`
	Path    string   `yaml:"path"`
	Format  string   `yaml:"format"`
	Columns string   `yaml:"columns"`

	// sql
	Statement string `yaml:"statement"`

	// join
	How string   `yaml:"how"`
	On  []string `yaml:"on"`

	// Partition is a partition hint such as "by:a;num:4" used by
	// repartition and save.
	Partition string `yaml:"partition"`

	// save
	Mode        string `yaml:"mode"`
	ForceSingle bool   `yaml:"force_single"`

	// Persist is a persist level, or "default" for the engine default.
	Persist   string `yaml:"persist"`
	Broadcast bool   `yaml:"broadcast"`
}

// params returns the step fields that define what the step computes.
func (s Step) params() dataframe.Metadata {
	m := dataframe.Metadata{}
	add := func(key string, value any) {
		switch v := value.(type) {
		case string:
			if v == "" {
				return
			}
		case []string:
			if len(v) == 0 {
				return
			}
			value = strings.Join(v, "\x00")
		case bool:
			if !v {
				return
			}
		}
		m[key] = value
	}
	add("paths", s.Paths)
	add("path", s.Path)
	add("format", s.Format)
	add("columns", s.Columns)
	add("statement", s.Statement)
	add("how", s.How)
	add("on", s.On)
	add("mode", s.Mode)
	add("force_single", s.ForceSingle)
	return m
}

// Build validates cfg and returns the workflow running its steps.
func Build(cfg Config) (*workflow.Workflow, error) {
	var (
		wf    = workflow.New()
		named = make(map[string]*workflow.Task)
	)
	for i, step := range cfg.Steps {
		t, err := addStep(wf, named, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Name, err)
		}
		if step.Name == "" {
			continue
		}
		if _, ok := named[step.Name]; ok {
			return nil, errdefs.Configurationf("step %d: duplicate step name %q", i, step.Name)
		}
		named[step.Name] = t
	}
	if wf.Len() == 0 {
		return nil, errdefs.Configurationf("pipeline has no steps")
	}
	return wf, nil
}

func addStep(wf *workflow.Workflow, named map[string]*workflow.Task, step Step) (*workflow.Task, error) {
	inputs := make([]*workflow.Task, len(step.Inputs))
	for i, name := range step.Inputs {
		t, ok := named[name]
		if !ok {
			return nil, errdefs.Configurationf("unknown input %q", name)
		}
		inputs[i] = t
	}

	opts := []workflow.Option{workflow.WithParams(step.params())}
	if step.Partition != "" {
		spec, err := partition.Parse(step.Partition)
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithPrePartition(spec))
	}

	var (
		t   *workflow.Task
		err error
	)
	switch strings.ToLower(step.Kind) {
	case KindLoad:
		if len(inputs) > 0 || len(step.Paths) == 0 {
			return nil, errdefs.Configurationf("load takes paths and no inputs")
		}
		t, err = wf.Create(loader{step}, opts...)
	case KindSQL:
		if len(inputs) == 0 || step.Statement == "" {
			return nil, errdefs.Configurationf("sql takes a statement and at least one input")
		}
		opts = append(opts, workflow.WithInputNames(step.Inputs...))
		t, err = wf.Process(selector{step}, inputs, opts...)
	case KindRepartition:
		if len(inputs) != 1 || step.Partition == "" {
			return nil, errdefs.Configurationf("repartition takes a partition and one input")
		}
		t, err = wf.Process(repartitioner{}, inputs, opts...)
	case KindJoin:
		if len(inputs) != 2 {
			return nil, errdefs.Configurationf("join takes two inputs")
		}
		if _, err := execution.NormalizeJoinKind(joinHow(step)); err != nil {
			return nil, err
		}
		t, err = wf.Process(joiner{step}, inputs, opts...)
	case KindSave:
		if len(inputs) != 1 || step.Path == "" {
			return nil, errdefs.Configurationf("save takes a path and one input")
		}
		if _, err := execution.ParseSaveMode(step.Mode); err != nil {
			return nil, err
		}
		t, err = wf.Output(saver{step}, inputs, opts...)
	default:
		return nil, errdefs.Configurationf("unknown step kind %q", step.Kind)
	}
	if err != nil {
		return nil, err
	}

	if step.Persist != "" {
		lvl := execution.PersistLevel(step.Persist)
		if strings.EqualFold(step.Persist, "default") {
			lvl = ""
		}
		if err := t.Persist(lvl); err != nil {
			return nil, err
		}
	}
	if step.Broadcast {
		if err := t.Broadcast(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func joinHow(step Step) string { return cmp.Or(step.How, "inner") }
