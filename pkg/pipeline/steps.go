package pipeline

import (
	"context"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/execution"
	"github.com/dagframe/dagframe/pkg/workflow"
)

type loader struct{ step Step }

func (loader) Identity() string { return KindLoad }

func (l loader) Create(ctx context.Context, ec workflow.ExtensionContext) (dataframe.DataFrame, error) {
	return ec.Engine.LoadDF(ctx, l.step.Paths, execution.LoadOptions{
		Format:  l.step.Format,
		Columns: l.step.Columns,
	})
}

type selector struct{ step Step }

func (selector) Identity() string { return KindSQL }

func (s selector) Process(ctx context.Context, ec workflow.ExtensionContext, dfs dataframe.DataFrames) (dataframe.DataFrame, error) {
	return ec.Engine.DefaultSQLEngine().Select(ctx, dfs, s.step.Statement)
}

type repartitioner struct{}

func (repartitioner) Identity() string { return KindRepartition }

func (repartitioner) Process(ctx context.Context, ec workflow.ExtensionContext, dfs dataframe.DataFrames) (dataframe.DataFrame, error) {
	return ec.Engine.Repartition(ctx, dfs.Get(0), ec.Partition)
}

type joiner struct{ step Step }

func (joiner) Identity() string { return KindJoin }

func (j joiner) Process(ctx context.Context, ec workflow.ExtensionContext, dfs dataframe.DataFrames) (dataframe.DataFrame, error) {
	return ec.Engine.Join(ctx, dfs.Get(0), dfs.Get(1), joinHow(j.step), j.step.On, nil)
}

type saver struct{ step Step }

func (saver) Identity() string { return KindSave }

func (s saver) Output(ctx context.Context, ec workflow.ExtensionContext, dfs dataframe.DataFrames) error {
	mode, err := execution.ParseSaveMode(s.step.Mode)
	if err != nil {
		return err
	}
	return ec.Engine.SaveDF(ctx, dfs.Get(0), s.step.Path, execution.SaveOptions{
		Format:      s.step.Format,
		Mode:        mode,
		Partition:   ec.Partition,
		ForceSingle: s.step.ForceSingle,
	})
}
