// Package execution defines the contract between the workflow layer and the
// backends that physically execute dataframe operations.
//
// An ExecutionEngine converts arbitrary data into its native dataframe,
// redistributes and maps partitions, joins, persists and broadcasts
// dataframes and delegates load and save to a format aware I/O layer. A
// SQLEngine runs declarative statements against named dataframes on top of
// one ExecutionEngine.
package execution

import (
	"context"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/partition"
)

// ExecutionEngine is implemented by backend adapters.
//
// Every method accepting a dataframe accepts any [dataframe.DataFrame] and
// converts it with ToDF first. Broadcast, Persist and Register are
// idempotent per dataframe instance within a run (see [WithRun]): calling
// them twice with the same instance runs the backend action once.
type ExecutionEngine interface {
	// Conf returns the merged engine configuration.
	Conf() Conf

	// Log returns the engine logger.
	Log() log.Logger

	// DefaultSQLEngine returns the SQL engine bound to this engine.
	DefaultSQLEngine() SQLEngine

	// Stop releases the resources held by the engine. It does not close
	// the backend session, which is owned by the caller.
	Stop() error

	// ToDF converts data into the engine's native dataframe. A native
	// dataframe is returned unchanged. schema and meta must be nil when
	// data is already a [dataframe.DataFrame].
	ToDF(ctx context.Context, data any, schema *arrow.Schema, meta dataframe.Metadata) (dataframe.DataFrame, error)

	// Repartition redistributes df according to spec and sorts rows
	// within partitions by the partition keys and the presort.
	Repartition(ctx context.Context, df dataframe.DataFrame, spec partition.Spec) (dataframe.DataFrame, error)

	// Map applies a partition-wise map function.
	Map(ctx context.Context, df dataframe.DataFrame, req MapRequest) (dataframe.DataFrame, error)

	// Join joins left and right. how is any spelling accepted by
	// [NormalizeJoinKind]; on defaults to the common columns.
	Join(ctx context.Context, left, right dataframe.DataFrame, how string, on []string, meta dataframe.Metadata) (dataframe.DataFrame, error)

	// Broadcast marks df to be shipped whole to every worker.
	Broadcast(ctx context.Context, df dataframe.DataFrame) (dataframe.DataFrame, error)

	// Persist materializes df at the given level. The empty level selects
	// the configured default.
	Persist(ctx context.Context, df dataframe.DataFrame, level PersistLevel) (dataframe.DataFrame, error)

	// Register makes df available to the SQL engine under name.
	Register(ctx context.Context, df dataframe.DataFrame, name string) (dataframe.DataFrame, error)

	// LoadDF reads the dataframe stored at paths.
	LoadDF(ctx context.Context, paths []string, opts LoadOptions) (dataframe.DataFrame, error)

	// SaveDF writes df to path.
	SaveDF(ctx context.Context, df dataframe.DataFrame, path string, opts SaveOptions) error
}

// SQLEngine runs SQL statements over named dataframes.
type SQLEngine interface {
	// ExecutionEngine returns the engine the SQL engine is bound to.
	ExecutionEngine() ExecutionEngine

	// Select runs statement with the dataframes of dfs available as tables
	// named after their keys.
	Select(ctx context.Context, dfs dataframe.DataFrames, statement string) (dataframe.DataFrame, error)
}

// LoadOptions configures ExecutionEngine.LoadDF.
type LoadOptions struct {
	// Format is the format hint. It is inferred from the path when empty.
	Format string

	// Columns is either a schema expression selecting and typing columns
	// or a comma separated list of column names.
	Columns string
}

// SaveMode controls what happens when the target of a save already exists.
type SaveMode string

const (
	SaveOverwrite SaveMode = "overwrite"
	SaveAppend    SaveMode = "append"
	SaveError     SaveMode = "error"
)

// ParseSaveMode parses a save mode name. The empty string selects
// [SaveOverwrite].
func ParseSaveMode(name string) (SaveMode, error) {
	switch mode := SaveMode(strings.ToLower(strings.TrimSpace(name))); mode {
	case "":
		return SaveOverwrite, nil
	case SaveOverwrite, SaveAppend, SaveError:
		return mode, nil
	}
	return "", errdefs.Configurationf("%q is not a supported save mode", name)
}

// SaveOptions configures ExecutionEngine.SaveDF.
type SaveOptions struct {
	Format string
	Mode   SaveMode

	// Partition describes the output layout. Partition keys become
	// key=value directories.
	Partition partition.Spec

	// ForceSingle funnels all partitions through a single writer into one
	// object.
	ForceSingle bool
}
