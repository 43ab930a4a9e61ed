package arrowengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/dagframe/dagframe/pkg/dataframe"
	"github.com/dagframe/dagframe/pkg/errdefs"
	"github.com/dagframe/dagframe/pkg/execution"
)

// SQLEngine runs statements over named dataframes. Every statement runs on a
// fresh in-memory SQLite database loaded with exactly the dataframes it was
// given.
type SQLEngine struct {
	engine *Engine
}

var _ execution.SQLEngine = (*SQLEngine)(nil)

// NewSQLEngine returns a SQL engine bound to engine, which must be an
// [Engine].
func NewSQLEngine(engine execution.ExecutionEngine) (*SQLEngine, error) {
	e, ok := engine.(*Engine)
	if !ok {
		return nil, errdefs.Configurationf("%T is not supported by the arrow SQL engine", engine)
	}
	return &SQLEngine{engine: e}, nil
}

func (s *SQLEngine) ExecutionEngine() execution.ExecutionEngine { return s.engine }

// Select registers every dataframe of dfs as a view named after its key and
// runs statement. The result is evaluated eagerly.
func (s *SQLEngine) Select(ctx context.Context, dfs dataframe.DataFrames, statement string) (dataframe.DataFrame, error) {
	e := s.engine
	ctx, span := tracer.Start(ctx, "SQLEngine.Select", trace.WithAttributes(
		attribute.Int("inputs", dfs.Len()),
	))
	defer span.End()

	views := make([]*Dataset, dfs.Len())
	for i, name := range dfs.Names() {
		view, err := e.Register(ctx, dfs.Get(i), name)
		if err != nil {
			return nil, err
		}
		views[i] = view.(*Dataset)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, errdefs.Backend("open sqlite", err)
	}
	defer db.Close()
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	for i, name := range dfs.Names() {
		if err := s.load(ctx, db, name, views[i]); err != nil {
			return nil, err
		}
	}

	e.metrics.operations.WithLabelValues("select").Inc()
	level.Debug(e.logger).Log("msg", "running sql", "statement", statement)

	schema, rows, err := query(ctx, db, statement)
	if err != nil {
		return nil, err
	}
	rec, err := dataframe.RecordFromRows(e.session.mem, schema, rows)
	if err != nil {
		return nil, err
	}
	return materialized(schema, nil, e.session.mem, []arrow.Record{rec}), nil
}

// load creates table name with the rows of ds.
func (s *SQLEngine) load(ctx context.Context, db *sql.DB, name string, ds *Dataset) error {
	var columns []string
	for _, f := range ds.schema.Fields() {
		typ, err := sqlType(f.Type)
		if err != nil {
			return fmt.Errorf("view %s column %s: %w", name, f.Name, err)
		}
		columns = append(columns, quoteIdent(f.Name)+" "+typ)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(columns, ", "))); err != nil {
		return errdefs.Backend("create table "+name, err)
	}

	rec, err := ds.record(ctx)
	if err != nil {
		return err
	}
	if rec.NumRows() == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errdefs.Backend("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", ds.schema.NumFields()), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), placeholders))
	if err != nil {
		return errdefs.Backend("prepare insert "+name, err)
	}
	defer stmt.Close()

	for i := range int(rec.NumRows()) {
		row := dataframe.RowAt(rec, i)
		for c, v := range row {
			row[c] = sqlValue(v)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return errdefs.Backend("insert "+name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errdefs.Backend("commit", err)
	}
	return nil
}

// query runs statement and returns the result rows. Column types come from
// the declared type of the column, or from its first non-null value for
// computed columns.
func query(ctx context.Context, db *sql.DB, statement string) (*arrow.Schema, [][]any, error) {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return nil, nil, errdefs.Backend("query", err)
	}
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, errdefs.Backend("query", err)
	}

	var out [][]any
	for rows.Next() {
		row := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, errdefs.Backend("scan", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errdefs.Backend("query", err)
	}

	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		typ, ok := arrowType(col.DatabaseTypeName())
		if !ok {
			typ = inferType(out, i)
		}
		fields[i] = arrow.Field{Name: col.Name(), Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), out, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlType returns the declared SQLite type of dt. The names map back to the
// same Arrow type in arrowType.
func sqlType(dt arrow.DataType) (string, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return "BOOLEAN", nil
	case arrow.INT8:
		return "TINYINT", nil
	case arrow.UINT8:
		return "UTINYINT", nil
	case arrow.INT16:
		return "SMALLINT", nil
	case arrow.INT32:
		return "INT", nil
	case arrow.INT64:
		return "BIGINT", nil
	case arrow.FLOAT32:
		return "FLOAT", nil
	case arrow.FLOAT64:
		return "DOUBLE", nil
	case arrow.STRING, arrow.LARGE_STRING:
		return "TEXT", nil
	case arrow.BINARY:
		return "BLOB", nil
	case arrow.DATE32:
		return "DATE", nil
	case arrow.TIMESTAMP:
		return "TIMESTAMP", nil
	}
	return "", errdefs.Unsupportedf("type %s can't be used in SQL", dt)
}

func arrowType(declared string) (arrow.DataType, bool) {
	switch strings.ToUpper(declared) {
	case "BOOLEAN":
		return arrow.FixedWidthTypes.Boolean, true
	case "TINYINT":
		return arrow.PrimitiveTypes.Int8, true
	case "UTINYINT":
		return arrow.PrimitiveTypes.Uint8, true
	case "SMALLINT":
		return arrow.PrimitiveTypes.Int16, true
	case "INT":
		return arrow.PrimitiveTypes.Int32, true
	case "BIGINT", "INTEGER":
		return arrow.PrimitiveTypes.Int64, true
	case "FLOAT":
		return arrow.PrimitiveTypes.Float32, true
	case "DOUBLE", "REAL":
		return arrow.PrimitiveTypes.Float64, true
	case "TEXT":
		return arrow.BinaryTypes.String, true
	case "BLOB":
		return arrow.BinaryTypes.Binary, true
	case "DATE":
		return arrow.FixedWidthTypes.Date32, true
	case "TIMESTAMP":
		return arrow.FixedWidthTypes.Timestamp_us, true
	}
	return nil, false
}

func inferType(rows [][]any, col int) arrow.DataType {
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case int64:
			return arrow.PrimitiveTypes.Int64
		case float64:
			return arrow.PrimitiveTypes.Float64
		case []byte:
			return arrow.BinaryTypes.Binary
		case time.Time:
			return arrow.FixedWidthTypes.Timestamp_us
		case bool:
			return arrow.FixedWidthTypes.Boolean
		}
		return arrow.BinaryTypes.String
	}
	return arrow.BinaryTypes.String
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case int8:
		return int64(x)
	case uint8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}
