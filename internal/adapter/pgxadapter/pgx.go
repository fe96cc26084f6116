// Package pgxadapter is a PostgreSQL backend that talks to the database
// through pgx directly, without an ORM.
package pgxadapter

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/migration"
	"go.uber.org/zap"
)

const backendID = "pgx"

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Adapter struct {
	q      Querier
	mapper *adapter.Mapper
	log    *zap.Logger
}

func New(q Querier, mapper *adapter.Mapper, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{q: q, mapper: mapper, log: log.Named("adapter.pgx")}
}

func (a *Adapter) ID() string { return backendID }

// WithQuerier returns a copy bound to q, typically a transaction.
func (a *Adapter) WithQuerier(q Querier) *Adapter {
	return &Adapter{q: q, mapper: a.mapper, log: a.log}
}

func (a *Adapter) query(ctx context.Context, model, op, sql string, args []any) ([]adapter.Record, error) {
	a.log.Debug("query", zap.String("model", model), zap.String("op", op), zap.String("sql", sql))
	rows, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, adapter.Wrap(backendID, model, op, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, adapter.Wrap(backendID, model, op, err)
	}
	out := make([]adapter.Record, len(maps))
	for i, m := range maps {
		out[i] = adapter.Record(m)
	}
	return out, nil
}

func (a *Adapter) exec(ctx context.Context, model, op, sql string, args []any) (int64, error) {
	a.log.Debug("exec", zap.String("model", model), zap.String("op", op), zap.String("sql", sql))
	tag, err := a.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, adapter.Wrap(backendID, model, op, err)
	}
	return tag.RowsAffected(), nil
}

func (a *Adapter) Create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	row, err := a.mapper.ToCreate(model, data)
	if err != nil {
		return nil, err
	}
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	sql, args := buildInsert(t.ModelName(), sortedColumns(row), row)
	rows, err := a.query(ctx, model, "create", sql, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, adapter.Wrap(backendID, model, "create", fmt.Errorf("insert returned no row"))
	}
	return a.mapper.FromStorage(model, rows[0], nil)
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []adapter.Where, selects ...string) (adapter.Record, error) {
	rows, err := a.selectRows(ctx, model, adapter.Query{Where: where, Limit: 1}, selects)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return a.mapper.FromStorage(model, rows[0], selects)
}

func (a *Adapter) FindMany(ctx context.Context, model string, q adapter.Query) ([]adapter.Record, error) {
	rows, err := a.selectRows(ctx, model, q, nil)
	if err != nil {
		return nil, err
	}
	out := make([]adapter.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := a.mapper.FromStorage(model, row, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Adapter) selectRows(ctx context.Context, model string, q adapter.Query, selects []string) ([]adapter.Record, error) {
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	columns, err := a.mapper.Columns(model, selects)
	if err != nil {
		return nil, err
	}
	where, err := a.mapper.Where(model, q.Where)
	if err != nil {
		return nil, err
	}
	sortBy, err := a.mapper.SortBy(model, q.SortBy)
	if err != nil {
		return nil, err
	}
	idCol, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, err
	}
	sql, args, err := buildSelect(selectQuery{
		table:   t.ModelName(),
		columns: columns,
		where:   where,
		sortBy:  sortBy,
		idCol:   idCol,
		limit:   q.Limit,
		offset:  q.Offset,
	})
	if err != nil {
		return nil, err
	}
	return a.query(ctx, model, "find", sql, args)
}

func (a *Adapter) Update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return a.FindOne(ctx, model, where)
	}
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return nil, err
	}
	idCol, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, err
	}
	sql, args, err := buildUpdateFirst(t.ModelName(), idCol, sortedColumns(values), values, clauses)
	if err != nil {
		return nil, err
	}
	rows, err := a.query(ctx, model, "update", sql, args)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return a.mapper.FromStorage(model, rows[0], nil)
}

func (a *Adapter) UpdateMany(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (int64, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil || len(values) == 0 {
		return 0, err
	}
	t, err := a.mapper.Table(model)
	if err != nil {
		return 0, err
	}
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return 0, err
	}
	sql, args, err := buildUpdateMany(t.ModelName(), sortedColumns(values), values, clauses)
	if err != nil {
		return 0, err
	}
	return a.exec(ctx, model, "update_many", sql, args)
}

func (a *Adapter) Delete(ctx context.Context, model string, where []adapter.Where) error {
	t, err := a.mapper.Table(model)
	if err != nil {
		return err
	}
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return err
	}
	idCol, err := a.mapper.IDColumn(model)
	if err != nil {
		return err
	}
	sql, args, err := buildDeleteFirst(t.ModelName(), idCol, clauses)
	if err != nil {
		return err
	}
	_, err = a.exec(ctx, model, "delete", sql, args)
	return err
}

func (a *Adapter) DeleteMany(ctx context.Context, model string, where []adapter.Where) (int64, error) {
	t, err := a.mapper.Table(model)
	if err != nil {
		return 0, err
	}
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return 0, err
	}
	sql, args, err := buildDeleteMany(t.ModelName(), clauses)
	if err != nil {
		return 0, err
	}
	return a.exec(ctx, model, "delete_many", sql, args)
}

const columnsQuery = `SELECT table_name::text, column_name::text FROM information_schema.columns WHERE table_schema = current_schema()`

// Migrate creates missing tables and adds missing columns. When ids come
// from the database, primary keys default to gen_random_uuid().
func (a *Adapter) Migrate(ctx context.Context) error {
	rows, err := a.q.Query(ctx, columnsQuery)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	type column struct {
		Table  string
		Column string
	}
	columns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (column, error) {
		var c column
		err := row.Scan(&c.Table, &c.Column)
		return c, err
	})
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	existing := migration.Existing{}
	for _, c := range columns {
		if existing[c.Table] == nil {
			existing[c.Table] = map[string]bool{}
		}
		existing[c.Table][c.Column] = true
	}

	stmts, err := migration.Plan(migration.Options{
		Dialect:   migration.Postgres,
		NativeIDs: !a.mapper.GeneratesIDs(),
	}, a.mapper.Schema(), existing)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		a.log.Info("applying schema change", zap.String("sql", stmt))
		if _, err := a.q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the pool when the adapter was built over one.
func (a *Adapter) Close() error {
	if c, ok := a.q.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func sortedColumns(row adapter.Record) []string {
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}
