// Package gormadapter stores chiron entities in SQL databases through GORM.
// Postgres, MySQL and SQLite dialects are supported; tables are driven by
// the effective schema rather than Go models.
package gormadapter

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/migration"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const backendID = "gorm"

// ErrApplicationIDRequired is returned when no id generator is configured.
var ErrApplicationIDRequired = errors.New("application_id_required")

type Adapter struct {
	db      *gorm.DB
	mapper  *adapter.Mapper
	dialect migration.Dialect
	log     *zap.Logger
}

func New(db *gorm.DB, mapper *adapter.Mapper, log *zap.Logger) (*Adapter, error) {
	if db == nil {
		return nil, errors.New("gorm handle is required")
	}
	dialect, err := migration.ParseDialect(db.Dialector.Name())
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{db: db, mapper: mapper, dialect: dialect, log: log.Named("adapter.gorm")}, nil
}

func (a *Adapter) ID() string { return backendID }

// DB exposes the underlying handle.
func (a *Adapter) DB() *gorm.DB { return a.db }

func (a *Adapter) Create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	row, err := a.mapper.ToCreate(model, data)
	if err != nil {
		return nil, err
	}
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	idColumn, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, err
	}
	if row[idColumn] == nil {
		return nil, adapter.Wrap(backendID, model, "create", ErrApplicationIDRequired)
	}

	if err := a.db.WithContext(ctx).Table(t.ModelName()).Create(map[string]any(row)).Error; err != nil {
		return nil, adapter.Wrap(backendID, model, "create", err)
	}
	return a.mapper.FromStorage(model, row, nil)
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []adapter.Where, selects ...string) (adapter.Record, error) {
	rows, err := a.find(ctx, model, where, nil, 1, 0, selects)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return a.mapper.FromStorage(model, rows[0], selects)
}

func (a *Adapter) FindMany(ctx context.Context, model string, q adapter.Query) ([]adapter.Record, error) {
	rows, err := a.find(ctx, model, q.Where, q.SortBy, q.Limit, q.Offset, nil)
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

func (a *Adapter) find(ctx context.Context, model string, where []adapter.Where, sortBy *adapter.SortBy, limit, offset int, selects []string) ([]adapter.Record, error) {
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	columns, err := a.mapper.Columns(model, selects)
	if err != nil {
		return nil, err
	}
	cond, err := a.condition(model, where)
	if err != nil {
		return nil, err
	}
	order, err := a.order(model, sortBy)
	if err != nil {
		return nil, err
	}

	selectClause := clause.Select{Columns: make([]clause.Column, 0, len(columns))}
	for _, c := range columns {
		selectClause.Columns = append(selectClause.Columns, clause.Column{Name: c})
	}

	tx := a.db.WithContext(ctx).Table(t.ModelName()).Clauses(selectClause, order)
	if cond != nil {
		tx = tx.Where(cond)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		if limit <= 0 {
			// mysql and sqlite reject OFFSET without LIMIT
			tx = tx.Limit(math.MaxInt32)
		}
		tx = tx.Offset(offset)
	}

	var raw []map[string]any
	if err := tx.Find(&raw).Error; err != nil {
		return nil, adapter.Wrap(backendID, model, "find", err)
	}
	rows := make([]adapter.Record, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, adapter.Record(r))
	}
	return rows, nil
}

func (a *Adapter) Update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return nil, err
	}
	id, err := a.firstID(ctx, model, where)
	if err != nil || id == nil {
		return nil, err
	}
	t, _ := a.mapper.Table(model)
	idColumn, _ := a.mapper.IDColumn(model)
	byID := clause.Eq{Column: clause.Column{Name: idColumn}, Value: id}

	if len(values) > 0 {
		err := a.db.WithContext(ctx).Table(t.ModelName()).Where(byID).Updates(map[string]any(values)).Error
		if err != nil {
			return nil, adapter.Wrap(backendID, model, "update", err)
		}
	}
	return a.FindOne(ctx, model, []adapter.Where{adapter.Eq("id", id)})
}

func (a *Adapter) UpdateMany(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (int64, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	t, err := a.mapper.Table(model)
	if err != nil {
		return 0, err
	}
	cond, err := a.condition(model, where)
	if err != nil {
		return 0, err
	}

	tx := a.db.WithContext(ctx).Table(t.ModelName())
	if cond != nil {
		tx = tx.Where(cond)
	} else {
		tx = tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := tx.Updates(map[string]any(values))
	if res.Error != nil {
		return 0, adapter.Wrap(backendID, model, "update_many", res.Error)
	}
	return res.RowsAffected, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []adapter.Where) error {
	id, err := a.firstID(ctx, model, where)
	if err != nil || id == nil {
		return err
	}
	_, err = a.deleteWhere(ctx, model, []adapter.Where{adapter.Eq("id", id)})
	return err
}

func (a *Adapter) DeleteMany(ctx context.Context, model string, where []adapter.Where) (int64, error) {
	return a.deleteWhere(ctx, model, where)
}

func (a *Adapter) deleteWhere(ctx context.Context, model string, where []adapter.Where) (int64, error) {
	t, err := a.mapper.Table(model)
	if err != nil {
		return 0, err
	}
	cond, err := a.condition(model, where)
	if err != nil {
		return 0, err
	}

	var res *gorm.DB
	table := clause.Table{Name: t.ModelName()}
	if cond == nil {
		res = a.db.WithContext(ctx).Exec("DELETE FROM ?", table)
	} else {
		res = a.db.WithContext(ctx).Exec("DELETE FROM ? WHERE ?", table, cond)
	}
	if res.Error != nil {
		return 0, adapter.Wrap(backendID, model, "delete", res.Error)
	}
	return res.RowsAffected, nil
}

func (a *Adapter) firstID(ctx context.Context, model string, where []adapter.Where) (any, error) {
	rows, err := a.find(ctx, model, where, nil, 1, 0, []string{"id"})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	idColumn, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, err
	}
	return rows[0][idColumn], nil
}

func (a *Adapter) order(model string, sortBy *adapter.SortBy) (clause.OrderBy, error) {
	idColumn, err := a.mapper.IDColumn(model)
	if err != nil {
		return clause.OrderBy{}, err
	}
	byID := clause.OrderByColumn{Column: clause.Column{Name: idColumn}}
	s, err := a.mapper.SortBy(model, sortBy)
	if err != nil || s == nil {
		return clause.OrderBy{Columns: []clause.OrderByColumn{byID}}, err
	}
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: s.Field}, Desc: s.Direction == adapter.Desc},
		byID,
	}}, nil
}

// Migrate creates missing tables and adds missing columns.
func (a *Adapter) Migrate(ctx context.Context) error {
	s := a.mapper.Schema()
	migrator := a.db.WithContext(ctx).Migrator()
	existing := migration.Existing{}
	for _, t := range s.Tables() {
		if !migrator.HasTable(t.ModelName()) {
			continue
		}
		columnTypes, err := migrator.ColumnTypes(t.ModelName())
		if err != nil {
			return fmt.Errorf("inspect %s: %w", t.ModelName(), err)
		}
		columns := make(map[string]bool, len(columnTypes))
		for _, ct := range columnTypes {
			columns[ct.Name()] = true
		}
		existing[t.ModelName()] = columns
	}

	stmts, err := migration.Plan(migration.Options{Dialect: a.dialect}, s, existing)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		a.log.Info("applying schema change", zap.String("sql", stmt))
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
