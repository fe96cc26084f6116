// Package memory is an in-process Adapter. Rows live in insertion order,
// which is also the FindOne tie-break.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/smallbiznis/chiron/internal/adapter"
	"go.uber.org/zap"
)

const backendID = "memory"

type Adapter struct {
	mu     sync.RWMutex
	mapper *adapter.Mapper
	log    *zap.Logger
	rows   map[string][]adapter.Record
	seq    int64
}

func New(mapper *adapter.Mapper, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		mapper: mapper,
		log:    log.Named("adapter.memory"),
		rows:   map[string][]adapter.Record{},
	}
}

func (a *Adapter) ID() string { return backendID }

func (a *Adapter) Create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	row, err := a.mapper.ToCreate(model, data)
	if err != nil {
		return nil, err
	}
	idColumn, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if row[idColumn] == nil {
		a.seq++
		row[idColumn] = strconv.FormatInt(a.seq, 10)
	}
	if err := a.checkUnique(model, row, -1); err != nil {
		return nil, err
	}
	a.rows[model] = append(a.rows[model], row)
	return a.mapper.FromStorage(model, row, nil)
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []adapter.Where, selects ...string) (adapter.Record, error) {
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, row := range a.rows[model] {
		if adapter.Match(row, clauses) {
			return a.mapper.FromStorage(model, row, selects)
		}
	}
	return nil, nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, q adapter.Query) ([]adapter.Record, error) {
	clauses, err := a.mapper.Where(model, q.Where)
	if err != nil {
		return nil, err
	}
	sortBy, err := a.mapper.SortBy(model, q.SortBy)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	matched := make([]adapter.Record, 0)
	for _, row := range a.rows[model] {
		if adapter.Match(row, clauses) {
			matched = append(matched, row)
		}
	}
	a.mu.RUnlock()

	adapter.SortRows(matched, sortBy)
	matched = adapter.Paginate(matched, q.Limit, q.Offset)

	out := make([]adapter.Record, 0, len(matched))
	for _, row := range matched {
		rec, err := a.mapper.FromStorage(model, row, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Adapter) Update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return nil, err
	}
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, row := range a.rows[model] {
		if !adapter.Match(row, clauses) {
			continue
		}
		next := apply(row, values)
		if err := a.checkUnique(model, next, i); err != nil {
			return nil, err
		}
		a.rows[model][i] = next
		return a.mapper.FromStorage(model, next, nil)
	}
	return nil, nil
}

func (a *Adapter) UpdateMany(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (int64, error) {
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return 0, err
	}
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	rows := a.rows[model]
	staged := make([]adapter.Record, len(rows))
	copy(staged, rows)
	var n int64
	for i, row := range rows {
		if adapter.Match(row, clauses) {
			staged[i] = apply(row, values)
			n++
		}
	}
	if n > 0 {
		if err := a.checkAllUnique(model, staged); err != nil {
			return 0, err
		}
	}
	a.rows[model] = staged
	return n, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []adapter.Where) error {
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rows := a.rows[model]
	for i, row := range rows {
		if adapter.Match(row, clauses) {
			a.rows[model] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (a *Adapter) DeleteMany(ctx context.Context, model string, where []adapter.Where) (int64, error) {
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := make([]adapter.Record, 0, len(a.rows[model]))
	var n int64
	for _, row := range a.rows[model] {
		if adapter.Match(row, clauses) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	a.rows[model] = kept
	return n, nil
}

// Reset drops every row.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = map[string][]adapter.Record{}
	a.seq = 0
}

func apply(row, values adapter.Record) adapter.Record {
	next := row.Clone()
	for k, v := range values {
		next[k] = v
	}
	return next
}

// checkUnique compares row against every stored row except the one at skip.
func (a *Adapter) checkUnique(model string, row adapter.Record, skip int) error {
	t, err := a.mapper.Table(model)
	if err != nil {
		return err
	}
	keys := adapter.UniqueKeys(t)
	for i, other := range a.rows[model] {
		if i == skip {
			continue
		}
		for _, k := range keys {
			if k.Collides(row, other) {
				return adapter.Constraint(backendID, model, "write", fmt.Sprintf("duplicate value for %s", k.Name))
			}
		}
	}
	return nil
}

func (a *Adapter) checkAllUnique(model string, rows []adapter.Record) error {
	t, err := a.mapper.Table(model)
	if err != nil {
		return err
	}
	for _, k := range adapter.UniqueKeys(t) {
		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			v, ok := k.Value(row)
			if !ok {
				continue
			}
			if _, dup := seen[v]; dup {
				return adapter.Constraint(backendID, model, "update_many", fmt.Sprintf("duplicate value for %s", k.Name))
			}
			seen[v] = struct{}{}
		}
	}
	return nil
}
