// Package redisadapter keeps chiron entities in Redis. Each row is a JSON
// document; a sorted set per table preserves insertion order and hashes
// reserve unique values.
//
// Key layout, per physical table:
//
//	{prefix}:{table}:doc:{id}     JSON document
//	{prefix}:{table}:ids          ZSET of ids scored by insertion sequence
//	{prefix}:{table}:seq          insertion sequence
//	{prefix}:{table}:id           native id counter
//	{prefix}:{table}:uniq:{key}   HASH unique value -> id
package redisadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/schema"
	"go.uber.org/zap"
)

const (
	backendID     = "redis"
	defaultPrefix = "chiron"
)

type Adapter struct {
	rdb    redis.UniversalClient
	mapper *adapter.Mapper
	prefix string
	log    *zap.Logger
}

func New(rdb redis.UniversalClient, mapper *adapter.Mapper, prefix string, log *zap.Logger) *Adapter {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{rdb: rdb, mapper: mapper, prefix: prefix, log: log.Named("adapter.redis")}
}

func (a *Adapter) ID() string { return backendID }

type keys struct {
	prefix string
}

func (a *Adapter) keysFor(t *schema.Table) keys {
	return keys{prefix: a.prefix + ":" + t.ModelName()}
}

func (k keys) doc(id string) string { return k.prefix + ":doc:" + id }
func (k keys) ids() string { return k.prefix + ":ids" }
func (k keys) seq() string { return k.prefix + ":seq" }
func (k keys) nativeID() string { return k.prefix + ":id" }
func (k keys) unique(name string) string { return k.prefix + ":uniq:" + name }

func (a *Adapter) Create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	row, err := a.mapper.ToCreate(model, data)
	if err != nil {
		return nil, err
	}
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	idCol, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, err
	}
	k := a.keysFor(t)

	if row[idCol] == nil {
		n, err := a.rdb.Incr(ctx, k.nativeID()).Result()
		if err != nil {
			return nil, adapter.Wrap(backendID, model, "create", err)
		}
		row[idCol] = strconv.FormatInt(n, 10)
	}
	id := fmt.Sprint(row[idCol])

	reserved, err := a.reserve(ctx, model, t, k, id, row, nil)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(row)
	if err != nil {
		a.release(ctx, k, id, reserved)
		return nil, err
	}
	ok, err := a.rdb.SetNX(ctx, k.doc(id), payload, 0).Result()
	if err != nil {
		a.release(ctx, k, id, reserved)
		return nil, adapter.Wrap(backendID, model, "create", err)
	}
	if !ok {
		a.release(ctx, k, id, reserved)
		return nil, adapter.Constraint(backendID, model, "create", "duplicate value for id")
	}

	seq, err := a.rdb.Incr(ctx, k.seq()).Result()
	if err != nil {
		return nil, adapter.Wrap(backendID, model, "create", err)
	}
	if err := a.rdb.ZAdd(ctx, k.ids(), redis.Z{Score: float64(seq), Member: id}).Err(); err != nil {
		return nil, adapter.Wrap(backendID, model, "create", err)
	}
	return a.mapper.FromStorage(model, row, nil)
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []adapter.Where, selects ...string) (adapter.Record, error) {
	rows, err := a.match(ctx, model, where, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return a.mapper.FromStorage(model, rows[0], selects)
}

func (a *Adapter) FindMany(ctx context.Context, model string, q adapter.Query) ([]adapter.Record, error) {
	rows, err := a.match(ctx, model, q.Where, 0)
	if err != nil {
		return nil, err
	}
	sortBy, err := a.mapper.SortBy(model, q.SortBy)
	if err != nil {
		return nil, err
	}
	adapter.SortRows(rows, sortBy)
	rows = adapter.Paginate(rows, q.Limit, q.Offset)

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

func (a *Adapter) Update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return nil, err
	}
	rows, err := a.match(ctx, model, where, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	next, err := a.write(ctx, model, rows[0], values)
	if err != nil {
		return nil, err
	}
	return a.mapper.FromStorage(model, next, nil)
}

func (a *Adapter) UpdateMany(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (int64, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return 0, err
	}
	rows, err := a.match(ctx, model, where, 0)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, row := range rows {
		if _, err := a.write(ctx, model, row, values); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []adapter.Where) error {
	rows, err := a.match(ctx, model, where, 1)
	if err != nil || len(rows) == 0 {
		return err
	}
	return a.remove(ctx, model, rows[0])
}

func (a *Adapter) DeleteMany(ctx context.Context, model string, where []adapter.Where) (int64, error) {
	rows, err := a.match(ctx, model, where, 0)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, row := range rows {
		if err := a.remove(ctx, model, row); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// match loads documents in insertion order and keeps those satisfying where,
// stopping at limit when it is positive.
func (a *Adapter) match(ctx context.Context, model string, where []adapter.Where, limit int) ([]adapter.Record, error) {
	clauses, err := a.mapper.Where(model, where)
	if err != nil {
		return nil, err
	}
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	k := a.keysFor(t)

	ids, err := a.rdb.ZRange(ctx, k.ids(), 0, -1).Result()
	if err != nil {
		return nil, adapter.Wrap(backendID, model, "find", err)
	}
	out := make([]adapter.Record, 0)
	const batch = 256
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		docKeys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			docKeys = append(docKeys, k.doc(id))
		}
		docs, err := a.rdb.MGet(ctx, docKeys...).Result()
		if err != nil {
			return nil, adapter.Wrap(backendID, model, "find", err)
		}
		for _, doc := range docs {
			raw, ok := doc.(string)
			if !ok {
				continue
			}
			row, err := a.decode(model, raw)
			if err != nil {
				return nil, adapter.Wrap(backendID, model, "find", err)
			}
			if !adapter.Match(row, clauses) {
				continue
			}
			out = append(out, row)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (a *Adapter) decode(model, raw string) (adapter.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return a.mapper.Canonical(model, m)
}

// write stores row patched with values, moving unique reservations.
func (a *Adapter) write(ctx context.Context, model string, row, values adapter.Record) (adapter.Record, error) {
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, err
	}
	idCol, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, err
	}
	k := a.keysFor(t)
	id := fmt.Sprint(row[idCol])

	next := row.Clone()
	for c, v := range values {
		next[c] = v
	}
	reserved, err := a.reserve(ctx, model, t, k, id, next, row)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(next)
	if err != nil {
		a.release(ctx, k, id, reserved)
		return nil, err
	}
	if err := a.rdb.Set(ctx, k.doc(id), payload, 0).Err(); err != nil {
		a.release(ctx, k, id, reserved)
		return nil, adapter.Wrap(backendID, model, "update", err)
	}
	a.release(ctx, k, id, stale(t, row, next))
	return next, nil
}

func (a *Adapter) remove(ctx context.Context, model string, row adapter.Record) error {
	t, err := a.mapper.Table(model)
	if err != nil {
		return err
	}
	idCol, err := a.mapper.IDColumn(model)
	if err != nil {
		return err
	}
	k := a.keysFor(t)
	id := fmt.Sprint(row[idCol])

	_, err = a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.doc(id))
		pipe.ZRem(ctx, k.ids(), id)
		return nil
	})
	if err != nil {
		return adapter.Wrap(backendID, model, "delete", err)
	}
	a.release(ctx, k, id, stale(t, row, nil))
	return nil
}

type reservation struct {
	key   string
	value string
}

// reserve claims the unique values of row that prev does not already hold.
// On conflict every claim made so far is undone.
func (a *Adapter) reserve(ctx context.Context, model string, t *schema.Table, k keys, id string, row, prev adapter.Record) ([]reservation, error) {
	var claimed []reservation
	for _, uk := range secondaryKeys(t) {
		v, ok := uk.Value(row)
		if !ok {
			continue
		}
		if prev != nil {
			if old, had := uk.Value(prev); had && old == v {
				continue
			}
		}
		set, err := a.rdb.HSetNX(ctx, k.unique(uk.Name), v, id).Result()
		if err != nil {
			a.release(ctx, k, id, claimed)
			return nil, adapter.Wrap(backendID, model, "write", err)
		}
		if !set {
			owner, _ := a.rdb.HGet(ctx, k.unique(uk.Name), v).Result()
			if owner != id {
				a.release(ctx, k, id, claimed)
				return nil, adapter.Constraint(backendID, model, "write", "duplicate value for "+uk.Name)
			}
		}
		claimed = append(claimed, reservation{key: uk.Name, value: v})
	}
	return claimed, nil
}

// release drops reservations still owned by id.
func (a *Adapter) release(ctx context.Context, k keys, id string, rs []reservation) {
	for _, r := range rs {
		owner, err := a.rdb.HGet(ctx, k.unique(r.key), r.value).Result()
		if err != nil || owner != id {
			continue
		}
		if err := a.rdb.HDel(ctx, k.unique(r.key), r.value).Err(); err != nil {
			a.log.Warn("release unique value", zap.String("key", k.unique(r.key)), zap.Error(err))
		}
	}
}

// stale lists the unique values of prev that next no longer holds.
func stale(t *schema.Table, prev, next adapter.Record) []reservation {
	var out []reservation
	for _, uk := range secondaryKeys(t) {
		old, ok := uk.Value(prev)
		if !ok {
			continue
		}
		if next != nil {
			if v, has := uk.Value(next); has && v == old {
				continue
			}
		}
		out = append(out, reservation{key: uk.Name, value: old})
	}
	return out
}

// secondaryKeys are the unique keys other than the primary key, which the
// document key itself guards.
func secondaryKeys(t *schema.Table) []adapter.UniqueKey {
	idCol, _ := t.Column(schema.IDField)
	all := adapter.UniqueKeys(t)
	out := all[:0:0]
	for _, uk := range all {
		if len(uk.Columns) == 1 && uk.Columns[0] == idCol {
			continue
		}
		out = append(out, uk)
	}
	return out
}
