package ratelimit

import (
	"context"
	"fmt"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/schema"
)

// DatabaseStorage keeps counters in the rateLimit model. Rows are created
// on a key's first hit, updated on later hits and never deleted.
type DatabaseStorage struct {
	adapter adapter.Adapter
}

func NewDatabaseStorage(a adapter.Adapter) *DatabaseStorage {
	return &DatabaseStorage{adapter: a}
}

func (d *DatabaseStorage) Get(ctx context.Context, key string) (*Record, error) {
	row, err := d.adapter.FindOne(ctx, schema.ModelRateLimit, []adapter.Where{adapter.Eq("key", key)})
	if err != nil || row == nil {
		return nil, err
	}
	count, _ := row["count"].(int64)
	last, _ := row["lastRequest"].(int64)
	return &Record{Key: key, Count: count, LastRequest: last}, nil
}

func (d *DatabaseStorage) Set(ctx context.Context, r Record) error {
	values := adapter.Record{"count": r.Count, "lastRequest": r.LastRequest}
	updated, err := d.adapter.Update(ctx, schema.ModelRateLimit, []adapter.Where{adapter.Eq("key", r.Key)}, values)
	if err != nil {
		return fmt.Errorf("update rate limit: %w", err)
	}
	if updated != nil {
		return nil
	}
	values["key"] = r.Key
	if _, err := d.adapter.Create(ctx, schema.ModelRateLimit, values); err != nil {
		return fmt.Errorf("create rate limit: %w", err)
	}
	return nil
}
