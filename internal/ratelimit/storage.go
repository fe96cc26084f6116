// Package ratelimit counts requests per key in fixed windows. Counters live
// in memory, in the database through the storage adapter, or in Redis.
package ratelimit

import (
	"context"
	"sync"
)

// Record is one key's counter. LastRequest is in unix milliseconds.
type Record struct {
	Key         string
	Count       int64
	LastRequest int64
}

// Storage persists counters. Get returns nil, nil for an unknown key.
type Storage interface {
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, r Record) error
}

// Hitter is implemented by storages that can apply a hit atomically.
type Hitter interface {
	Hit(ctx context.Context, key string, nowMillis, windowMillis, max int64) (r Record, allowed bool, err error)
}

type MemoryStorage struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: map[string]Record{}}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryStorage) Set(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.Key] = r
	return nil
}
