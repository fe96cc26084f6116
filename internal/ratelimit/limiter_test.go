package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/adapter/adaptertest"
	"github.com/smallbiznis/chiron/internal/adapter/memory"
	"github.com/smallbiznis/chiron/internal/clock"
	"github.com/smallbiznis/chiron/internal/config"
	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func databaseStorage(t *testing.T) (*DatabaseStorage, adapter.Adapter) {
	t.Helper()
	s := schema.Build(schema.Options{RateLimit: &schema.RateLimitOptions{}})
	a := memory.New(adapter.NewMapper(s, adaptertest.Sequence()), zap.NewNop())
	return NewDatabaseStorage(a), a
}

func redisStorage(t *testing.T) *RedisStorage {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStorage(client, "test", time.Second)
}

func storages(t *testing.T) map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"memory":   func(t *testing.T) Storage { return NewMemoryStorage() },
		"database": func(t *testing.T) Storage { s, _ := databaseStorage(t); return s },
		"redis":    func(t *testing.T) Storage { return redisStorage(t) },
	}
}

func TestLimiterFixedWindow(t *testing.T) {
	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			clk := clock.NewFakeClock(epoch)
			l, err := NewLimiter(newStorage(t), Rule{Window: time.Second, Max: 3}, WithClock(clk))
			require.NoError(t, err)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				res, err := l.Allow(ctx, "ip:1")
				require.NoError(t, err)
				assert.True(t, res.Allowed, "request %d", i)
				assert.EqualValues(t, 2-i, res.Remaining)
			}

			clk.Advance(400 * time.Millisecond)
			res, err := l.Allow(ctx, "ip:1")
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 600*time.Millisecond, res.RetryAfter)

			other, err := l.Allow(ctx, "ip:2")
			require.NoError(t, err)
			assert.True(t, other.Allowed)

			clk.Advance(601 * time.Millisecond)
			res, err = l.Allow(ctx, "ip:1")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.EqualValues(t, 2, res.Remaining)
		})
	}
}

func TestDatabaseStorageCreatesThenUpdates(t *testing.T) {
	storage, a := databaseStorage(t)
	ctx := context.Background()

	got, err := storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, storage.Set(ctx, Record{Key: "k", Count: 1, LastRequest: 1000}))
	require.NoError(t, storage.Set(ctx, Record{Key: "k", Count: 2, LastRequest: 2000}))

	rows, err := a.FindMany(ctx, schema.ModelRateLimit, adapter.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got, err = storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, &Record{Key: "k", Count: 2, LastRequest: 2000}, got)
}

func TestRedisStorageGetSet(t *testing.T) {
	storage := redisStorage(t)
	ctx := context.Background()

	got, err := storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, storage.Set(ctx, Record{Key: "k", Count: 4, LastRequest: 1735689600000}))
	got, err = storage.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, &Record{Key: "k", Count: 4, LastRequest: 1735689600000}, got)
}

func TestDisabledLimiterAllows(t *testing.T) {
	l := Disabled()
	assert.False(t, l.Enabled())
	res, err := l.Allow(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterDefaultsAndValidation(t *testing.T) {
	_, err := NewLimiter(nil, Rule{})
	assert.Error(t, err)

	l, err := NewLimiter(NewMemoryStorage(), Rule{})
	require.NoError(t, err)
	assert.Equal(t, DefaultWindow, l.rule.Window)
	assert.EqualValues(t, DefaultMax, l.rule.Max)

	_, err = l.Allow(context.Background(), "  ")
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	_, a := databaseStorage(t)
	base := config.Config{RateLimitEnabled: true, RateLimitWindow: time.Second, RateLimitMax: 5}

	disabled, err := NewFromConfig(Params{Cfg: config.Config{}, Adapter: a, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())

	cfg := base
	cfg.RateLimitStorage = StorageDatabase
	l, err := NewFromConfig(Params{Cfg: cfg, Adapter: a, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, &DatabaseStorage{}, l.storage)

	cfg.RateLimitStorage = StorageRedis
	_, err = NewFromConfig(Params{Cfg: cfg, Adapter: a, Log: zap.NewNop()})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	l, err = NewFromConfig(Params{Cfg: cfg, Adapter: a, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStorage{}, l.storage)

	cfg.RateLimitStorage = "carrier-pigeon"
	_, err = NewFromConfig(Params{Cfg: cfg, Adapter: a, Log: zap.NewNop()})
	assert.Error(t, err)
}
