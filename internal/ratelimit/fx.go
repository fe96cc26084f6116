package ratelimit

import (
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/clock"
	"github.com/smallbiznis/chiron/internal/config"
	"github.com/smallbiznis/chiron/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewFromConfig),
)

const (
	StorageMemory   = "memory"
	StorageDatabase = "database"
	StorageRedis    = "redis"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Adapter adapter.Adapter
	Clock   clock.Clock      `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
	Log     *zap.Logger
}

// NewFromConfig builds the limiter selected by RATE_LIMIT_STORAGE. A
// disabled limiter allows every request.
func NewFromConfig(p Params) (*Limiter, error) {
	cfg := p.Cfg
	if !cfg.RateLimitEnabled {
		return Disabled(), nil
	}

	var storage Storage
	switch strings.ToLower(strings.TrimSpace(cfg.RateLimitStorage)) {
	case "", StorageMemory:
		storage = NewMemoryStorage()
	case StorageDatabase:
		storage = NewDatabaseStorage(p.Adapter)
	case StorageRedis:
		addr := strings.TrimSpace(cfg.RedisAddr)
		if addr == "" {
			return nil, errors.New("rate limit redis addr is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		storage = NewRedisStorage(client, cfg.RedisPrefix, cfg.RateLimitWindow)
	default:
		return nil, fmt.Errorf("unsupported rate limit storage %q", cfg.RateLimitStorage)
	}

	opts := []Option{WithMetrics(p.Metrics), WithLogger(p.Log)}
	if p.Clock != nil {
		opts = append(opts, WithClock(p.Clock))
	}
	return NewLimiter(storage, Rule{Window: cfg.RateLimitWindow, Max: int64(cfg.RateLimitMax)}, opts...)
}
