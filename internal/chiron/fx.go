package chiron

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/clock"
	"github.com/smallbiznis/chiron/internal/config"
	"github.com/smallbiznis/chiron/internal/events"
	"github.com/smallbiznis/chiron/internal/idgen"
	"github.com/smallbiznis/chiron/internal/observability/metrics"
	"github.com/smallbiznis/chiron/internal/paymentcore"
	"github.com/smallbiznis/chiron/internal/paymentprovider/stripe"
	"github.com/smallbiznis/chiron/internal/plugin"
	"github.com/smallbiznis/chiron/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides *Chiron. The storage adapter comes from factory.Module,
// which consumes the *adapter.Mapper provided here.
var Module = fx.Module("chiron",
	fx.Provide(
		NewOptions,
		PluginSet,
		NewMapper,
		provideChiron,
	),
)

type OptionsParams struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Cfg         config.Config
	File        *config.FileHolder
	Publisher   events.Publisher     `optional:"true"`
	Metrics     *metrics.Metrics     `optional:"true"`
	SyncMetrics *metrics.SyncMetrics `optional:"true"`
	Clock       clock.Clock          `optional:"true"`
	Log         *zap.Logger
}

// NewOptions derives Options from the environment and the YAML file.
func NewOptions(p OptionsParams) (Options, error) {
	cfg := p.Cfg
	gen, err := idgen.New(idgen.Strategy(cfg.IDStrategy), cfg.SnowflakeNode)
	if err != nil {
		return Options{}, err
	}

	file := p.File.Get()
	opts := Options{
		Schema:      file.SchemaOptions(cfg.DBCasing, strings.EqualFold(cfg.RateLimitStorage, ratelimit.StorageDatabase)),
		IDGenerator: gen,
		SyncMetrics: p.SyncMetrics,
		Clock:       p.Clock,
		Logger:      p.Log,
	}

	if p.Publisher != nil {
		opts.Plugins = append(opts.Plugins, events.Plugin(events.Options{
			Publisher: p.Publisher,
			Metrics:   p.Metrics,
			Clock:     p.Clock,
			Logger:    p.Log,
		}))
	}

	if key := strings.TrimSpace(cfg.StripeSecretKey); key != "" {
		opts.Stripe = stripe.New(stripe.Options{
			Client: stripe.NewClient(key),
			// read on each call so file reloads apply
			AccessLevels: func() map[string]string { return p.File.Get().AccessLevels() },
			Logger:       p.Log,
		})
	} else {
		p.Log.Warn("STRIPE_SECRET_KEY not set, stripe provider disabled")
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
		opts.Locker = paymentcore.NewRedisLocker(client, cfg.RedisPrefix, cfg.SyncLockTTL, cfg.SyncLockWait)
	} else {
		opts.Locker = paymentcore.NewLocalLocker(cfg.SyncLockWait)
	}
	return opts, nil
}

type chironParams struct {
	fx.In

	Plugins plugin.Set
	Mapper  *adapter.Mapper
	Adapter adapter.Adapter
	Options Options
	Limiter *ratelimit.Limiter `optional:"true"`
}

func provideChiron(p chironParams) (*Chiron, error) {
	opts := p.Options
	opts.Limiter = p.Limiter
	return Assemble(p.Plugins, p.Mapper, p.Adapter, opts)
}
