package factory

import (
	"context"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/config"
	"github.com/smallbiznis/chiron/internal/observability/metrics"
	"github.com/smallbiznis/chiron/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("adapter.factory",
	fx.Provide(
		ConfigFrom,
		provideAdapter,
	),
)

// ConfigFrom maps environment configuration to a backend Config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Type: cfg.DBType,
		SQL: db.Config{
			Type:            cfg.DBType,
			DSN:             cfg.DBURL,
			Host:            cfg.DBHost,
			Port:            cfg.DBPort,
			Name:            cfg.DBName,
			User:            cfg.DBUser,
			Password:        cfg.DBPassword,
			SSLMode:         cfg.DBSSLMode,
			MaxIdleConn:     cfg.DBMaxIdleConn,
			MaxOpenConn:     cfg.DBMaxOpenConn,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		},
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	}
}

type params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	App       config.Config
	Mapper    *adapter.Mapper
	Metrics   *metrics.SyncMetrics `optional:"true"`
	Log       *zap.Logger
}

func provideAdapter(p params) (adapter.Adapter, error) {
	a, err := New(context.Background(), p.Config, p.Mapper, p.Log)
	if err != nil {
		return nil, err
	}
	p.Log.Info("storage adapter ready", zap.String("backend", a.ID()))

	if p.Metrics != nil {
		a = adapter.Instrument(a, p.Metrics)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !p.App.DBMigrate {
				return nil
			}
			if m, ok := a.(adapter.Migrator); ok {
				return m.Migrate(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			if c, ok := a.(adapter.Closer); ok {
				return c.Close()
			}
			return nil
		},
	})
	return a, nil
}
