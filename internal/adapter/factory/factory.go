// Package factory turns backend configuration, or an already-connected
// handle, into an instrumented adapter.
package factory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/adapter/gormadapter"
	"github.com/smallbiznis/chiron/internal/adapter/memory"
	"github.com/smallbiznis/chiron/internal/adapter/mongoadapter"
	"github.com/smallbiznis/chiron/internal/adapter/pgxadapter"
	"github.com/smallbiznis/chiron/internal/adapter/redisadapter"
	"github.com/smallbiznis/chiron/pkg/db"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Backend types.
const (
	TypeMemory   = "memory"
	TypePostgres = db.TypePostgres
	TypeMySQL    = db.TypeMySQL
	TypeSQLite   = db.TypeSQLite
	TypePgx      = "pgx"
	TypeRedis    = "redis"
	TypeMongo    = "mongodb"
)

var ErrUnsupportedBackend = errors.New("unsupported_backend")

// Config selects and connects a backend.
type Config struct {
	Type string
	// SQL is used by the gorm dialects; SQL.DSN also serves pgx.
	SQL db.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	MongoURI      string
	MongoDatabase string
}

// New connects the configured backend.
func New(ctx context.Context, cfg Config, mapper *adapter.Mapper, log *zap.Logger) (adapter.Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeMemory, "":
		return memory.New(mapper, log), nil
	case TypePostgres, TypeMySQL, TypeSQLite:
		sqlCfg := cfg.SQL
		sqlCfg.Type = strings.ToLower(cfg.Type)
		conn, err := db.Open(sqlCfg, log)
		if err != nil {
			return nil, err
		}
		return gormadapter.New(conn, mapper, log)
	case TypePgx:
		pool, err := pgxpool.New(ctx, PostgresURL(cfg.SQL))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return pgxadapter.New(pool, mapper, log), nil
	case TypeRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return redisadapter.New(rdb, mapper, cfg.RedisPrefix, log), nil
	case TypeMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("ping mongodb: %w", err)
		}
		name := cfg.MongoDatabase
		if name == "" {
			name = "chiron"
		}
		return mongoadapter.New(client.Database(name), mapper, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Type)
	}
}

// FromHandle wraps an existing connection. Supported handles are *gorm.DB,
// *pgxpool.Pool, redis.UniversalClient and *mongo.Database.
func FromHandle(handle any, mapper *adapter.Mapper, log *zap.Logger) (adapter.Adapter, error) {
	switch h := handle.(type) {
	case *gorm.DB:
		return gormadapter.New(h, mapper, log)
	case *pgxpool.Pool:
		return pgxadapter.New(h, mapper, log), nil
	case redis.UniversalClient:
		return redisadapter.New(h, mapper, "", log), nil
	case *mongo.Database:
		return mongoadapter.New(h, mapper, log), nil
	case nil:
		return memory.New(mapper, log), nil
	default:
		return nil, fmt.Errorf("%w: handle %T", ErrUnsupportedBackend, handle)
	}
}

// PostgresURL returns cfg.DSN, or a URL built from the discrete fields.
func PostgresURL(cfg db.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + cfg.Port,
		Path:   "/" + cfg.Name,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}
