package gormadapter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/adapter/adaptertest"
	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:chiron_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newSQLiteAdapter(t *testing.T, s *schema.Schema, gen adapter.IDGenerator) *Adapter {
	t.Helper()
	a, err := New(openSQLite(t), adapter.NewMapper(s, gen), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Migrate(context.Background()))
	return a
}

func TestConformanceSQLite(t *testing.T) {
	adaptertest.Run(t, adaptertest.Options{
		New: func(t *testing.T, s *schema.Schema, gen adapter.IDGenerator) adapter.Adapter {
			return newSQLiteAdapter(t, s, gen)
		},
	})
}

func TestCreateRequiresApplicationID(t *testing.T) {
	a := newSQLiteAdapter(t, schema.Build(schema.Options{}), nil)
	_, err := a.Create(context.Background(), schema.ModelCustomer, adapter.Record{"customUserId": "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrApplicationIDRequired))
}

func TestMigrateIsIdempotentAndAddsColumns(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	first, err := New(db, adapter.NewMapper(schema.Build(schema.Options{}), adaptertest.Sequence()), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Migrate(ctx))
	require.NoError(t, first.Migrate(ctx))

	extended := schema.Build(schema.Options{
		Extensions: []map[string]schema.TableExtension{{
			schema.ModelCustomer: {Fields: map[string]schema.FieldAttribute{
				"stripeCustomerId": {Type: schema.TypeString},
			}},
		}},
	})
	second, err := New(db, adapter.NewMapper(extended, adaptertest.Sequence()), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, second.Migrate(ctx))
	assert.True(t, db.Migrator().HasColumn("customer", "stripeCustomerId"))

	created, err := second.Create(ctx, schema.ModelCustomer, adapter.Record{"customUserId": "u1", "stripeCustomerId": "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", created["stripeCustomerId"])
}

func TestForeignKeyCascade(t *testing.T) {
	ctx := context.Background()
	a := newSQLiteAdapter(t, schema.Build(schema.Options{}), adaptertest.Sequence())

	customer, err := a.Create(ctx, schema.ModelCustomer, adapter.Record{"customUserId": "u1"})
	require.NoError(t, err)
	_, err = a.Create(ctx, schema.ModelCustomerExternalID, adapter.Record{
		"service":    "stripe",
		"customerId": customer["id"],
		"externalId": "cus_1",
	})
	require.NoError(t, err)

	require.NoError(t, a.Delete(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("id", customer["id"])}))
	rows, err := a.FindMany(ctx, schema.ModelCustomerExternalID, adapter.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEscapeHelpers(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
	assert.Equal(t, `[[]a][*][?]`, escapeGlob(`[a]*?`))
}
