// Package adaptertest is the behavioral contract every adapter backend must
// pass. Backends call Run from their own tests with a factory that returns
// an empty store for the schema it is given.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty adapter for s. gen is nil when the backend should
// assign ids natively.
type Factory func(t *testing.T, s *schema.Schema, gen adapter.IDGenerator) adapter.Adapter

type Options struct {
	New Factory
	// NativeIDs enables the test where the backend assigns ids itself.
	NativeIDs bool
}

// Options used by every case unless a case builds its own schema.
func SchemaOptions() schema.Options {
	return schema.Options{
		Customer: schema.EntityOptions{
			AdditionalFields: map[string]schema.FieldAttribute{
				"vip":   {Type: schema.TypeBoolean},
				"score": {Type: schema.TypeNumber},
			},
		},
		RateLimit: &schema.RateLimitOptions{},
	}
}

// Sequence returns a generator producing model-1, model-2, ...
func Sequence() adapter.IDGenerator {
	var n atomic.Int64
	return func(model string) string {
		return fmt.Sprintf("%s-%d", model, n.Add(1))
	}
}

var baseTime = time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

func Run(t *testing.T, opts Options) {
	t.Helper()

	fresh := func(t *testing.T) adapter.Adapter {
		return opts.New(t, schema.Build(SchemaOptions()), Sequence())
	}

	t.Run("create and find", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)

		created := createCustomer(t, a, "u1", "user", "user@email.com")
		assert.Equal(t, "user", created["name"])
		assert.Equal(t, "user@email.com", created["email"])
		require.NotEmpty(t, created["id"])

		byID, err := a.FindOne(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("id", created["id"])})
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, created["email"], byID["email"])

		byEmail, err := a.FindOne(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("email", "user@email.com")})
		require.NoError(t, err)
		require.NotNil(t, byEmail)
		assert.Equal(t, created["id"], byEmail["id"])
	})

	t.Run("find with select", func(t *testing.T) {
		a := fresh(t)
		created := createCustomer(t, a, "u1", "user", "user@email.com")

		res, err := a.FindOne(context.Background(), schema.ModelCustomer,
			[]adapter.Where{adapter.Eq("id", created["id"])}, "email")
		require.NoError(t, err)
		assert.Equal(t, adapter.Record{"email": "user@email.com"}, res)
	})

	t.Run("values round trip as canonical types", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)

		created, err := a.Create(ctx, schema.ModelCustomer, adapter.Record{
			"customUserId": "u1",
			"name":         "typed",
			"vip":          true,
			"score":        42,
			"createdAt":    baseTime,
			"updatedAt":    baseTime,
		})
		require.NoError(t, err)

		got, err := a.FindOne(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("id", created["id"])})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, true, got["vip"])
		assert.Equal(t, int64(42), got["score"])
		assert.Nil(t, got["email"])
		createdAt, ok := got["createdAt"].(time.Time)
		require.True(t, ok, "createdAt is %T", got["createdAt"])
		assert.True(t, schema.NormalizeTime(baseTime).Equal(createdAt))
		assert.Equal(t, time.UTC, createdAt.Location())
	})

	t.Run("defaults are applied on create", func(t *testing.T) {
		a := fresh(t)
		before := time.Now().Add(-time.Second)
		created, err := a.Create(context.Background(), schema.ModelCustomer, adapter.Record{"customUserId": "u1"})
		require.NoError(t, err)
		createdAt, ok := created["createdAt"].(time.Time)
		require.True(t, ok)
		assert.True(t, createdAt.After(before))
	})

	t.Run("update", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		created := createCustomer(t, a, "u1", "user", "user@email.com")

		res, err := a.Update(ctx, schema.ModelCustomer,
			[]adapter.Where{adapter.Eq("id", created["id"])},
			adapter.Record{"email": "updated@email.com"})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, "updated@email.com", res["email"])
		assert.Equal(t, "user", res["name"])
		assert.Equal(t, created["id"], res["id"])

		missing, err := a.Update(ctx, schema.ModelCustomer,
			[]adapter.Where{adapter.Eq("id", "missing")},
			adapter.Record{"email": "x@email.com"})
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("find many", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		first := createCustomer(t, a, "u1", "user", "user@email.com")
		second := createCustomer(t, a, "u2", "user2", "test@email.com")
		createCustomer(t, a, "u3", "user", "test-email2@email.com")

		all, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		one, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{
			Where: []adapter.Where{adapter.Eq("id", second["id"])},
		})
		require.NoError(t, err)
		assert.Len(t, one, 1)

		in, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{
			Where: []adapter.Where{{Field: "id", Operator: adapter.OpIn, Value: []any{first["id"], second["id"]}}},
		})
		require.NoError(t, err)
		assert.Len(t, in, 2)

		none, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{
			Where: []adapter.Where{{Field: "id", Operator: adapter.OpIn, Value: []string{}}},
		})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("sort limit offset", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		for i, name := range []string{"c", "a", "e", "b", "d"} {
			createCustomer(t, a, fmt.Sprintf("u%d", i), name, "")
		}

		asc, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{
			SortBy: &adapter.SortBy{Field: "name", Direction: adapter.Asc},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b", "c", "d", "e"}, names(asc))

		desc, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{
			SortBy: &adapter.SortBy{Field: "name", Direction: adapter.Desc},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"e", "d", "c", "b", "a"}, names(desc))

		limited, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		offset, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{Offset: 2})
		require.NoError(t, err)
		assert.Len(t, offset, 3)

		page, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{
			SortBy: &adapter.SortBy{Field: "name", Direction: adapter.Asc},
			Limit:  2,
			Offset: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"b", "c"}, names(page))
	})

	t.Run("update many with multiple where", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		createCustomer(t, a, "u1", "user", "user@email.com")
		createCustomer(t, a, "u2", "user", "other@email.com")

		n, err := a.UpdateMany(ctx, schema.ModelCustomer,
			[]adapter.Where{adapter.Eq("name", "user"), adapter.Eq("email", "user@email.com")},
			adapter.Record{"email": "updated@email.com"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := a.FindOne(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("email", "updated@email.com")})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "user", got["name"])

		all, err := a.UpdateMany(ctx, schema.ModelCustomer, nil, adapter.Record{"vip": true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), all)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		created := createCustomer(t, a, "u1", "user", "user@email.com")
		where := []adapter.Where{adapter.Eq("id", created["id"])}

		require.NoError(t, a.Delete(ctx, schema.ModelCustomer, where))
		got, err := a.FindOne(ctx, schema.ModelCustomer, where)
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.NoError(t, a.Delete(ctx, schema.ModelCustomer, where))
	})

	t.Run("delete many", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		for i := 1; i <= 3; i++ {
			createCustomer(t, a, fmt.Sprintf("d%d", i), "to-be-deleted", fmt.Sprintf("email@test-%d.com", i))
		}
		keep := createCustomer(t, a, "k1", "keep", "keep@email.com")
		where := []adapter.Where{adapter.Eq("name", "to-be-deleted")}

		found, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{Where: where})
		require.NoError(t, err)
		assert.Len(t, found, 3)

		n, err := a.DeleteMany(ctx, schema.ModelCustomer, where)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		rest, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{})
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, keep["id"], rest[0]["id"])
	})

	t.Run("string operators are case sensitive", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		createCustomer(t, a, "u1", "user", "")
		createCustomer(t, a, "u2", "user2", "")
		createCustomer(t, a, "u3", "User_3%", "")

		cases := []struct {
			op    adapter.Operator
			value string
			want  int
		}{
			{adapter.OpContains, "user2", 1},
			{adapter.OpContains, "ser", 3},
			{adapter.OpContains, "USER", 0},
			{adapter.OpContains, "_3%", 1},
			{adapter.OpStartsWith, "us", 2},
			{adapter.OpStartsWith, "Us", 1},
			{adapter.OpEndsWith, "er2", 1},
			{adapter.OpEndsWith, "%", 1},
		}
		for _, tc := range cases {
			res, err := a.FindMany(ctx, schema.ModelCustomer, adapter.Query{
				Where: []adapter.Where{{Field: "name", Operator: tc.op, Value: tc.value}},
			})
			require.NoError(t, err)
			assert.Len(t, res, tc.want, "%s %q", tc.op, tc.value)
		}
	})

	t.Run("comparison and or operators", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		customer := createCustomer(t, a, "u1", "user", "")
		for i := 0; i < 3; i++ {
			createSubscription(t, a, customer["id"], fmt.Sprintf("sub_%d", i), baseTime.Add(time.Duration(i)*time.Hour))
		}

		later, err := a.FindMany(ctx, schema.ModelSubscription, adapter.Query{
			Where: []adapter.Where{{Field: "startsAt", Operator: adapter.OpGt, Value: baseTime}},
		})
		require.NoError(t, err)
		assert.Len(t, later, 2)

		upTo, err := a.FindMany(ctx, schema.ModelSubscription, adapter.Query{
			Where: []adapter.Where{{Field: "startsAt", Operator: adapter.OpLte, Value: baseTime.Add(time.Hour)}},
		})
		require.NoError(t, err)
		assert.Len(t, upTo, 2)

		ne, err := a.FindMany(ctx, schema.ModelSubscription, adapter.Query{
			Where: []adapter.Where{{Field: "providerSubscriptionId", Operator: adapter.OpNe, Value: "sub_0"}},
		})
		require.NoError(t, err)
		assert.Len(t, ne, 2)

		either, err := a.FindMany(ctx, schema.ModelSubscription, adapter.Query{
			Where: []adapter.Where{
				adapter.Eq("customerId", customer["id"]),
				{Field: "providerSubscriptionId", Value: "sub_0", Connector: adapter.Or},
				{Field: "providerSubscriptionId", Value: "sub_2", Connector: adapter.Or},
			},
		})
		require.NoError(t, err)
		assert.Len(t, either, 2)
	})

	t.Run("reference fields", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		customer := createCustomer(t, a, "u1", "user", "my-email@email.com")
		createSubscription(t, a, customer["id"], "sub_123", baseTime)

		res, err := a.FindOne(ctx, schema.ModelSubscription, []adapter.Where{adapter.Eq("customerId", customer["id"])})
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, customer["id"], res["customerId"])
		assert.Nil(t, res["expiresAt"])
	})

	t.Run("not found is nil", func(t *testing.T) {
		res, err := fresh(t).FindOne(context.Background(), schema.ModelCustomer, []adapter.Where{adapter.Eq("id", "5")})
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("unique violations", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		customer := createCustomer(t, a, "u1", "user", "")
		createSubscription(t, a, customer["id"], "sub_dup", baseTime)

		_, err := a.Create(ctx, schema.ModelSubscription, subscriptionData(customer["id"], "sub_dup", baseTime))
		require.Error(t, err)
		assert.True(t, errors.Is(err, adapter.ErrConstraintViolation), "got %v", err)
		var se *adapter.StorageError
		assert.True(t, errors.As(err, &se))

		_, err = a.Create(ctx, schema.ModelRateLimit, adapter.Record{"key": "k", "count": 1, "lastRequest": baseTime.UnixMilli()})
		require.NoError(t, err)
		_, err = a.Create(ctx, schema.ModelRateLimit, adapter.Record{"key": "k", "count": 1, "lastRequest": baseTime.UnixMilli()})
		assert.True(t, errors.Is(err, adapter.ErrConstraintViolation), "got %v", err)
	})

	t.Run("big integers", func(t *testing.T) {
		ctx := context.Background()
		a := fresh(t)
		ms := baseTime.UnixMilli()
		_, err := a.Create(ctx, schema.ModelRateLimit, adapter.Record{"key": "ip:1", "count": 1, "lastRequest": ms})
		require.NoError(t, err)

		updated, err := a.Update(ctx, schema.ModelRateLimit,
			[]adapter.Where{adapter.Eq("key", "ip:1")},
			adapter.Record{"count": 2, "lastRequest": ms + 1})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, int64(2), updated["count"])
		assert.Equal(t, ms+1, updated["lastRequest"])
	})

	t.Run("generator overrides provided id", func(t *testing.T) {
		a := opts.New(t, schema.Build(SchemaOptions()), func(string) string { return "mocked-id" })
		res, err := a.Create(context.Background(), schema.ModelCustomer, adapter.Record{
			"id":           "1",
			"customUserId": "u4",
			"name":         "user4",
			"email":        "user4@email.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "mocked-id", res["id"])
	})

	t.Run("native ids", func(t *testing.T) {
		if !opts.NativeIDs {
			t.Skip("backend requires application ids")
		}
		ctx := context.Background()
		a := opts.New(t, schema.Build(SchemaOptions()), nil)
		first, err := a.Create(ctx, schema.ModelCustomer, adapter.Record{"customUserId": "u1"})
		require.NoError(t, err)
		second, err := a.Create(ctx, schema.ModelCustomer, adapter.Record{"customUserId": "u2"})
		require.NoError(t, err)
		assert.NotEmpty(t, first["id"])
		assert.NotEqual(t, first["id"], second["id"])

		got, err := a.FindOne(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("id", second["id"])})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u2", got["customUserId"])
	})

	t.Run("snake casing and renames", func(t *testing.T) {
		ctx := context.Background()
		opts2 := SchemaOptions()
		opts2.Casing = schema.CasingSnake
		opts2.Customer.ModelName = "customers"
		opts2.Customer.Fields = map[string]string{"email": "email_address"}
		opts2.Extensions = []map[string]schema.TableExtension{{
			schema.ModelCustomer: {Fields: map[string]schema.FieldAttribute{
				"stripeCustomerId": {Type: schema.TypeString},
			}},
		}}
		a := opts.New(t, schema.Build(opts2), Sequence())

		created, err := a.Create(ctx, schema.ModelCustomer, adapter.Record{
			"customUserId":     "u1",
			"email":            "snake@email.com",
			"stripeCustomerId": "cus_1",
		})
		require.NoError(t, err)

		got, err := a.FindOne(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("stripeCustomerId", "cus_1")})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created["id"], got["id"])
		assert.Equal(t, "snake@email.com", got["email"])
		assert.Equal(t, "u1", got["customUserId"])
	})
}

func createCustomer(t *testing.T, a adapter.Adapter, customUserID, name, email string) adapter.Record {
	t.Helper()
	data := adapter.Record{
		"customUserId": customUserID,
		"name":         name,
		"createdAt":    baseTime,
		"updatedAt":    baseTime,
	}
	if email != "" {
		data["email"] = email
	}
	res, err := a.Create(context.Background(), schema.ModelCustomer, data)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func subscriptionData(customerID any, providerSubscriptionID string, startsAt time.Time) adapter.Record {
	return adapter.Record{
		"customerId":             customerID,
		"status":                 "active",
		"provider":               "stripe",
		"providerProductId":      "prod_123",
		"providerBasePlanId":     "price_123",
		"providerSubscriptionId": providerSubscriptionID,
		"startsAt":               startsAt,
		"purchasedAt":            startsAt,
	}
}

func createSubscription(t *testing.T, a adapter.Adapter, customerID any, providerSubscriptionID string, startsAt time.Time) adapter.Record {
	t.Helper()
	res, err := a.Create(context.Background(), schema.ModelSubscription, subscriptionData(customerID, providerSubscriptionID, startsAt))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func names(rows []adapter.Record) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["name"])
	}
	return out
}
