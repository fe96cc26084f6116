package mongoadapter

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/adapter/adaptertest"
	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func TestBuildFilter(t *testing.T) {
	cases := []struct {
		name  string
		where []adapter.Where
		want  bson.M
	}{
		{
			name: "empty",
			want: bson.M{},
		},
		{
			name:  "eq and ne",
			where: []adapter.Where{adapter.Eq("status", "active"), {Field: "name", Operator: adapter.OpNe, Value: "x"}},
			want: bson.M{"$and": bson.A{
				bson.M{"status": "active"},
				bson.M{"name": bson.M{"$ne": "x"}},
			}},
		},
		{
			name: "or group",
			where: []adapter.Where{
				adapter.Eq("provider", "stripe"),
				{Field: "status", Value: "active", Connector: adapter.Or},
				{Field: "status", Value: "trialing", Connector: adapter.Or},
			},
			want: bson.M{"$and": bson.A{
				bson.M{"provider": "stripe"},
				bson.M{"$or": bson.A{bson.M{"status": "active"}, bson.M{"status": "trialing"}}},
			}},
		},
		{
			name:  "empty in",
			where: []adapter.Where{{Field: "status", Operator: adapter.OpIn, Value: []any{}}},
			want:  bson.M{"$and": bson.A{bson.M{"status": bson.M{"$in": []any{}}}}},
		},
		{
			name:  "starts with is escaped",
			where: []adapter.Where{{Field: "name", Operator: adapter.OpStartsWith, Value: "a.b*"}},
			want: bson.M{"$and": bson.A{
				bson.M{"name": bson.M{"$regex": primitive.Regex{Pattern: `^a\.b\*`}}},
			}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buildFilter(tc.where)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := buildFilter([]adapter.Where{{Field: "x", Operator: "near"}})
	assert.Error(t, err)
}

func TestDocumentRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	doc := toDocument(adapter.Record{"id": "c1", "name": nil, "createdAt": at}, "id")
	assert.Equal(t, bson.M{"_id": "c1", "createdAt": at}, doc)

	row := fromDocument(bson.M{
		"_id":       "c1",
		"createdAt": primitive.NewDateTimeFromTime(at),
		"count":     int32(3),
	}, "id")
	assert.Equal(t, adapter.Record{"id": "c1", "createdAt": at, "count": int64(3)}, row)
}

func TestUpdateSpecUnsetsNil(t *testing.T) {
	spec := updateSpec(adapter.Record{"name": "a", "email": nil})
	assert.Equal(t, bson.M{"$set": bson.M{"name": "a"}, "$unset": bson.M{"email": ""}}, spec)
}

func TestSortSpec(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, sortSpec(nil, "id"))
	assert.Equal(t,
		bson.D{{Key: "startsAt", Value: -1}, {Key: "_id", Value: 1}},
		sortSpec(&adapter.SortBy{Field: "startsAt", Direction: adapter.Desc}, "id"))
}

func TestIndexModels(t *testing.T) {
	s := schema.Build(schema.Options{RateLimit: &schema.RateLimitOptions{}})
	sub, err := s.Table(schema.ModelSubscription)
	require.NoError(t, err)
	models := IndexModels(sub)
	require.Len(t, models, 1)
	assert.Equal(t, bson.D{{Key: "provider", Value: 1}, {Key: "providerSubscriptionId", Value: 1}}, models[0].Keys)

	customer, err := s.Table(schema.ModelCustomer)
	require.NoError(t, err)
	assert.Empty(t, IndexModels(customer))
}

var dbSeq atomic.Int64

// Runs against a live server when CHIRON_TEST_MONGO_URI is set.
func TestConformanceMongo(t *testing.T) {
	uri := os.Getenv("CHIRON_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHIRON_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	adaptertest.Run(t, adaptertest.Options{
		New: func(t *testing.T, s *schema.Schema, gen adapter.IDGenerator) adapter.Adapter {
			db := client.Database(fmt.Sprintf("chiron_test_%d_%d", time.Now().Unix(), dbSeq.Add(1)))
			t.Cleanup(func() { _ = db.Drop(ctx) })
			a := New(db, adapter.NewMapper(s, gen), zap.NewNop())
			require.NoError(t, a.Migrate(ctx))
			return a
		},
		NativeIDs: true,
	})
}
