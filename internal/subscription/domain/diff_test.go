package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Subscription {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return Subscription{
		ID:                     "sub_1",
		CustomerID:             "cus_1",
		Status:                 StatusActive,
		Provider:               "stripe",
		ProviderProductID:      "prod_1",
		ProviderBasePlanID:     "price_1",
		ProviderSubscriptionID: "s1",
		StartsAt:               start,
		PurchasedAt:            start,
		CreatedAt:              start,
		UpdatedAt:              start,
		Additional:             map[string]any{"seats": int64(3)},
	}
}

func TestDiffIsReflexive(t *testing.T) {
	a := sample()
	assert.Empty(t, DiffSubscriptions(a, a))
}

func TestDiffStatus(t *testing.T) {
	a, b := sample(), sample()
	b.Status = StatusTrialing

	changes := DiffSubscriptions(a, b)
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Field: "status", PrevValue: "active", NewValue: "trialing"}, changes[0])
}

func TestDiffComparesInstants(t *testing.T) {
	a, b := sample(), sample()
	b.StartsAt = a.StartsAt.In(time.FixedZone("UTC+7", 7*3600))
	assert.Empty(t, DiffSubscriptions(a, b))
}

func TestDiffNilOnOneSide(t *testing.T) {
	a, b := sample(), sample()
	expires := a.StartsAt.AddDate(0, 1, 0)
	b.ExpiresAt = &expires

	changes := DiffSubscriptions(a, b)
	require.Len(t, changes, 1)
	assert.Equal(t, "expiresAt", changes[0].Field)
	assert.Nil(t, changes[0].PrevValue)

	changes = DiffSubscriptions(b, a)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].NewValue)
}

func TestDiffIgnoresFields(t *testing.T) {
	a, b := sample(), sample()
	b.ID = "other"
	b.CreatedAt = time.Time{}
	b.UpdatedAt = time.Now()
	assert.Empty(t, DiffSubscriptions(a, b, "id", "createdAt", "updatedAt"))
	assert.Len(t, DiffSubscriptions(a, b), 3)
}

func TestDiffOrder(t *testing.T) {
	a, b := sample(), sample()
	b.Status = StatusCanceled
	b.Provider = "apple"
	b.Additional = map[string]any{"seats": 4, "addon": "x"}

	changes := DiffSubscriptions(a, b)
	fields := make([]string, len(changes))
	for i, c := range changes {
		fields[i] = c.Field
	}
	assert.Equal(t, []string{"status", "provider", "addon", "seats"}, fields)
}

func TestEqualNumbersAcrossTypes(t *testing.T) {
	assert.True(t, Equal(int64(3), 3))
	assert.True(t, Equal(3.0, int32(3)))
	assert.False(t, Equal("3", 3))
	assert.True(t, Equal(nil, (*string)(nil)))
	assert.False(t, Equal(nil, ""))
	assert.True(t, Equal([]string{"a"}, []string{"a"}))
}

func TestDiffRecordsOnlyVisitsNextFields(t *testing.T) {
	prev := map[string]any{"a": 1, "b": 2}
	next := map[string]any{"b": 3}
	assert.Equal(t, []Change{{Field: "b", PrevValue: 2, NewValue: 3}}, DiffRecords(prev, next, []string{"a", "b"}))
}

func TestEntitled(t *testing.T) {
	assert.True(t, StatusActive.Entitled())
	assert.True(t, StatusTrialing.Entitled())
	assert.False(t, StatusCanceled.Entitled())
}
