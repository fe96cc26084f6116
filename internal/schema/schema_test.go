package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBaseTables(t *testing.T) {
	s := Build(Options{})

	var keys []string
	for _, tbl := range s.Tables() {
		keys = append(keys, tbl.Key())
	}
	assert.Equal(t, []string{ModelCustomer, ModelSubscription, ModelCustomerExternalID}, keys)
	assert.Equal(t, CasingCamel, s.Casing())

	_, err := s.Table(ModelRateLimit)
	assert.ErrorIs(t, err, ErrUnknownModel)

	sub, err := s.Table(ModelSubscription)
	require.NoError(t, err)
	assert.Equal(t, "id", sub.FieldNames()[0])
	require.Len(t, sub.Indexes(), 1)
	assert.Equal(t, []string{"provider", "providerSubscriptionId"}, sub.Indexes()[0].Fields)
	assert.True(t, sub.Indexes()[0].Unique)

	_, err = sub.Column("nope")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestRateLimitTableOnlyWhenRequested(t *testing.T) {
	s := Build(Options{RateLimit: &RateLimitOptions{ModelName: "rate_limits"}})
	tbl, err := s.Table(ModelRateLimit)
	require.NoError(t, err)
	assert.Equal(t, "rate_limits", tbl.ModelName())
	f, ok := tbl.Field("lastRequest")
	require.True(t, ok)
	assert.True(t, f.BigInt)
}

func TestExtensionsMergeLastWriterWins(t *testing.T) {
	s := Build(Options{Extensions: []map[string]TableExtension{
		{ModelCustomer: {Fields: map[string]FieldAttribute{
			"stripeCustomerId": {Type: TypeString},
			"email":            {Type: TypeString, Required: true},
		}}},
		{ModelCustomer: {Fields: map[string]FieldAttribute{
			"stripeCustomerId": {Type: TypeString, Unique: true},
		}}},
	}})
	customers, err := s.Table(ModelCustomer)
	require.NoError(t, err)

	f, ok := customers.Field("stripeCustomerId")
	require.True(t, ok)
	assert.True(t, f.Unique)

	email, _ := customers.Field("email")
	assert.True(t, email.Required)

	names := customers.FieldNames()
	assert.Equal(t, "stripeCustomerId", names[len(names)-1])
}

func TestExtensionAddsNewTable(t *testing.T) {
	s := Build(Options{Extensions: []map[string]TableExtension{
		{"auditEntry": {ModelName: "audit_entries", Fields: map[string]FieldAttribute{"message": {Type: TypeString}}}},
	}})
	tbl, err := s.Table("auditEntry")
	require.NoError(t, err)
	assert.Equal(t, "audit_entries", tbl.ModelName())
	assert.Equal(t, []string{"id", "message"}, tbl.FieldNames())
	tables := s.Tables()
	assert.Equal(t, "auditEntry", tables[len(tables)-1].Key())
}

func TestCoreModelNameCannotBeChangedByPlugins(t *testing.T) {
	s := Build(Options{Extensions: []map[string]TableExtension{
		{ModelCustomer: {ModelName: "people"}},
	}})
	tbl, _ := s.Table(ModelCustomer)
	assert.Equal(t, "customer", tbl.ModelName())
}

func TestSnakeCasingAndOverrides(t *testing.T) {
	s := Build(Options{
		Casing: CasingSnake,
		Subscription: EntityOptions{
			ModelName: "subs",
			Fields:    map[string]string{"providerSubscriptionId": "external_ref"},
			AdditionalFields: map[string]FieldAttribute{
				"seatCount": {Type: TypeNumber},
				"plan":      {Type: TypeString, FieldName: "PlanCode"},
			},
		},
	})

	sub, err := s.Table(ModelSubscription)
	require.NoError(t, err)
	assert.Equal(t, "subs", sub.ModelName())

	col, _ := sub.Column("customerId")
	assert.Equal(t, "customer_id", col)
	col, _ = sub.Column("providerSubscriptionId")
	assert.Equal(t, "external_ref", col)
	col, _ = sub.Column("seatCount")
	assert.Equal(t, "seat_count", col)
	col, _ = sub.Column("plan")
	assert.Equal(t, "PlanCode", col)

	ext, _ := s.Table(ModelCustomerExternalID)
	assert.Equal(t, "customer_external_id", ext.ModelName())

	name, _, ok := sub.FieldByColumn("external_ref")
	require.True(t, ok)
	assert.Equal(t, "providerSubscriptionId", name)
}

func TestTablesAreCopies(t *testing.T) {
	s := Build(Options{})
	sub, _ := s.Table(ModelSubscription)
	idx := sub.Indexes()
	idx[0].Fields[0] = "mutated"
	assert.Equal(t, "provider", sub.Indexes()[0].Fields[0])

	names := sub.FieldNames()
	names[0] = "mutated"
	assert.Equal(t, "id", sub.FieldNames()[0])
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 678901234, time.FixedZone("x", 3600))
	s := "abc"

	cases := []struct {
		name string
		attr FieldAttribute
		in   any
		want any
	}{
		{"nil", FieldAttribute{Type: TypeString}, nil, nil},
		{"string pointer", FieldAttribute{Type: TypeString}, &s, "abc"},
		{"int to int64", FieldAttribute{Type: TypeNumber}, 42, int64(42)},
		{"whole float", FieldAttribute{Type: TypeNumber}, 3.0, int64(3)},
		{"fractional float", FieldAttribute{Type: TypeNumber}, 2.5, 2.5},
		{"json number", FieldAttribute{Type: TypeNumber}, json.Number("7"), int64(7)},
		{"numeric string", FieldAttribute{Type: TypeNumber}, " 9 ", int64(9)},
		{"bool string", FieldAttribute{Type: TypeBoolean}, "true", true},
		{"bool from int", FieldAttribute{Type: TypeBoolean}, int64(0), false},
		{"time normalized", FieldAttribute{Type: TypeDate}, ts, time.Date(2025, 1, 2, 2, 4, 5, 678000000, time.UTC)},
		{"time from rfc3339", FieldAttribute{Type: TypeDate}, "2025-01-02T02:04:05.678Z", time.Date(2025, 1, 2, 2, 4, 5, 678000000, time.UTC)},
		{"time from millis", FieldAttribute{Type: TypeDate}, int64(1000), time.UnixMilli(1000).UTC()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.attr.Coerce(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCoerceRejects(t *testing.T) {
	_, err := FieldAttribute{Type: TypeNumber}.Coerce("twelve")
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = FieldAttribute{Type: TypeDate}.Coerce("yesterday")
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = FieldAttribute{Type: TypeString}.Coerce(struct{}{})
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = FieldAttribute{Type: "blob"}.Coerce("x")
	assert.ErrorIs(t, err, ErrInvalidValue)
}
