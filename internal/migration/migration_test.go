package migration

import (
	"strings"
	"testing"

	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsPostgres(t *testing.T) {
	s := schema.Build(schema.Options{})
	stmts, err := Statements(Options{Dialect: Postgres}, s)
	require.NoError(t, err)
	require.Len(t, stmts, 3)

	assert.True(t, strings.HasPrefix(stmts[0], `CREATE TABLE IF NOT EXISTS "customer"`))
	assert.Contains(t, stmts[0], `"id" text PRIMARY KEY`)
	assert.Contains(t, stmts[0], `"customUserId" text NOT NULL`)
	assert.Contains(t, stmts[0], `"createdAt" timestamptz NOT NULL`)

	sub := stmts[1]
	assert.Contains(t, sub, `"customerId" text NOT NULL REFERENCES "customer" ("id") ON DELETE CASCADE`)
	assert.Contains(t, sub, `CONSTRAINT "subscription_provider_subscription" UNIQUE ("provider", "providerSubscriptionId")`)
	assert.Contains(t, sub, `"expiresAt" timestamptz,`)
}

func TestStatementsNativeIDs(t *testing.T) {
	stmts, err := Statements(Options{Dialect: Postgres, NativeIDs: true}, schema.Build(schema.Options{}))
	require.NoError(t, err)
	assert.Contains(t, stmts[0], `"id" text DEFAULT gen_random_uuid()::text PRIMARY KEY`)
}

func TestStatementsMySQL(t *testing.T) {
	s := schema.Build(schema.Options{RateLimit: &schema.RateLimitOptions{}})
	stmts, err := Statements(Options{Dialect: MySQL}, s)
	require.NoError(t, err)
	require.Len(t, stmts, 4)

	assert.Contains(t, stmts[0], "`id` varchar(255) PRIMARY KEY")
	assert.Contains(t, stmts[0], "`email` text")
	assert.Contains(t, stmts[1], "`provider` varchar(255) NOT NULL")
	assert.Contains(t, stmts[1], "`startsAt` datetime(3) NOT NULL")
	assert.Contains(t, stmts[3], "`key` varchar(255) NOT NULL UNIQUE")
	assert.Contains(t, stmts[3], "`lastRequest` bigint NOT NULL")
}

func TestStatementsSnakeCase(t *testing.T) {
	s := schema.Build(schema.Options{Casing: schema.CasingSnake})
	stmts, err := Statements(Options{Dialect: SQLite}, s)
	require.NoError(t, err)

	assert.Contains(t, stmts[1], `"customer_id" text NOT NULL REFERENCES "customer" ("id")`)
	assert.Contains(t, stmts[1], `"starts_at" datetime NOT NULL`)
	assert.Contains(t, stmts[2], `CREATE TABLE IF NOT EXISTS "customer_external_id"`)
}

func TestPlanAddsMissingColumns(t *testing.T) {
	s := schema.Build(schema.Options{
		Extensions: []map[string]schema.TableExtension{{
			schema.ModelCustomer: {Fields: map[string]schema.FieldAttribute{
				"stripeCustomerId": {Type: schema.TypeString},
			}},
		}},
	})
	existing := Existing{
		"customer": {"id": true, "customUserId": true, "email": true, "name": true, "createdAt": true, "updatedAt": true},
		"subscription": {
			"id": true, "customerId": true, "status": true, "provider": true, "providerProductId": true,
			"providerBasePlanId": true, "providerSubscriptionId": true, "startsAt": true, "purchasedAt": true,
			"expiresAt": true, "billingIssueDetectedAt": true, "createdAt": true, "updatedAt": true,
		},
	}

	stmts, err := Plan(Options{Dialect: Postgres}, s, existing)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, `ALTER TABLE "customer" ADD COLUMN "stripeCustomerId" text`, stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], `CREATE TABLE IF NOT EXISTS "customer_external_id"`))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PGX")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}
