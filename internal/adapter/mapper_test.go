package adapter

import (
	"testing"

	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapperWhere(t *testing.T) {
	m := NewMapper(schema.Build(schema.Options{
		Casing:    schema.CasingSnake,
		RateLimit: &schema.RateLimitOptions{},
	}), nil)

	got, err := m.Where(schema.ModelCustomer, []Where{
		Eq("customUserId", "u1"),
		{Field: "email", Operator: OpIn, Value: []string{"a@x.io", "b@x.io"}, Connector: Or},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Where{Field: "custom_user_id", Operator: OpEq, Value: "u1", Connector: And}, got[0])
	assert.Equal(t, "email", got[1].Field)
	assert.Equal(t, []any{"a@x.io", "b@x.io"}, got[1].Value)
	assert.Equal(t, Or, got[1].Connector)

	counts, err := m.Where(schema.ModelRateLimit, []Where{{Field: "count", Operator: OpGte, Value: 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[0].Value)
}

func TestMapperWhereRejects(t *testing.T) {
	m := NewMapper(schema.Build(schema.Options{}), nil)

	_, err := m.Where(schema.ModelCustomer, []Where{Eq("nope", "x")})
	assert.ErrorIs(t, err, schema.ErrUnknownField)

	_, err = m.Where(schema.ModelCustomer, []Where{{Field: "email", Operator: OpIn, Value: "a@x.io"}})
	assert.ErrorIs(t, err, schema.ErrInvalidValue)
}
