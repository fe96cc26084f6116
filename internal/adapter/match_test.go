package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	row := Record{"name": "Alice Smith", "age": int64(30), "at": ts, "active": true, "note": nil}

	cases := []struct {
		name  string
		where []Where
		want  bool
	}{
		{"empty", nil, true},
		{"eq", []Where{Eq("name", "Alice Smith")}, true},
		{"eq nil", []Where{Eq("note", nil)}, true},
		{"eq nil mismatch", []Where{Eq("name", nil)}, false},
		{"ne", []Where{{Field: "age", Operator: OpNe, Value: int64(31)}}, true},
		{"in", []Where{{Field: "age", Operator: OpIn, Value: []any{int64(1), int64(30)}}}, true},
		{"in miss", []Where{{Field: "age", Operator: OpIn, Value: []any{int64(1)}}}, false},
		{"gt", []Where{{Field: "age", Operator: OpGt, Value: int64(29)}}, true},
		{"lte float", []Where{{Field: "age", Operator: OpLte, Value: 29.5}}, false},
		{"time gte", []Where{{Field: "at", Operator: OpGte, Value: ts}}, true},
		{"contains is case sensitive", []Where{{Field: "name", Operator: OpContains, Value: "alice"}}, false},
		{"starts_with", []Where{{Field: "name", Operator: OpStartsWith, Value: "Ali"}}, true},
		{"ends_with", []Where{{Field: "name", Operator: OpEndsWith, Value: "Smith"}}, true},
		{"and", []Where{Eq("active", true), Eq("age", int64(1))}, false},
		{
			"or",
			[]Where{
				{Field: "age", Value: int64(1), Connector: Or},
				{Field: "age", Value: int64(30), Connector: Or},
			},
			true,
		},
		{
			"and with or",
			[]Where{
				Eq("active", false),
				{Field: "age", Value: int64(30), Connector: Or},
			},
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(row, tc.where))
		})
	}
}

func TestSortRowsAndPaginate(t *testing.T) {
	rows := []Record{
		{"id": "a", "n": int64(2)},
		{"id": "b", "n": nil},
		{"id": "c", "n": int64(1)},
		{"id": "d", "n": int64(2)},
	}

	SortRows(rows, &SortBy{Field: "n", Direction: Asc})
	assert.Equal(t, []any{"b", "c", "a", "d"}, ids(rows))

	SortRows(rows, &SortBy{Field: "n", Direction: Desc})
	assert.Equal(t, []any{"a", "d", "c", "b"}, ids(rows))

	assert.Equal(t, []any{"d", "c"}, ids(Paginate(rows, 2, 1)))
	assert.Empty(t, Paginate(rows, 0, 10))
	assert.Len(t, Paginate(rows, 0, 0), 4)
}

func ids(rows []Record) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"])
	}
	return out
}
