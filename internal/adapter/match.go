package adapter

import (
	"sort"
	"strings"
	"time"
)

// Match reports whether a row with physical field names satisfies clauses
// already passed through Mapper.Where.
func Match(row Record, where []Where) bool {
	ands, ors := SplitConnectors(where)
	for _, w := range ands {
		if !matchClause(row, w) {
			return false
		}
	}
	if len(ors) == 0 {
		return true
	}
	for _, w := range ors {
		if matchClause(row, w) {
			return true
		}
	}
	return false
}

func matchClause(row Record, w Where) bool {
	v := row[w.Field]
	switch w.Op() {
	case OpEq:
		return equal(v, w.Value)
	case OpNe:
		return !equal(v, w.Value)
	case OpIn:
		values, _ := w.Value.([]any)
		for _, candidate := range values {
			if equal(v, candidate) {
				return true
			}
		}
		return false
	case OpLt, OpLte, OpGt, OpGte:
		if v == nil || w.Value == nil {
			return false
		}
		c, ok := compare(v, w.Value)
		if !ok {
			return false
		}
		switch w.Op() {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := v.(string)
		needle, ok2 := w.Value.(string)
		if !ok || !ok2 {
			return false
		}
		switch w.Op() {
		case OpContains:
			return strings.Contains(s, needle)
		case OpStartsWith:
			return strings.HasPrefix(s, needle)
		default:
			return strings.HasSuffix(s, needle)
		}
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, ok := compare(a, b)
	return ok && c == 0
}

// compare orders two canonical values of the same kind.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case int64, float64:
		xf, _ := toFloat(x)
		yf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case xf < yf:
			return -1, true
		case xf > yf:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// SortRows orders rows in place by the physical sort field. The sort is
// stable so ties keep storage order; nil sorts first ascending.
func SortRows(rows []Record, s *SortBy) {
	if s == nil {
		return
	}
	desc := s.Direction == Desc
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][s.Field], rows[j][s.Field]
		var c int
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			c = -1
		case b == nil:
			c = 1
		default:
			c, _ = compare(a, b)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// Paginate applies offset then limit; zero limit means no limit.
func Paginate(rows []Record, limit, offset int) []Record {
	if offset > 0 {
		if offset >= len(rows) {
			return []Record{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
