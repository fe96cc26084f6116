package domain

import (
	"reflect"
	"sort"
	"time"
)

// Change is one differing field.
type Change struct {
	Field     string
	PrevValue any
	NewValue  any
}

// DiffSubscriptions compares prev with next field by field, skipping ignored
// fields. Changes follow the declared field order, then next's additional
// fields sorted by name.
func DiffSubscriptions(prev, next Subscription, ignored ...string) []Change {
	return DiffRecords(prev.Values(), next.Values(), SubscriptionFields, ignored...)
}

// DiffRecords compares every field present in next against prev. Fields in
// order come first, in that order; the rest follow sorted by name.
//
// Times are equal when they denote the same instant. A nil on exactly one
// side is always a change. Numbers compare by value regardless of Go type.
func DiffRecords(prev, next map[string]any, order []string, ignored ...string) []Change {
	skip := make(map[string]bool, len(ignored))
	for _, f := range ignored {
		skip[f] = true
	}

	keys := make([]string, 0, len(next))
	seen := make(map[string]bool, len(order))
	for _, f := range order {
		seen[f] = true
		if _, ok := next[f]; ok {
			keys = append(keys, f)
		}
	}
	var rest []string
	for f := range next {
		if !seen[f] {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var changes []Change
	for _, f := range keys {
		if skip[f] {
			continue
		}
		a, b := prev[f], next[f]
		if !Equal(a, b) {
			changes = append(changes, Change{Field: f, PrevValue: a, NewValue: b})
		}
	}
	return changes
}

// Equal is the field comparison used by DiffRecords.
func Equal(a, b any) bool {
	a, b = unwrap(a), unwrap(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta.Comparable() && tb.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func unwrap(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if s, ok := rv.Interface().(Status); ok {
		return string(s)
	}
	return rv.Interface()
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
