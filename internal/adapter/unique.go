package adapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/chiron/internal/schema"
)

// UniqueKey is a set of physical columns whose combined values must be unique.
type UniqueKey struct {
	Name    string
	Columns []string
}

// UniqueKeys lists every unique field and unique index of a table, by
// physical column name. Backends without native constraints enforce these.
func UniqueKeys(t *schema.Table) []UniqueKey {
	var keys []UniqueKey
	for _, f := range t.Fields() {
		if f.Unique {
			keys = append(keys, UniqueKey{Name: f.Name, Columns: []string{f.FieldName}})
		}
	}
	for _, idx := range t.Indexes() {
		if !idx.Unique {
			continue
		}
		cols := make([]string, 0, len(idx.Fields))
		for _, name := range idx.Fields {
			column, err := t.Column(name)
			if err != nil {
				continue
			}
			cols = append(cols, column)
		}
		keys = append(keys, UniqueKey{Name: idx.Name, Columns: cols})
	}
	return keys
}

// Collides reports whether a and b hold the same non-nil values for every
// column of k. Rows with a nil in the key never collide, as in SQL.
func (k UniqueKey) Collides(a, b Record) bool {
	for _, c := range k.Columns {
		if a[c] == nil || b[c] == nil || !equal(a[c], b[c]) {
			return false
		}
	}
	return true
}

// Value renders the key of row as a string. ok is false when any column is nil.
func (k UniqueKey) Value(row Record) (string, bool) {
	parts := make([]string, 0, len(k.Columns))
	for _, c := range k.Columns {
		v := row[c]
		if v == nil {
			return "", false
		}
		parts = append(parts, stringify(v))
	}
	return strings.Join(parts, "\x1f"), true
}

func stringify(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
