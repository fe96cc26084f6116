package pgxadapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/migration"
)

// builder accumulates SQL text and positional arguments.
type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) String() string { return b.sb.String() }

func ident(name string) string { return migration.Quote(migration.Postgres, name) }

// where appends a WHERE clause for physical clauses. Nothing is written for
// an empty filter.
func (b *builder) where(clauses []adapter.Where) error {
	if len(clauses) == 0 {
		return nil
	}
	b.write(" WHERE ")
	return b.condition(clauses)
}

func (b *builder) condition(clauses []adapter.Where) error {
	ands, ors := adapter.SplitConnectors(clauses)
	first := true
	for _, w := range ands {
		if !first {
			b.write(" AND ")
		}
		first = false
		if err := b.clause(w); err != nil {
			return err
		}
	}
	if len(ors) == 0 {
		return nil
	}
	if !first {
		b.write(" AND ")
	}
	b.write("(")
	for i, w := range ors {
		if i > 0 {
			b.write(" OR ")
		}
		if err := b.clause(w); err != nil {
			return err
		}
	}
	b.write(")")
	return nil
}

func (b *builder) clause(w adapter.Where) error {
	col := ident(w.Field)
	switch w.Op() {
	case adapter.OpEq:
		if w.Value == nil {
			b.write(col, " IS NULL")
			return nil
		}
		b.write(col, " = ", b.arg(w.Value))
	case adapter.OpNe:
		if w.Value == nil {
			b.write(col, " IS NOT NULL")
			return nil
		}
		b.write("(", col, " <> ", b.arg(w.Value), " OR ", col, " IS NULL)")
	case adapter.OpLt:
		b.write(col, " < ", b.arg(w.Value))
	case adapter.OpLte:
		b.write(col, " <= ", b.arg(w.Value))
	case adapter.OpGt:
		b.write(col, " > ", b.arg(w.Value))
	case adapter.OpGte:
		b.write(col, " >= ", b.arg(w.Value))
	case adapter.OpIn:
		values, _ := w.Value.([]any)
		if len(values) == 0 {
			b.write("FALSE")
			return nil
		}
		placeholders := make([]string, 0, len(values))
		for _, v := range values {
			placeholders = append(placeholders, b.arg(v))
		}
		b.write(col, " IN (", strings.Join(placeholders, ", "), ")")
	case adapter.OpContains, adapter.OpStartsWith, adapter.OpEndsWith:
		needle, _ := w.Value.(string)
		b.write(col, " LIKE ", b.arg(likePattern(w.Op(), needle)))
	default:
		return fmt.Errorf("unsupported operator %q", w.Operator)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(op adapter.Operator, needle string) string {
	escaped := likeEscaper.Replace(needle)
	switch op {
	case adapter.OpStartsWith:
		return escaped + "%"
	case adapter.OpEndsWith:
		return "%" + escaped
	default:
		return "%" + escaped + "%"
	}
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ident(c)
	}
	return strings.Join(quoted, ", ")
}

type selectQuery struct {
	table   string
	columns []string
	where   []adapter.Where
	sortBy  *adapter.SortBy
	idCol   string
	limit   int
	offset  int
}

func buildSelect(q selectQuery) (string, []any, error) {
	b := &builder{}
	b.write("SELECT ", columnList(q.columns), " FROM ", ident(q.table))
	if err := b.where(q.where); err != nil {
		return "", nil, err
	}
	b.write(" ORDER BY ")
	if q.sortBy != nil {
		dir := "ASC NULLS FIRST"
		if q.sortBy.Direction == adapter.Desc {
			dir = "DESC NULLS LAST"
		}
		b.write(ident(q.sortBy.Field), " ", dir, ", ")
	}
	b.write(ident(q.idCol))
	if q.limit > 0 {
		b.write(" LIMIT ", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		b.write(" OFFSET ", strconv.Itoa(q.offset))
	}
	return b.String(), b.args, nil
}

func buildInsert(table string, columns []string, row adapter.Record) (string, []any) {
	b := &builder{}
	placeholders := make([]string, 0, len(columns))
	for _, c := range columns {
		placeholders = append(placeholders, b.arg(row[c]))
	}
	b.write("INSERT INTO ", ident(table), " (", columnList(columns), ") VALUES (",
		strings.Join(placeholders, ", "), ") RETURNING *")
	return b.String(), b.args
}

func (b *builder) set(columns []string, values adapter.Record) {
	b.write(" SET ")
	for i, c := range columns {
		if i > 0 {
			b.write(", ")
		}
		b.write(ident(c), " = ", b.arg(values[c]))
	}
}

// firstMatch narrows a statement to the first matching row in id order.
func (b *builder) firstMatch(table, idCol string, where []adapter.Where) error {
	b.write(" WHERE ", ident(idCol), " = (SELECT ", ident(idCol), " FROM ", ident(table))
	if err := b.where(where); err != nil {
		return err
	}
	b.write(" ORDER BY ", ident(idCol), " LIMIT 1)")
	return nil
}

func buildUpdateFirst(table, idCol string, columns []string, values adapter.Record, where []adapter.Where) (string, []any, error) {
	b := &builder{}
	b.write("UPDATE ", ident(table))
	b.set(columns, values)
	if err := b.firstMatch(table, idCol, where); err != nil {
		return "", nil, err
	}
	b.write(" RETURNING *")
	return b.String(), b.args, nil
}

func buildUpdateMany(table string, columns []string, values adapter.Record, where []adapter.Where) (string, []any, error) {
	b := &builder{}
	b.write("UPDATE ", ident(table))
	b.set(columns, values)
	if err := b.where(where); err != nil {
		return "", nil, err
	}
	return b.String(), b.args, nil
}

func buildDeleteFirst(table, idCol string, where []adapter.Where) (string, []any, error) {
	b := &builder{}
	b.write("DELETE FROM ", ident(table))
	if err := b.firstMatch(table, idCol, where); err != nil {
		return "", nil, err
	}
	return b.String(), b.args, nil
}

func buildDeleteMany(table string, where []adapter.Where) (string, []any, error) {
	b := &builder{}
	b.write("DELETE FROM ", ident(table))
	if err := b.where(where); err != nil {
		return "", nil, err
	}
	return b.String(), b.args, nil
}
