package gormadapter

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/migration"
	"gorm.io/gorm/clause"
)

// condition maps where clauses to a single gorm expression, or nil when
// there is nothing to filter on.
func (a *Adapter) condition(model string, where []adapter.Where) (clause.Expression, error) {
	if len(where) == 0 {
		return nil, nil
	}
	mapped, err := a.mapper.Where(model, where)
	if err != nil {
		return nil, err
	}
	ands, ors := adapter.SplitConnectors(mapped)

	exprs := make([]clause.Expression, 0, len(ands)+1)
	for _, w := range ands {
		e, err := expression(a.dialect, w)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	if len(ors) > 0 {
		alts := make([]clause.Expression, 0, len(ors))
		for _, w := range ors {
			e, err := expression(a.dialect, w)
			if err != nil {
				return nil, err
			}
			alts = append(alts, e)
		}
		exprs = append(exprs, clause.Or(alts...))
	}
	return clause.And(exprs...), nil
}

func expression(d migration.Dialect, w adapter.Where) (clause.Expression, error) {
	col := clause.Column{Name: w.Field}
	switch w.Op() {
	case adapter.OpEq:
		return clause.Eq{Column: col, Value: w.Value}, nil
	case adapter.OpNe:
		if w.Value == nil {
			return clause.Neq{Column: col, Value: nil}, nil
		}
		// rows holding NULL differ from any value
		return clause.Or(clause.Neq{Column: col, Value: w.Value}, clause.Eq{Column: col, Value: nil}), nil
	case adapter.OpLt:
		return clause.Lt{Column: col, Value: w.Value}, nil
	case adapter.OpLte:
		return clause.Lte{Column: col, Value: w.Value}, nil
	case adapter.OpGt:
		return clause.Gt{Column: col, Value: w.Value}, nil
	case adapter.OpGte:
		return clause.Gte{Column: col, Value: w.Value}, nil
	case adapter.OpIn:
		values, _ := w.Value.([]any)
		return clause.IN{Column: col, Values: values}, nil
	case adapter.OpContains, adapter.OpStartsWith, adapter.OpEndsWith:
		needle, _ := w.Value.(string)
		return match(d, col, w.Op(), needle), nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", w.Operator)
	}
}

// match builds a case-sensitive substring test. SQLite LIKE folds ASCII
// case, so GLOB is used there; MySQL needs LIKE BINARY.
func match(d migration.Dialect, col clause.Column, op adapter.Operator, needle string) clause.Expression {
	if d == migration.SQLite {
		return clause.Expr{SQL: "? GLOB ?", Vars: []any{col, wrap(op, escapeGlob(needle), "*")}}
	}
	pattern := wrap(op, escapeLike(needle), "%")
	if d == migration.MySQL {
		return clause.Expr{SQL: "? LIKE BINARY ?", Vars: []any{col, pattern}}
	}
	return clause.Expr{SQL: "? LIKE ?", Vars: []any{col, pattern}}
}

func wrap(op adapter.Operator, s, wildcard string) string {
	switch op {
	case adapter.OpStartsWith:
		return s + wildcard
	case adapter.OpEndsWith:
		return wildcard + s
	default:
		return wildcard + s + wildcard
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

var globEscaper = strings.NewReplacer(`[`, `[[]`, `*`, `[*]`, `?`, `[?]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
