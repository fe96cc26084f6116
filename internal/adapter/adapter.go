// Package adapter defines the storage-agnostic CRUD contract every backend
// implements, and the shared pieces (name mapping, value coercion, in-process
// filtering) that keep backends behaving identically.
package adapter

import (
	"context"
	"fmt"
)

// Record is one row or document keyed by field name.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Operator is a filter comparison.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpIn         Operator = "in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
)

// Connector joins a clause to the rest of the filter.
type Connector string

const (
	And Connector = "AND"
	Or  Connector = "OR"
)

// Where is a single filter clause. All AND clauses must hold, and when any
// OR clauses are present at least one of them must hold as well.
type Where struct {
	Field     string
	Operator  Operator
	Value     any
	Connector Connector
}

// Eq is shorthand for an equality clause.
func Eq(field string, value any) Where {
	return Where{Field: field, Operator: OpEq, Value: value}
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortBy orders FindMany results.
type SortBy struct {
	Field     string
	Direction Direction
}

// Query parametrizes FindMany. Limit and Offset apply after sorting; zero
// Limit means no limit.
type Query struct {
	Where  []Where
	SortBy *SortBy
	Limit  int
	Offset int
}

// Adapter is implemented once per storage technology. Model and field names
// are always abstract; implementations translate them through a Mapper.
type Adapter interface {
	// ID names the backend for logs and errors.
	ID() string
	Create(ctx context.Context, model string, data Record) (Record, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, model string, where []Where, selects ...string) (Record, error)
	FindMany(ctx context.Context, model string, q Query) ([]Record, error)
	// Update patches the first match and returns it, or nil, nil when nothing matched.
	Update(ctx context.Context, model string, where []Where, patch Record) (Record, error)
	UpdateMany(ctx context.Context, model string, where []Where, patch Record) (int64, error)
	// Delete removes the first match. Deleting nothing is not an error.
	Delete(ctx context.Context, model string, where []Where) error
	DeleteMany(ctx context.Context, model string, where []Where) (int64, error)
}

// Migrator is implemented by backends that need tables, collections or
// indexes created before use.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Closer is implemented by backends that own their connection.
type Closer interface {
	Close() error
}

// Op returns the clause operator with the eq default applied.
func (w Where) Op() Operator {
	if w.Operator == "" {
		return OpEq
	}
	return w.Operator
}

func (w Where) String() string {
	return fmt.Sprintf("%s %s %v", w.Field, w.Op(), w.Value)
}

// SplitConnectors separates AND clauses from OR clauses.
func SplitConnectors(where []Where) (ands, ors []Where) {
	for _, w := range where {
		if w.Connector == Or {
			ors = append(ors, w)
			continue
		}
		ands = append(ands, w)
	}
	return ands, ors
}
