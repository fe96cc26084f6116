package adapter

import (
	"fmt"
	"reflect"

	"github.com/smallbiznis/chiron/internal/schema"
)

// IDGenerator produces a primary key for a new row of model. A nil generator
// lets the backend assign ids itself.
type IDGenerator func(model string) string

// Mapper is the single place abstract model/field names become physical
// names, and where values are coerced to their canonical Go types.
type Mapper struct {
	schema     *schema.Schema
	generateID IDGenerator
}

// NewMapper builds a mapper over an effective schema.
func NewMapper(s *schema.Schema, gen IDGenerator) *Mapper {
	return &Mapper{schema: s, generateID: gen}
}

// Schema returns the effective schema.
func (m *Mapper) Schema() *schema.Schema { return m.schema }

// GeneratesIDs reports whether ids come from the application.
func (m *Mapper) GeneratesIDs() bool { return m.generateID != nil }

// Table resolves a model.
func (m *Mapper) Table(model string) (*schema.Table, error) {
	return m.schema.Table(model)
}

// ToCreate maps a create payload to physical names, generating the id and
// filling defaults. Fields unknown to the schema are dropped.
func (m *Mapper) ToCreate(model string, data Record) (Record, error) {
	t, err := m.schema.Table(model)
	if err != nil {
		return nil, err
	}
	out := Record{}
	for _, f := range t.Fields() {
		v, present := data[f.Name]
		if f.Name == schema.IDField && m.generateID != nil {
			v, present = m.generateID(model), true
		}
		if (!present || v == nil) && f.DefaultValue != nil {
			v, present = f.DefaultValue(), true
		}
		if !present {
			continue
		}
		cv, err := f.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model, f.Name, err)
		}
		out[f.FieldName] = cv
	}
	return out, nil
}

// ToUpdate maps a patch to physical names. The primary key is never patched.
func (m *Mapper) ToUpdate(model string, patch Record) (Record, error) {
	t, err := m.schema.Table(model)
	if err != nil {
		return nil, err
	}
	out := Record{}
	for name, v := range patch {
		if name == schema.IDField {
			continue
		}
		f, ok := t.Field(name)
		if !ok {
			continue
		}
		cv, err := f.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model, name, err)
		}
		out[f.FieldName] = cv
	}
	return out, nil
}

// FromStorage maps a physical row back to abstract names. When selects is
// empty every schema field is returned, nil when the row lacks it.
func (m *Mapper) FromStorage(model string, row Record, selects []string) (Record, error) {
	if row == nil {
		return nil, nil
	}
	t, err := m.schema.Table(model)
	if err != nil {
		return nil, err
	}
	names := selects
	if len(names) == 0 {
		names = t.FieldNames()
	}
	out := make(Record, len(names))
	for _, name := range names {
		f, ok := t.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", schema.ErrUnknownField, model, name)
		}
		cv, err := f.Coerce(row[f.FieldName])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model, name, err)
		}
		out[name] = cv
	}
	return out, nil
}

// Canonical coerces a physical row in place of its physical names, for
// backends that filter decoded documents in process.
func (m *Mapper) Canonical(model string, row Record) (Record, error) {
	t, err := m.schema.Table(model)
	if err != nil {
		return nil, err
	}
	out := make(Record, len(row))
	for column, v := range row {
		_, f, ok := t.FieldByColumn(column)
		if !ok {
			out[column] = v
			continue
		}
		cv, err := f.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model, column, err)
		}
		out[column] = cv
	}
	return out, nil
}

// Where maps clause fields to physical names and coerces clause values.
func (m *Mapper) Where(model string, where []Where) ([]Where, error) {
	t, err := m.schema.Table(model)
	if err != nil {
		return nil, err
	}
	out := make([]Where, 0, len(where))
	for _, w := range where {
		f, ok := t.Field(w.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", schema.ErrUnknownField, model, w.Field)
		}
		v, err := coerceClauseValue(f, w)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model, w.Field, err)
		}
		connector := w.Connector
		if connector == "" {
			connector = And
		}
		out = append(out, Where{Field: f.FieldName, Operator: w.Op(), Value: v, Connector: connector})
	}
	return out, nil
}

func coerceClauseValue(f schema.FieldAttribute, w Where) (any, error) {
	switch w.Op() {
	case OpIn:
		rv := reflect.ValueOf(w.Value)
		if w.Value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, fmt.Errorf("%w: in requires a list, got %T", schema.ErrInvalidValue, w.Value)
		}
		values := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			cv, err := f.Coerce(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			values = append(values, cv)
		}
		return values, nil
	case OpContains, OpStartsWith, OpEndsWith:
		return schema.FieldAttribute{Type: schema.TypeString}.Coerce(w.Value)
	default:
		return f.Coerce(w.Value)
	}
}

// SortBy maps the sort field to its physical name.
func (m *Mapper) SortBy(model string, s *SortBy) (*SortBy, error) {
	if s == nil {
		return nil, nil
	}
	t, err := m.schema.Table(model)
	if err != nil {
		return nil, err
	}
	column, err := t.Column(s.Field)
	if err != nil {
		return nil, err
	}
	dir := s.Direction
	if dir != Desc {
		dir = Asc
	}
	return &SortBy{Field: column, Direction: dir}, nil
}

// Columns maps selected abstract fields to physical names; empty means all.
func (m *Mapper) Columns(model string, selects []string) ([]string, error) {
	t, err := m.schema.Table(model)
	if err != nil {
		return nil, err
	}
	if len(selects) == 0 {
		selects = t.FieldNames()
	}
	out := make([]string, 0, len(selects))
	for _, name := range selects {
		column, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		out = append(out, column)
	}
	return out, nil
}

// IDColumn returns the physical primary key name of model.
func (m *Mapper) IDColumn(model string) (string, error) {
	t, err := m.schema.Table(model)
	if err != nil {
		return "", err
	}
	return t.Column(schema.IDField)
}
