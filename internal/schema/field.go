// Package schema declares the entities persisted by chiron and merges
// plugin-contributed field extensions into an immutable effective schema.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// FieldType is the semantic type of a field, independent of the backend.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

// TimePrecision is the resolution every date value is stored and compared at.
const TimePrecision = time.Millisecond

var (
	ErrUnknownModel = errors.New("unknown_model")
	ErrUnknownField = errors.New("unknown_field")
	ErrInvalidValue = errors.New("invalid_value")
)

// Reference points a field at another model's field.
type Reference struct {
	Model    string
	Field    string
	OnDelete string
}

// FieldAttribute describes one field of one entity.
type FieldAttribute struct {
	Type     FieldType
	Required bool
	Unique   bool
	// BigInt marks number fields that need 64-bit storage.
	BigInt bool
	// DefaultValue supplies a value on create when the caller left the field unset.
	DefaultValue func() any
	References   *Reference
	// FieldName overrides the physical column/attribute name.
	FieldName string
}

// Field is a named attribute of a table.
type Field struct {
	Name string
	FieldAttribute
}

// Coerce converts v into the canonical Go representation for the field type:
// string, int64 (or float64 for fractional numbers), bool, time.Time in UTC
// truncated to TimePrecision, or nil.
func (f FieldAttribute) Coerce(v any) (any, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeString, "":
		return coerceString(v)
	case TypeNumber:
		return coerceNumber(v)
	case TypeBoolean:
		return coerceBool(v)
	case TypeDate:
		return coerceTime(v)
	default:
		return nil, fmt.Errorf("%w: unsupported field type %q", ErrInvalidValue, f.Type)
	}
}

func deref(v any) any {
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
	return rv.Interface()
}

func coerceString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int:
		return strconv.Itoa(t), nil
	}
	return nil, fmt.Errorf("%w: %T is not a string", ErrInvalidValue, v)
}

func coerceNumber(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == math.Trunc(f) && math.Abs(f) < 1<<62 {
			return int64(f), nil
		}
		return f, nil
	}
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return f, nil
	case string:
		return coerceNumber(json.Number(strings.TrimSpace(t)))
	case []byte:
		return coerceNumber(json.Number(strings.TrimSpace(string(t))))
	}
	return nil, fmt.Errorf("%w: %T is not a number", ErrInvalidValue, v)
}

func coerceBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return b, nil
	case []byte:
		return coerceBool(string(t))
	}
	n, err := coerceNumber(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T is not a boolean", ErrInvalidValue, v)
	}
	return n != int64(0), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func coerceTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return NormalizeTime(t), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return NormalizeTime(parsed), nil
			}
		}
		return nil, fmt.Errorf("%w: cannot parse %q as time", ErrInvalidValue, t)
	case []byte:
		return coerceTime(string(t))
	case int64:
		return NormalizeTime(time.UnixMilli(t)), nil
	case float64:
		return NormalizeTime(time.UnixMilli(int64(t))), nil
	}
	return nil, fmt.Errorf("%w: %T is not a time", ErrInvalidValue, v)
}

// NormalizeTime returns t in UTC truncated to TimePrecision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimePrecision)
}
