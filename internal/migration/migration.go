// Package migration turns the effective schema into SQL DDL. Tables are
// created when missing and columns contributed later (plugins, additional
// fields) are added to existing tables; nothing is ever dropped.
package migration

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/chiron/internal/schema"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a driver name to a dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", name)
	}
}

type Options struct {
	Dialect Dialect
	// NativeIDs gives string primary keys a database-side default.
	NativeIDs bool
}

// Existing describes the live database: physical table name to its columns.
// A table absent from the map does not exist yet.
type Existing map[string]map[string]bool

// Plan returns the statements that bring the database up to s, in table
// creation order. An empty plan means the database is current.
func Plan(opts Options, s *schema.Schema, existing Existing) ([]string, error) {
	var stmts []string
	for _, t := range s.Tables() {
		columns, ok := existing[t.ModelName()]
		if !ok {
			stmt, err := CreateTable(opts, s, t)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
			continue
		}
		for _, f := range t.Fields() {
			if columns[f.FieldName] || columns[strings.ToLower(f.FieldName)] {
				continue
			}
			stmts = append(stmts, AddColumn(opts, t, f))
		}
	}
	return stmts, nil
}

// Statements returns the CREATE TABLE statements for every table of s.
func Statements(opts Options, s *schema.Schema) ([]string, error) {
	return Plan(opts, s, nil)
}

// CreateTable renders one CREATE TABLE IF NOT EXISTS statement.
func CreateTable(opts Options, s *schema.Schema, t *schema.Table) (string, error) {
	keyColumns := indexedColumns(t)
	defs := make([]string, 0, len(t.Fields())+len(t.Indexes()))
	for _, f := range t.Fields() {
		def := quote(opts.Dialect, f.FieldName) + " " + columnType(opts.Dialect, f.FieldAttribute, keyColumns[f.Name])
		if f.Name == schema.IDField {
			if opts.NativeIDs && opts.Dialect == Postgres {
				def += " DEFAULT gen_random_uuid()::text"
			}
			def += " PRIMARY KEY"
			defs = append(defs, def)
			continue
		}
		if f.Required {
			def += " NOT NULL"
		}
		if f.Unique {
			def += " UNIQUE"
		}
		if ref := f.References; ref != nil {
			target, err := s.Table(ref.Model)
			if err != nil {
				return "", err
			}
			targetColumn, err := target.Column(ref.Field)
			if err != nil {
				return "", err
			}
			def += fmt.Sprintf(" REFERENCES %s (%s)", quote(opts.Dialect, target.ModelName()), quote(opts.Dialect, targetColumn))
			if action := onDelete(ref.OnDelete); action != "" {
				def += " ON DELETE " + action
			}
		}
		defs = append(defs, def)
	}
	for _, idx := range t.Indexes() {
		if !idx.Unique {
			continue
		}
		cols := make([]string, 0, len(idx.Fields))
		for _, name := range idx.Fields {
			column, err := t.Column(name)
			if err != nil {
				return "", err
			}
			cols = append(cols, quote(opts.Dialect, column))
		}
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
			quote(opts.Dialect, t.ModelName()+"_"+idx.Name), strings.Join(cols, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
		quote(opts.Dialect, t.ModelName()), strings.Join(defs, ",\n\t")), nil
}

// AddColumn renders an ALTER TABLE for a field missing from an existing
// table. The column is nullable so existing rows stay valid.
func AddColumn(opts Options, t *schema.Table, f schema.Field) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		quote(opts.Dialect, t.ModelName()),
		quote(opts.Dialect, f.FieldName),
		columnType(opts.Dialect, f.FieldAttribute, indexedColumns(t)[f.Name]))
}

func columnType(d Dialect, f schema.FieldAttribute, keyed bool) string {
	switch f.Type {
	case schema.TypeNumber:
		if f.BigInt {
			return "bigint"
		}
		return "integer"
	case schema.TypeBoolean:
		return "boolean"
	case schema.TypeDate:
		switch d {
		case Postgres:
			return "timestamptz"
		case MySQL:
			return "datetime(3)"
		default:
			return "datetime"
		}
	default:
		if d == MySQL && (keyed || f.Unique || f.References != nil) {
			return "varchar(255)"
		}
		return "text"
	}
}

// indexedColumns marks fields that take part in a key; mysql cannot index text.
func indexedColumns(t *schema.Table) map[string]bool {
	out := map[string]bool{schema.IDField: true}
	for _, idx := range t.Indexes() {
		for _, name := range idx.Fields {
			out[name] = true
		}
	}
	return out
}

func onDelete(action string) string {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "cascade":
		return "CASCADE"
	case "set null":
		return "SET NULL"
	case "restrict":
		return "RESTRICT"
	default:
		return ""
	}
}

func quote(d Dialect, ident string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Quote exposes identifier quoting to the SQL backends.
func Quote(d Dialect, ident string) string { return quote(d, ident) }
