package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Models owned by the core.
const (
	ModelCustomer           = "customer"
	ModelSubscription       = "subscription"
	ModelCustomerExternalID = "customer_external_id"
	ModelRateLimit          = "rateLimit"
)

// IDField is the primary key every table carries.
const IDField = "id"

// Casing selects how physical names are derived when no override is given.
type Casing string

const (
	CasingCamel Casing = "camel"
	CasingSnake Casing = "snake"
)

// TableExtension is the schema a plugin contributes for one entity.
type TableExtension struct {
	ModelName string
	Fields    map[string]FieldAttribute
}

// EntityOptions customizes the physical layout of a core entity.
type EntityOptions struct {
	ModelName string
	// Fields maps abstract field names to physical names.
	Fields           map[string]string
	AdditionalFields map[string]FieldAttribute
}

// RateLimitOptions enables the rate-limit table when rate-limit storage is the database.
type RateLimitOptions struct {
	ModelName string
	Fields    map[string]string
}

// Options configures the effective schema.
type Options struct {
	Casing             Casing
	Customer           EntityOptions
	Subscription       EntityOptions
	CustomerExternalID EntityOptions
	RateLimit          *RateLimitOptions
	// Extensions are plugin schemas in plugin registration order.
	Extensions []map[string]TableExtension
}

// Index is a (possibly composite) index over abstract field names.
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// Table is the immutable effective definition of one entity.
type Table struct {
	key       string
	modelName string
	order     int
	fields    map[string]FieldAttribute
	names     []string
	indexes   []Index
}

// Key returns the abstract model name.
func (t *Table) Key() string { return t.key }

// ModelName returns the physical table/collection name.
func (t *Table) ModelName() string { return t.modelName }

// Order returns the creation order of the table, lower first.
func (t *Table) Order() int { return t.order }

// Field looks up a field by abstract name.
func (t *Table) Field(name string) (FieldAttribute, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Fields returns all fields in declaration order, id first.
func (t *Table) Fields() []Field {
	out := make([]Field, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, Field{Name: name, FieldAttribute: t.fields[name]})
	}
	return out
}

// FieldNames returns abstract field names in declaration order.
func (t *Table) FieldNames() []string {
	return append([]string(nil), t.names...)
}

// Indexes returns the declared indexes.
func (t *Table) Indexes() []Index {
	out := make([]Index, len(t.indexes))
	for i, idx := range t.indexes {
		out[i] = Index{Name: idx.Name, Fields: append([]string(nil), idx.Fields...), Unique: idx.Unique}
	}
	return out
}

// Column returns the physical name of an abstract field.
func (t *Table) Column(field string) (string, error) {
	f, ok := t.fields[field]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, t.key, field)
	}
	return f.FieldName, nil
}

// FieldByColumn resolves a physical name back to its abstract field.
func (t *Table) FieldByColumn(column string) (string, FieldAttribute, bool) {
	for _, name := range t.names {
		f := t.fields[name]
		if f.FieldName == column {
			return name, f, true
		}
	}
	return "", FieldAttribute{}, false
}

// Schema is the merged, immutable set of tables.
type Schema struct {
	casing Casing
	tables map[string]*Table
	keys   []string
}

// Table resolves a model by abstract name.
func (s *Schema) Table(model string) (*Table, error) {
	t, ok := s.tables[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return t, nil
}

// Tables returns all tables sorted by creation order.
func (s *Schema) Tables() []*Table {
	out := make([]*Table, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.tables[k])
	}
	return out
}

// Casing returns the casing the schema was built with.
func (s *Schema) Casing() Casing { return s.casing }

type draft struct {
	modelName string
	order     int
	fields    map[string]FieldAttribute
	names     []string
	indexes   []Index
}

func (d *draft) set(name string, attr FieldAttribute) {
	if _, exists := d.fields[name]; !exists {
		d.names = append(d.names, name)
	}
	d.fields[name] = attr
}

func (d *draft) merge(fields map[string]FieldAttribute) {
	for _, name := range sortedKeys(fields) {
		d.set(name, fields[name])
	}
}

// Build merges base tables, plugin extensions and option overrides into an
// effective schema. The result is never mutated afterwards.
func Build(opts Options) *Schema {
	casing := opts.Casing
	if casing == "" {
		casing = CasingCamel
	}

	drafts := map[string]*draft{
		ModelCustomer:           customerTable(opts.Customer),
		ModelSubscription:       subscriptionTable(opts.Subscription),
		ModelCustomerExternalID: customerExternalIDTable(opts.CustomerExternalID),
	}
	if opts.RateLimit != nil {
		drafts[ModelRateLimit] = rateLimitTable(*opts.RateLimit)
	}

	nextOrder := 10
	for _, ext := range opts.Extensions {
		for _, key := range sortedKeys(ext) {
			table := ext[key]
			d, ok := drafts[key]
			if !ok {
				d = &draft{order: nextOrder, fields: map[string]FieldAttribute{}}
				d.set(IDField, idField())
				drafts[key] = d
				nextOrder++
			}
			d.merge(table.Fields)
			if table.ModelName != "" && !isCoreModel(key) {
				d.modelName = table.ModelName
			}
		}
	}

	drafts[ModelCustomer].merge(opts.Customer.AdditionalFields)
	drafts[ModelSubscription].merge(opts.Subscription.AdditionalFields)
	drafts[ModelCustomerExternalID].merge(opts.CustomerExternalID.AdditionalFields)

	renames := map[string]map[string]string{
		ModelCustomer:           opts.Customer.Fields,
		ModelSubscription:       opts.Subscription.Fields,
		ModelCustomerExternalID: opts.CustomerExternalID.Fields,
	}
	if opts.RateLimit != nil {
		renames[ModelRateLimit] = opts.RateLimit.Fields
	}

	s := &Schema{casing: casing, tables: map[string]*Table{}}
	for key, d := range drafts {
		modelName := d.modelName
		if modelName == "" {
			modelName = applyCasing(casing, key)
		}
		t := &Table{
			key:       key,
			modelName: modelName,
			order:     d.order,
			fields:    make(map[string]FieldAttribute, len(d.fields)),
			names:     append([]string(nil), d.names...),
			indexes:   d.indexes,
		}
		for name, attr := range d.fields {
			if physical := renames[key][name]; physical != "" {
				attr.FieldName = physical
			}
			if attr.FieldName == "" {
				attr.FieldName = applyCasing(casing, name)
			}
			if attr.References != nil {
				ref := *attr.References
				attr.References = &ref
			}
			t.fields[name] = attr
		}
		s.tables[key] = t
		s.keys = append(s.keys, key)
	}
	sort.SliceStable(s.keys, func(i, j int) bool {
		a, b := s.tables[s.keys[i]], s.tables[s.keys[j]]
		if a.order != b.order {
			return a.order < b.order
		}
		return a.key < b.key
	})
	return s
}

func isCoreModel(key string) bool {
	switch key {
	case ModelCustomer, ModelSubscription, ModelCustomerExternalID, ModelRateLimit:
		return true
	}
	return false
}

func now() any { return time.Now() }

func idField() FieldAttribute {
	return FieldAttribute{Type: TypeString, Required: true, Unique: true, FieldName: IDField}
}

func timestamps(d *draft) {
	d.set("createdAt", FieldAttribute{Type: TypeDate, Required: true, DefaultValue: now})
	d.set("updatedAt", FieldAttribute{Type: TypeDate, Required: true, DefaultValue: now})
}

func customerTable(opts EntityOptions) *draft {
	d := &draft{modelName: opts.ModelName, order: 1, fields: map[string]FieldAttribute{}}
	d.set(IDField, idField())
	d.set("customUserId", FieldAttribute{Type: TypeString, Required: true})
	d.set("email", FieldAttribute{Type: TypeString})
	d.set("name", FieldAttribute{Type: TypeString})
	timestamps(d)
	return d
}

func subscriptionTable(opts EntityOptions) *draft {
	d := &draft{modelName: opts.ModelName, order: 2, fields: map[string]FieldAttribute{}}
	d.set(IDField, idField())
	d.set("customerId", FieldAttribute{
		Type:       TypeString,
		Required:   true,
		References: &Reference{Model: ModelCustomer, Field: IDField, OnDelete: "cascade"},
	})
	d.set("status", FieldAttribute{Type: TypeString, Required: true})
	d.set("provider", FieldAttribute{Type: TypeString, Required: true})
	d.set("providerProductId", FieldAttribute{Type: TypeString, Required: true})
	d.set("providerBasePlanId", FieldAttribute{Type: TypeString, Required: true})
	d.set("providerSubscriptionId", FieldAttribute{Type: TypeString, Required: true})
	d.set("startsAt", FieldAttribute{Type: TypeDate, Required: true})
	d.set("purchasedAt", FieldAttribute{Type: TypeDate, Required: true})
	d.set("expiresAt", FieldAttribute{Type: TypeDate})
	d.set("billingIssueDetectedAt", FieldAttribute{Type: TypeDate})
	timestamps(d)
	d.indexes = []Index{{
		Name:   "provider_subscription",
		Fields: []string{"provider", "providerSubscriptionId"},
		Unique: true,
	}}
	return d
}

func customerExternalIDTable(opts EntityOptions) *draft {
	d := &draft{modelName: opts.ModelName, order: 3, fields: map[string]FieldAttribute{}}
	d.set(IDField, idField())
	d.set("service", FieldAttribute{Type: TypeString, Required: true})
	d.set("customerId", FieldAttribute{
		Type:       TypeString,
		Required:   true,
		References: &Reference{Model: ModelCustomer, Field: IDField, OnDelete: "cascade"},
	})
	d.set("externalId", FieldAttribute{Type: TypeString, Required: true})
	timestamps(d)
	return d
}

func rateLimitTable(opts RateLimitOptions) *draft {
	d := &draft{modelName: opts.ModelName, order: 4, fields: map[string]FieldAttribute{}}
	d.set(IDField, idField())
	d.set("key", FieldAttribute{Type: TypeString, Required: true, Unique: true})
	d.set("count", FieldAttribute{Type: TypeNumber, Required: true})
	d.set("lastRequest", FieldAttribute{Type: TypeNumber, Required: true, BigInt: true})
	return d
}

func applyCasing(c Casing, name string) string {
	if c != CasingSnake {
		return name
	}
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
