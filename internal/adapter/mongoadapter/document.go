package mongoadapter

import (
	"fmt"
	"regexp"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/schema"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// toDocument moves the id into _id and drops nil values.
func toDocument(row adapter.Record, idCol string) bson.M {
	doc := bson.M{}
	for k, v := range row {
		if v == nil {
			continue
		}
		if k == idCol {
			k = keyField
		}
		doc[k] = v
	}
	return doc
}

func fromDocument(doc bson.M, idCol string) adapter.Record {
	row := make(adapter.Record, len(doc))
	for k, v := range doc {
		if k == keyField {
			k = idCol
		}
		switch t := v.(type) {
		case primitive.DateTime:
			v = t.Time().UTC()
		case primitive.ObjectID:
			v = t.Hex()
		case int32:
			v = int64(t)
		}
		row[k] = v
	}
	return row
}

func renameID(where []adapter.Where, idCol string) []adapter.Where {
	out := make([]adapter.Where, len(where))
	for i, w := range where {
		if w.Field == idCol {
			w.Field = keyField
		}
		out[i] = w
	}
	return out
}

// updateSpec sets non-nil values and unsets nil ones.
func updateSpec(values adapter.Record) bson.M {
	set, unset := bson.M{}, bson.M{}
	for k, v := range values {
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = v
	}
	spec := bson.M{}
	if len(set) > 0 {
		spec["$set"] = set
	}
	if len(unset) > 0 {
		spec["$unset"] = unset
	}
	return spec
}

func sortSpec(s *adapter.SortBy, idCol string) bson.D {
	if s == nil {
		return bson.D{{Key: keyField, Value: 1}}
	}
	field := s.Field
	if field == idCol {
		field = keyField
	}
	dir := 1
	if s.Direction == adapter.Desc {
		dir = -1
	}
	spec := bson.D{{Key: field, Value: dir}}
	if field != keyField {
		spec = append(spec, bson.E{Key: keyField, Value: 1})
	}
	return spec
}

// buildFilter translates physical clauses into a query document.
func buildFilter(where []adapter.Where) (bson.M, error) {
	if len(where) == 0 {
		return bson.M{}, nil
	}
	ands, ors := adapter.SplitConnectors(where)
	all := make(bson.A, 0, len(ands)+1)
	for _, w := range ands {
		c, err := condition(w)
		if err != nil {
			return nil, err
		}
		all = append(all, c)
	}
	if len(ors) > 0 {
		alts := make(bson.A, 0, len(ors))
		for _, w := range ors {
			c, err := condition(w)
			if err != nil {
				return nil, err
			}
			alts = append(alts, c)
		}
		all = append(all, bson.M{"$or": alts})
	}
	return bson.M{"$and": all}, nil
}

func condition(w adapter.Where) (bson.M, error) {
	var expr any
	switch w.Op() {
	case adapter.OpEq:
		expr = w.Value
	case adapter.OpNe:
		// $ne also matches documents missing the field
		expr = bson.M{"$ne": w.Value}
	case adapter.OpLt:
		expr = bson.M{"$lt": w.Value}
	case adapter.OpLte:
		expr = bson.M{"$lte": w.Value}
	case adapter.OpGt:
		expr = bson.M{"$gt": w.Value}
	case adapter.OpGte:
		expr = bson.M{"$gte": w.Value}
	case adapter.OpIn:
		values, _ := w.Value.([]any)
		if values == nil {
			values = []any{}
		}
		expr = bson.M{"$in": values}
	case adapter.OpContains, adapter.OpStartsWith, adapter.OpEndsWith:
		needle, _ := w.Value.(string)
		expr = bson.M{"$regex": primitive.Regex{Pattern: pattern(w.Op(), needle)}}
	default:
		return nil, fmt.Errorf("unsupported operator %q", w.Operator)
	}
	return bson.M{w.Field: expr}, nil
}

func pattern(op adapter.Operator, needle string) string {
	quoted := regexp.QuoteMeta(needle)
	switch op {
	case adapter.OpStartsWith:
		return "^" + quoted
	case adapter.OpEndsWith:
		return quoted + "$"
	default:
		return quoted
	}
}

// IndexModels returns the unique indexes for t. The primary key is covered by
// _id. Documents missing any key column are excluded from the index.
func IndexModels(t *schema.Table) []mongo.IndexModel {
	idCol, _ := t.Column(schema.IDField)
	var models []mongo.IndexModel
	for _, k := range adapter.UniqueKeys(t) {
		if len(k.Columns) == 1 && k.Columns[0] == idCol {
			continue
		}
		keys := bson.D{}
		partial := bson.M{}
		for _, c := range k.Columns {
			keys = append(keys, bson.E{Key: c, Value: 1})
			partial[c] = bson.M{"$exists": true}
		}
		models = append(models, mongo.IndexModel{
			Keys: keys,
			Options: options.Index().
				SetName(t.ModelName() + "_" + k.Name).
				SetUnique(true).
				SetPartialFilterExpression(partial),
		})
	}
	return models
}
