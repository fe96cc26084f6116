// Package mongoadapter stores each table as a MongoDB collection. The primary
// key lives in _id; nil values are left out of documents so that sparse
// unique indexes behave like SQL unique constraints.
package mongoadapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/chiron/internal/adapter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	backendID = "mongodb"
	keyField  = "_id"
)

type Adapter struct {
	db     *mongo.Database
	mapper *adapter.Mapper
	log    *zap.Logger
}

func New(db *mongo.Database, mapper *adapter.Mapper, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{db: db, mapper: mapper, log: log.Named("adapter.mongo")}
}

func (a *Adapter) ID() string { return backendID }

func (a *Adapter) collection(model string) (*mongo.Collection, string, error) {
	t, err := a.mapper.Table(model)
	if err != nil {
		return nil, "", err
	}
	idCol, err := a.mapper.IDColumn(model)
	if err != nil {
		return nil, "", err
	}
	return a.db.Collection(t.ModelName()), idCol, nil
}

func (a *Adapter) filter(model, idCol string, where []adapter.Where) (bson.M, error) {
	mapped, err := a.mapper.Where(model, where)
	if err != nil {
		return nil, err
	}
	return buildFilter(renameID(mapped, idCol))
}

func (a *Adapter) Create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	row, err := a.mapper.ToCreate(model, data)
	if err != nil {
		return nil, err
	}
	coll, idCol, err := a.collection(model)
	if err != nil {
		return nil, err
	}
	if row[idCol] == nil {
		row[idCol] = primitive.NewObjectID().Hex()
	}
	if _, err := coll.InsertOne(ctx, toDocument(row, idCol)); err != nil {
		return nil, wrap(model, "create", err)
	}
	return a.mapper.FromStorage(model, row, nil)
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []adapter.Where, selects ...string) (adapter.Record, error) {
	rows, err := a.find(ctx, model, adapter.Query{Where: where, Limit: 1}, selects)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, q adapter.Query) ([]adapter.Record, error) {
	return a.find(ctx, model, q, nil)
}

func (a *Adapter) find(ctx context.Context, model string, q adapter.Query, selects []string) ([]adapter.Record, error) {
	coll, idCol, err := a.collection(model)
	if err != nil {
		return nil, err
	}
	filter, err := a.filter(model, idCol, q.Where)
	if err != nil {
		return nil, err
	}
	sortBy, err := a.mapper.SortBy(model, q.SortBy)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(sortSpec(sortBy, idCol))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if len(selects) > 0 {
		columns, err := a.mapper.Columns(model, selects)
		if err != nil {
			return nil, err
		}
		projection := bson.D{}
		for _, c := range columns {
			if c != idCol {
				projection = append(projection, bson.E{Key: c, Value: 1})
			}
		}
		opts.SetProjection(append(projection, bson.E{Key: keyField, Value: 1}))
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap(model, "find", err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, wrap(model, "find", err)
	}
	out := make([]adapter.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := a.mapper.FromStorage(model, fromDocument(doc, idCol), selects)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Adapter) Update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return a.FindOne(ctx, model, where)
	}
	coll, idCol, err := a.collection(model)
	if err != nil {
		return nil, err
	}
	filter, err := a.filter(model, idCol, where)
	if err != nil {
		return nil, err
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: keyField, Value: 1}}).
		SetReturnDocument(options.After)
	var doc bson.M
	err = coll.FindOneAndUpdate(ctx, filter, updateSpec(values), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(model, "update", err)
	}
	return a.mapper.FromStorage(model, fromDocument(doc, idCol), nil)
}

func (a *Adapter) UpdateMany(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (int64, error) {
	values, err := a.mapper.ToUpdate(model, patch)
	if err != nil || len(values) == 0 {
		return 0, err
	}
	coll, idCol, err := a.collection(model)
	if err != nil {
		return 0, err
	}
	filter, err := a.filter(model, idCol, where)
	if err != nil {
		return 0, err
	}
	res, err := coll.UpdateMany(ctx, filter, updateSpec(values))
	if err != nil {
		return 0, wrap(model, "update_many", err)
	}
	return res.MatchedCount, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []adapter.Where) error {
	coll, idCol, err := a.collection(model)
	if err != nil {
		return err
	}
	filter, err := a.filter(model, idCol, where)
	if err != nil {
		return err
	}
	opts := options.FindOneAndDelete().SetSort(bson.D{{Key: keyField, Value: 1}})
	err = coll.FindOneAndDelete(ctx, filter, opts).Err()
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return wrap(model, "delete", err)
	}
	return nil
}

func (a *Adapter) DeleteMany(ctx context.Context, model string, where []adapter.Where) (int64, error) {
	coll, idCol, err := a.collection(model)
	if err != nil {
		return 0, err
	}
	filter, err := a.filter(model, idCol, where)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, wrap(model, "delete_many", err)
	}
	return res.DeletedCount, nil
}

// Migrate creates the unique indexes of every table. Collections themselves
// are created on first insert.
func (a *Adapter) Migrate(ctx context.Context) error {
	for _, t := range a.mapper.Schema().Tables() {
		models := IndexModels(t)
		if len(models) == 0 {
			continue
		}
		names, err := a.db.Collection(t.ModelName()).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", t.ModelName(), err)
		}
		a.log.Info("ensured indexes", zap.String("collection", t.ModelName()), zap.Strings("indexes", names))
	}
	return nil
}

// Close disconnects the client the database belongs to.
func (a *Adapter) Close() error {
	return a.db.Client().Disconnect(context.Background())
}

func wrap(model, op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return &adapter.StorageError{Backend: backendID, Model: model, Op: op, Constraint: true, Err: err}
	}
	return adapter.Wrap(backendID, model, op, err)
}
