// Package repository is the typed façade over the storage adapter. Every
// create and update runs through the hook pipeline.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/clock"
	customerdomain "github.com/smallbiznis/chiron/internal/customer/domain"
	"github.com/smallbiznis/chiron/internal/schema"
	subscriptiondomain "github.com/smallbiznis/chiron/internal/subscription/domain"
	"go.uber.org/zap"
)

type Repository struct {
	adapter  adapter.Adapter
	hooks    []Hooks
	clock    clock.Clock
	validate *validator.Validate
	log      *zap.Logger
}

type Option func(*Repository)

// WithClock overrides the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// New builds a repository. hooks run in the given order; by convention the
// global set comes first, then plugins in registration order.
func New(a adapter.Adapter, hooks []Hooks, log *zap.Logger, opts ...Option) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Repository{
		adapter:  a,
		hooks:    hooks,
		clock:    clock.System(),
		validate: validator.New(),
		log:      log.Named("repository"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Adapter exposes the underlying adapter.
func (r *Repository) Adapter() adapter.Adapter { return r.adapter }

func (r *Repository) create(ctx context.Context, model string, data adapter.Record) (adapter.Record, error) {
	data, proceed, err := r.runBefore(ctx, model, opCreate, data)
	if err != nil {
		return nil, opErr(model, "create", err)
	}
	if !proceed {
		r.log.Debug("create aborted by hook", zap.String("model", model))
		return nil, nil
	}
	row, err := r.adapter.Create(ctx, model, data)
	if err != nil {
		return nil, opErr(model, "create", err)
	}
	r.log.Debug("created", zap.String("model", model), zap.Any("id", row["id"]))
	r.runAfter(ctx, model, opCreate, row)
	return row, nil
}

func (r *Repository) update(ctx context.Context, model string, where []adapter.Where, patch adapter.Record) (adapter.Record, error) {
	patch, proceed, err := r.runBefore(ctx, model, opUpdate, patch)
	if err != nil {
		return nil, opErr(model, "update", err)
	}
	if !proceed {
		r.log.Debug("update aborted by hook", zap.String("model", model))
		return nil, nil
	}
	row, err := r.adapter.Update(ctx, model, where, patch)
	if err != nil {
		return nil, opErr(model, "update", err)
	}
	if row == nil {
		return nil, nil
	}
	r.log.Debug("updated", zap.String("model", model), zap.Any("id", row["id"]))
	r.runAfter(ctx, model, opUpdate, row)
	return row, nil
}

func (r *Repository) findOne(ctx context.Context, model string, where ...adapter.Where) (adapter.Record, error) {
	row, err := r.adapter.FindOne(ctx, model, where)
	return row, opErr(model, "find_one", err)
}

func (r *Repository) stamp(rec adapter.Record, fields ...string) {
	now := r.clock.Now()
	for _, f := range fields {
		if _, ok := rec[f]; !ok {
			rec[f] = now
		}
	}
}

func lowerEmail(rec adapter.Record) {
	switch email := rec["email"].(type) {
	case string:
		rec["email"] = strings.ToLower(email)
	case *string:
		if email == nil {
			rec["email"] = nil
			return
		}
		rec["email"] = strings.ToLower(*email)
	}
}

// CreateCustomer stores c with timestamps defaulted and the email
// lower-cased. It returns nil, nil when a hook aborts.
func (r *Repository) CreateCustomer(ctx context.Context, c customerdomain.Customer) (*customerdomain.Customer, error) {
	if err := r.validate.Struct(c); err != nil {
		return nil, opErr(schema.ModelCustomer, "create", fmt.Errorf("%w: %v", ErrInvalidCustomer, err))
	}
	rec := toRecord(c.Values())
	r.stamp(rec, "createdAt", "updatedAt")
	lowerEmail(rec)
	row, err := r.create(ctx, schema.ModelCustomer, rec)
	if err != nil {
		return nil, err
	}
	return customerFromRecord(row), nil
}

// UpdateCustomer patches the customer and refreshes updatedAt.
func (r *Repository) UpdateCustomer(ctx context.Context, id string, patch adapter.Record) (*customerdomain.Customer, error) {
	patch = patch.Clone()
	if patch == nil {
		patch = adapter.Record{}
	}
	patch["updatedAt"] = r.clock.Now()
	lowerEmail(patch)
	row, err := r.update(ctx, schema.ModelCustomer, []adapter.Where{adapter.Eq("id", id)}, patch)
	if err != nil {
		return nil, err
	}
	return customerFromRecord(row), nil
}

func (r *Repository) FindCustomerByID(ctx context.Context, id string) (*customerdomain.Customer, error) {
	row, err := r.findOne(ctx, schema.ModelCustomer, adapter.Eq("id", id))
	return customerFromRecord(row), err
}

func (r *Repository) FindCustomerByCustomUserID(ctx context.Context, customUserID string) (*customerdomain.Customer, error) {
	row, err := r.findOne(ctx, schema.ModelCustomer, adapter.Eq("customUserId", customUserID))
	return customerFromRecord(row), err
}

// FindCustomerByEmail matches the lower-cased email.
func (r *Repository) FindCustomerByEmail(ctx context.Context, email string) (*customerdomain.Customer, error) {
	row, err := r.findOne(ctx, schema.ModelCustomer, adapter.Eq("email", strings.ToLower(email)))
	return customerFromRecord(row), err
}

func (r *Repository) ListCustomers(ctx context.Context, q adapter.Query) ([]customerdomain.Customer, error) {
	rows, err := r.adapter.FindMany(ctx, schema.ModelCustomer, q)
	if err != nil {
		return nil, opErr(schema.ModelCustomer, "find_many", err)
	}
	out := make([]customerdomain.Customer, 0, len(rows))
	for _, row := range rows {
		out = append(out, *customerFromRecord(row))
	}
	return out, nil
}

func (r *Repository) CreateCustomerExternalID(ctx context.Context, e customerdomain.CustomerExternalID) (*customerdomain.CustomerExternalID, error) {
	if err := r.validate.Struct(e); err != nil {
		return nil, opErr(schema.ModelCustomerExternalID, "create", err)
	}
	rec := toRecord(e.Values())
	r.stamp(rec, "createdAt", "updatedAt")
	row, err := r.create(ctx, schema.ModelCustomerExternalID, rec)
	if err != nil {
		return nil, err
	}
	return externalIDFromRecord(row), nil
}

// FindCustomerExternalID returns the provider identifier stored for a customer.
func (r *Repository) FindCustomerExternalID(ctx context.Context, service, customerID string) (*customerdomain.CustomerExternalID, error) {
	row, err := r.findOne(ctx, schema.ModelCustomerExternalID,
		adapter.Eq("service", service),
		adapter.Eq("customerId", customerID),
	)
	return externalIDFromRecord(row), err
}

// FindCustomerIDByCustomerExternalID translates a provider identifier back
// to a customer id. It returns "" when no mapping exists.
func (r *Repository) FindCustomerIDByCustomerExternalID(ctx context.Context, service, externalID string) (string, error) {
	row, err := r.findOne(ctx, schema.ModelCustomerExternalID,
		adapter.Eq("service", service),
		adapter.Eq("externalId", externalID),
	)
	if err != nil || row == nil {
		return "", err
	}
	return str(row, "customerId"), nil
}

// CreateSubscription validates and stores s.
func (r *Repository) CreateSubscription(ctx context.Context, s subscriptiondomain.Subscription) (*subscriptiondomain.Subscription, error) {
	if err := r.validate.Struct(s); err != nil {
		return nil, opErr(schema.ModelSubscription, "create", fmt.Errorf("%w: %v", ErrInvalidSubscription, err))
	}
	rec := toRecord(s.Values())
	r.stamp(rec, "createdAt", "updatedAt")
	row, err := r.create(ctx, schema.ModelSubscription, rec)
	if err != nil {
		return nil, err
	}
	return subscriptionFromRecord(row), nil
}

// ListSubscriptions returns every subscription of the customer in storage order.
func (r *Repository) ListSubscriptions(ctx context.Context, customerID string) ([]subscriptiondomain.Subscription, error) {
	rows, err := r.adapter.FindMany(ctx, schema.ModelSubscription, adapter.Query{
		Where: []adapter.Where{adapter.Eq("customerId", customerID)},
	})
	if err != nil {
		return nil, opErr(schema.ModelSubscription, "find_many", err)
	}
	out := make([]subscriptiondomain.Subscription, 0, len(rows))
	for _, row := range rows {
		out = append(out, *subscriptionFromRecord(row))
	}
	return out, nil
}

func (r *Repository) FindSubscriptionByID(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	row, err := r.findOne(ctx, schema.ModelSubscription, adapter.Eq("id", id))
	return subscriptionFromRecord(row), err
}

// FindSubscriptionByExternalID looks a subscription up by the provider's own id.
func (r *Repository) FindSubscriptionByExternalID(ctx context.Context, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	row, err := r.findOne(ctx, schema.ModelSubscription, adapter.Eq("providerSubscriptionId", providerSubscriptionID))
	return subscriptionFromRecord(row), err
}

// UpdateSubscription patches the subscription and refreshes updatedAt. The
// id is never patched.
func (r *Repository) UpdateSubscription(ctx context.Context, id string, patch adapter.Record) (*subscriptiondomain.Subscription, error) {
	patch = patch.Clone()
	if patch == nil {
		patch = adapter.Record{}
	}
	delete(patch, "id")
	patch["updatedAt"] = r.clock.Now()
	row, err := r.update(ctx, schema.ModelSubscription, []adapter.Where{adapter.Eq("id", id)}, patch)
	if err != nil {
		return nil, err
	}
	return subscriptionFromRecord(row), nil
}

func (r *Repository) DeleteSubscription(ctx context.Context, id string) error {
	err := r.adapter.Delete(ctx, schema.ModelSubscription, []adapter.Where{adapter.Eq("id", id)})
	return opErr(schema.ModelSubscription, "delete", err)
}
