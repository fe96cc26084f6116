package repository

import (
	"context"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/schema"
)

// BeforeHook runs ahead of a write with the payload about to be stored.
// Returning proceed=false aborts the write without error. A non-nil
// replacement substitutes the payload for the remaining hooks and the write.
type BeforeHook func(ctx context.Context, data adapter.Record) (replacement adapter.Record, proceed bool, err error)

// AfterHook observes the persisted row. It receives a copy.
type AfterHook func(ctx context.Context, row adapter.Record)

type OperationHooks struct {
	Before BeforeHook
	After  AfterHook
}

type ModelHooks struct {
	Create OperationHooks
	Update OperationHooks
}

// Hooks is one hook set: the global set or a plugin's.
type Hooks struct {
	Customer           ModelHooks
	Subscription       ModelHooks
	CustomerExternalID ModelHooks
}

type operation string

const (
	opCreate operation = "create"
	opUpdate operation = "update"
)

func (h Hooks) lookup(model string, op operation) OperationHooks {
	var m ModelHooks
	switch model {
	case schema.ModelCustomer:
		m = h.Customer
	case schema.ModelSubscription:
		m = h.Subscription
	case schema.ModelCustomerExternalID:
		m = h.CustomerExternalID
	}
	if op == opUpdate {
		return m.Update
	}
	return m.Create
}

// runBefore threads data through every before hook in order. The first
// abort stops the chain.
func (r *Repository) runBefore(ctx context.Context, model string, op operation, data adapter.Record) (adapter.Record, bool, error) {
	for _, set := range r.hooks {
		before := set.lookup(model, op).Before
		if before == nil {
			continue
		}
		replacement, proceed, err := before(ctx, data.Clone())
		if err != nil {
			return nil, false, err
		}
		if !proceed {
			return nil, false, nil
		}
		if replacement != nil {
			data = replacement
		}
	}
	return data, true, nil
}

func (r *Repository) runAfter(ctx context.Context, model string, op operation, row adapter.Record) {
	for _, set := range r.hooks {
		if after := set.lookup(model, op).After; after != nil {
			after(ctx, row.Clone())
		}
	}
}
