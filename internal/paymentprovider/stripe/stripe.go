// Package stripe contributes the Stripe payment provider: it lists a
// customer's Stripe subscriptions, classifies them into access levels and
// keeps the chiron to Stripe customer mapping.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/smallbiznis/chiron/internal/adapter"
	customerdomain "github.com/smallbiznis/chiron/internal/customer/domain"
	"github.com/smallbiznis/chiron/internal/paymentcore"
	ppdomain "github.com/smallbiznis/chiron/internal/paymentprovider/domain"
	"github.com/smallbiznis/chiron/internal/plugin"
	"github.com/smallbiznis/chiron/internal/schema"
	subscriptiondomain "github.com/smallbiznis/chiron/internal/subscription/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const (
	ProviderID = "stripe"
	// CustomerField mirrors the Stripe customer id on the customer row.
	CustomerField = "stripeCustomerId"
)

var (
	ErrNotAttached     = errors.New("stripe provider is not attached to a repository")
	ErrUnknownCustomer = errors.New("no customer for stripe customer id")
	ErrNoCustomerID    = errors.New("stripe event carries no customer id")
	ErrCustomerCreate  = errors.New("failed to create stripe customer")
)

// Store is the repository surface the provider needs.
type Store interface {
	UpdateCustomer(ctx context.Context, id string, patch adapter.Record) (*customerdomain.Customer, error)
	CreateCustomerExternalID(ctx context.Context, e customerdomain.CustomerExternalID) (*customerdomain.CustomerExternalID, error)
	FindCustomerExternalID(ctx context.Context, service, customerID string) (*customerdomain.CustomerExternalID, error)
	FindCustomerIDByCustomerExternalID(ctx context.Context, service, externalID string) (string, error)
}

// Syncer runs reconciliation, normally *paymentcore.Service.
type Syncer interface {
	SyncCustomerSubscriptions(ctx context.Context, req paymentcore.SyncRequest) (paymentcore.SyncResult, error)
}

type Options struct {
	Client Client
	// AccessLevels returns the product id to access level map. It is read
	// on every call so configuration reloads apply.
	AccessLevels func() map[string]string
	Logger       *zap.Logger
}

type Provider struct {
	client       Client
	accessLevels func() map[string]string
	log          *zap.Logger

	store  atomic.Pointer[storeRef]
	syncer atomic.Pointer[syncerRef]
}

type storeRef struct{ Store }

type syncerRef struct{ Syncer }

func New(opts Options) *Provider {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	levels := opts.AccessLevels
	if levels == nil {
		levels = func() map[string]string { return nil }
	}
	return &Provider{client: opts.Client, accessLevels: levels, log: log.Named("stripe")}
}

// Attach wires the repository and the payment core once they exist. Both
// are built after the plugin because they depend on its schema and provider.
func (p *Provider) Attach(store Store, syncer Syncer) {
	if store != nil {
		p.store.Store(&storeRef{store})
	}
	if syncer != nil {
		p.syncer.Store(&syncerRef{syncer})
	}
}

func (p *Provider) repo() (Store, error) {
	ref := p.store.Load()
	if ref == nil {
		return nil, ErrNotAttached
	}
	return ref.Store, nil
}

// Plugin returns the plugin contribution: the customer extension field and
// the payment provider capability object.
func (p *Provider) Plugin() plugin.Plugin {
	return plugin.Plugin{
		ID: ProviderID,
		Schema: map[string]schema.TableExtension{
			schema.ModelCustomer: {Fields: map[string]schema.FieldAttribute{
				CustomerField: {Type: schema.TypeString},
			}},
		},
		Providers: []ppdomain.Provider{p.Capabilities()},
	}
}

func (p *Provider) Capabilities() ppdomain.Provider {
	return ppdomain.Provider{
		ID:                             ProviderID,
		ExtractSubscriptionAccessLevel: p.AccessLevel,
		GetSubscriptions:               p.GetSubscriptions,
		CreateCustomer: func(ctx context.Context, c customerdomain.Customer) (string, error) {
			return p.GetOrCreateStripeCustomerID(ctx, c)
		},
		MapFromProviderSubscription: func(raw any) (subscriptiondomain.Subscription, error) {
			sub, ok := raw.(*stripego.Subscription)
			if !ok {
				return subscriptiondomain.Subscription{}, fmt.Errorf("expected *stripe.Subscription, got %T", raw)
			}
			return ToSubscription(sub, "")
		},
	}
}

// AccessLevel looks the subscription's product up in the configured map.
func (p *Provider) AccessLevel(s subscriptiondomain.Subscription) string {
	return p.accessLevels()[s.ProviderProductID]
}

// GetSubscriptions lists every Stripe subscription of the customer. A
// customer without a Stripe mapping has none.
func (p *Provider) GetSubscriptions(ctx context.Context, customerID string) ([]subscriptiondomain.Subscription, error) {
	store, err := p.repo()
	if err != nil {
		return nil, err
	}
	ext, err := store.FindCustomerExternalID(ctx, ProviderID, customerID)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, nil
	}
	raw, err := p.client.ListSubscriptions(ctx, ext.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("list stripe subscriptions: %w", err)
	}
	out := make([]subscriptiondomain.Subscription, 0, len(raw))
	for _, sub := range raw {
		s, err := ToSubscription(sub, customerID)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// GetOrCreateStripeCustomerID returns the Stripe customer mapped to c,
// creating one in Stripe and recording the mapping when none exists.
func (p *Provider) GetOrCreateStripeCustomerID(ctx context.Context, c customerdomain.Customer) (string, error) {
	store, err := p.repo()
	if err != nil {
		return "", err
	}
	ext, err := store.FindCustomerExternalID(ctx, ProviderID, c.ID)
	if err != nil {
		return "", err
	}
	if ext != nil {
		return ext.ExternalID, nil
	}

	params := &stripego.CustomerParams{}
	if c.Email != nil {
		params.Email = stripego.String(*c.Email)
	}
	if c.Name != nil {
		params.Name = stripego.String(*c.Name)
	}
	params.AddMetadata("chiron:customerId", c.ID)

	created, err := p.client.CreateCustomer(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCustomerCreate, err)
	}
	if _, err := store.CreateCustomerExternalID(ctx, customerdomain.CustomerExternalID{
		Service:    ProviderID,
		CustomerID: c.ID,
		ExternalID: created.ID,
	}); err != nil {
		return "", err
	}
	if _, err := store.UpdateCustomer(ctx, c.ID, adapter.Record{CustomerField: created.ID}); err != nil {
		return "", err
	}
	p.log.Info("stripe customer created", zap.String("customer_id", c.ID), zap.String("stripe_customer_id", created.ID))
	return created.ID, nil
}
