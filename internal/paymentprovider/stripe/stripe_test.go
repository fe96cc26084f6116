package stripe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/adapter/adaptertest"
	"github.com/smallbiznis/chiron/internal/adapter/memory"
	customerdomain "github.com/smallbiznis/chiron/internal/customer/domain"
	"github.com/smallbiznis/chiron/internal/paymentcore"
	"github.com/smallbiznis/chiron/internal/plugin"
	"github.com/smallbiznis/chiron/internal/repository"
	"github.com/smallbiznis/chiron/internal/schema"
	subscriptiondomain "github.com/smallbiznis/chiron/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

type fakeClient struct {
	mu        sync.Mutex
	subs      map[string][]*stripego.Subscription
	listErr   error
	created   []*stripego.CustomerParams
	createErr error
}

func (f *fakeClient) ListSubscriptions(ctx context.Context, stripeCustomerID string) ([]*stripego.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs[stripeCustomerID], nil
}

func (f *fakeClient) CreateCustomer(ctx context.Context, params *stripego.CustomerParams) (*stripego.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, params)
	return &stripego.Customer{ID: "cus_new"}, nil
}

func stripeSub(id, product, price string, status stripego.SubscriptionStatus) *stripego.Subscription {
	return &stripego.Subscription{
		ID:        id,
		Status:    status,
		StartDate: 1735689600,
		Created:   1735689500,
		Items: &stripego.SubscriptionItemList{Data: []*stripego.SubscriptionItem{{
			Price: &stripego.Price{ID: price, Product: &stripego.Product{ID: product}},
		}}},
	}
}

type fixture struct {
	provider *Provider
	client   *fakeClient
	repo     *repository.Repository
	core     *paymentcore.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := &fakeClient{subs: map[string][]*stripego.Subscription{}}
	p := New(Options{
		Client:       client,
		AccessLevels: func() map[string]string { return map[string]string{"prod_pro": "pro"} },
		Logger:       zap.NewNop(),
	})
	plugins, err := plugin.NewSet(p.Plugin())
	require.NoError(t, err)

	s := schema.Build(schema.Options{Extensions: plugins.Extensions()})
	mapper := adapter.NewMapper(s, adaptertest.Sequence())
	repo := repository.New(memory.New(mapper, zap.NewNop()), plugins.Hooks(repository.Hooks{}), zap.NewNop())

	providers, err := plugins.Registry()
	require.NoError(t, err)
	core := paymentcore.New(repo, providers)
	p.Attach(repo, core)
	return &fixture{provider: p, client: client, repo: repo, core: core}
}

func (f *fixture) customer(t *testing.T, customUserID string) *customerdomain.Customer {
	t.Helper()
	email := customUserID + "@example.com"
	c, err := f.repo.CreateCustomer(context.Background(), customerdomain.Customer{CustomUserID: customUserID, Email: &email})
	require.NoError(t, err)
	return c
}

func TestStatusMapping(t *testing.T) {
	cases := map[stripego.SubscriptionStatus]subscriptiondomain.Status{
		stripego.SubscriptionStatusActive:            subscriptiondomain.StatusActive,
		stripego.SubscriptionStatusTrialing:          subscriptiondomain.StatusTrialing,
		stripego.SubscriptionStatusCanceled:          subscriptiondomain.StatusCanceled,
		stripego.SubscriptionStatusIncomplete:        subscriptiondomain.StatusCanceled,
		stripego.SubscriptionStatusIncompleteExpired: subscriptiondomain.StatusCanceled,
		stripego.SubscriptionStatusPastDue:           subscriptiondomain.StatusCanceled,
		stripego.SubscriptionStatusUnpaid:            subscriptiondomain.StatusCanceled,
		stripego.SubscriptionStatusPaused:            subscriptiondomain.StatusCanceled,
		"something_new":                              subscriptiondomain.StatusCanceled,
	}
	for in, want := range cases {
		assert.Equal(t, want, Status(in), string(in))
	}
}

func TestToSubscription(t *testing.T) {
	sub := stripeSub("sub_1", "prod_pro", "price_monthly", stripego.SubscriptionStatusActive)
	sub.CancelAt = 1738368000

	s, err := ToSubscription(sub, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", s.CustomerID)
	assert.Equal(t, ProviderID, s.Provider)
	assert.Equal(t, "prod_pro", s.ProviderProductID)
	assert.Equal(t, "price_monthly", s.ProviderBasePlanID)
	assert.Equal(t, "sub_1", s.ProviderSubscriptionID)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), s.StartsAt)
	assert.Equal(t, time.Unix(1735689500, 0).UTC(), s.PurchasedAt)
	require.NotNil(t, s.ExpiresAt)
	assert.Equal(t, time.Unix(1738368000, 0).UTC(), *s.ExpiresAt)
	assert.Nil(t, s.BillingIssueDetectedAt)

	sub.CancelAt = 0
	s, err = ToSubscription(sub, "c1")
	require.NoError(t, err)
	assert.Nil(t, s.ExpiresAt)
}

func TestToSubscriptionRequiresPrice(t *testing.T) {
	_, err := ToSubscription(&stripego.Subscription{ID: "sub_1"}, "c1")
	assert.ErrorIs(t, err, ErrMissingPrice)

	_, err = ToSubscription(nil, "c1")
	assert.ErrorIs(t, err, ErrMissingPrice)
}

func TestPluginDeclaresCustomerField(t *testing.T) {
	f := newFixture(t)
	pl := f.provider.Plugin()
	assert.Equal(t, ProviderID, pl.ID)
	require.Contains(t, pl.Schema, schema.ModelCustomer)
	assert.Contains(t, pl.Schema[schema.ModelCustomer].Fields, CustomerField)
	require.Len(t, pl.Providers, 1)

	raw := stripeSub("sub_1", "prod_pro", "price_1", stripego.SubscriptionStatusTrialing)
	mapped, err := pl.Providers[0].MapFromProviderSubscription(raw)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusTrialing, mapped.Status)

	_, err = pl.Providers[0].MapFromProviderSubscription("nope")
	assert.Error(t, err)
}

func TestAccessLevel(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "pro", f.provider.AccessLevel(subscriptiondomain.Subscription{ProviderProductID: "prod_pro"}))
	assert.Empty(t, f.provider.AccessLevel(subscriptiondomain.Subscription{ProviderProductID: "prod_other"}))
}

func TestGetOrCreateStripeCustomerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "u1")

	id, err := f.provider.GetOrCreateStripeCustomerID(ctx, *c)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", id)
	require.Len(t, f.client.created, 1)
	assert.Equal(t, "u1@example.com", *f.client.created[0].Email)
	assert.Equal(t, c.ID, f.client.created[0].Metadata["chiron:customerId"])

	again, err := f.provider.GetOrCreateStripeCustomerID(ctx, *c)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", again)
	assert.Len(t, f.client.created, 1)

	stored, err := f.repo.FindCustomerByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "cus_new", stored.Additional[CustomerField])

	owner, err := f.repo.FindCustomerIDByCustomerExternalID(ctx, ProviderID, "cus_new")
	require.NoError(t, err)
	assert.Equal(t, c.ID, owner)
}

func TestGetOrCreateStripeCustomerIDFailure(t *testing.T) {
	f := newFixture(t)
	f.client.createErr = errors.New("card declined")
	c := f.customer(t, "u1")

	_, err := f.provider.GetOrCreateStripeCustomerID(context.Background(), *c)
	assert.ErrorIs(t, err, ErrCustomerCreate)

	ext, err := f.repo.FindCustomerExternalID(context.Background(), ProviderID, c.ID)
	require.NoError(t, err)
	assert.Nil(t, ext)
}

func TestGetSubscriptionsWithoutMapping(t *testing.T) {
	f := newFixture(t)
	subs, err := f.provider.GetSubscriptions(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestNotAttached(t *testing.T) {
	p := New(Options{Client: &fakeClient{}})
	_, err := p.GetSubscriptions(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestHandleEventSyncsCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "u1")
	_, err := f.provider.GetOrCreateStripeCustomerID(ctx, *c)
	require.NoError(t, err)

	f.client.subs["cus_new"] = []*stripego.Subscription{
		stripeSub("sub_1", "prod_pro", "price_1", stripego.SubscriptionStatusActive),
	}
	event := stripego.Event{
		ID:   "evt_1",
		Type: "customer.subscription.created",
		Data: &stripego.EventData{Object: map[string]any{"customer": "cus_new"}},
	}

	result, err := f.provider.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	levels, err := f.core.GetCustomerAccessLevels(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, levels["pro"], 1)

	f.client.subs["cus_new"][0].Status = stripego.SubscriptionStatusPastDue
	event.Data.Object = map[string]any{"customer": map[string]any{"id": "cus_new"}}
	result, err = f.provider.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, paymentcore.SyncResult{Updated: 1}, result)

	has, err := f.core.HasAccessLevel(ctx, c.ID, "pro")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHandleEventIgnoresAndRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.provider.HandleEvent(ctx, stripego.Event{Type: "charge.refunded"})
	require.NoError(t, err)
	assert.Equal(t, paymentcore.SyncResult{}, result)

	_, err = f.provider.HandleEvent(ctx, stripego.Event{
		Type: "invoice.paid",
		Data: &stripego.EventData{Object: map[string]any{}},
	})
	assert.ErrorIs(t, err, ErrNoCustomerID)

	_, err = f.provider.HandleEvent(ctx, stripego.Event{
		Type: "invoice.paid",
		Data: &stripego.EventData{Object: map[string]any{"customer": "cus_missing"}},
	})
	assert.ErrorIs(t, err, ErrUnknownCustomer)
}

func TestFetchFailureSurfacesThroughCore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, "u1")
	_, err := f.provider.GetOrCreateStripeCustomerID(ctx, *c)
	require.NoError(t, err)

	f.client.listErr = errors.New("api down")
	_, err = f.core.SyncCustomerSubscriptions(ctx, paymentcore.SyncRequest{CustomerID: c.ID, Provider: ProviderID})
	assert.ErrorIs(t, err, paymentcore.ErrProviderFetchFailed)
}
