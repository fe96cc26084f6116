package chiron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/chiron/internal/adapter/adaptertest"
	"github.com/smallbiznis/chiron/internal/clock"
	"github.com/smallbiznis/chiron/internal/config"
	"github.com/smallbiznis/chiron/internal/paymentcore"
	"github.com/smallbiznis/chiron/internal/paymentprovider/stripe"
	"github.com/smallbiznis/chiron/internal/plugin"
	"github.com/smallbiznis/chiron/internal/ratelimit"
	"github.com/smallbiznis/chiron/internal/repository"
	"github.com/smallbiznis/chiron/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

var now = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type stripeClient struct {
	subs map[string][]*stripego.Subscription
}

func (c *stripeClient) ListSubscriptions(_ context.Context, id string) ([]*stripego.Subscription, error) {
	return c.subs[id], nil
}

func (c *stripeClient) CreateCustomer(context.Context, *stripego.CustomerParams) (*stripego.Customer, error) {
	return &stripego.Customer{ID: "cus_1"}, nil
}

func newChiron(t *testing.T, mutate func(*Options)) *Chiron {
	t.Helper()
	opts := Options{
		IDGenerator: adaptertest.Sequence(),
		Clock:       clock.NewFakeClock(now),
		Logger:      zap.NewNop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func strp(s string) *string { return &s }

func TestGetOrCreateCustomer(t *testing.T) {
	c := newChiron(t, nil)
	ctx := context.Background()

	first, created, err := c.GetOrCreateCustomer(ctx, User{ID: "user-1", Email: strp("Ada@Example.com")})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, created)
	assert.Equal(t, "ada@example.com", *first.Email)

	again, created, err := c.GetOrCreateCustomer(ctx, User{ID: "user-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestGetOrCreateCustomerRequiresID(t *testing.T) {
	c := newChiron(t, nil)
	_, _, err := c.GetOrCreateCustomer(context.Background(), User{ID: "  "})
	assert.ErrorIs(t, err, repository.ErrInvalidCustomer)
}

func TestStripeIsWiredEndToEnd(t *testing.T) {
	client := &stripeClient{subs: map[string][]*stripego.Subscription{
		"cus_1": {{
			ID:        "sub_1",
			Status:    stripego.SubscriptionStatusActive,
			StartDate: now.Add(-time.Hour).Unix(),
			Created:   now.Add(-time.Hour).Unix(),
			Items: &stripego.SubscriptionItemList{Data: []*stripego.SubscriptionItem{{
				Price: &stripego.Price{ID: "price_1", Product: &stripego.Product{ID: "prod_pro"}},
			}}},
		}},
	}}
	provider := stripe.New(stripe.Options{
		Client:       client,
		AccessLevels: func() map[string]string { return map[string]string{"prod_pro": "pro"} },
	})
	c := newChiron(t, func(o *Options) { o.Stripe = provider })
	ctx := context.Background()

	customers, err := c.Schema.Table(schema.ModelCustomer)
	require.NoError(t, err)
	_, ok := customers.Field(stripe.CustomerField)
	assert.True(t, ok)

	cust, _, err := c.GetOrCreateCustomer(ctx, User{ID: "user-1"})
	require.NoError(t, err)
	stripeID, err := provider.GetOrCreateStripeCustomerID(ctx, *cust)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", stripeID)

	res, err := c.SyncCustomer(ctx, "user-1", stripe.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, paymentcore.SyncResult{Created: 1}, res)

	ok, err = c.Payments.HasAccessLevel(ctx, cust.ID, "pro")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncCustomerUnknownUser(t *testing.T) {
	c := newChiron(t, nil)
	_, err := c.SyncCustomer(context.Background(), "ghost", "stripe")
	assert.Error(t, err)
}

func TestDuplicatePluginRejected(t *testing.T) {
	_, err := New(Options{Plugins: []plugin.Plugin{{ID: "a"}, {ID: "a"}}})
	assert.ErrorIs(t, err, plugin.ErrDuplicatePlugin)
}

func TestGuard(t *testing.T) {
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStorage(),
		ratelimit.Rule{Window: time.Minute, Max: 1},
		ratelimit.WithClock(clock.NewFakeClock(now)))
	require.NoError(t, err)
	c := newChiron(t, func(o *Options) { o.Limiter = limiter })
	ctx := context.Background()

	require.NoError(t, c.Guard(ctx, "k"))
	err = c.Guard(ctx, "k")
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "k", rl.Key)
	assert.Positive(t, rl.Result.RetryAfter)

	assert.NoError(t, c.Guard(ctx, "other"))
}

func TestNewOptionsDefaults(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{IDStrategy: "uuid", SyncLockWait: time.Second}
	opts, err := NewOptions(OptionsParams{
		Lifecycle: lc,
		Cfg:       cfg,
		File:      config.NewFileHolder(config.File{}),
		Log:       zap.NewNop(),
	})
	require.NoError(t, err)
	assert.Nil(t, opts.Stripe)
	assert.IsType(t, &paymentcore.LocalLocker{}, opts.Locker)
	assert.NotNil(t, opts.IDGenerator)
	assert.Empty(t, opts.Plugins)
	assert.Nil(t, opts.Schema.RateLimit)
}

func TestNewOptionsDatabaseRateLimitDeclaresTable(t *testing.T) {
	cfg := config.Config{RateLimitStorage: "database", StripeSecretKey: "sk_test_x"}
	opts, err := NewOptions(OptionsParams{
		Lifecycle: fxtest.NewLifecycle(t),
		Cfg:       cfg,
		File:      config.NewFileHolder(config.File{}),
		Log:       zap.NewNop(),
	})
	require.NoError(t, err)
	assert.NotNil(t, opts.Schema.RateLimit)
	assert.NotNil(t, opts.Stripe)

	set, err := PluginSet(opts)
	require.NoError(t, err)
	mapper := NewMapper(opts, set)
	_, err = mapper.Schema().Table(schema.ModelRateLimit)
	assert.NoError(t, err)
}
