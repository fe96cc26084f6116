// Package chiron assembles the effective schema, storage adapter, internal
// repository and payment core into one handle.
package chiron

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/adapter/memory"
	"github.com/smallbiznis/chiron/internal/clock"
	customerdomain "github.com/smallbiznis/chiron/internal/customer/domain"
	"github.com/smallbiznis/chiron/internal/observability/metrics"
	"github.com/smallbiznis/chiron/internal/paymentcore"
	"github.com/smallbiznis/chiron/internal/paymentprovider/stripe"
	"github.com/smallbiznis/chiron/internal/plugin"
	"github.com/smallbiznis/chiron/internal/ratelimit"
	"github.com/smallbiznis/chiron/internal/repository"
	"github.com/smallbiznis/chiron/internal/schema"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate_limited")

// RateLimitError carries the limiter decision for a rejected call.
type RateLimitError struct {
	Key    string
	Result ratelimit.Result
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %s", e.Key, e.Result.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// User is an authenticated identity from the host application.
type User struct {
	ID    string
	Email *string
	Name  *string
}

type Options struct {
	// Schema holds entity renames and additional fields. Plugin
	// extensions are appended to it.
	Schema  schema.Options
	Plugins []plugin.Plugin
	// Stripe, when set, is registered as a plugin and attached to the
	// repository and payment core once they exist.
	Stripe *stripe.Provider
	// Hooks is the global hook set. It runs before any plugin hook.
	Hooks       repository.Hooks
	IDGenerator adapter.IDGenerator
	// Backend opens storage over the effective schema. Defaults to the
	// in-memory adapter.
	Backend func(*adapter.Mapper) (adapter.Adapter, error)

	Locker      paymentcore.Locker
	Breaker     *paymentcore.BreakerConfig
	SyncMetrics *metrics.SyncMetrics
	Limiter     *ratelimit.Limiter
	Clock       clock.Clock
	Logger      *zap.Logger
}

type Chiron struct {
	Schema     *schema.Schema
	Adapter    adapter.Adapter
	Repository *repository.Repository
	Payments   *paymentcore.Service
	Plugins    plugin.Set
	// Stripe is nil when the provider is not configured.
	Stripe *stripe.Provider

	limiter *ratelimit.Limiter
	log     *zap.Logger
}

// New builds everything in one step.
func New(opts Options) (*Chiron, error) {
	set, err := PluginSet(opts)
	if err != nil {
		return nil, err
	}
	mapper := NewMapper(opts, set)

	backend := opts.Backend
	if backend == nil {
		backend = func(m *adapter.Mapper) (adapter.Adapter, error) {
			return memory.New(m, opts.Logger), nil
		}
	}
	a, err := backend(mapper)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return Assemble(set, mapper, a, opts)
}

// PluginSet collects the configured plugins, Stripe last.
func PluginSet(opts Options) (plugin.Set, error) {
	plugins := append([]plugin.Plugin(nil), opts.Plugins...)
	if opts.Stripe != nil {
		plugins = append(plugins, opts.Stripe.Plugin())
	}
	return plugin.NewSet(plugins...)
}

// NewMapper builds the effective schema and the mapper over it.
func NewMapper(opts Options, set plugin.Set) *adapter.Mapper {
	so := opts.Schema
	so.Extensions = append(append([]map[string]schema.TableExtension(nil), so.Extensions...), set.Extensions()...)
	return adapter.NewMapper(schema.Build(so), opts.IDGenerator)
}

// Assemble wires the repository and payment core over an open adapter.
func Assemble(set plugin.Set, mapper *adapter.Mapper, a adapter.Adapter, opts Options) (*Chiron, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var repoOpts []repository.Option
	if opts.Clock != nil {
		repoOpts = append(repoOpts, repository.WithClock(opts.Clock))
	}
	repo := repository.New(a, set.Hooks(opts.Hooks), log, repoOpts...)

	registry, err := set.Registry()
	if err != nil {
		return nil, err
	}
	coreOpts := []paymentcore.Option{
		paymentcore.WithLogger(log),
		paymentcore.WithMetrics(opts.SyncMetrics),
		paymentcore.WithSchema(mapper.Schema()),
	}
	if opts.Locker != nil {
		coreOpts = append(coreOpts, paymentcore.WithLocker(opts.Locker))
	}
	if opts.Breaker != nil {
		coreOpts = append(coreOpts, paymentcore.WithBreaker(*opts.Breaker))
	}
	core := paymentcore.New(repo, registry, coreOpts...)

	if opts.Stripe != nil {
		opts.Stripe.Attach(repo, core)
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Disabled()
	}

	return &Chiron{
		Schema:     mapper.Schema(),
		Adapter:    a,
		Repository: repo,
		Payments:   core,
		Plugins:    set,
		Stripe:     opts.Stripe,
		limiter:    limiter,
		log:        log.Named("chiron"),
	}, nil
}

// GetOrCreateCustomer returns the customer for the user's id, creating it
// on first sight.
func (c *Chiron) GetOrCreateCustomer(ctx context.Context, u User) (*customerdomain.Customer, bool, error) {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return nil, false, fmt.Errorf("%w: user id is required", repository.ErrInvalidCustomer)
	}
	existing, err := c.Repository.FindCustomerByCustomUserID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	created, err := c.Repository.CreateCustomer(ctx, customerdomain.Customer{
		CustomUserID: id,
		Email:        u.Email,
		Name:         u.Name,
	})
	if err != nil {
		return nil, false, err
	}
	if created != nil {
		c.log.Info("customer created", zap.String("customer_id", created.ID), zap.String("custom_user_id", id))
	}
	return created, created != nil, nil
}

// Guard consults the rate limiter for key.
func (c *Chiron) Guard(ctx context.Context, key string) error {
	res, err := c.limiter.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &RateLimitError{Key: key, Result: res}
	}
	return nil
}

// SyncCustomer reconciles one provider for the customer owning customUserID.
func (c *Chiron) SyncCustomer(ctx context.Context, customUserID, provider string) (paymentcore.SyncResult, error) {
	if err := c.Guard(ctx, "sync:"+customUserID); err != nil {
		return paymentcore.SyncResult{}, err
	}
	cust, err := c.Repository.FindCustomerByCustomUserID(ctx, customUserID)
	if err != nil {
		return paymentcore.SyncResult{}, err
	}
	if cust == nil {
		return paymentcore.SyncResult{}, fmt.Errorf("no customer for user %q", customUserID)
	}
	return c.Payments.SyncCustomerSubscriptions(ctx, paymentcore.SyncRequest{CustomerID: cust.ID, Provider: provider})
}

// Migrate applies schema changes when the backend supports it.
func (c *Chiron) Migrate(ctx context.Context) error {
	m, ok := c.Adapter.(adapter.Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

func (c *Chiron) Close() error {
	if cl, ok := c.Adapter.(adapter.Closer); ok {
		return cl.Close()
	}
	return nil
}
