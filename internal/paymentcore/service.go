// Package paymentcore derives entitlements from stored subscriptions and
// reconciles them against the payment providers' view.
package paymentcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/chiron/internal/adapter"
	obslogger "github.com/smallbiznis/chiron/internal/observability/logger"
	"github.com/smallbiznis/chiron/internal/observability/metrics"
	ppdomain "github.com/smallbiznis/chiron/internal/paymentprovider/domain"
	"github.com/smallbiznis/chiron/internal/repository"
	"github.com/smallbiznis/chiron/internal/schema"
	subscriptiondomain "github.com/smallbiznis/chiron/internal/subscription/domain"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/smallbiznis/chiron/internal/paymentcore"

// Repository is the subset of the internal repository used here.
type Repository interface {
	ListSubscriptions(ctx context.Context, customerID string) ([]subscriptiondomain.Subscription, error)
	CreateSubscription(ctx context.Context, s subscriptiondomain.Subscription) (*subscriptiondomain.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, patch adapter.Record) (*subscriptiondomain.Subscription, error)
}

// AccessLevels groups entitled subscriptions by access-level tag.
type AccessLevels map[string][]subscriptiondomain.Subscription

type SyncRequest struct {
	CustomerID string
	Provider   string
}

// SyncResult counts what a reconciliation did.
type SyncResult struct {
	Created   int
	Updated   int
	Unchanged int
}

type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

type Service struct {
	repo      Repository
	providers *ppdomain.Registry
	locker    Locker
	breakers  map[string]*gobreaker.CircuitBreaker[[]subscriptiondomain.Subscription]
	metrics   *metrics.SyncMetrics
	tracer    trace.Tracer
	log       *zap.Logger
	// stored lists the subscription fields the effective schema persists.
	stored map[string]bool
}

type Option func(*options)

type options struct {
	locker  Locker
	breaker BreakerConfig
	metrics *metrics.SyncMetrics
	tracer  trace.Tracer
	log     *zap.Logger
	schema  *schema.Schema
}

func WithLocker(l Locker) Option { return func(o *options) { o.locker = l } }

func WithBreaker(cfg BreakerConfig) Option { return func(o *options) { o.breaker = cfg } }

func WithMetrics(m *metrics.SyncMetrics) Option { return func(o *options) { o.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

func WithLogger(log *zap.Logger) Option { return func(o *options) { o.log = log } }

// WithSchema sets the effective schema snapshots are compared against.
// Defaults to the base schema without plugin fields.
func WithSchema(s *schema.Schema) Option { return func(o *options) { o.schema = s } }

// New builds the service over an immutable provider registry. Without a
// locker, syncs are serialized in process with a 5s wait budget.
func New(repo Repository, providers *ppdomain.Registry, opts ...Option) *Service {
	o := options{breaker: DefaultBreakerConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locker == nil {
		o.locker = NewLocalLocker(5 * time.Second)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.schema == nil {
		o.schema = schema.Build(schema.Options{})
	}
	log := o.log.Named("paymentcore")

	breakers := make(map[string]*gobreaker.CircuitBreaker[[]subscriptiondomain.Subscription], providers.Len())
	for _, id := range providers.IDs() {
		breakers[id] = newBreaker(id, o.breaker, log)
	}

	return &Service{
		repo:      repo,
		providers: providers,
		locker:    o.locker,
		breakers:  breakers,
		metrics:   o.metrics,
		tracer:    o.tracer,
		log:       log,
		stored:    storedFields(o.schema),
	}
}

func storedFields(s *schema.Schema) map[string]bool {
	out := map[string]bool{}
	t, err := s.Table(schema.ModelSubscription)
	if err != nil {
		return out
	}
	for _, name := range t.FieldNames() {
		out[name] = true
	}
	return out
}

// storedOnly drops extension keys storage would discard, so a snapshot
// compares equal to its stored copy.
func (s *Service) storedOnly(additional map[string]any) map[string]any {
	if len(additional) == 0 {
		return additional
	}
	out := make(map[string]any, len(additional))
	for k, v := range additional {
		if s.stored[k] {
			out[k] = v
		}
	}
	return out
}

func newBreaker(provider string, cfg BreakerConfig, log *zap.Logger) *gobreaker.CircuitBreaker[[]subscriptiondomain.Subscription] {
	return gobreaker.NewCircuitBreaker[[]subscriptiondomain.Subscription](gobreaker.Settings{
		Name:        provider,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("provider circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Providers exposes the configured registry.
func (s *Service) Providers() *ppdomain.Registry { return s.providers }

// GetCustomerAccessLevels groups the customer's active and trialing
// subscriptions by the tag their provider assigns. Subscriptions of unknown
// providers or without a tag are skipped. Only observed tags appear.
func (s *Service) GetCustomerAccessLevels(ctx context.Context, customerID string) (AccessLevels, error) {
	subs, err := s.repo.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	levels := AccessLevels{}
	for _, sub := range subs {
		if !sub.Status.Entitled() {
			continue
		}
		p, ok := s.providers.Find(sub.Provider)
		if !ok {
			continue
		}
		tag := p.AccessLevel(sub)
		if tag == "" {
			continue
		}
		levels[tag] = append(levels[tag], sub)
	}
	return levels, nil
}

// HasAccessLevel reports whether the customer currently holds level.
func (s *Service) HasAccessLevel(ctx context.Context, customerID, level string) (bool, error) {
	levels, err := s.GetCustomerAccessLevels(ctx, customerID)
	if err != nil {
		return false, err
	}
	return len(levels[level]) > 0, nil
}

var ignoredOnSync = []string{"id", "createdAt", "updatedAt"}

// SyncCustomerSubscriptions aligns the customer's stored subscriptions of
// one provider with the provider's snapshot. New subscriptions are created
// before changed ones are updated. A fetch failure writes nothing; a write
// failure returns immediately and earlier writes stay committed.
func (s *Service) SyncCustomerSubscriptions(ctx context.Context, req SyncRequest) (result SyncResult, err error) {
	ctx, span := s.tracer.Start(ctx, "paymentcore.SyncCustomerSubscriptions",
		trace.WithAttributes(
			attribute.String("chiron.customer_id", req.CustomerID),
			attribute.String("chiron.provider", req.Provider),
		),
	)
	start := time.Now()
	defer func() {
		outcome := syncOutcome(err)
		s.metrics.ObserveSync(req.Provider, outcome, time.Since(start))
		s.metrics.AddWrites(req.Provider, metrics.WriteKindCreated, result.Created)
		s.metrics.AddWrites(req.Provider, metrics.WriteKindUpdated, result.Updated)
		span.SetAttributes(
			attribute.Int("chiron.sync.created", result.Created),
			attribute.Int("chiron.sync.updated", result.Updated),
			attribute.Int("chiron.sync.unchanged", result.Unchanged),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	log := obslogger.WithCustomer(obslogger.WithContext(ctx, s.log), req.CustomerID).With(zap.String("provider", req.Provider))

	lockStart := time.Now()
	release, err := s.locker.Acquire(ctx, req.Provider+":"+req.CustomerID)
	s.metrics.ObserveLockWait(time.Since(lockStart))
	if err != nil {
		return result, err
	}
	defer release()

	all, err := s.repo.ListSubscriptions(ctx, req.CustomerID)
	if err != nil {
		return result, err
	}
	local := make([]subscriptiondomain.Subscription, 0, len(all))
	for _, sub := range all {
		if sub.Provider == req.Provider {
			local = append(local, sub)
		}
	}

	p, ok := s.providers.Find(req.Provider)
	if !ok {
		return result, fmt.Errorf("%w: %s", ErrProviderNotFound, req.Provider)
	}
	if !p.CanListSubscriptions() {
		log.Debug("provider does not list subscriptions")
		return result, nil
	}

	fetched, err := s.breakers[p.ID].Execute(func() ([]subscriptiondomain.Subscription, error) {
		return p.GetSubscriptions(ctx, req.CustomerID)
	})
	if err != nil {
		log.Warn("provider fetch failed", zap.Error(err))
		return result, fmt.Errorf("%w: %s: %w", ErrProviderFetchFailed, p.ID, err)
	}

	var created, changed []subscriptiondomain.Subscription
	for _, snapshot := range fetched {
		if snapshot.CustomerID == "" {
			snapshot.CustomerID = req.CustomerID
		}
		if snapshot.Provider == "" {
			snapshot.Provider = p.ID
		}
		normalizeTimes(&snapshot)
		snapshot.Additional = s.storedOnly(snapshot.Additional)
		stored, found := match(p, local, snapshot)
		if !found {
			snapshot.ID = ""
			snapshot.CreatedAt = time.Time{}
			snapshot.UpdatedAt = time.Time{}
			created = append(created, snapshot)
			continue
		}
		if len(subscriptiondomain.DiffSubscriptions(stored, snapshot, ignoredOnSync...)) == 0 {
			result.Unchanged++
			continue
		}
		snapshot.ID = stored.ID
		changed = append(changed, snapshot)
	}

	for _, sub := range created {
		row, err := s.repo.CreateSubscription(ctx, sub)
		if err != nil {
			return result, err
		}
		if row != nil {
			result.Created++
		}
	}
	for _, sub := range changed {
		row, err := s.repo.UpdateSubscription(ctx, sub.ID, repository.SubscriptionPatch(sub))
		if err != nil {
			return result, err
		}
		if row != nil {
			result.Updated++
		}
	}

	log.Info("subscriptions synced",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
	)
	return result, nil
}

func match(p ppdomain.Provider, local []subscriptiondomain.Subscription, snapshot subscriptiondomain.Subscription) (subscriptiondomain.Subscription, bool) {
	key := p.SubscriptionIdentifier(snapshot)
	for _, sub := range local {
		if p.SubscriptionIdentifier(sub) == key {
			return sub, true
		}
	}
	return subscriptiondomain.Subscription{}, false
}

// normalizeTimes truncates to the precision storage keeps, so that a
// snapshot read back from storage compares equal to the one written.
func normalizeTimes(s *subscriptiondomain.Subscription) {
	s.StartsAt = schema.NormalizeTime(s.StartsAt)
	s.PurchasedAt = schema.NormalizeTime(s.PurchasedAt)
	for _, t := range []**time.Time{&s.ExpiresAt, &s.BillingIssueDetectedAt} {
		if *t != nil {
			n := schema.NormalizeTime(**t)
			*t = &n
		}
	}
}

func syncOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.SyncResultOK
	case errors.Is(err, ErrProviderNotFound):
		return metrics.SyncResultProviderNotFound
	case errors.Is(err, ErrProviderFetchFailed):
		return metrics.SyncResultFetchFailed
	case errors.Is(err, ErrSyncInProgress):
		return metrics.SyncResultInProgress
	default:
		return metrics.SyncResultStorage
	}
}
