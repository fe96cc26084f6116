package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/chiron/internal/clock"
	"github.com/smallbiznis/chiron/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	DefaultWindow = 10 * time.Second
	DefaultMax    = 100
)

// Rule is a fixed window: at most Max requests per Window, counted from a
// key's last accepted request.
type Rule struct {
	Name   string
	Window time.Duration
	Max    int64
}

type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter struct {
	enabled bool
	storage Storage
	rule    Rule
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
	// guards read-modify-write for storages without Hitter
	mu sync.Mutex
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option { return func(l *Limiter) { l.clock = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(l *Limiter) { l.metrics = m } }

func WithLogger(log *zap.Logger) Option { return func(l *Limiter) { l.log = log } }

func NewLimiter(storage Storage, rule Rule, opts ...Option) (*Limiter, error) {
	if storage == nil {
		return nil, errors.New("rate limit storage is required")
	}
	if rule.Window <= 0 {
		rule.Window = DefaultWindow
	}
	if rule.Max <= 0 {
		rule.Max = DefaultMax
	}
	if rule.Name == "" {
		rule.Name = "default"
	}
	l := &Limiter{
		enabled: true,
		storage: storage,
		rule:    rule,
		clock:   clock.System(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.Named("ratelimit")
	return l, nil
}

// Disabled returns a limiter that allows everything.
func Disabled() *Limiter { return &Limiter{} }

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow records a request for key and reports whether it is within the rule.
// Denied requests are not counted.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, errors.New("rate limiter key is empty")
	}

	now := l.clock.Now().UnixMilli()
	window := l.rule.Window.Milliseconds()

	var (
		rec     Record
		allowed bool
		err     error
	)
	if h, ok := l.storage.(Hitter); ok {
		rec, allowed, err = h.Hit(ctx, key, now, window, l.rule.Max)
	} else {
		rec, allowed, err = l.hit(ctx, key, now, window)
	}
	if err != nil {
		l.log.Warn("rate limit storage failed", zap.String("key", key), zap.Error(err))
		return Result{}, err
	}

	l.metrics.RecordRateLimit(ctx, l.rule.Name, allowed)

	res := Result{Allowed: allowed, Limit: l.rule.Max, Remaining: l.rule.Max - rec.Count}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !allowed {
		res.RetryAfter = time.Duration(window-(now-rec.LastRequest)) * time.Millisecond
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res, nil
}

func (l *Limiter) hit(ctx context.Context, key string, now, window int64) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.storage.Get(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	var next Record
	switch {
	case current == nil || now-current.LastRequest > window:
		next = Record{Key: key, Count: 1, LastRequest: now}
	case current.Count >= l.rule.Max:
		return *current, false, nil
	default:
		next = Record{Key: key, Count: current.Count + 1, LastRequest: now}
	}
	if err := l.storage.Set(ctx, next); err != nil {
		return Record{}, false, err
	}
	return next, true, nil
}
