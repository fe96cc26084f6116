package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/chiron/internal/adapter"
	"gorm.io/gorm"
)

// Sync results.
const (
	SyncResultOK               = "ok"
	SyncResultProviderNotFound = "provider_not_found"
	SyncResultFetchFailed      = "fetch_failed"
	SyncResultInProgress       = "in_progress"
	SyncResultStorage          = "storage_error"
)

// Write kinds recorded per sync.
const (
	WriteKindCreated = "created"
	WriteKindUpdated = "updated"
)

// Storage error reasons.
const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUnknown              = "unknown"
)

// SyncMetrics records reconciliation and storage health.
type SyncMetrics struct {
	syncs        *prometheus.CounterVec
	writes       *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	lockWait     prometheus.Observer
	opDuration   *prometheus.HistogramVec
	opErrors     *prometheus.CounterVec
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = NewSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

// NewSyncMetrics registers a fresh set of collectors on registerer.
func NewSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "chiron"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chiron_sync_total",
		Help:        "Subscription reconciliations by provider and result.",
		ConstLabels: constLabels,
	}, []string{"provider", "result"})
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chiron_sync_writes_total",
		Help:        "Subscription rows written by reconciliation.",
		ConstLabels: constLabels,
	}, []string{"provider", "kind"})
	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "chiron_sync_duration_seconds",
		Help:        "Reconciliation latency including the provider fetch.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"provider"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "chiron_sync_lock_wait_seconds",
		Help:        "Time spent waiting for the per-customer sync lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	})
	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "chiron_adapter_operation_duration_seconds",
		Help:        "Storage adapter call latency.",
		Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		ConstLabels: constLabels,
	}, []string{"backend", "model", "op"})
	opErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chiron_adapter_errors_total",
		Help:        "Storage adapter failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"backend", "model", "op", "reason"})

	registerer.MustRegister(syncs, writes, syncDuration, lockWait, opDuration, opErrors)

	return &SyncMetrics{
		syncs:        syncs,
		writes:       writes,
		syncDuration: syncDuration,
		lockWait:     lockWait,
		opDuration:   opDuration,
		opErrors:     opErrors,
	}
}

// ObserveSync records one reconciliation.
func (m *SyncMetrics) ObserveSync(provider, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(provider, result).Inc()
	m.syncDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// AddWrites counts rows written by a reconciliation.
func (m *SyncMetrics) AddWrites(provider, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.writes.WithLabelValues(provider, kind).Add(float64(count))
}

// ObserveLockWait records how long a sync waited for its lock.
func (m *SyncMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.lockWait.Observe(d.Seconds())
}

// ObserveOperation implements adapter.Observer.
func (m *SyncMetrics) ObserveOperation(backend, model, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(backend, model, op).Observe(elapsed.Seconds())
	if err != nil {
		m.opErrors.WithLabelValues(backend, model, op, ClassifyStorageError(err)).Inc()
	}
}

// ClassifyStorageError maps storage failures to low-cardinality reasons.
func ClassifyStorageError(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case isUniqueViolation(err):
		return ReasonUniqueViolation
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	default:
		return ReasonUnknown
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, adapter.ErrConstraintViolation) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
