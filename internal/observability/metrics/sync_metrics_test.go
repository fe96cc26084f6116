package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/chiron/internal/adapter"
	"gorm.io/gorm"
)

func TestClassifyStorageError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("find: %w", context.DeadlineExceeded), want: ReasonDeadlineExceeded},
		{name: "constraint", err: adapter.Constraint("memory", "subscription", "create", "dup"), want: ReasonUniqueViolation},
		{name: "gorm duplicate", err: gorm.ErrDuplicatedKey, want: ReasonUniqueViolation},
		{name: "pg duplicate", err: &pgconn.PgError{Code: "23505"}, want: ReasonUniqueViolation},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: ReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: ReasonSerializationFailure},
		{name: "unknown", err: errors.New("boom"), want: ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStorageError(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSyncMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg, Config{ServiceName: "chiron", Environment: "test"})

	m.ObserveSync("stripe", SyncResultOK, 20*time.Millisecond)
	m.ObserveSync("stripe", SyncResultOK, 10*time.Millisecond)
	m.AddWrites("stripe", WriteKindCreated, 3)
	m.AddWrites("stripe", WriteKindUpdated, 0)
	m.ObserveOperation("memory", "subscription", "create", time.Millisecond, adapter.Constraint("memory", "subscription", "create", "dup"))

	if got := testutil.ToFloat64(m.syncs.WithLabelValues("stripe", SyncResultOK)); got != 2 {
		t.Fatalf("expected 2 syncs, got %v", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("stripe", WriteKindCreated)); got != 3 {
		t.Fatalf("expected 3 created writes, got %v", got)
	}
	if got := testutil.CollectAndCount(m.writes); got != 1 {
		t.Fatalf("expected zero-count writes to be skipped, got %d series", got)
	}
	if got := testutil.ToFloat64(m.opErrors.WithLabelValues("memory", "subscription", "create", ReasonUniqueViolation)); got != 1 {
		t.Fatalf("expected 1 adapter error, got %v", got)
	}
}

func TestNilSyncMetricsIsSafe(t *testing.T) {
	var m *SyncMetrics
	m.ObserveSync("stripe", SyncResultOK, time.Second)
	m.AddWrites("stripe", WriteKindCreated, 1)
	m.ObserveLockWait(time.Second)
	m.ObserveOperation("memory", "customer", "create", time.Second, nil)
}
