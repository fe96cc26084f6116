package paymentcore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerReleasesKeys(t *testing.T) {
	l := NewLocalLocker(10 * time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "a")
	require.NoError(t, err)

	other, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	other()

	_, err = l.Acquire(ctx, "a")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	release()
	release()
	again, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	assert.Empty(t, l.locks)
	l.mu.Unlock()
}

func TestLocalLockerHonorsContext(t *testing.T) {
	l := NewLocalLocker(time.Minute)
	release, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func newRedisLocker(t *testing.T, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "test", time.Minute, wait), mr
}

func TestRedisLockerTokenRelease(t *testing.T) {
	l, mr := newRedisLocker(t, 0)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "stripe:c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("test:lock:stripe:c1"))

	_, ok, err = l.TryLock(ctx, "stripe:c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "stripe:c1", "someone-else"))
	assert.True(t, mr.Exists("test:lock:stripe:c1"))

	require.NoError(t, l.Release(ctx, "stripe:c1", token))
	assert.False(t, mr.Exists("test:lock:stripe:c1"))
}

func TestRedisLockerAcquire(t *testing.T) {
	l, mr := newRedisLocker(t, 120*time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "stripe:c1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "stripe:c1")
	assert.ErrorIs(t, err, ErrSyncInProgress)

	release()
	assert.False(t, mr.Exists("test:lock:stripe:c1"))

	release, err = l.Acquire(ctx, "stripe:c1")
	require.NoError(t, err)
	release()
}

func TestRedisLockerRenewsLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, "test", 300*time.Millisecond, 0)
	key := "test:lock:stripe:c1"

	release, err := l.Acquire(context.Background(), "stripe:c1")
	require.NoError(t, err)

	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL(key) > 100*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	mr.FastForward(250 * time.Millisecond)
	assert.True(t, mr.Exists(key))

	release()
	assert.False(t, mr.Exists(key))
}

func TestRedisLockerExtendRequiresToken(t *testing.T) {
	l, mr := newRedisLocker(t, 0)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "stripe:c1")
	require.NoError(t, err)
	require.True(t, ok)

	held, err := l.Extend(ctx, "stripe:c1", "someone-else")
	require.NoError(t, err)
	assert.False(t, held)

	mr.FastForward(30 * time.Second)
	held, err = l.Extend(ctx, "stripe:c1", token)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, time.Minute, mr.TTL("test:lock:stripe:c1"))
}

func TestRedisLockerValidation(t *testing.T) {
	l, _ := newRedisLocker(t, 0)
	_, _, err := l.TryLock(context.Background(), "")
	assert.Error(t, err)

	var nilLocker *RedisLocker
	_, _, err = nilLocker.TryLock(context.Background(), "k")
	assert.Error(t, err)
	assert.NoError(t, nilLocker.Release(context.Background(), "k", "t"))
}
