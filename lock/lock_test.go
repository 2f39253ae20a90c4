package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/lock"
	"github.com/warp/roombook/logging"
)

// =============================================================================
// LOCAL
// =============================================================================

func TestLocal_MutualExclusion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := lock.NewLocal()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(ctx, lock.RoomKey("room-1"))
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load(), "only one holder at a time")
	assert.Zero(t, l.Held(), "slots are cleaned up after release")
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	r1, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer r1()

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	r2, err := l.Lock(ctx2, "b")
	require.NoError(t, err)
	r2()
}

func TestLocal_ContextCanceledWhileWaiting(t *testing.T) {
	l := lock.NewLocal()
	release, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, core.ErrTransient)

	release()
	release() // idempotent
	assert.Zero(t, l.Held())
}

// =============================================================================
// REDIS
// =============================================================================

func setupRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *lock.Redis) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, lock.NewRedisWithClient(client, lock.RedisConfig{TTL: ttl, Retry: 5 * time.Millisecond}, logging.Nop())
}

func TestRedis_AcquireRelease(t *testing.T) {
	mr, l := setupRedis(t, time.Minute)
	ctx := context.Background()

	release, err := l.Lock(ctx, lock.RoomKey("room-1"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("roombook:lock:room:room-1"))

	release()
	assert.False(t, mr.Exists("roombook:lock:room:room-1"))
}

func TestRedis_ContendedLockTimesOut(t *testing.T) {
	_, l := setupRedis(t, time.Minute)

	release, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, core.ErrTransient)
}

func TestRedis_ReleaseDoesNotDropForeignToken(t *testing.T) {
	// GIVEN: A lock that expired and was taken by another holder
	// WHEN: The original holder releases
	// THEN: The new holder's key survives

	mr, l := setupRedis(t, 50*time.Millisecond)
	ctx := context.Background()

	release, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(time.Second)
	require.NoError(t, mr.Set("roombook:lock:k", "someone-else"))

	release()
	got, err := mr.Get("roombook:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_WaiterAcquiresAfterRelease(t *testing.T) {
	_, l := setupRedis(t, time.Minute)
	ctx := context.Background()

	release, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r2, err := l.Lock(ctx, "k")
		if err == nil {
			r2()
		}
		close(acquired)
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}
