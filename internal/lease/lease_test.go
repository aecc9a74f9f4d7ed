package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/api/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(rdb), rdb
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAcquire_ExactlyOneOwnerWins(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.Acquire(ctx, "job-1", fmt.Sprintf("worker-%d", i), time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestAcquire_AfterExpiry(t *testing.T) {
	m, _ := newTestManager(t)
	clock := &fakeClock{now: time.Now()}
	m.Now = clock.Now
	ctx := context.Background()

	ok, err := m.Acquire(ctx, "job-1", "a", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire(ctx, "job-1", "b", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live lease must block other owners")

	ok, err = m.Acquire(ctx, "job-1", "a", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live lease blocks its own owner too")

	clock.Advance(2*time.Minute + time.Millisecond)
	ok, err = m.Acquire(ctx, "job-1", "b", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenew(t *testing.T) {
	m, rdb := newTestManager(t)
	clock := &fakeClock{now: time.Now()}
	m.Now = clock.Now
	ctx := context.Background()

	ok, _ := m.Acquire(ctx, "job-1", "a", time.Minute)
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	ok, err := m.Renew(ctx, "job-1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	expires, err := rdb.HGet(ctx, store.LeaseKey("job-1"), "expires_at").Int64()
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute).UnixMilli(), expires)

	ok, err = m.Renew(ctx, "job-1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelease(t *testing.T) {
	m, rdb := newTestManager(t)
	ctx := context.Background()

	ok, _ := m.Acquire(ctx, "job-1", "a", time.Minute)
	require.True(t, ok)

	// Non-owner release is a no-op
	m.Release(ctx, "job-1", "b")
	n, _ := rdb.Exists(ctx, store.LeaseKey("job-1")).Result()
	assert.Equal(t, int64(1), n)

	m.Release(ctx, "job-1", "a")
	n, _ = rdb.Exists(ctx, store.LeaseKey("job-1")).Result()
	assert.Zero(t, n)

	// Idempotent, and works on a cancelled context
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	m.Release(cancelled, "job-1", "a")

	ok, _ = m.Acquire(ctx, "job-1", "b", time.Minute)
	assert.True(t, ok)
}

func TestClearExpired(t *testing.T) {
	m, _ := newTestManager(t)
	clock := &fakeClock{now: time.Now()}
	m.Now = clock.Now
	ctx := context.Background()

	cleared, err := m.ClearExpired(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, cleared)

	ok, _ := m.Acquire(ctx, "job-1", "a", time.Minute)
	require.True(t, ok)

	cleared, err = m.ClearExpired(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, cleared, "live lease stays")

	clock.Advance(2 * time.Minute)
	cleared, err = m.ClearExpired(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestKeepAlive_CancelsOnLeaseLoss(t *testing.T) {
	m, rdb := newTestManager(t)
	ctx := context.Background()

	ok, _ := m.Acquire(ctx, "job-1", "a", time.Minute)
	require.True(t, ok)

	leaseCtx, stop := m.KeepAlive(ctx, "job-1", "a", time.Minute, 10*time.Millisecond)
	defer stop()

	// Another owner takes over
	require.NoError(t, rdb.HSet(ctx, store.LeaseKey("job-1"), "owner", "b").Err())

	select {
	case <-leaseCtx.Done():
		assert.True(t, errors.Is(context.Cause(leaseCtx), store.ErrLeaseLost))
	case <-time.After(2 * time.Second):
		t.Fatal("keepalive did not observe lease loss")
	}
}

func TestKeepAlive_StopIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ok, _ := m.Acquire(ctx, "job-1", "a", time.Minute)
	require.True(t, ok)

	leaseCtx, stop := m.KeepAlive(ctx, "job-1", "a", time.Minute, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, leaseCtx.Err())

	stop()
	stop()
	assert.Error(t, leaseCtx.Err())
}

func TestNewOwnerID(t *testing.T) {
	a, b := NewOwnerID(), NewOwnerID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
