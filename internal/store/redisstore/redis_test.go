package redisstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestLocker_MutualExclusion(t *testing.T) {
	_, c := newClient(t)
	l := NewLocker(c, time.Minute)
	l.retryDelay = time.Millisecond

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), "https://a.test")
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
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLocker_ReleaseChecksToken(t *testing.T) {
	mr, c := newClient(t)
	l := NewLocker(c, time.Minute)

	release, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// someone else took over after our TTL ran out
	mr.Set("govchat:lock:k", "other-token")
	release()
	got, err := mr.Get("govchat:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}

func TestLocker_ContextCancelWhileWaiting(t *testing.T) {
	_, c := newClient(t)
	l := NewLocker(c, time.Minute)
	l.retryDelay = time.Millisecond

	release, err := l.Lock(context.Background(), "busy")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "busy")
	assert.True(t, errors.Is(err, ErrLockNotAcquired))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLocker_ExpiredLockCanBeTaken(t *testing.T) {
	mr, c := newClient(t)
	l := NewLocker(c, time.Second)
	l.retryDelay = time.Millisecond

	_, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	release, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()
	assert.False(t, mr.Exists("govchat:lock:k"))
}

func TestRateLimiter(t *testing.T) {
	_, c := newClient(t)
	rl := NewRateLimiter(c, 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, wait, err := rl.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	ok, _, err = rl.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok, "keys are counted separately")

	ok, _, err = NewRateLimiter(c, 0, time.Minute).Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "a zero limit disables limiting")
}
