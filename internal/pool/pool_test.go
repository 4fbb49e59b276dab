// ABOUTME: Tests for the bounded connection pool.
// ABOUTME: Covers acquire bounds, idempotent release, and broken-conn discard.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) (*Pool, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	p := New(db, size, 200*time.Millisecond)
	t.Cleanup(func() { _ = p.Close() })
	return p, mock
}

func TestAcquireRelease(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)

	stats := p.Stats()
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, 1, stats.Idle)

	p.Release(c)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 2, stats.Idle)
}

func TestAcquireBlocksUntilExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	// The wait bound must elapse before the failure.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	p.Release(c)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("second acquire: %v", err)
			return
		}
		p.Release(c2)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(c)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	p.Release(c)
	p.Release(c)
	p.Release(nil)

	stats := p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 2, stats.Idle)

	// The free list must not have gained a phantom slot.
	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Acquire(ctx)
	assert.True(t, errors.Is(err, ErrExhausted))

	p.Release(c1)
	p.Release(c2)
}

func TestBrokenConnDiscardedOnRelease(t *testing.T) {
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)

	p := New(db, 1, 200*time.Millisecond)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	// A failing statement taints the conn; the release-time ping then
	// fails, so the handle must be discarded.
	mock.ExpectQuery("SELECT broken").WillReturnError(errors.New("connection reset"))
	mock.ExpectPing().WillReturnError(errors.New("driver: bad connection"))

	_, qerr := c.QueryContext(ctx, "SELECT broken")
	require.Error(t, qerr)

	p.Release(c)

	c.mu.Lock()
	assert.Nil(t, c.sc, "broken handle should have been discarded")
	c.mu.Unlock()

	// Next acquire lazily re-establishes a handle.
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2.mu.Lock()
	assert.NotNil(t, c2.sc)
	c2.mu.Unlock()
	p.Release(c2)
}

func TestTaintedButAliveConnKept(t *testing.T) {
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)

	p := New(db, 1, 200*time.Millisecond)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	// A syntax error taints the conn but the ping succeeds, so the
	// handle survives.
	mock.ExpectQuery("SELECT nope").WillReturnError(errors.New(`syntax error at or near "nope"`))
	mock.ExpectPing()

	_, qerr := c.QueryContext(ctx, "SELECT nope")
	require.Error(t, qerr)

	p.Release(c)

	c.mu.Lock()
	assert.NotNil(t, c.sc, "healthy handle should be kept")
	c.mu.Unlock()
}

func TestConcurrentAcquireNeverOverlapsSlots(t *testing.T) {
	const size = 3
	const workers = 10

	p, _ := newTestPool(t, size)
	ctx := context.Background()

	var held int32
	var peak int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(ctx)
			if err != nil {
				// Workers beyond the pool size may time out; that is
				// the documented wait-bound behavior.
				if !errors.Is(err, ErrExhausted) {
					t.Errorf("acquire: %v", err)
				}
				return
			}
			n := atomic.AddInt32(&held, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&held, -1)
			p.Release(c)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(size))
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestAcquireAfterClose(t *testing.T) {
	p, mock := newTestPool(t, 1)
	mock.ExpectClose()
	require.NoError(t, p.Close())

	_, err := p.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
}
