package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/coach-labs/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu      sync.Mutex
	rows    map[string]*domain.Session
	expired map[string]bool
	gets    atomic.Int32
	putErr  error
	getWait chan struct{}
	// When set, GetSession signals read after reading the row and then
	// waits for release before returning it.
	read    chan struct{}
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: make(map[string]*domain.Session)}
}

func (f *fakeBackend) GetSession(_ context.Context, id string) (*domain.Session, error) {
	f.gets.Add(1)
	if f.getWait != nil {
		<-f.getWait
	}
	f.mu.Lock()
	s, ok := f.rows[id]
	if ok {
		s = s.Clone()
	}
	f.mu.Unlock()
	if f.read != nil {
		f.read <- struct{}{}
		<-f.release
	}
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (f *fakeBackend) UpsertSession(_ context.Context, s *domain.Session) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = s.Clone()
	return nil
}

func (f *fakeBackend) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeBackend) ExpiredSessionIDs(_ context.Context, _ time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.expired {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeBackend) DeleteExpiredSession(_ context.Context, id string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.expired[id] {
		return false, nil
	}
	delete(f.expired, id)
	delete(f.rows, id)
	return true, nil
}

func TestCachePutGetReturnsCopies(t *testing.T) {
	t.Parallel()

	c, err := NewCache(10, nil)
	require.NoError(t, err)

	s := domain.NewSession("s1", "u1", 1, time.Now())
	require.NoError(t, c.Put(context.Background(), s))

	s.Append(domain.RoleUser, "mutated after put", time.Now())

	got, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Messages)

	got.Phase = 4
	again, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Phase)
}

func TestCacheMissWithoutBackend(t *testing.T) {
	t.Parallel()

	c, err := NewCache(10, nil)
	require.NoError(t, err)

	got, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheLoadsFromBackend(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.rows["s1"] = domain.NewSession("s1", "u1", 2, time.Now())

	c, err := NewCache(10, backend)
	require.NoError(t, err)

	got, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Phase)

	_, err = c.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), backend.gets.Load())
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.rows["s1"] = domain.NewSession("s1", "u1", 1, time.Now())
	backend.getWait = make(chan struct{})

	c, err := NewCache(10, backend)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.Get(context.Background(), "s1")
			assert.NoError(t, err)
			assert.NotNil(t, s)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(backend.getWait)
	wg.Wait()

	assert.LessOrEqual(t, backend.gets.Load(), int32(2))
}

func TestCachePutFailureKeepsCachedCopy(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.putErr = errors.New("disk full")

	c, err := NewCache(10, backend)
	require.NoError(t, err)

	err = c.Put(context.Background(), domain.NewSession("s1", "u1", 1, time.Now()))
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())

	got, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	c, err := NewCache(10, backend)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, domain.NewSession("s1", "u1", 1, time.Now())))
	require.NoError(t, c.Delete(ctx, "s1"))

	got, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvictIdle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	backend := newFakeBackend()
	c, err := NewCache(10, backend, WithClock(clock))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Put(ctx, domain.NewSession("old", "u1", 1, now)))
	now = now.Add(time.Hour)
	require.NoError(t, c.Put(ctx, domain.NewSession("fresh", "u1", 1, now)))

	assert.Equal(t, 1, c.EvictIdle(30*time.Minute))
	assert.Equal(t, 1, c.Len())

	// Evicted sessions are still reachable through the backend.
	got, err := c.Get(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestEvictIdleNeverDropsMemoryOnlySessions(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c, err := NewCache(10, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, c.Put(context.Background(), domain.NewSession("s1", "u1", 1, now)))
	now = now.Add(24 * time.Hour)
	assert.Equal(t, 0, c.EvictIdle(time.Minute))
	assert.Equal(t, 1, c.Len())
}

func TestLockerSerializesSameKey(t *testing.T) {
	t.Parallel()

	l := NewLocker()
	ctx := context.Background()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "s1")
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, l.Held())
}

func TestLockerIndependentKeys(t *testing.T) {
	t.Parallel()

	l := NewLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	ctxB, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctxB, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLockerHonorsContext(t *testing.T) {
	t.Parallel()

	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, l.Held())
}

func TestSweeperStopsOnCancel(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	c, err := NewCache(10, backend)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := StartSweeper(ctx, c, backend, SweeperConfig{
		Interval:  5 * time.Millisecond,
		IdleTTL:   time.Minute,
		Retention: time.Hour,
	}, nil)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestCacheMissKeepsConcurrentPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := newFakeBackend()
	stale := domain.NewSession("s1", "u1", 1, time.Now())
	backend.rows["s1"] = stale.Clone()
	backend.read = make(chan struct{})
	backend.release = make(chan struct{})

	c, err := NewCache(10, backend)
	require.NoError(t, err)

	loaded := make(chan *domain.Session, 1)
	go func() {
		s, err := c.Get(ctx, "s1")
		assert.NoError(t, err)
		loaded <- s
	}()

	<-backend.read
	newer := stale.Clone()
	newer.CheckpointIndex = 3
	newer.Append(domain.RoleUser, "hello", time.Now())
	require.NoError(t, c.Put(ctx, newer))
	close(backend.release)

	got := <-loaded
	require.NotNil(t, got)
	assert.Equal(t, 3, got.CheckpointIndex)

	cached, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, cached.CheckpointIndex)
	assert.Len(t, cached.Messages, 1)
}

func TestSweepPurgesExpiredSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := newFakeBackend()
	c, err := NewCache(10, backend)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, domain.NewSession("old", "u1", 1, time.Now())))
	require.NoError(t, c.Put(ctx, domain.NewSession("fresh", "u1", 1, time.Now())))
	backend.expired = map[string]bool{"old": true}

	sweep(ctx, c, backend, SweeperConfig{Retention: time.Hour, Locker: NewLocker()}, nil)

	got, err := c.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got, "purged session must not be served from the cache")
	got, err = c.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSweepWaitsForSessionLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := newFakeBackend()
	c, err := NewCache(10, backend)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, domain.NewSession("old", "u1", 1, time.Now())))
	backend.expired = map[string]bool{"old": true}

	locker := NewLocker()
	unlock, err := locker.Lock(ctx, "old")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sweep(ctx, c, backend, SweeperConfig{Retention: time.Hour, Locker: locker}, nil)
	}()

	select {
	case <-done:
		t.Fatal("sweep deleted a session while its lock was held")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Len())

	unlock()
	<-done
	assert.Zero(t, c.Len())
}
