package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(store Store) *Manager {
	return NewManager(store, zap.NewNop(), nil)
}

func TestManager_MutualExclusion(t *testing.T) {
	store := NewMemoryStore()

	const instances = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager := newTestManager(store)
			if _, ok := manager.Acquire(context.Background(), "close-due-task:1", time.Minute, 0); ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one concurrent acquire may win")
}

func TestManager_MinimumHoldFloor(t *testing.T) {
	store := NewMemoryStore()
	first := newTestManager(store)
	second := newTestManager(store)

	l, ok := first.Acquire(context.Background(), "floor-test", 500*time.Millisecond, 200*time.Millisecond)
	require.True(t, ok)

	// Release well before the floor. The name must stay unavailable
	// until the floor passes even though the holder is done.
	require.NoError(t, first.Release(context.Background(), l))

	_, ok = second.Acquire(context.Background(), "floor-test", 500*time.Millisecond, 0)
	assert.False(t, ok, "re-acquire before the minimum hold deadline must fail")

	time.Sleep(250 * time.Millisecond)

	_, ok = second.Acquire(context.Background(), "floor-test", 500*time.Millisecond, 0)
	assert.True(t, ok, "re-acquire after the minimum hold deadline must succeed")
}

func TestManager_ReleaseAfterFloorDeletesLock(t *testing.T) {
	store := NewMemoryStore()
	manager := newTestManager(store)

	l, ok := manager.Acquire(context.Background(), "release-test", time.Minute, 0)
	require.True(t, ok)
	require.NoError(t, manager.Release(context.Background(), l))

	_, ok = manager.Acquire(context.Background(), "release-test", time.Minute, 0)
	assert.True(t, ok, "released name must be immediately re-acquirable with no floor")
}

func TestManager_ExpiryAllowsReacquire(t *testing.T) {
	store := NewMemoryStore()
	manager := newTestManager(store)

	_, ok := manager.Acquire(context.Background(), "expiry-test", 50*time.Millisecond, 0)
	require.True(t, ok)

	_, ok = manager.Acquire(context.Background(), "expiry-test", time.Minute, 0)
	assert.False(t, ok)

	time.Sleep(80 * time.Millisecond)

	_, ok = manager.Acquire(context.Background(), "expiry-test", time.Minute, 0)
	assert.True(t, ok, "a crashed holder's lock must lapse at the atMostFor ceiling")
}

func TestManager_StaleHandleCannotReleaseNewHolder(t *testing.T) {
	store := NewMemoryStore()
	first := newTestManager(store)
	second := newTestManager(store)

	stale, ok := first.Acquire(context.Background(), "stale-test", 50*time.Millisecond, 0)
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)

	_, ok = second.Acquire(context.Background(), "stale-test", time.Minute, 0)
	require.True(t, ok)

	err := first.Release(context.Background(), stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotHeld)

	// The new holder's lock must be untouched.
	_, ok = first.Acquire(context.Background(), "stale-test", time.Minute, 0)
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Release(ctx context.Context, key, token string) error {
	return errors.New("connection refused")
}

func (failingStore) Expire(ctx context.Context, key, token string, ttl time.Duration) error {
	return errors.New("connection refused")
}

func TestManager_StoreFailureIsDenied(t *testing.T) {
	manager := newTestManager(failingStore{})

	l, ok := manager.Acquire(context.Background(), "unreachable", time.Minute, 0)
	assert.False(t, ok, "an unreachable store must read as lock denied, never as acquired")
	assert.Nil(t, l)
}

func TestMemoryStore_ReleaseChecksOwnership(t *testing.T) {
	store := NewMemoryStore()

	ok, err := store.Acquire(context.Background(), "k", "holder-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = store.Release(context.Background(), "k", "holder-b")
	assert.ErrorIs(t, err, ErrNotHeld)

	require.NoError(t, store.Release(context.Background(), "k", "holder-a"))
}

func TestMemoryStore_ExpireChecksOwnership(t *testing.T) {
	store := NewMemoryStore()

	ok, err := store.Acquire(context.Background(), "k", "holder-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = store.Expire(context.Background(), "k", "holder-b", time.Second)
	assert.ErrorIs(t, err, ErrNotHeld)

	require.NoError(t, store.Expire(context.Background(), "k", "holder-a", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	ok, err = store.Acquire(context.Background(), "k", "holder-c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "shortened expiry must free the key")
}
