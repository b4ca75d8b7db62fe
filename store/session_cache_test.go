package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricely/telemetry/models"
)

// fakeCache is an in-process SessionCache speaking the redis command shapes.
type fakeCache struct {
	mu      sync.Mutex
	values  map[string]string
	sets    int
	dels    []string
	failing bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (f *fakeCache) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return redis.NewStringResult("", errors.New("cache down"))
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return redis.NewStatusResult("", errors.New("cache down"))
	}
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dels = append(f.dels, keys...)
	if f.failing {
		return redis.NewIntResult(0, errors.New("cache down"))
	}
	for _, k := range keys {
		delete(f.values, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// spySessionStore counts active-session reads hitting the inner store.
type spySessionStore struct {
	*MemSessionStore
	activeCalls int
}

func (s *spySessionStore) ActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	s.activeCalls++
	return s.MemSessionStore.ActiveSession(ctx, userID)
}

func TestCachedActiveSession_HitShortCircuitsInner(t *testing.T) {
	inner := &spySessionStore{MemSessionStore: NewMemSessionStore()}
	cache := newFakeCache()
	cached := NewCachedSessionStore(inner, cache)
	ctx := context.Background()

	// StartSession writes through to the cache.
	_, err := cached.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)
	require.Equal(t, 1, cache.sets)

	session, err := cached.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "sess-a", session.SessionID)
	assert.Equal(t, 0, inner.activeCalls, "a cache hit must not reach the inner store")
}

func TestCachedActiveSession_MissFallsThroughAndPopulates(t *testing.T) {
	inner := &spySessionStore{MemSessionStore: NewMemSessionStore()}
	cache := newFakeCache()
	cached := NewCachedSessionStore(inner, cache)
	ctx := context.Background()

	// The session exists only in the inner store.
	_, err := inner.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)

	session, err := cached.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 1, inner.activeCalls)
	assert.Equal(t, 1, cache.sets, "a miss should repopulate the cache")

	// Second read is served from the cache.
	_, err = cached.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.activeCalls)
}

func TestCachedEndSessions_Invalidates(t *testing.T) {
	inner := &spySessionStore{MemSessionStore: NewMemSessionStore()}
	cache := newFakeCache()
	cached := NewCachedSessionStore(inner, cache)
	ctx := context.Background()

	_, err := cached.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err)

	count, err := cached.EndSessions(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Contains(t, cache.dels, "active_session:u1")

	session, err := cached.ActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestCachedSessionStore_CacheFailureFallsThrough(t *testing.T) {
	inner := &spySessionStore{MemSessionStore: NewMemSessionStore()}
	cache := newFakeCache()
	cache.failing = true
	cached := NewCachedSessionStore(inner, cache)
	ctx := context.Background()

	_, err := cached.StartSession(ctx, "u1", "User One", "sess-a", baseTime)
	require.NoError(t, err, "a failing cache must not break session writes")

	session, err := cached.ActiveSession(ctx, "u1")
	require.NoError(t, err, "a failing cache must not break session reads")
	require.NotNil(t, session)
	assert.Equal(t, "sess-a", session.SessionID)
	assert.Equal(t, 1, inner.activeCalls)
}
