package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"pricely/telemetry/models"
)

const (
	activeSessionPrefix = "active_session:"
	activeSessionTTL    = 30 * time.Minute
)

// SessionCache is the slice of the redis command surface the decorator uses.
// *redis.Client satisfies it.
type SessionCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedSessionStore decorates a SessionStore with a Redis read-through cache
// for the active-session lookup. Cache failures are logged and never surface:
// the underlying store stays authoritative.
type CachedSessionStore struct {
	inner SessionStore
	cache SessionCache
}

func NewCachedSessionStore(inner SessionStore, cache SessionCache) *CachedSessionStore {
	return &CachedSessionStore{inner: inner, cache: cache}
}

func (c *CachedSessionStore) StartSession(ctx context.Context, userID, username, sessionID string, startedAt time.Time) (*models.Session, error) {
	session, err := c.inner.StartSession(ctx, userID, username, sessionID, startedAt)
	if err != nil {
		return nil, err
	}
	c.cacheSession(ctx, session)
	return session, nil
}

func (c *CachedSessionStore) EnsureActive(ctx context.Context, userID, username, sessionID string, seenAt time.Time) error {
	if err := c.inner.EnsureActive(ctx, userID, username, sessionID, seenAt); err != nil {
		return err
	}
	// The sighting may have superseded a cached session; drop the entry and
	// let the next read repopulate it.
	c.invalidate(ctx, userID)
	return nil
}

func (c *CachedSessionStore) EndSessions(ctx context.Context, userID, sessionID string) (int64, error) {
	count, err := c.inner.EndSessions(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		c.invalidate(ctx, userID)
	}
	return count, nil
}

func (c *CachedSessionStore) ActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	key := activeSessionPrefix + userID

	cached, err := c.cache.Get(ctx, key).Result()
	if err == nil {
		session := &models.Session{}
		if err := json.Unmarshal([]byte(cached), session); err == nil {
			return session, nil
		}
		log.Printf("Corrupt cached session for user %s, falling back to store", userID)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("Redis get failed for user %s: %v", userID, err)
	}

	session, err := c.inner.ActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		c.cacheSession(ctx, session)
	}
	return session, nil
}

func (c *CachedSessionStore) cacheSession(ctx context.Context, session *models.Session) {
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	key := activeSessionPrefix + session.UserID
	if err := c.cache.Set(ctx, key, data, activeSessionTTL).Err(); err != nil {
		log.Printf("Redis set failed for user %s: %v", session.UserID, err)
	}
}

func (c *CachedSessionStore) invalidate(ctx context.Context, userID string) {
	if err := c.cache.Del(ctx, activeSessionPrefix+userID).Err(); err != nil {
		log.Printf("Redis del failed for user %s: %v", userID, err)
	}
}
