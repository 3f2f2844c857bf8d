package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-study/internal/platform/cache"
)

const latestKeyPrefix = "progress:latest:"

type cachedLatest struct {
	Found   bool    `json:"found"`
	Attempt Attempt `json:"attempt"`
}

// CachedStore is a read-through Redis cache of each user's latest attempt
// per lesson in front of another Store. Appends write through and refresh
// the cached entry unless it already holds a newer attempt. Cache failures
// are logged and bypassed.
type CachedStore struct {
	next   Store
	client redis.Cmdable
	ttl    time.Duration
}

// NewCachedStore wraps next with a Redis cache.
func NewCachedStore(next Store, client redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, client: client, ttl: ttl}
}

// LatestKey returns the cache key for a user's latest attempt on a lesson.
func LatestKey(userID, lessonID string) string {
	return latestKeyPrefix + userID + ":" + lessonID
}

func (c *CachedStore) Latest(ctx context.Context, userID, lessonID string) (Attempt, bool, error) {
	key := LatestKey(userID, lessonID)

	var hit cachedLatest
	err := cache.GetJSON(ctx, c.client, key, &hit)
	switch {
	case err == nil:
		return hit.Attempt, hit.Found, nil
	case !errors.Is(err, cache.ErrMiss):
		slog.Warn("progress cache read failed", "key", key, "error", err)
	}

	a, found, err := c.next.Latest(ctx, userID, lessonID)
	if err != nil {
		return Attempt{}, false, err
	}

	if err := cache.SetJSON(ctx, c.client, key, cachedLatest{Found: found, Attempt: a}, c.ttl); err != nil {
		slog.Warn("progress cache write failed", "key", key, "error", err)
	}
	return a, found, nil
}

func (c *CachedStore) Append(ctx context.Context, a Attempt) (Attempt, error) {
	stored, err := c.next.Append(ctx, a)
	if err != nil {
		return Attempt{}, err
	}

	key := LatestKey(stored.UserID, stored.LessonID)

	// An attempt older than the cached one must not replace it. Evict and
	// let the next read go to the store.
	var hit cachedLatest
	if err := cache.GetJSON(ctx, c.client, key, &hit); err == nil && hit.Found && stored.Timestamp.Before(hit.Attempt.Timestamp) {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			slog.Warn("progress cache eviction failed", "key", key, "error", err)
		}
		return stored, nil
	}

	if err := cache.SetJSON(ctx, c.client, key, cachedLatest{Found: true, Attempt: stored}, c.ttl); err != nil {
		slog.Warn("progress cache refresh failed, evicting", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
	}
	return stored, nil
}

func (c *CachedStore) History(ctx context.Context, userID, lessonID string, limit int) ([]Attempt, error) {
	return c.next.History(ctx, userID, lessonID, limit)
}
