package store

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss reports that a key is absent from the volatile tier.
var ErrCacheMiss = errors.New("cache miss")

// ErrCacheUnavailable reports that the volatile tier itself cannot be
// reached. Callers degrade to the durable tier instead of failing.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Cache is the volatile tier: opaque documents keyed by string, optional TTL.
// A zero ttl means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache key space shared by both tiers' consumers.
func WindowKey(conversationID string) string { return "window:" + conversationID }
func KeyPointsKey(scopeKey string) string    { return "keypoints:" + scopeKey }
func SessionKey(userID string) string        { return "session:" + userID }
