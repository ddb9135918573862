package store

import (
	"context"
	"strings"
)

// NewCache creates a redis-backed cache when configured, otherwise in-process.
func NewCache(ctx context.Context, redisURL string) (Cache, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewMemoryCache(), nil
	}
	return NewRedisCache(ctx, redisURL)
}

// NewDurable creates a postgres-backed store when configured, otherwise in-process.
func NewDurable(ctx context.Context, databaseURL string) (Durable, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryDurable(), nil
	}
	return NewPostgresDurable(ctx, databaseURL)
}
