// Package cache provides the expiring key/value store shared by the rate
// limiter and the token manager.
package cache

import (
	"context"
	"time"
)

// Cache is a string key/value store where every entry carries its own TTL.
//
// A missing or expired key is never an error: Get reports ok=false. Errors
// are reserved for backend failures such as an unreachable server.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores value until now+ttl. A non-positive ttl removes the key.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Increment atomically adds one to the integer stored at key, creating
	// it at 1, and resets the key's TTL to ttl.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Take atomically returns and removes the value stored at key.
	Take(ctx context.Context, key string) (string, bool, error)
	Ping(ctx context.Context) error
}

// GetOr returns the value at key or def when the key is absent.
func GetOr(ctx context.Context, c Cache, key, def string) (string, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}
