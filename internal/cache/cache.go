// Package cache provides the key/value backends for the link cache.
//
// Backends store opaque strings under a TTL. A miss is reported as
// ok == false with a nil error; errors are reserved for backend failures.
package cache

import (
	"context"
	"time"
)

// Store is the contract shared by every backend.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
