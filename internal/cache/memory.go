package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local Store, used when no Redis is configured and in tests.
type Memory struct {
	c *gocache.Cache
}

// NewMemory returns a Memory store that sweeps expired keys every cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Set stores value for ttl. A non-positive ttl drops any existing entry
// instead of storing one that never expires.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		m.c.Delete(key)
		return nil
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
