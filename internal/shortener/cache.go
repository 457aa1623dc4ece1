package shortener

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	DefaultCacheTTL     = time.Hour
	DefaultCacheTimeout = 100 * time.Millisecond

	forwardPrefix = "url:"
	reversePrefix = "redirect:"

	keyspaceForward = "forward"
	keyspaceReverse = "reverse"
)

// CacheBackend is the subset of a key/value cache the link cache needs.
// internal/cache provides Redis and in-process implementations.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CacheStats observes cache lookups per keyspace.
type CacheStats interface {
	Hit(keyspace string)
	Miss(keyspace string)
}

type noopStats struct{}

func (noopStats) Hit(string)  {}
func (noopStats) Miss(string) {}

// reverseEntry is what the redirect keyspace stores. ExpiresAt travels with
// the URL so expiry is decided at read time, never frozen into the entry.
type reverseEntry struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (e reverseEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// linkCache layers the forward (original url -> mapping snapshot) and reverse
// (short code -> url) keyspaces over a backend. It is best effort: every
// backend failure or timeout is logged and reported as a miss, and a nil
// backend disables caching entirely.
//
// The cache may serve a mapping deactivated by another process for up to one
// reverse TTL. Deactivations through this service evict their keys.
type linkCache struct {
	backend    CacheBackend
	forwardTTL time.Duration
	reverseTTL time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	stats      CacheStats
}

func forwardKey(originalURL string) string { return forwardPrefix + originalURL }
func reverseKey(code string) string        { return reversePrefix + code }

// entryTTL caps ttl so an entry never outlives the mapping it describes.
// A result <= 0 means the entry must not be written.
func entryTTL(ttl time.Duration, m Mapping, now time.Time) time.Duration {
	if m.ExpiresAt == nil {
		return ttl
	}
	return min(ttl, m.ExpiresAt.Sub(now))
}

func (c *linkCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *linkCache) get(ctx context.Context, keyspace, key string) (string, bool) {
	if c.backend == nil {
		return "", false
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	val, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "cache get failed, treating as miss",
			"keyspace", keyspace,
			"key", key,
			"error", err.Error(),
		)
		ok = false
	}
	if ok {
		c.stats.Hit(keyspace)
	} else {
		c.stats.Miss(keyspace)
	}
	return val, ok
}

func (c *linkCache) set(ctx context.Context, keyspace, key string, v any, ttl time.Duration) {
	if c.backend == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.ErrorContext(ctx, "cache encode failed", "keyspace", keyspace, "error", err.Error())
		return
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.backend.Set(ctx, key, string(raw), ttl); err != nil {
		c.logger.WarnContext(ctx, "cache set failed",
			"keyspace", keyspace,
			"key", key,
			"error", err.Error(),
		)
	}
}

func (c *linkCache) del(ctx context.Context, keys ...string) {
	if c.backend == nil {
		return
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logger.WarnContext(ctx, "cache delete failed", "keys", keys, "error", err.Error())
	}
}

func (c *linkCache) getForward(ctx context.Context, originalURL string) (Mapping, bool) {
	raw, ok := c.get(ctx, keyspaceForward, forwardKey(originalURL))
	if !ok {
		return Mapping{}, false
	}
	var m Mapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		c.logger.WarnContext(ctx, "cache entry undecodable, dropping", "keyspace", keyspaceForward, "error", err.Error())
		c.del(ctx, forwardKey(originalURL))
		return Mapping{}, false
	}
	return m, true
}

func (c *linkCache) setForward(ctx context.Context, m Mapping, now time.Time) {
	c.set(ctx, keyspaceForward, forwardKey(m.OriginalURL), m, entryTTL(c.forwardTTL, m, now))
}

func (c *linkCache) getReverse(ctx context.Context, code string) (reverseEntry, bool) {
	raw, ok := c.get(ctx, keyspaceReverse, reverseKey(code))
	if !ok {
		return reverseEntry{}, false
	}
	var e reverseEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || e.URL == "" {
		c.logger.WarnContext(ctx, "cache entry undecodable, dropping", "keyspace", keyspaceReverse, "code", code)
		c.del(ctx, reverseKey(code))
		return reverseEntry{}, false
	}
	return e, true
}

func (c *linkCache) setReverse(ctx context.Context, m Mapping, now time.Time) {
	entry := reverseEntry{URL: m.OriginalURL, ExpiresAt: m.ExpiresAt}
	c.set(ctx, keyspaceReverse, reverseKey(m.ShortCode), entry, entryTTL(c.reverseTTL, m, now))
}

// evict drops both keys belonging to m.
func (c *linkCache) evict(ctx context.Context, m Mapping) {
	c.del(ctx, forwardKey(m.OriginalURL), reverseKey(m.ShortCode))
}
