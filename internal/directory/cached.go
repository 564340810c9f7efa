package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erazemk/armory/internal/model"
)

const soldierKeyPrefix = "armory:soldier:"

// DefaultTTL is how long a cached profile is trusted.
const DefaultTTL = 10 * time.Minute

// Cached puts a Redis read-through cache in front of another Directory.
// Cache failures are logged and fall through to the wrapped directory.
type Cached struct {
	next   Directory
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// CachedOption configures a Cached directory.
type CachedOption func(*Cached)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) CachedOption {
	return func(c *Cached) { c.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CachedOption {
	return func(c *Cached) { c.logger = logger }
}

// NewCached wraps next with a cache on client.
func NewCached(next Directory, client *redis.Client, opts ...CachedOption) *Cached {
	c := &Cached{next: next, client: client, ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Soldier returns a cached profile, loading it on a miss.
func (c *Cached) Soldier(ctx context.Context, id string) (*model.Soldier, error) {
	key := soldierKeyPrefix + id

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s model.Soldier
		if err := json.Unmarshal(data, &s); err == nil {
			return &s, nil
		}
		c.logger.WarnContext(ctx, "dropping corrupt directory entry", "soldier", id)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "directory cache unavailable", "error", err)
	}

	s, err := c.next.Soldier(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(s); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "caching soldier failed", "soldier", id, "error", err)
		}
	}
	return s, nil
}

// Soldiers is not cached.
func (c *Cached) Soldiers(ctx context.Context, division string) ([]model.Soldier, error) {
	return c.next.Soldiers(ctx, division)
}

// Invalidate drops the cached profile of id.
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, soldierKeyPrefix+id).Err()
}
