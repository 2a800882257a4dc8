package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/identity-backend/internal/logging"
	"github.com/AnshRaj112/identity-backend/internal/models"
)

const (
	// CacheKeyPrefix is the Redis key prefix for cached data
	CacheKeyPrefix = "cache:"
	// DefaultCacheTTL applies when NewRoleCache gets a ttl <= 0
	DefaultCacheTTL = 8 * time.Hour
)

// CacheKey generates a cache key for a specific resource
func CacheKey(resource string, identifier string) string {
	return fmt.Sprintf("%s%s:%s", CacheKeyPrefix, resource, identifier)
}

// RoleCache serves role lookups from Redis, falling back to the wrapped store.
// Roles are resolved on every authenticated request and almost never change.
// Redis errors are logged and treated as misses.
type RoleCache struct {
	next  RoleStore
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewRoleCache(next RoleStore, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RoleCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RoleCache{next: next, redis: rdb, ttl: ttl, log: logger}
}

// EnsureDefaults seeds the wrapped store and drops cached entries, since
// seeding may have created roles with new ids.
func (c *RoleCache) EnsureDefaults(ctx context.Context) error {
	if err := c.next.EnsureDefaults(ctx); err != nil {
		return err
	}
	for _, role := range models.DefaultRoles {
		c.del(ctx, CacheKey("role:name", string(role.Name)))
	}
	return nil
}

func (c *RoleCache) FindByName(ctx context.Context, name models.RoleName) (*models.Role, error) {
	return c.lookup(ctx, CacheKey("role:name", string(name)), func() (*models.Role, error) {
		return c.next.FindByName(ctx, name)
	})
}

func (c *RoleCache) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Role, error) {
	return c.lookup(ctx, CacheKey("role:id", id.Hex()), func() (*models.Role, error) {
		return c.next.FindByID(ctx, id)
	})
}

// lookup only caches hits. A missing role is looked up again next time.
func (c *RoleCache) lookup(ctx context.Context, key string, load func() (*models.Role, error)) (*models.Role, error) {
	if role, ok := c.get(ctx, key); ok {
		return role, nil
	}
	role, err := load()
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, role)
	return role, nil
}

func (c *RoleCache) get(ctx context.Context, key string) (*models.Role, bool) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WarnContext(ctx, "role cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var role models.Role
	if err := json.Unmarshal(val, &role); err != nil {
		c.log.WarnContext(ctx, "role cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		c.del(ctx, key)
		return nil, false
	}
	return &role, true
}

func (c *RoleCache) set(ctx context.Context, key string, role *models.Role) {
	data, err := json.Marshal(role)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "role cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *RoleCache) del(ctx context.Context, key string) {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.log.WarnContext(ctx, "role cache delete failed", slog.String("key", key), slog.Any("error", err))
	}
}

var _ RoleStore = (*RoleCache)(nil)
