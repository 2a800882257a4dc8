package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/identity-backend/internal/models"
	"github.com/AnshRaj112/identity-backend/internal/repository"
)

// countingRoles counts lookups that reach the backing store.
type countingRoles struct {
	*repository.MemoryRoles
	byName, byID atomic.Int32
}

func (c *countingRoles) FindByName(ctx context.Context, name models.RoleName) (*models.Role, error) {
	c.byName.Add(1)
	return c.MemoryRoles.FindByName(ctx, name)
}

func (c *countingRoles) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Role, error) {
	c.byID.Add(1)
	return c.MemoryRoles.FindByID(ctx, id)
}

func newRoleCacheForTest(t *testing.T) (*miniredis.Miniredis, *countingRoles, *RoleCache) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backing := &countingRoles{MemoryRoles: repository.NewMemoryRoles()}
	cache := NewRoleCache(backing, client, time.Hour, nil)
	require.NoError(t, cache.EnsureDefaults(context.Background()))
	return m, backing, cache
}

func TestRoleCacheServesRepeatLookups(t *testing.T) {
	m, backing, cache := newRoleCacheForTest(t)
	ctx := context.Background()

	first, err := cache.FindByName(ctx, models.RoleAdmin)
	require.NoError(t, err)
	second, err := cache.FindByName(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.RoleAdmin, second.Name)
	assert.Equal(t, int32(1), backing.byName.Load())

	_, err = cache.FindByID(ctx, first.ID)
	require.NoError(t, err)
	_, err = cache.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), backing.byID.Load())

	assert.True(t, m.Exists(CacheKey("role:id", first.ID.Hex())))
	assert.Equal(t, time.Hour, m.TTL(CacheKey("role:name", "admin")))
}

func TestRoleCacheDoesNotCacheMisses(t *testing.T) {
	_, backing, cache := newRoleCacheForTest(t)
	id := primitive.NewObjectID()

	for i := 0; i < 2; i++ {
		_, err := cache.FindByID(context.Background(), id)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}
	assert.Equal(t, int32(2), backing.byID.Load())
}

func TestRoleCacheFallsBackWhenRedisIsDown(t *testing.T) {
	m, backing, cache := newRoleCacheForTest(t)
	m.Close()

	role, err := cache.FindByName(context.Background(), models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, role.Name)
	assert.Equal(t, int32(1), backing.byName.Load())
}

func TestRoleCacheDropsCorruptEntries(t *testing.T) {
	m, backing, cache := newRoleCacheForTest(t)
	require.NoError(t, m.Set(CacheKey("role:name", "user"), "{not json"))

	role, err := cache.FindByName(context.Background(), models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, role.Name)
	assert.Equal(t, int32(1), backing.byName.Load())
}
