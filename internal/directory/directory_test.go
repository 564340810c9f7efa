package directory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/armory/internal/apperr"
	"github.com/erazemk/armory/internal/db"
	"github.com/erazemk/armory/internal/model"
	"github.com/erazemk/armory/internal/store"
)

type countingDirectory struct {
	Directory
	lookups int
}

func (c *countingDirectory) Soldier(ctx context.Context, id string) (*model.Soldier, error) {
	c.lookups++
	return c.Directory.Soldier(ctx, id)
}

func seeded(t *testing.T) *StoreDirectory {
	t.Helper()
	s := store.New(db.NewTestDB(t))
	_, err := s.CreateSoldier(context.Background(), model.Soldier{ID: "S1", Name: "Novak", Division: "alpha"})
	require.NoError(t, err)
	_, err = s.CreateSoldier(context.Background(), model.Soldier{ID: "S2", Name: "Kranjc", Division: "bravo"})
	require.NoError(t, err)
	return FromStore(s)
}

func TestStoreDirectory(t *testing.T) {
	d := seeded(t)
	ctx := context.Background()

	s, err := d.Soldier(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", s.Division)

	_, err = d.Soldier(ctx, "S9")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "soldier", nf.Kind)

	bravo, err := d.Soldiers(ctx, "bravo")
	require.NoError(t, err)
	assert.Len(t, bravo, 1)

	assert.Equal(t, "Novak (S1)", DisplayName(ctx, d, "S1"))
	assert.Equal(t, "S9", DisplayName(ctx, d, "S9"))
	assert.Equal(t, "general pool", DisplayName(ctx, d, ""))
}

func TestCachedReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingDirectory{Directory: seeded(t)}
	c := NewCached(inner, client, WithTTL(time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := c.Soldier(ctx, "S1")
		require.NoError(t, err)
		assert.Equal(t, "Novak", s.Name)
	}
	assert.Equal(t, 1, inner.lookups)
	assert.True(t, mr.Exists(soldierKeyPrefix+"S1"))

	mr.FastForward(2 * time.Minute)
	_, err := c.Soldier(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.lookups)

	require.NoError(t, c.Invalidate(ctx, "S1"))
	assert.False(t, mr.Exists(soldierKeyPrefix+"S1"))
}

func TestCachedMissIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewCached(seeded(t), client)

	_, err := c.Soldier(context.Background(), "S9")
	assert.True(t, apperr.IsNotFound(err))
	assert.False(t, mr.Exists(soldierKeyPrefix+"S9"))
}

func TestCachedFallsThroughWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	inner := &countingDirectory{Directory: seeded(t)}
	c := NewCached(inner, client)

	s, err := c.Soldier(context.Background(), "S2")
	require.NoError(t, err)
	assert.Equal(t, "Kranjc", s.Name)
	assert.Equal(t, 1, inner.lookups)
}

func TestCorruptEntryIsReloaded(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, mr.Set(soldierKeyPrefix+"S1", "{not json"))

	inner := &countingDirectory{Directory: seeded(t)}
	s, err := NewCached(inner, client).Soldier(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "Novak", s.Name)
	assert.Equal(t, 1, inner.lookups)
}
