package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/kbguard/internal/cache"
	"github.com/charlesng35/kbguard/internal/database/testutil"
)

func TestDatabaseStoreRoundTripAndPatterns(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newFakeClock()
	store := cache.NewDatabaseStore(db).WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "permission:decision:u=u1:c=read", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "permission:decision:u=u1:c=write", []byte("b"), time.Hour))
	require.NoError(t, store.Set(ctx, "permission:decision:u=u10:c=read", []byte("c"), time.Hour))
	require.NoError(t, store.Set(ctx, "permission:decision:u=u1_x:c=read", []byte("d"), time.Hour))

	value, ok, err := store.Get(ctx, "permission:decision:u=u1:c=read")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(value))

	count, err := store.Count(ctx, "permission:decision:*")
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	removed, err := store.DeletePattern(ctx, "permission:decision:u=u1:*")
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	clock.Advance(2 * time.Hour)
	count, err = store.Count(ctx, "permission:decision:*")
	require.NoError(t, err)
	require.Zero(t, count)

	swept, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, swept)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newFakeClock()
	store := cache.NewDatabaseStore(db).WithClock(clock.Now)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "ratelimit:check", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	clock.Advance(10 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "ratelimit:check", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 50*time.Second, ttl)

	clock.Advance(time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "ratelimit:check", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.NoError(t, store.Ping(ctx))
}

func TestDatabaseStoreNeverExpiringEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newFakeClock()
	store := cache.NewDatabaseStore(db).WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "permission:role:r1", []byte("[]"), 0))
	clock.Advance(24 * time.Hour)

	swept, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, swept)

	_, ok, err := store.Get(ctx, "permission:role:r1")
	require.NoError(t, err)
	require.True(t, ok)
}
