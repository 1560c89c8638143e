package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/pkg/adapters/redis"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/session"
)

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "room:!a:x", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:room:!a:x"), "Lock key should be set in Redis")
	assert.Equal(t, 5*time.Second, mr.TTL("test:lock:room:!a:x"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:room:!a:x"), "Lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	mr, client := newClient(t)
	locker1 := redis.NewLocker(client, "test:")
	locker2 := redis.NewLocker(client, "test:")
	ctx := context.Background()
	key := "room:!shared:x"

	unlock1, err := locker1.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = locker2.Lock(ctxTimeout, key, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.WithinDuration(t, start.Add(300*time.Millisecond), time.Now(), 150*time.Millisecond, "Should block until timeout")

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker2.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	defer unlock2(ctx)
	assert.True(t, mr.Exists("test:lock:room:!shared:x"))
}

func TestRedisLocker_StaleUnlockKeepsNewOwner(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "room:!a:x", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second) // lock expired

	unlock2, err := locker.Lock(ctx, "room:!a:x", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, unlock1(ctx))
	assert.True(t, mr.Exists("test:lock:room:!a:x"), "expired owner must not release the new lock")
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_WithSessionManager(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	mgr := session.NewManager(store, session.WithLocker(redis.NewLocker(client, redis.DefaultPrefix)))
	ctx := context.Background()
	key := domain.RoomKey("!a:x")

	err := mgr.WithLock(ctx, key, func(ctx context.Context) error {
		conv, created, err := mgr.LoadOrCreate(ctx, key)
		require.NoError(t, err)
		assert.True(t, created)
		conv.Variables["k"] = "v"
		return mgr.Save(ctx, conv)
	})
	require.NoError(t, err)

	conv, err := mgr.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v", conv.Variables["k"])
}
