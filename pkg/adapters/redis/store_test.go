package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/pkg/adapters/redis"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ports.RunStateStoreContract(t, store)
}

func TestRedisStore_Layout(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("test:"))
	ctx := context.Background()

	conv := domain.NewConversation(domain.RouteKey("@bot:x", "!r:x"))
	conv.NodeID = "ask"
	conv.State = domain.StateInput
	require.NoError(t, store.Save(ctx, conv))

	assert.True(t, mr.Exists("test:conversation:route:%40bot%3Ax:!r:x"))
	members, err := mr.ZMembers("test:index:route")
	require.NoError(t, err)
	assert.Equal(t, []string{"route:%40bot%3Ax:!r:x"}, members)

	require.NoError(t, store.Delete(ctx, conv.Key))
	_, err = store.Load(ctx, conv.Key)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	keys, err := store.List(ctx, domain.KindRoute)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)

	// Create store with 1s TTL
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	conv := domain.NewConversation(domain.RoomKey("!ttl:x"))
	conv.Variables["foo"] = "bar"

	require.NoError(t, store.Save(ctx, conv))

	keys, err := store.List(ctx, domain.KindRoom)
	require.NoError(t, err)
	assert.Contains(t, keys, conv.Key)

	// Key expiration follows miniredis' clock.
	mr.FastForward(2 * time.Second)
	_, err = store.Load(ctx, conv.Key)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	// Index pruning follows the wall clock.
	time.Sleep(1200 * time.Millisecond)
	keys, err = store.List(ctx, domain.KindRoom)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
