package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/pkg/adapters/sqlstore"
	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, openSQLite(t))
}

func TestSQLiteStore_Migrations(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "data", "menuflow.db")

	store, err := sqlstore.Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, sqlstore.LatestVersion(), v)

	conv := domain.NewConversation(domain.RoomKey("!a:x"))
	conv.NodeID = "ask"
	conv.State = domain.StateInput
	require.NoError(t, store.Save(ctx, conv))
	require.NoError(t, store.Close())

	// Reopening must not re-apply migrations.
	store, err = sqlstore.Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	defer store.Close()
	loaded, err := store.Load(ctx, conv.Key)
	require.NoError(t, err)
	assert.Equal(t, "ask", loaded.NodeID)
}

func TestSQLiteStore_RouteDoesNotCreateRoomConversation(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	route := domain.NewConversation(domain.RouteKey("@bot:x", "!only-route:x"))
	route.NodeID = "n1"
	require.NoError(t, store.Save(ctx, route))

	_, err := store.Load(ctx, domain.RoomKey("!only-route:x"))
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	rooms, err := store.List(ctx, domain.KindRoom)
	require.NoError(t, err)
	assert.Empty(t, rooms)

	// Saving the same route again updates the row in place.
	route.Variables["x"] = "1"
	require.NoError(t, store.Save(ctx, route))
	routes, err := store.List(ctx, domain.KindRoute)
	require.NoError(t, err)
	assert.Equal(t, []domain.ConversationKey{route.Key}, routes)

	require.NoError(t, store.Delete(ctx, route.Key))
	_, err = store.Load(ctx, route.Key)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestSQLiteStore_ClientsAndUsers(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	_, err := store.GetClient(ctx, "@bot:x")
	assert.ErrorIs(t, err, domain.ErrClientNotFound)

	client := domain.Client{ID: "@bot:x", Homeserver: "https://hs", AccessToken: "t", DeviceID: "D", Autojoin: true}
	require.NoError(t, store.PutClient(ctx, client))
	client.AccessToken = "t2"
	require.NoError(t, store.PutClient(ctx, client))

	got, err := store.GetClient(ctx, "@bot:x")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.AccessToken)
	assert.True(t, got.Autojoin)

	_, err = store.GetUser(ctx, "@agent:x")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	u1, err := store.PutUser(ctx, "@agent:x")
	require.NoError(t, err)
	u2, err := store.PutUser(ctx, "@agent:x")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
}

func TestDialect_Rebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", sqlstore.Postgres.Rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ?", sqlstore.SQLite.Rebind("a = ?"))
}
