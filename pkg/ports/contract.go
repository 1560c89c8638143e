package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405")
	roomKey := domain.RoomKey("!contract-" + suffix + ":example.org")
	routeKey := domain.RouteKey("@bot-"+suffix+":example.org", roomKey.RoomID)

	t.Run("Save and Load", func(t *testing.T) {
		conv := domain.NewConversation(roomKey)
		conv.NodeID = "start"
		conv.State = domain.StateInput
		conv.Variables["foo"] = "bar"

		require.NoError(t, store.Save(ctx, conv), "Save should not return error")

		loaded, err := store.Load(ctx, roomKey)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, roomKey, loaded.Key)
		assert.Equal(t, "start", loaded.NodeID)
		assert.Equal(t, domain.StateInput, loaded.State)
		assert.Equal(t, "bar", loaded.Variables["foo"])
	})

	t.Run("Overwrite", func(t *testing.T) {
		conv := domain.NewConversation(roomKey)
		conv.NodeID = "next"
		conv.Variables["foo"] = "baz"
		require.NoError(t, store.Save(ctx, conv))

		loaded, err := store.Load(ctx, roomKey)
		require.NoError(t, err)
		assert.Equal(t, "next", loaded.NodeID)
		assert.Equal(t, "baz", loaded.Variables["foo"])
	})

	t.Run("Room and Route are independent", func(t *testing.T) {
		route := domain.NewConversation(routeKey)
		route.NodeID = "route-node"
		route.Variables["scope"] = "route"
		require.NoError(t, store.Save(ctx, route))

		loadedRoute, err := store.Load(ctx, routeKey)
		require.NoError(t, err)
		assert.Equal(t, "route-node", loadedRoute.NodeID)
		assert.Equal(t, "route", loadedRoute.Variables["scope"])

		loadedRoom, err := store.Load(ctx, roomKey)
		require.NoError(t, err)
		assert.Equal(t, "next", loadedRoom.NodeID)
		assert.NotContains(t, loadedRoom.Variables, "scope")
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, domain.RoomKey("!missing-"+suffix+":example.org"))
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("List", func(t *testing.T) {
		rooms, err := store.List(ctx, domain.KindRoom)
		require.NoError(t, err)
		assert.Contains(t, rooms, roomKey)

		routes, err := store.List(ctx, domain.KindRoute)
		require.NoError(t, err)
		assert.Contains(t, routes, routeKey)
		assert.NotContains(t, routes, roomKey)
	})
}
