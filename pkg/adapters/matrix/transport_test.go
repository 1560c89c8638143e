package matrix_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/pkg/adapters/matrix"
	"github.com/aretw0/menuflow/pkg/adapters/memory"
	"github.com/aretw0/menuflow/pkg/domain"
)

type recorded struct {
	Method string
	Path   string
	Auth   string
	Type   string
	Body   []byte
}

func homeserver(t *testing.T, status int, reply string) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{r.Method, r.URL.EscapedPath(), r.Header.Get("Authorization"), r.Header.Get("Content-Type"), body})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func TestTransport_SendMessage_Room(t *testing.T) {
	srv, reqs := homeserver(t, http.StatusOK, `{"event_id":"$1"}`)
	tr := matrix.New(srv.URL, "default-token")

	err := tr.SendMessage(context.Background(), domain.RoomKey("!r1:x"), domain.Content{MsgType: domain.MsgText, Body: "hi"})
	require.NoError(t, err)

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].Method)
	assert.True(t, strings.HasPrefix(got[0].Path, "/_matrix/client/v3/rooms/"), got[0].Path)
	assert.Contains(t, got[0].Path, "r1:x/send/m.room.message/")
	assert.Equal(t, "Bearer default-token", got[0].Auth)

	var content domain.Content
	require.NoError(t, json.Unmarshal(got[0].Body, &content))
	assert.Equal(t, "hi", content.Body)
}

func TestTransport_SendMessage_UniqueTransactions(t *testing.T) {
	srv, reqs := homeserver(t, http.StatusOK, `{}`)
	tr := matrix.New(srv.URL, "tok")
	ctx := context.Background()

	require.NoError(t, tr.SendMessage(ctx, domain.RoomKey("!r1:x"), domain.Content{Body: "a"}))
	require.NoError(t, tr.SendMessage(ctx, domain.RoomKey("!r1:x"), domain.Content{Body: "a"}))

	got := reqs()
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].Path, got[1].Path)
}

func TestTransport_SendMessage_RouteUsesClientCredentials(t *testing.T) {
	clientSrv, clientReqs := homeserver(t, http.StatusOK, `{}`)
	defaultSrv, defaultReqs := homeserver(t, http.StatusOK, `{}`)

	dir := memory.NewDirectory()
	dir.PutClient(domain.Client{ID: "@bot:x", Homeserver: clientSrv.URL, AccessToken: "client-token"})
	tr := matrix.New(defaultSrv.URL, "default-token", matrix.WithClientStore(dir))
	ctx := context.Background()

	require.NoError(t, tr.SendMessage(ctx, domain.RouteKey("@bot:x", "!r1:x"), domain.Content{Body: "hi"}))
	require.Len(t, clientReqs(), 1)
	assert.Equal(t, "Bearer client-token", clientReqs()[0].Auth)
	assert.Empty(t, defaultReqs())

	err := tr.SendMessage(ctx, domain.RouteKey("@ghost:x", "!r1:x"), domain.Content{Body: "hi"})
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
}

func TestTransport_APIError(t *testing.T) {
	srv, _ := homeserver(t, http.StatusForbidden, `{"errcode":"M_FORBIDDEN","error":"not in room"}`)
	tr := matrix.New(srv.URL, "tok")

	err := tr.SendMessage(context.Background(), domain.RoomKey("!r1:x"), domain.Content{Body: "hi"})
	var apiErr *matrix.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "M_FORBIDDEN", apiErr.ErrCode)
}

func TestTransport_UploadMedia(t *testing.T) {
	srv, reqs := homeserver(t, http.StatusOK, `{"content_uri":"mxc://x/abc"}`)
	tr := matrix.New(srv.URL, "tok")

	uri, err := tr.UploadMedia(context.Background(), []byte("png-bytes"), "image/png", "image.png")
	require.NoError(t, err)
	assert.Equal(t, "mxc://x/abc", uri)

	got := reqs()
	require.Len(t, got, 1)
	assert.Equal(t, "/_matrix/media/v3/upload", got[0].Path)
	assert.Equal(t, "image/png", got[0].Type)
	assert.Equal(t, []byte("png-bytes"), got[0].Body)
}

func TestTransport_UnreachableHomeserver(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	tr := matrix.New(url, "tok")

	err := tr.SendMessage(context.Background(), domain.RoomKey("!r1:x"), domain.Content{Body: "hi"})
	require.Error(t, err)
	var apiErr *matrix.APIError
	assert.False(t, errors.As(err, &apiErr))
}
