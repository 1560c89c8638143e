package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow"
	"github.com/aretw0/menuflow/internal/config"
	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/pkg/domain"
)

func homeserver(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/send/m.room.message/") {
			sent.Add(1)
			_, _ = io.WriteString(w, `{"event_id":"$evt"}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &sent
}

func writeConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "menuflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuildApp_SQLiteEncrypted(t *testing.T) {
	hs, sent := homeserver(t)
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	cfg := writeConfig(t, fmt.Sprintf(`
flow:
  path: ../../testdata/flow.yaml
  utils_path: ../../testdata/flow_utils.yaml
store:
  driver: sqlite
  dsn: %s
  encryption_key: %s
transport:
  base_url: %s
  token: secret
events:
  mask_patterns: ["^name$"]
`, filepath.Join(t.TempDir(), "db", "menuflow.db"), key, hs.URL))

	a, err := buildApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/rooms/!r:x/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/rooms/!r:x/messages", "application/json",
		strings.NewReader(`{"sender":"@ana:x","body":"Ana"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), sent.Load())

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "menuflow_node_executions_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestBuildApp_RedisWithLock(t *testing.T) {
	mr := miniredis.RunT(t)
	hs, _ := homeserver(t)
	cfg := writeConfig(t, fmt.Sprintf(`
flow:
  path: ../../testdata/flow.yaml
store:
  driver: redis
redis:
  addr: %s
  lock: true
transport:
  base_url: %s
`, mr.Addr(), hs.URL))

	a, err := buildApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/clients/bot/rooms/!r:x/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	keys := mr.Keys()
	assert.Contains(t, keys, "menuflow:conversation:route:bot:!r:x")
}

func TestBuildApp_FileStoreSurvivesRestart(t *testing.T) {
	hs, _ := homeserver(t)
	cfg := writeConfig(t, fmt.Sprintf(`
flow:
  path: ../../testdata/flow.yaml
store:
  driver: file
  dsn: %s
transport:
  base_url: %s
`, t.TempDir(), hs.URL))

	a, err := buildApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(a.handler)
	resp, err := http.Post(srv.URL+"/v1/rooms/!r:x/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	srv.Close()
	require.NoError(t, a.Close())

	st, err := openStorage(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	opts, err := storeOptions(cfg, st)
	require.NoError(t, err)
	eng, err := menuflow.Load(cfg.Flow.Path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	key := domain.RoomKey("!r:x")
	out, err := eng.Mermaid(context.Background(), &key)
	require.NoError(t, err)
	assert.Contains(t, out, "class ask_name current;")
}

func TestBuildApp_RejectsBadEncryptionKey(t *testing.T) {
	cfg := writeConfig(t, `
flow:
  path: ../../testdata/flow.yaml
store:
  encryption_key: not-base64!
`)
	_, err := buildApp(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "store.encryption_key")
}

func TestBuildApp_UnreachableRedis(t *testing.T) {
	cfg := writeConfig(t, `
flow:
  path: ../../testdata/flow.yaml
store:
  driver: redis
redis:
  addr: 127.0.0.1:1
`)
	_, err := buildApp(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "failed to reach redis")
}

func TestRunValidate(t *testing.T) {
	require.NoError(t, runValidate([]string{"../../testdata/flow.yaml"}, "../../testdata/flow_utils.yaml"))

	bad := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
menu:
  nodes:
    - id: start
      type: message
      o_connection: ghost
`), 0o644))
	assert.ErrorContains(t, runValidate([]string{bad}, ""), "ghost")
	assert.ErrorContains(t, runValidate([]string{"../../testdata/flow.yaml"}, "missing.yaml"), "not found")
}
