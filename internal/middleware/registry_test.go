package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

func TestBuild(t *testing.T) {
	raws := []map[string]any{
		{
			"id": "api", "type": "jwt", "url": "http://auth.test",
			"auth": map[string]any{"variables": map[string]any{"token": "token"}},
		},
		{"id": "basic", "type": "basic", "attempts": "5", "auth": map[string]any{
			"basic_auth": map[string]any{"login": "{{ .user }}", "password": "pw"},
		}},
		{"id": "plain", "type": "base", "general": map[string]any{"headers": map[string]any{"X-Key": "k"}}},
		{"id": "vision", "type": "irm", "url": "http://irm.test", "context": map[string]any{"prompt": "describe"}},
		{"id": "mystery", "type": "llm"},
	}

	reg, err := Build(raws, http.DefaultClient, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "basic", "plain", "vision"}, reg.IDs())

	api, ok := reg.Get("api")
	require.True(t, ok)
	assert.Equal(t, TypeJWT, api.Type())
	assert.Equal(t, 3, api.Attempts(), "default attempts applied")

	basic, _ := reg.Get("basic")
	assert.Equal(t, 5, basic.Attempts())

	vision, _ := reg.Get("vision")
	ctx := vision.Context(domain.RoomKey("!r"))
	assert.Equal(t, "describe", ctx["prompt"])
	assert.Equal(t, "http://irm.test", ctx["middleware_url"])

	_, ok = reg.Get("mystery")
	assert.False(t, ok)
}

func TestBuild_Rejects(t *testing.T) {
	_, err := Build([]map[string]any{{"type": "base"}}, nil, 3, nil)
	assert.ErrorContains(t, err, "missing id")

	reg, err := Build([]map[string]any{{"id": "x", "type": "jwt"}}, nil, 3, nil)
	require.NoError(t, err)
	_, ok := reg.Get("x")
	assert.False(t, ok, "jwt without token variable is skipped")
}

func TestBasic_Prepare(t *testing.T) {
	m := NewBasic(Config{
		ID: "basic", Type: TypeBasic,
		Auth:    AuthConfig{BasicAuth: BasicAuth{Login: "{{ .user }}", Password: "pw"}},
		General: GeneralConfig{Headers: map[string]string{"X-Tenant": "{{ .tenant }}"}},
	})
	req, _ := http.NewRequest(http.MethodGet, "http://x.test", nil)
	call := &Call{
		Key:     domain.RoomKey("!r"),
		Vars:    template.New(nil, map[string]string{"user": "ana"}),
		Request: req,
	}

	require.NoError(t, m.Prepare(context.Background(), call))
	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "ana", user)
	assert.Equal(t, "pw", pass)
	assert.Empty(t, req.Header.Get("X-Tenant"), "unrenderable header is skipped")
}
