package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	doc := map[string]any{
		"x": float64(1),
		"data": map[string]any{
			"items": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}},
		},
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"x", float64(1), true},
		{"data.items.1.id", "b", true},
		{"data.items[0].id", "a", true},
		{"data.items.9.id", nil, false},
		{"data.missing", nil, false},
		{"x.y", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := Extract(doc, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	whole, ok := Extract(doc, "")
	assert.True(t, ok)
	assert.Equal(t, doc, whole)
}
