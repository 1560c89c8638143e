package template

import (
	"strconv"
	"strings"
)

// Extract resolves a dotted path ("data.items.0.id" or "data.items[0].id") inside decoded JSON.
// An empty path returns the value itself.
func Extract(value any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return value, true
	}
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)

	current := value
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}
