// Package template implements the variable context and the rendering boundary used by every node.
package template

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/aretw0/menuflow/pkg/domain"
)

// funcs is the function map available to flow templates.
// Environment access is removed: flows are operator-authored but must not read process secrets.
var funcs = func() template.FuncMap {
	fm := sprig.TxtFuncMap()
	delete(fm, "env")
	delete(fm, "expandenv")
	return fm
}()

// Context merges default, persisted and transient variables.
// Lookup resolves the most specific layer first: transient, persisted, default.
type Context struct {
	defaults  map[string]string
	persisted map[string]string
	transient map[string]string
}

// New creates a context over the flow defaults and the conversation's persisted variables.
// Both maps are copied; the context never mutates its inputs.
func New(defaults, persisted map[string]string) *Context {
	return &Context{
		defaults:  copyMap(defaults),
		persisted: copyMap(persisted),
		transient: map[string]string{},
	}
}

// Merge installs persisted entries. Later merges shadow earlier ones, last write wins.
func (c *Context) Merge(vars map[string]string) {
	for k, v := range vars {
		c.persisted[k] = v
	}
}

// MergeTransient installs per-step entries that are never persisted.
func (c *Context) MergeTransient(vars map[string]string) {
	for k, v := range vars {
		c.transient[k] = v
	}
}

// With returns a copy of the context with extra transient entries.
func (c *Context) With(transient map[string]string) *Context {
	next := &Context{
		defaults:  c.defaults,
		persisted: copyMap(c.persisted),
		transient: copyMap(c.transient),
	}
	next.MergeTransient(transient)
	return next
}

// Lookup resolves a variable through the layers.
func (c *Context) Lookup(key string) (string, bool) {
	if v, ok := c.transient[key]; ok {
		return v, true
	}
	if v, ok := c.persisted[key]; ok {
		return v, true
	}
	v, ok := c.defaults[key]
	return v, ok
}

// Snapshot returns the merged view of defaults and persisted variables, as reported to sinks.
func (c *Context) Snapshot() map[string]string {
	out := make(map[string]string, len(c.defaults)+len(c.persisted))
	for k, v := range c.defaults {
		out[k] = v
	}
	for k, v := range c.persisted {
		out[k] = v
	}
	return out
}

func (c *Context) data() map[string]any {
	out := make(map[string]any, len(c.defaults)+len(c.persisted)+len(c.transient))
	for k, v := range c.defaults {
		out[k] = v
	}
	for k, v := range c.persisted {
		out[k] = v
	}
	for k, v := range c.transient {
		out[k] = v
	}
	return out
}

// RenderString substitutes every template expression in s.
// Unresolved references fail with a *domain.RenderError.
func (c *Context) RenderString(field, s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New(field).Option("missingkey=error").Funcs(funcs).Parse(s)
	if err != nil {
		return "", &domain.RenderError{Field: field, Err: err}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, c.data()); err != nil {
		return "", &domain.RenderError{Field: field, Err: err}
	}
	return buf.String(), nil
}

// Render returns value with the same shape and every string rendered.
// It walks maps and slices; other scalars are returned untouched.
func (c *Context) Render(field string, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return c.RenderString(field, v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := c.Render(field+"."+k, item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			r, err := c.RenderString(field+"."+k, item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := c.Render(fmt.Sprintf("%s[%d]", field, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderFields renders each entry of a flat mapping independently.
// Entries that fail to render are skipped and reported, the rest are kept.
func (c *Context) RenderFields(field string, m map[string]any) (map[string]string, []error) {
	out := make(map[string]string, len(m))
	var errs []error
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r, err := c.Render(field+"."+k, m[k])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[k] = Stringify(r)
	}
	return out, errs
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
