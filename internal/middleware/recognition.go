package middleware

import (
	"context"
	"maps"

	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

// Recognition covers the irm (image recognition) and asr (speech recognition)
// middlewares. They forward the media to an external recognizer, so the node
// only needs the service settings exposed as transient variables.
type Recognition struct {
	base
	vars map[string]string
}

// NewRecognition creates an irm/asr middleware.
func NewRecognition(cfg Config) *Recognition {
	vars := map[string]string{
		"middleware_id":  cfg.ID,
		"middleware_url": cfg.URL,
	}
	if cfg.Method != "" {
		vars["middleware_method"] = cfg.Method
	}
	for k, v := range cfg.Context {
		vars[k] = template.Stringify(v)
	}
	return &Recognition{base: base{cfg: cfg}, vars: vars}
}

func (r *Recognition) Context(key domain.ConversationKey) map[string]string {
	return maps.Clone(r.vars)
}

func (r *Recognition) Prepare(ctx context.Context, call *Call) error {
	if err := r.base.Prepare(ctx, call); err != nil {
		return err
	}
	return applyHeaders(call, "auth.headers", r.cfg.Auth.Headers)
}
