package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/menuflow/internal/logging"
)

// Registry manages the middlewares declared in the flow-utils document.
type Registry struct {
	mu          sync.RWMutex
	middlewares map[string]Middleware
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		middlewares: make(map[string]Middleware),
	}
}

// Register adds a middleware to the registry.
// If a middleware with the same id exists, it is overwritten.
func (r *Registry) Register(m Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares[m.ID()] = m
}

// Get looks up a middleware by id.
func (r *Registry) Get(id string) (Middleware, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.middlewares[id]
	return m, ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.middlewares))
	for id := range r.middlewares {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build decodes raw flow-utils declarations into a registry. Declarations with an
// unknown type are logged and skipped; malformed ones are an error.
// defaultAttempts applies to middlewares that do not set attempts.
func Build(raws []map[string]any, client *http.Client, defaultAttempts int, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	reg := NewRegistry()
	for i, raw := range raws {
		var cfg Config
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, fmt.Errorf("middleware #%d: %w", i, err)
		}
		if cfg.ID == "" {
			return nil, fmt.Errorf("middleware #%d: missing id", i)
		}
		if cfg.Attempts <= 0 {
			cfg.Attempts = defaultAttempts
		}

		m, err := New(cfg, client, logger)
		if err != nil {
			logger.Warn("skipping middleware", "middleware", cfg.ID, "err", err)
			continue
		}
		reg.Register(m)
	}
	return reg, nil
}

// New creates the middleware implementation selected by cfg.Type.
func New(cfg Config, client *http.Client, logger *slog.Logger) (Middleware, error) {
	switch cfg.Type {
	case TypeJWT:
		if _, ok := cfg.Auth.Variables["token"]; !ok {
			return nil, fmt.Errorf("jwt middleware %q needs auth.variables.token", cfg.ID)
		}
		return NewJWT(cfg, client, logger), nil
	case TypeBasic:
		return NewBasic(cfg), nil
	case TypeBase:
		return NewBase(cfg), nil
	case TypeIRM, TypeASR:
		return NewRecognition(cfg), nil
	default:
		return nil, fmt.Errorf("middleware type %q not found", cfg.Type)
	}
}
