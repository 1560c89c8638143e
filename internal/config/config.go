// Package config loads the Menuflow process configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. "__" separates nested keys,
// e.g. MENUFLOW_STORE__DRIVER=redis.
const EnvPrefix = "MENUFLOW_"

// Config represents the application configuration.
type Config struct {
	Server struct {
		Addr string `koanf:"addr"`
	} `koanf:"server"`

	Flow struct {
		Path      string `koanf:"path"`
		UtilsPath string `koanf:"utils_path"`
	} `koanf:"flow"`

	Store struct {
		Driver string `koanf:"driver"` // memory, file, redis, postgres, sqlite
		DSN    string `koanf:"dsn"`

		// EncryptionKey is a base64 AES-256 key; conversation variables are encrypted at rest when set.
		EncryptionKey string `koanf:"encryption_key"`
	} `koanf:"store"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
		Prefix   string `koanf:"prefix"`
		Lock     bool   `koanf:"lock"`
	} `koanf:"redis"`

	Engine struct {
		MaxSteps        int           `koanf:"max_steps"`
		HTTPTimeout     time.Duration `koanf:"http_timeout"`
		DefaultAttempts int           `koanf:"default_attempts"`
	} `koanf:"engine"`

	Transport struct {
		BaseURL string `koanf:"base_url"`
		Token   string `koanf:"token"`
	} `koanf:"transport"`

	Events struct {
		// MaskPatterns are regular expressions of variable names masked in published events.
		MaskPatterns []string `koanf:"mask_patterns"`
		MQTT         struct {
			Broker   string `koanf:"broker"`
			Topic    string `koanf:"topic"`
			ClientID string `koanf:"client_id"`
		} `koanf:"mqtt"`
	} `koanf:"events"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"flow.path":               "flow.yaml",
		"flow.utils_path":         "flow_utils.yaml",
		"store.driver":            "memory",
		"redis.addr":              "localhost:6379",
		"redis.prefix":            "menuflow:",
		"engine.max_steps":        50,
		"engine.http_timeout":     "10s",
		"engine.default_attempts": 3,
		"events.mqtt.topic":       "menuflow/events",
		"events.mqtt.client_id":   "menuflow",
		"log.level":               "info",
		"log.format":              "text",
	}
}

// Load reads defaults, then the YAML file (if any), then MENUFLOW_ environment variables.
// An explicit configPath that does not exist is an error; the implicit default is optional.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else if _, err := os.Stat("menuflow.yaml"); err == nil {
		if err := k.Load(file.Provider("menuflow.yaml"), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, Validate(&cfg)
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "memory", "redis", "file":
	case "postgres", "sqlite":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if cfg.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive")
	}
	if cfg.Engine.DefaultAttempts <= 0 {
		return fmt.Errorf("engine.default_attempts must be positive")
	}
	if cfg.Flow.Path == "" {
		return fmt.Errorf("flow.path is required")
	}
	return nil
}
