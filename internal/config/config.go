// Package config loads runtime configuration with layered precedence:
// built-in defaults, then an optional JSON file, then environment variables
// prefixed CAPIBRIDGE_ (double underscore separates nesting levels, e.g.
// CAPIBRIDGE_DATABASE__URL → database.url).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "CAPIBRIDGE_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Config contains everything the service needs at runtime.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	CAPI     CAPIConfig     `koanf:"capi"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

type DatabaseConfig struct {
	URL string `koanf:"url" validate:"required"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// AuthConfig guards the admin read API. Keys format: "name1:key1,name2:key2".
type AuthConfig struct {
	APIKeys string `koanf:"api_keys"`
}

// CAPIConfig configures the attribution delivery gateway. Credentials are
// optional at boot; deliveries without them are recorded as errors.
type CAPIConfig struct {
	BaseURL       string  `koanf:"base_url" validate:"required,url"`
	APIVersion    string  `koanf:"api_version" validate:"required"`
	PixelID       string  `koanf:"pixel_id"`
	AccessToken   string  `koanf:"access_token"`
	TestEventCode string  `koanf:"test_event_code"`
	TimeoutSecs   int     `koanf:"timeout_seconds" validate:"gt=0"`
	// CentsThreshold: amounts above it are treated as minor units and
	// divided by 100. Set 0 to disable the heuristic.
	CentsThreshold float64 `koanf:"cents_threshold" validate:"gte=0"`
}

// Timeout returns the delivery timeout as a duration.
func (c CAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.addr":          ":8080",
		"log.level":            "info",
		"log.format":           "json",
		"capi.base_url":        "https://graph.facebook.com",
		"capi.api_version":     "v19.0",
		"capi.timeout_seconds": 10,
		"capi.cents_threshold": 10000.0,
	}
}

// Load reads configuration from defaults, an optional file path and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(Delimiter)

	if err := k.Load(confmap.Provider(defaults(), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CAPIBRIDGE_DATABASE__URL to database.url.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", Delimiter)
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := cfg.Auth.Keys(); err != nil {
		return err
	}
	return nil
}

// Keys parses the admin API key mapping (key → client name).
func (a AuthConfig) Keys() (map[string]string, error) {
	keys := map[string]string{}
	raw := strings.TrimSpace(a.APIKeys)
	if raw == "" {
		return keys, nil
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`auth.api_keys must be "name:key,name:key"`)
		}
		name := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if name == "" || key == "" {
			return nil, errors.New(`auth.api_keys must be "name:key,name:key"`)
		}
		keys[key] = name
	}
	return keys, nil
}
