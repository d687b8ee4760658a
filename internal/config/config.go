// Package config loads the server configuration for the serve command.
// Values come from a YAML file layered over built-in defaults; a missing
// file means the defaults run as-is.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the top-level server configuration.
type Config struct {
	Listen    string      `yaml:"listen" validate:"required"`
	LogLevel  string      `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string      `yaml:"log_format" validate:"oneof=text json"`
	Store     StoreConfig `yaml:"store"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=memory sqlite redis"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`

	// EncryptionKey, when set, must be exactly 32 bytes and turns on
	// AES-256 encryption of all persisted variables.
	EncryptionKey string `yaml:"encryption_key" validate:"omitempty,len=32"`
}

// RedisConfig holds the redis backend connection settings. Lock enables
// distributed per-instance locking for multi-replica deployments.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Lock     bool   `yaml:"lock"`
}

// Default returns the configuration used when no file is given: the
// in-memory store with text logs at info level on port 8080.
func Default() Config {
	return Config{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Backend: "memory",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints plus the cross-field rules the tags
// cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(&c); err != nil {
		return err
	}
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	case "redis":
		if c.Store.Redis.Address == "" {
			return errors.New("store.redis.address is required for the redis backend")
		}
	}
	return nil
}
