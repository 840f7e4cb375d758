// Package config loads and validates lanternd's configuration:
// environment variables (LANTERN_*) override a config file, which
// overrides the defaults below. No command-line flag overrides a key.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// StoreConfig configures the storage backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres mysql" yaml:"driver"`
	DSN    string `mapstructure:"dsn" validate:"required" yaml:"dsn"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=console json" yaml:"format"`
}

// TokenConfig configures the reconnect-token auth scheme.
type TokenConfig struct {
	Secret   string        `mapstructure:"secret" validate:"required,min=16" yaml:"secret"`
	Lifetime time.Duration `mapstructure:"lifetime" validate:"required,gt=0" yaml:"lifetime"`
}

// Config is lanternd's full runtime configuration.
type Config struct {
	ListenAddr         string        `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout" validate:"required,gt=0" yaml:"handshake_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
	Store              StoreConfig   `mapstructure:"store" yaml:"store"`
	Logging            LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Token              TokenConfig   `mapstructure:"token" yaml:"token"`
}

// Load reads configuration from the defaults below, configPath (if
// non-empty), and environment variables prefixed LANTERN_, in ascending
// precedence, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LANTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":9500")
	v.SetDefault("handshake_timeout", 10*time.Second)
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("token.lifetime", 24*time.Hour)
}

var validatorInstance = validator.New()

func validate(cfg *Config) error {
	if err := validatorInstance.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}
