// Package config loads server configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the weftd server.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Store struct {
		// Backend is one of: memory, sqlite, postgres, redis.
		Backend string `mapstructure:"backend"`
		DSN     string `mapstructure:"dsn"`
		// Prefix namespaces keys for the redis backend.
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"store"`
	LLM struct {
		BaseURL      string `mapstructure:"base_url"`
		APIKey       string `mapstructure:"api_key"`
		DefaultModel string `mapstructure:"default_model"`
		// Prices maps model names to per-1K-token prices, overriding the
		// built-in price table.
		Prices map[string]struct {
			InputPer1K  float64 `mapstructure:"input_per_1k"`
			OutputPer1K float64 `mapstructure:"output_per_1k"`
		} `mapstructure:"prices"`
	} `mapstructure:"llm"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load reads configuration from config.yaml (working directory or ./config)
// and the environment. Environment variables use the WEFT_ prefix with
// underscores, e.g. WEFT_LLM_API_KEY. A missing config file is not an
// error; defaults and the environment still apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("weft")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.backend", "memory")
	// Keys without a meaningful default still need one registered so
	// AutomaticEnv can bind them during Unmarshal.
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.prefix", "weft:")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.moonshot.ai/v1")
	v.SetDefault("llm.default_model", "kimi-k2p5")
	v.SetDefault("log.level", "info")
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store backend %q requires store.dsn", c.Store.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
