// Package config loads DriftWatch configuration via Viper and builds the
// process logger from it.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables.
// When configPath is empty, driftwatch.yaml is searched in ., ./configs,
// and /etc/driftwatch. Environment overrides use the DW_ prefix, e.g.
// DW_LOGGING_LEVEL=debug.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/driftwatch.db")

	v.SetDefault("baseline.cache_ttl", "1h")
	v.SetDefault("baseline.minimum_samples", 10)
	v.SetDefault("baseline.redis.enabled", false)
	v.SetDefault("baseline.redis.addr", "localhost:6379")
	v.SetDefault("baseline.redis.db", 0)

	v.SetDefault("engine.persist_timeout", "5s")
	v.SetDefault("engine.context_window", 5)

	v.SetDefault("alerting.throttle_per_minute", 60)
	v.SetDefault("alerting.escalation_interval", "1m")

	v.SetDefault("stream.queue_capacity", 64)

	v.SetDefault("textgen.enabled", false)
	v.SetDefault("textgen.url", "http://localhost:11434")
	v.SetDefault("textgen.model", "qwen2.5:7b")
	v.SetDefault("textgen.timeout", "30s")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("driftwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/driftwatch")
	}

	// Environment variable support: DW_LOGGING_LEVEL=debug
	v.SetEnvPrefix("DW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath == "" && errors.As(err, &notFound) {
			// No config file is fine; defaults plus environment apply.
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}
