package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the YAML file to load when no path is passed.
const ConfigPathEnvVar = "CRITIC_CONFIG"

// EnvPrefix is stripped from environment keys before they are mapped.
const EnvPrefix = "CRITIC_"

// legacyEnv maps unprefixed variable names the deployment already sets.
var legacyEnv = map[string]string{
	"OMDB_API_KEY":                      "omdb_api_key",
	"RAWG_API_KEY":                      "rawg_api_key",
	"DATABASE_URL":                      "database_url",
	"PROMETHEUS_BASE_URL":               "prometheus_base_url",
	"PROMETHEUS_NAMESPACE":              "prometheus_namespace",
	"PROMETHEUS_POD_REGEX":              "prometheus_pod_regex",
	"MONITORING_FAILURE_RATE_THRESHOLD": "failure_rate_threshold",
}

// Load layers the defaults, an optional YAML file and the environment, in
// that order of increasing precedence. An empty path falls back to
// $CRITIC_CONFIG. The result is validated and normalized.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// envTransformFunc maps CRITIC_HTTP_TIMEOUT to http_timeout and the legacy
// names through legacyEnv. Anything else is dropped.
func envTransformFunc(key string) string {
	if mapped, ok := legacyEnv[key]; ok {
		return mapped
	}
	if rest, ok := strings.CutPrefix(key, EnvPrefix); ok && rest != "" && key != ConfigPathEnvVar {
		return strings.ToLower(rest)
	}
	return ""
}
