// Package config holds the service settings and how they are layered from
// defaults, an optional YAML file and the environment.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds every tunable of the API server and the refresh job.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`

	OMDBAPIKey   string `koanf:"omdb_api_key"`
	RAWGAPIKey   string `koanf:"rawg_api_key"`
	OMDBBaseURL  string `koanf:"omdb_base_url"`
	RAWGBaseURL  string `koanf:"rawg_base_url"`
	JikanBaseURL string `koanf:"jikan_base_url"`

	HTTPTimeout time.Duration `koanf:"http_timeout"`
	MaxRetries  int           `koanf:"max_retries"`
	UserAgent   string        `koanf:"user_agent"`

	DatabaseURL      string `koanf:"database_url"`
	DatabaseMaxConns int    `koanf:"database_max_conns"`

	AdminToken           string        `koanf:"admin_token"`
	MetricsRequireAuth   bool          `koanf:"metrics_require_auth"`
	MonitoringWindow     time.Duration `koanf:"monitoring_window"`
	FailureRateThreshold float64       `koanf:"failure_rate_threshold"`

	PrometheusBaseURL      string        `koanf:"prometheus_base_url"`
	PrometheusNamespace    string        `koanf:"prometheus_namespace"`
	PrometheusPodRegex     string        `koanf:"prometheus_pod_regex"`
	PrometheusQueryTimeout time.Duration `koanf:"prometheus_query_timeout"`

	SearchCacheSize int           `koanf:"search_cache_size"`
	SearchCacheTTL  time.Duration `koanf:"search_cache_ttl"`
	SearchRateLimit int           `koanf:"search_rate_limit"`

	Verbose bool `koanf:"verbose"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:             ":8000",
		OMDBBaseURL:            "http://www.omdbapi.com/",
		RAWGBaseURL:            "https://api.rawg.io/api",
		JikanBaseURL:           "https://api.jikan.moe/v4",
		HTTPTimeout:            10 * time.Second,
		MaxRetries:             3,
		UserAgent:              "go-critic/1.0 (+https://github.com/aluiziolira/go-critic)",
		DatabaseMaxConns:       10,
		MonitoringWindow:       300 * time.Second,
		FailureRateThreshold:   0.15,
		PrometheusNamespace:    "criticapp",
		PrometheusPodRegex:     "criticapp-web.*",
		PrometheusQueryTimeout: 3 * time.Second,
		SearchCacheSize:        256,
		SearchCacheTTL:         10 * time.Minute,
		SearchRateLimit:        60,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	for name, raw := range map[string]string{
		"omdb base URL":  c.OMDBBaseURL,
		"rawg base URL":  c.RAWGBaseURL,
		"jikan base URL": c.JikanBaseURL,
	} {
		if err := validateURL(name, raw, true); err != nil {
			return err
		}
	}
	if err := validateURL("prometheus base URL", c.PrometheusBaseURL, false); err != nil {
		return err
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DatabaseMaxConns < 0 {
		return fmt.Errorf("database max conns cannot be negative")
	}
	if c.MonitoringWindow <= 0 {
		return fmt.Errorf("monitoring window must be positive")
	}
	if c.FailureRateThreshold > 1 {
		return fmt.Errorf("failure rate threshold cannot exceed 1")
	}
	if c.PrometheusQueryTimeout < 0 {
		return fmt.Errorf("prometheus query timeout cannot be negative")
	}
	if c.SearchCacheSize < 0 {
		return fmt.Errorf("search cache size cannot be negative")
	}
	if c.SearchCacheTTL < 0 {
		return fmt.Errorf("search cache ttl cannot be negative")
	}
	if c.SearchRateLimit < 0 {
		return fmt.Errorf("search rate limit cannot be negative")
	}
	return nil
}

// Normalize applies the documented floors: a window of at least 60s, a
// non-negative threshold and a telemetry timeout of at least 1s.
func (c *Config) Normalize() {
	if c.MonitoringWindow < 60*time.Second {
		c.MonitoringWindow = 60 * time.Second
	}
	if c.FailureRateThreshold < 0 {
		c.FailureRateThreshold = 0
	}
	if c.PrometheusQueryTimeout < time.Second {
		c.PrometheusQueryTimeout = time.Second
	}
}

func validateURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s cannot be empty", name)
		}
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
