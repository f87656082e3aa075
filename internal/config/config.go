// Package config holds the retriever's settings: a struct-of-sections
// model with mapstructure tags, loaded through viper from file,
// environment, and defaults.
package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the retriever.
type Config struct {
	Fetch   FetchConfig   `mapstructure:"fetch"   yaml:"fetch"`
	Retry   RetryConfig   `mapstructure:"retry"   yaml:"retry"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// FetchConfig controls the HTTP(S) connection pool adapter and the
// per-retrieval options.
type FetchConfig struct {
	RequestTimeout      time.Duration `mapstructure:"request_timeout"       yaml:"request_timeout"`
	SSLVerify           bool          `mapstructure:"ssl_verify"            yaml:"ssl_verify"`
	UserAgent           string        `mapstructure:"user_agent"            yaml:"user_agent"`
	UseServerTimestamps bool          `mapstructure:"use_server_timestamps" yaml:"use_server_timestamps"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"        yaml:"max_idle_conns"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"     yaml:"idle_conn_timeout"`
	MaxRedirects        int           `mapstructure:"max_redirects"         yaml:"max_redirects"`
	ChunkSize           int           `mapstructure:"chunk_size"            yaml:"chunk_size"`
}

// RetryConfig controls the connection pool adapter's internal
// transport-level retry, distinct from the outer retrieve loop's
// 20-slot retry budget, which is not user-tunable.
type RetryConfig struct {
	TransportRetries int   `mapstructure:"transport_retries"  yaml:"transport_retries"`
	ForceRetryStatus []int `mapstructure:"force_retry_status" yaml:"force_retry_status"`
	RetryAfterStatus []int `mapstructure:"retry_after_status" yaml:"retry_after_status"`
}

// LoggingConfig holds logging settings. They are loaded and validated,
// but cmd/retrieve's logger does not read them: it always logs text to
// stderr, at debug level only under --verbose.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults: a 90-second
// request timeout and 1 MiB read chunks.
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			RequestTimeout:      90 * time.Second,
			SSLVerify:           true,
			UseServerTimestamps: false,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxRedirects:        10,
			ChunkSize:           1024 * 1024,
		},
		Retry: RetryConfig{
			TransportRetries: 3,
			ForceRetryStatus: []int{500, 503, 504},
			RetryAfterStatus: []int{413, 429},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
